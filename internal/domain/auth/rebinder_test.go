package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracorch/jobcore/config"
)

type discoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	JwksURI               string `json:"jwks_uri"`
}

func newDiscoveryServer(t *testing.T) *httptest.Server {
	t.Helper()
	issuer := ""
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		doc := discoveryDocument{
			Issuer:                issuer,
			AuthorizationEndpoint: "https://example.com/auth",
			TokenEndpoint:         "https://example.com/token",
			JwksURI:               "https://example.com/jwks",
		}
		_ = json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(srv.Close)
	issuer = srv.URL
	return srv
}

func TestNewOIDCRebinder_Success(t *testing.T) {
	srv := newDiscoveryServer(t)

	r, err := NewOIDCRebinder(context.Background(), config.AuthConfig{
		DiscoveryURL: srv.URL,
		ClientID:     "jobcore-manager",
	})
	require.NoError(t, err)
	assert.NotNil(t, r.verifier)
}

func TestNewOIDCRebinder_MissingDiscoveryURL(t *testing.T) {
	_, err := NewOIDCRebinder(context.Background(), config.AuthConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discovery URL is required")
}

func TestOIDCRebinder_Rebind_EmptyToken(t *testing.T) {
	srv := newDiscoveryServer(t)
	r, err := NewOIDCRebinder(context.Background(), config.AuthConfig{DiscoveryURL: srv.URL, ClientID: "c"})
	require.NoError(t, err)

	_, err = r.Rebind(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ownerToken is empty")
}

func TestOIDCRebinder_Rebind_InvalidTokenFailsVerification(t *testing.T) {
	srv := newDiscoveryServer(t)
	r, err := NewOIDCRebinder(context.Background(), config.AuthConfig{DiscoveryURL: srv.URL, ClientID: "c"})
	require.NoError(t, err)

	_, err = r.Rebind(context.Background(), "not-a-jwt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verify owner token")
}
