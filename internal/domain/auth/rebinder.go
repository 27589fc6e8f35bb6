// Package auth rebinds a job's ownerToken to a usable credential after it crosses a replica
// boundary via the job cache (spec.md's "Credentials in state" concern). It is pure domain logic
// that wraps an OIDC issuer, free of cache/executor/metadata adapter concerns.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/tracorch/jobcore/config"
	"github.com/tracorch/jobcore/internal/core"
)

// OIDCRebinder verifies an ownerToken as an OIDC ID token issued by a configured issuer, then
// wraps it in a static oauth2.TokenSource carrying the token's own expiry.
type OIDCRebinder struct {
	verifier *gooidc.IDTokenVerifier
}

var _ core.CredentialRebinder = (*OIDCRebinder)(nil)

// NewOIDCRebinder fetches the issuer's discovery document once at construction, the same
// single-fetch shape an OIDC provider adapter uses for the public-facing login flow.
func NewOIDCRebinder(ctx context.Context, cfg config.AuthConfig) (*OIDCRebinder, error) {
	if cfg.DiscoveryURL == "" {
		return nil, fmt.Errorf("auth: discovery URL is required")
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	oidcCtx := context.WithValue(ctx, oauth2.HTTPClient, httpClient)

	provider, err := gooidc.NewProvider(oidcCtx, cfg.DiscoveryURL)
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}

	return &OIDCRebinder{
		verifier: provider.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

// Rebind verifies ownerToken against the issuer and returns a token source reporting the
// ID token's own expiry, so a collaborator call made long after the owner's session ended fails
// with an expired-token error rather than succeeding on a stale credential.
func (r *OIDCRebinder) Rebind(ctx context.Context, ownerToken string) (oauth2.TokenSource, error) {
	if ownerToken == "" {
		return nil, fmt.Errorf("auth: ownerToken is empty")
	}

	idToken, err := r.verifier.Verify(ctx, ownerToken)
	if err != nil {
		return nil, fmt.Errorf("verify owner token: %w", err)
	}

	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: ownerToken,
		TokenType:   "Bearer",
		Expiry:      idToken.Expiry,
	}), nil
}
