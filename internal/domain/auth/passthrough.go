package auth

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/tracorch/jobcore/internal/core"
)

// PassthroughRebinder treats ownerToken as an already-valid bearer credential, performing no
// verification and reporting no expiry. Used when config.AuthConfig.DiscoveryURL is unset — local
// development and single-replica deployments, where ownerToken never actually crosses a trust
// boundary between admission and resumption.
type PassthroughRebinder struct{}

var _ core.CredentialRebinder = PassthroughRebinder{}

func (PassthroughRebinder) Rebind(_ context.Context, ownerToken string) (oauth2.TokenSource, error) {
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: ownerToken,
		TokenType:   "Bearer",
	}), nil
}
