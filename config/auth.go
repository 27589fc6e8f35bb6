package config

// AuthConfig groups configuration for rebinding a job's ownerToken to a usable credential
// (internal/domain/auth, spec.md SPEC_FULL §4.9) when talking to the metadata and executor
// backends on the job owner's behalf.
type AuthConfig struct {
	// DiscoveryURL is the OIDC issuer's discovery document, used to verify externally-issued
	// ownerTokens before rebinding them to an oauth2.TokenSource.
	DiscoveryURL string `env:"AUTH_OIDC_DISCOVERY_URL"`

	// ClientID is the audience the OIDC verifier requires an ownerToken to carry.
	ClientID string `env:"AUTH_OIDC_CLIENT_ID" envDefault:"jobcore-manager"`

	// ClientSecret is loaded from the environment but not read by the rebinder, which verifies
	// tokens only and never exchanges or refreshes them.
	ClientSecret string `env:"AUTH_OIDC_CLIENT_SECRET"`
}
