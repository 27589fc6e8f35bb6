package config

// AppConfig is the root application configuration, composed from domain-specific configuration
// structs loaded from environment variables via github.com/caarlos0/env.
//
//   - manager.go: control-loop tunables (poll cadences, ticket durations, retry/error budgets)
//   - cache.go: job cache backend (Redis or in-process)
//   - executor.go: Kubernetes executor backend
//   - metadata.go: PostgreSQL metadata store
//   - auth.go: ownerToken rebinding / OIDC
//   - observability.go: metrics emission
type AppConfig struct {
	// IsDev is loaded from DEV; no code path reads it. The cache backend is chosen by
	// Cache.Backend alone.
	IsDev bool `env:"DEV" envDefault:"false"`

	Manager ManagerConfig

	Cache    CacheConfig
	Executor ExecutorConfig
	Metadata MetadataConfig `envPrefix:"METADATA_"`

	Auth AuthConfig

	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env. Call after loading from
// environment variables and before constructing any adapter.
func (c *AppConfig) Sanitize() {
	c.Manager.Sanitize()
	c.Cache.Sanitize()
	c.Executor.Sanitize()
	c.Metadata.Sanitize()
	c.Observability.Sanitize()
}
