package config

// MetadataConfig contains PostgreSQL configuration for the metadata store
// (internal/data/pgmetadata), adapted from the teacher's DBConfig.
type MetadataConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"jobcore"`
	Password string `env:"PASSWORD" envDefault:"jobcore"`
	Name     string `env:"NAME"     envDefault:"jobcore"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production

	// MaxConns bounds the pgx connection pool size.
	MaxConns int32 `env:"MAX_CONNS" envDefault:"10"`
}

// Sanitize applies guardrails to metadata store configuration values loaded from env.
func (c *MetadataConfig) Sanitize() {
	if c.Port <= 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 10
	}
}
