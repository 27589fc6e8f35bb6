package config

// RedisConfig contains Redis connection configuration shared by the job cache backend.
// Retained from the teacher's database.go near verbatim: sentinel and cluster topologies are
// real deployment shapes for a Redis-backed job cache, not speculative.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	SentinelPort       string   `env:"SENTINEL_PORT"        envDefault:"26379"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
	DB                 int      `env:"DB"                   envDefault:"0"`
}

// CacheConfig controls the job cache backend (internal/core.JobCache). Backend selects between
// the in-process adapter (internal/data/memcache, single-replica deployments/tests) and the
// Redis adapter (internal/data/rediscache, multi-replica deployments).
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend string `env:"CACHE_BACKEND" envDefault:"redis"`

	Redis RedisConfig `envPrefix:"CACHE_REDIS_"`

	// KeyPrefix namespaces cache keys so multiple manager deployments can share a Redis instance.
	KeyPrefix string `env:"CACHE_KEY_PREFIX" envDefault:"jobcore"`
}

// Sanitize applies guardrails to cache configuration values loaded from env.
func (c *CacheConfig) Sanitize() {
	switch c.Backend {
	case "memory", "redis":
	default:
		c.Backend = "redis"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "jobcore"
	}
}
