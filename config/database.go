package config

import "time"

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"                    envDefault:"localhost"`
	Port     int    `env:"PORT"                    envDefault:"5432"`
	User     string `env:"USER"                    envDefault:"pressroom"`
	Password string `env:"PASSWORD"                envDefault:"pressroom"`
	Name     string `env:"NAME"                    envDefault:"pressroom"`
	SSLMode  string `env:"SSL_MODE"                envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	DB                 int      `env:"DB"                   envDefault:"0"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
}

// StatusCacheConfig contains the terminal status cache configuration.
type StatusCacheConfig struct {
	// Enabled toggles the Redis-backed cache for terminal job statuses.
	// When disabled, status lookups always hit Postgres.
	Enabled bool `env:"STATUS_CACHE_ENABLED" envDefault:"true"`

	// TTL is how long terminal status records stay cached. Terminal states
	// never change, so the TTL only bounds memory use.
	TTL time.Duration `env:"STATUS_CACHE_TTL" envDefault:"1h"`
}
