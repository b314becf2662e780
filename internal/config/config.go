package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
	JWTSecret   string   `mapstructure:"JWT_SECRET"`

	AnchorGatewayURL  string        `mapstructure:"ANCHOR_GATEWAY_URL"`
	AnchorAPIKey      string        `mapstructure:"ANCHOR_API_KEY"`
	AnchorCallTimeout time.Duration `mapstructure:"ANCHOR_CALL_TIMEOUT"`

	TrackerInterval    time.Duration `mapstructure:"TRACKER_INTERVAL"`
	TrackerMaxAttempts int           `mapstructure:"TRACKER_MAX_ATTEMPTS"`
	TrackerConcurrency int           `mapstructure:"TRACKER_CONCURRENCY"`

	SealExcludeFields []string `mapstructure:"SEAL_EXCLUDE_FIELDS"`
	MigrationsDir     string   `mapstructure:"MIGRATIONS_DIR"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("ANCHOR_CALL_TIMEOUT", "10s")
	v.SetDefault("TRACKER_INTERVAL", "30s")
	v.SetDefault("TRACKER_MAX_ATTEMPTS", 5)
	v.SetDefault("TRACKER_CONCURRENCY", 4)
	v.SetDefault("MIGRATIONS_DIR", "migrations")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("ANCHOR_GATEWAY_URL")
	v.BindEnv("ANCHOR_API_KEY")
	v.BindEnv("ANCHOR_CALL_TIMEOUT")
	v.BindEnv("TRACKER_INTERVAL")
	v.BindEnv("TRACKER_MAX_ATTEMPTS")
	v.BindEnv("TRACKER_CONCURRENCY")
	v.BindEnv("SEAL_EXCLUDE_FIELDS")
	v.BindEnv("MIGRATIONS_DIR")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	if cfg.SealExcludeFields == nil {
		if fields := v.GetString("SEAL_EXCLUDE_FIELDS"); fields != "" {
			cfg.SealExcludeFields = strings.Split(fields, ",")
		}
	}
	cfg.SealExcludeFields = trimmed(cfg.SealExcludeFields)

	if cfg.IsDev() && cfg.JWTSecret == "" {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active; all requests are accepted.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: Set ENV=production and configure JWT_SECRET for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

// trimmed drops blank entries and surrounding whitespace, so that
// "id, notes ," and "id,notes" configure the same exclusion set.
func trimmed(fields []string) []string {
	if fields == nil {
		return nil
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// RequireDatabase enforces the DATABASE_URL requirement for commands that
// touch Postgres. The ephemeral dev mode runs without one.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// Validate checks that the configuration is safe to run. Production refuses
// to start without a JWT secret; the sealing and tracker knobs must stay in
// ranges where the pipeline can make progress.
func (c *Config) Validate() error {
	if c.IsProduction() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production. " +
			"Refusing to start with the auth bypass outside development")
	}
	if c.AnchorCallTimeout <= 0 {
		return fmt.Errorf("ANCHOR_CALL_TIMEOUT must be positive, got %s", c.AnchorCallTimeout)
	}
	if c.TrackerInterval <= 0 {
		return fmt.Errorf("TRACKER_INTERVAL must be positive, got %s", c.TrackerInterval)
	}
	if c.TrackerMaxAttempts < 1 {
		return fmt.Errorf("TRACKER_MAX_ATTEMPTS must be at least 1, got %d", c.TrackerMaxAttempts)
	}
	if c.TrackerConcurrency < 1 {
		return fmt.Errorf("TRACKER_CONCURRENCY must be at least 1, got %d", c.TrackerConcurrency)
	}
	return nil
}
