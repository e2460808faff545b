package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	// DBMaxConnLifetimeMin em minutos
	DBMaxConnLifetimeMin int `mapstructure:"DB_MAX_CONN_LIFETIME"`

	// Cadastro central de clientes (compartilhado com outros sistemas).
	// Vazio = mesmo banco de DATABASE_URL.
	RegistryDatabaseURL string `mapstructure:"REGISTRY_DATABASE_URL"`
	RegistryAutoMigrate bool   `mapstructure:"REGISTRY_AUTO_MIGRATE"`

	JWTSecret         string   `mapstructure:"JWT_SECRET"`
	CORSOrigins       []string `mapstructure:"-"`
	RequestTimeoutSec int      `mapstructure:"REQUEST_TIMEOUT_SEC"`

	// Agenda externa
	ScheduleAPIURL      string `mapstructure:"SCHEDULE_API_URL"`
	ScheduleAPIKey      string `mapstructure:"SCHEDULE_API_KEY"`
	ScheduleTimeoutSec  int    `mapstructure:"SCHEDULE_TIMEOUT_SEC"`
	ScheduleCacheTTLSec int    `mapstructure:"SCHEDULE_CACHE_TTL_SEC"`

	AutosaveDelayMS int `mapstructure:"AUTOSAVE_DELAY_MS"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	// Job de reconciliação do status na agenda
	ReconcileBatchSize   int `mapstructure:"RECONCILE_BATCH_SIZE"`
	ReconcileMaxAttempts int `mapstructure:"RECONCILE_MAX_ATTEMPTS"`
}

var defaults = map[string]any{
	"PORT":                   "8080",
	"DB_MAX_CONNS":           10,
	"DB_MIN_CONNS":           2,
	"DB_MAX_CONN_LIFETIME":   30,
	"REGISTRY_AUTO_MIGRATE":  false,
	"JWT_SECRET":             "",
	"CORS_ORIGINS":           "http://localhost:5173",
	"REQUEST_TIMEOUT_SEC":    30,
	"SCHEDULE_TIMEOUT_SEC":   10,
	"SCHEDULE_CACHE_TTL_SEC": 30,
	"AUTOSAVE_DELAY_MS":      2000,
	"LOG_LEVEL":              "info",
	"LOG_PRETTY":             false,
	"RECONCILE_BATCH_SIZE":   100,
	"RECONCILE_MAX_ATTEMPTS": 10,
}

var keys = []string{
	"PORT", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_MAX_CONN_LIFETIME",
	"REGISTRY_DATABASE_URL", "REGISTRY_AUTO_MIGRATE",
	"JWT_SECRET", "CORS_ORIGINS", "REQUEST_TIMEOUT_SEC",
	"SCHEDULE_API_URL", "SCHEDULE_API_KEY", "SCHEDULE_TIMEOUT_SEC", "SCHEDULE_CACHE_TTL_SEC",
	"AUTOSAVE_DELAY_MS", "LOG_LEVEL", "LOG_PRETTY",
	"RECONCILE_BATCH_SIZE", "RECONCILE_MAX_ATTEMPTS",
}

// Load reads .env (if present) into the environment and then the
// environment into Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	for _, o := range strings.Split(v.GetString("CORS_ORIGINS"), ",") {
		if t := strings.TrimSpace(o); t != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, t)
		}
	}
	if cfg.RegistryDatabaseURL == "" {
		cfg.RegistryDatabaseURL = cfg.DatabaseURL
	}
	if len(cfg.JWTSecret) < 32 {
		cfg.JWTSecret = "default-secret-min-32-chars-required!!"
	}
	return cfg, nil
}

// Validate checks what every command needs.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

func (c *Config) DBMaxConnLifetime() time.Duration {
	return time.Duration(c.DBMaxConnLifetimeMin) * time.Minute
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

func (c *Config) ScheduleTimeout() time.Duration {
	return time.Duration(c.ScheduleTimeoutSec) * time.Second
}

func (c *Config) ScheduleCacheTTL() time.Duration {
	return time.Duration(c.ScheduleCacheTTLSec) * time.Second
}

func (c *Config) AutosaveDelay() time.Duration {
	return time.Duration(c.AutosaveDelayMS) * time.Millisecond
}
