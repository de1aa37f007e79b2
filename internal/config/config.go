package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Env                   string
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	DBMaxOpenConns        int
	DBMaxIdleConns        int
	DBConnMaxLifetime     time.Duration
	RunMigrations         bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	StockCacheTTLSeconds  int
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	LogLevel              string
	LogFormat             string
}

// Load reads configuration from the environment, after applying an optional
// .env file in the working directory.
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("DB_MAX_OPEN_CONNS", 30)
	v.SetDefault("DB_MAX_IDLE_CONNS", 8)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "30m")
	v.SetDefault("RUN_MIGRATIONS", true)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("STOCK_CACHE_TTL_SECONDS", 30)
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "")

	cfg := Config{
		Env:                   v.GetString("APP_ENV"),
		Port:                  v.GetString("PORT"),
		AllowedOrigin:         v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:           strings.TrimSpace(v.GetString("DATABASE_URL")),
		DBMaxOpenConns:        v.GetInt("DB_MAX_OPEN_CONNS"),
		DBMaxIdleConns:        v.GetInt("DB_MAX_IDLE_CONNS"),
		DBConnMaxLifetime:     v.GetDuration("DB_CONN_MAX_LIFETIME"),
		RunMigrations:         v.GetBool("RUN_MIGRATIONS"),
		RedisAddr:             v.GetString("REDIS_ADDR"),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		StockCacheTTLSeconds:  v.GetInt("STOCK_CACHE_TTL_SECONDS"),
		AuthSecret:            strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes: v.GetInt("ACCESS_TOKEN_TTL_MINUTES"),
		ManagerPIN:            strings.TrimSpace(v.GetString("MANAGER_PIN")),
		LogLevel:              v.GetString("LOG_LEVEL"),
		LogFormat:             v.GetString("LOG_FORMAT"),
	}

	if cfg.StockCacheTTLSeconds < 1 {
		cfg.StockCacheTTLSeconds = 30
	}
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	if cfg.DBConnMaxLifetime <= 0 {
		cfg.DBConnMaxLifetime = 30 * time.Minute
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "console"
		if cfg.IsProduction() {
			cfg.LogFormat = "json"
		}
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func (c Config) StockCacheTTL() time.Duration {
	return time.Duration(c.StockCacheTTLSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}
