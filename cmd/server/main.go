package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"stockledger/backend/internal/cache"
	"stockledger/backend/internal/config"
	"stockledger/backend/internal/httpapi"
	"stockledger/backend/internal/logger"
	"stockledger/backend/internal/service"
	"stockledger/backend/internal/store"
	"stockledger/backend/internal/store/memory"
	pgstore "stockledger/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	defer func() { _ = log.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, closers, err := openRepository(ctx, cfg, log)
	if err != nil {
		log.Fatal("repository unavailable", zap.Error(err))
	}

	levels := cache.StockLevelCache(cache.NoopStockLevelCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisStockLevelCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using noop stock cache", zap.Error(err))
			_ = redisCache.Close()
		} else {
			levels = redisCache
			closers = append(closers, redisCache.Close)
			log.Info("stock cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		log.Info("stock cache: noop")
	}

	svc := service.New(repo, levels, cfg.StockCacheTTL(), log)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), cfg.ManagerPIN)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, log)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("stock ledger listening", zap.String("addr", cfg.Address()), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

// openRepository picks Postgres when DATABASE_URL is set and the seeded
// in-memory store otherwise. A configured but unreachable database is fatal.
func openRepository(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Repository, []func() error, error) {
	if cfg.DatabaseURL == "" {
		log.Info("repository: in-memory")
		return memory.NewSeeded(), nil, nil
	}

	if cfg.RunMigrations {
		if err := pgstore.Migrate(cfg.DatabaseURL, log.Named("store")); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL, pgstore.Options{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	log.Info("repository: postgres")
	return pg, []func() error{pg.Close}, nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects non-numeric PINs, repeated digits, straight
// runs such as 123456 or 987654, and a short list of common choices.
func validatePINStrength(pin string) error {
	for _, r := range pin {
		if r < '0' || r > '9' {
			return fmt.Errorf("PIN must contain digits only")
		}
	}

	common := map[string]bool{
		"121212": true, "112233": true, "123123": true, "696969": true, "159753": true,
	}
	if common[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	repeated, ascending, descending := true, true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 0 {
			repeated = false
		}
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	switch {
	case repeated:
		return fmt.Errorf("repeated-digit PIN not allowed")
	case ascending || descending:
		return fmt.Errorf("sequential PIN not allowed")
	}
	return nil
}
