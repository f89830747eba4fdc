package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/laventecare/corebac/internal/cache"
	"github.com/laventecare/corebac/internal/config"
	"github.com/laventecare/corebac/internal/keystore"
	"github.com/laventecare/corebac/internal/revocation"
	"github.com/laventecare/corebac/internal/storage"
	"github.com/redis/go-redis/v9"
)

// main runs the janitor worker: a periodic sweep over the two classes
// of tombstone row the request path never cleans up synchronously —
// expired access-token revocation records and overlap signing keys
// past their retention window.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := config.Load()

	pool, err := storage.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("redis_url_parse_failed", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)

	revocations := revocation.New(pool)
	keys := keystore.New(pool, cache.NewSharedCache(rdb, "keystore"))

	logger.Info("janitor worker started", "interval", "1h")

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	runJanitor(context.Background(), revocations, keys, logger)

	for {
		select {
		case <-ticker.C:
			runJanitor(context.Background(), revocations, keys, logger)
		case <-quit:
			logger.Info("janitor shutting down")
			return
		}
	}
}

func runJanitor(ctx context.Context, revocations *revocation.Store, keys *keystore.KeyStore, logger *slog.Logger) {
	logger.Info("running cleanup cycle")

	if count, err := revocations.SweepExpired(ctx); err != nil {
		logger.Error("failed to sweep revoked_access_tokens", "error", err)
	} else if count > 0 {
		logger.Info("swept revoked_access_tokens", "deleted", count)
	}

	if count, err := keys.SweepExpiredOverlap(ctx); err != nil {
		logger.Error("failed to sweep overlap signing_keys", "error", err)
	} else if count > 0 {
		logger.Info("swept overlap signing_keys", "revoked", count)
	}
}
