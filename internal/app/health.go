package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/narrative/internal/cache"
	"horse.fit/narrative/internal/cli"
	"horse.fit/narrative/internal/db"
)

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Second, "Database and cache ping timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, logger, ok := loadRuntime(envLoader)
	if !ok {
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("health check failed")
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer pool.Close()

	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedis(cfg.RedisURL, gatekeeperCachePrefix)
		if err == nil {
			err = redisCache.Ping(ctx)
			_ = redisCache.Close()
		}
		if err != nil {
			logger.Error().Err(err).Msg("cache health check failed")
			fmt.Fprintf(os.Stderr, "Cache health check failed: %v\n", err)
			return 1
		}
		fmt.Println("ok: redis ping successful")
	}

	logger.Info().
		Dur("timeout", *timeout).
		Msg("health check passed")
	fmt.Println("ok: database ping successful")
	return 0
}
