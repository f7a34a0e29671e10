package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"horse.fit/narrative/internal/analysis"
	"horse.fit/narrative/internal/cache"
	"horse.fit/narrative/internal/cli"
	"horse.fit/narrative/internal/db"
	"horse.fit/narrative/internal/ingest"
	"horse.fit/narrative/internal/opsapi"
)

func runWork(args []string) int {
	fs := flag.NewFlagSet("work", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	opsHost := fs.String("ops-host", "127.0.0.1", "Ops API host interface")
	opsPort := fs.Int("ops-port", 0, "Ops API port (0 disables the ops API)")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Ops API graceful shutdown timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *opsPort < 0 || *opsPort > 65535 {
		fmt.Fprintln(os.Stderr, "--ops-port must be between 0 and 65535")
		return 2
	}

	cfg, logger, ok := loadRuntime(envLoader)
	if !ok {
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbCtx, dbCancel := context.WithTimeout(ctx, 15*time.Second)
	defer dbCancel()

	pool, err := db.NewPool(dbCtx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("work failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	stack, err := newAnalysisStack(dbCtx, cfg, analysis.NewGemini(), cache.Nop{}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize analysis: %v\n", err)
		return 1
	}
	defer stack.Close()

	f, err := newFilter(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load filter config: %v\n", err)
		return 1
	}

	driver := newDriver(cfg, pool, pool, stack, logger)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return driver.Run(groupCtx)
	})
	if *opsPort > 0 {
		srv := opsapi.NewServer(opsapi.Deps{
			Store:           pool,
			Keys:            stack.keys,
			Worker:          driver,
			Stats:           pool,
			Ingester:        ingest.NewService(pool, f, logger),
			AnalysisVersion: cfg.AnalysisVersion,
			DefaultCountry:  cfg.DefaultCountry,
		}, logger, opsapi.Options{
			Host:            *opsHost,
			Port:            *opsPort,
			ShutdownTimeout: *shutdownTimeout,
		})
		group.Go(func() error {
			return srv.Start(groupCtx)
		})
	}

	if err := group.Wait(); err != nil {
		logger.Error().Err(err).Msg("worker stopped with error")
		fmt.Fprintf(os.Stderr, "Worker failed: %v\n", err)
		return 1
	}
	return 0
}
