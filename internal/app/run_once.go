package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/narrative/internal/analysis"
	"horse.fit/narrative/internal/cache"
	"horse.fit/narrative/internal/cli"
	"horse.fit/narrative/internal/db"
	"horse.fit/narrative/internal/pipeline"
)

func runOnce(args []string) int {
	fs := flag.NewFlagSet("run-once", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")
	limit := fs.Int("limit", 1, "Maximum number of articles to process")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *limit < 1 {
		fmt.Fprintln(os.Stderr, "--limit must be >= 1")
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
		logger.Error().Err(err).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	stack, err := newAnalysisStack(ctx, cfg, analysis.NewGemini(), cache.Nop{}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize analysis: %v\n", err)
		return 1
	}
	defer stack.Close()

	driver := newDriver(cfg, pool, pool, stack, logger)
	summary, err := runCycles(ctx, driver, *limit)
	if err != nil {
		logger.Error().Err(err).Msg("run-once failed")
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		return 1
	}

	fmt.Printf(
		"run-once processed=%d analyzed=%d duplicates=%d deleted=%d failed=%d idle=%t\n",
		summary.processed,
		summary.outcomes[pipeline.OutcomeAnalyzed],
		summary.outcomes[pipeline.OutcomeDuplicate],
		summary.outcomes[pipeline.OutcomeDeleted],
		summary.outcomes[pipeline.OutcomeFailed],
		summary.idle,
	)
	return 0
}

type cycleSummary struct {
	processed int
	idle      bool
	outcomes  map[pipeline.Outcome]int
	cycles    []pipeline.Cycle
}

// runCycles drives the worker until it goes idle or limit articles were handled.
func runCycles(ctx context.Context, driver *pipeline.Driver, limit int) (cycleSummary, error) {
	summary := cycleSummary{outcomes: make(map[pipeline.Outcome]int)}
	for summary.processed < limit {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		cycle, err := driver.RunOnce(ctx)
		if err != nil {
			return summary, err
		}
		if cycle.Idle {
			summary.idle = true
			break
		}
		summary.processed++
		summary.outcomes[cycle.Outcome]++
		summary.cycles = append(summary.cycles, cycle)
	}
	return summary, nil
}
