package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"horse.fit/narrative/internal/cli"
	"horse.fit/narrative/internal/db"
	"horse.fit/narrative/internal/filter"
	"horse.fit/narrative/internal/ingest"
)

func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	payloadFile := fs.String("file", "-", "Candidate batch JSON file (- reads stdin)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	payload, err := readPayload(*payloadFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid payload: %v\n", err)
		return 2
	}

	cfg, logger, ok := loadRuntime(envLoader)
	if !ok {
		return 1
	}

	f, err := newFilter(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load filter config: %v\n", err)
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

	svc := ingest.NewService(pool, f, logger)
	result, err := svc.IngestPayload(ctx, payload, cfg.DefaultCountry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		if result.Received == 0 {
			return 2
		}
		return 1
	}

	fmt.Printf(
		"ingest source=%s received=%d accepted=%d inserted=%d existing=%d rejected=%s\n",
		result.Source,
		result.Received,
		result.Accepted,
		result.Inserted,
		result.Existing,
		formatReasons(result.Rejected),
	)
	return 0
}

func readPayload(path string) ([]byte, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return raw, nil
}

func formatReasons(counts map[filter.Reason]int) string {
	if len(counts) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(counts))
	for reason, count := range counts {
		parts = append(parts, fmt.Sprintf("%s:%d", reason, count))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
