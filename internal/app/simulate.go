package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/narrative/internal/analysis"
	"horse.fit/narrative/internal/cache"
	"horse.fit/narrative/internal/cli"
	"horse.fit/narrative/internal/filter"
	"horse.fit/narrative/internal/ingest"
	"horse.fit/narrative/internal/memstore"
	"horse.fit/narrative/internal/news"
	"horse.fit/narrative/internal/pipeline"
)

type simulation struct {
	Ingest   ingest.Result    `json:"ingest"`
	Cycles   []pipeline.Cycle `json:"cycles"`
	Articles []news.Article   `json:"articles"`
}

func runSimulate(args []string) int {
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")
	payloadFile := fs.String("file", "-", "Candidate batch JSON file (- reads stdin)")
	noDelay := fs.Bool("no-delay", false, "Skip the inter-call delay between articles")
	asJSON := fs.Bool("json", false, "Print the full simulation as JSON")

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
	if *noDelay {
		cfg.PipelineDelay = 0
	}

	f, err := newFilter(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load filter config: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	stack, err := newAnalysisStack(ctx, cfg, analysis.NewGemini(), cache.NewMemory(), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize analysis: %v\n", err)
		return 1
	}
	defer stack.Close()

	result, err := simulate(ctx, payload, cfg.DefaultCountry, f, logger, func(store *memstore.Store) *pipeline.Driver {
		return newDriver(cfg, store, store, stack, logger)
	})
	if err != nil {
		logger.Error().Err(err).Msg("simulation failed")
		fmt.Fprintf(os.Stderr, "Simulation failed: %v\n", err)
		return 1
	}

	if *asJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(result); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode simulation: %v\n", err)
			return 1
		}
		return 0
	}
	printSimulation(result)
	return 0
}

// simulate ingests a batch into a fresh in-memory store and drives the worker
// until no article qualifies.
func simulate(ctx context.Context, payload []byte, defaultCountry string, f *filter.Filter, logger zerolog.Logger, build func(*memstore.Store) *pipeline.Driver) (simulation, error) {
	store := memstore.New()
	svc := ingest.NewService(store, f, logger)

	ingested, err := svc.IngestPayload(ctx, payload, defaultCountry)
	if err != nil {
		return simulation{}, err
	}

	out := simulation{Ingest: ingested}
	if ingested.Inserted == 0 {
		return out, nil
	}

	// One pass per inserted article; failed ones are held until their retry time.
	summary, err := runCycles(ctx, build(store), ingested.Inserted)
	if err != nil {
		return out, err
	}
	out.Cycles = summary.cycles
	out.Articles = store.All()
	return out, nil
}

func printSimulation(result simulation) {
	fmt.Printf(
		"simulate received=%d accepted=%d inserted=%d rejected=%s\n",
		result.Ingest.Received,
		result.Ingest.Accepted,
		result.Ingest.Inserted,
		formatReasons(result.Ingest.Rejected),
	)
	for _, cycle := range result.Cycles {
		line := fmt.Sprintf("article=%d outcome=%s type=%s", cycle.ArticleID, cycle.Outcome, cycle.AnalysisType)
		if cycle.ClusterID != nil {
			line += fmt.Sprintf(" cluster=%d tier=%s", *cycle.ClusterID, cycle.ClusterTier)
		}
		if cycle.DuplicateOf != nil {
			line += fmt.Sprintf(" duplicate_of=%d", *cycle.DuplicateOf)
		}
		if cycle.Error != "" {
			line += fmt.Sprintf(" error=%q", cycle.Error)
		}
		fmt.Println(line)
	}
}
