package app

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"horse.fit/narrative/internal/cli"
	"horse.fit/narrative/internal/config"
	"horse.fit/narrative/internal/logging"
)

// loadRuntime loads .env, config and the logger the way every command does.
// ok is false after the failure has been reported on stderr.
func loadRuntime(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, bool) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, zerolog.Nop(), false
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, zerolog.Nop(), false
	}
	return cfg, logger, true
}
