package cli

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// EnvLoader loads .env files with a predictable override order.
type EnvLoader struct {
	value       *string
	defaultPath string
	optional    bool
}

// AddEnvFlag registers an --env flag and returns an EnvLoader.
func AddEnvFlag(fs *flag.FlagSet, defaultPath, description string) *EnvLoader {
	if fs == nil {
		fs = flag.CommandLine
	}
	if defaultPath == "" {
		defaultPath = ".env"
	}
	if description == "" {
		description = "Path to the .env file"
	}

	value := fs.String("env", defaultPath, description)
	return &EnvLoader{
		value:       value,
		defaultPath: defaultPath,
	}
}

// Optional makes a missing env file non-fatal; the process environment is used as-is.
func (l *EnvLoader) Optional() *EnvLoader {
	if l != nil {
		l.optional = true
	}
	return l
}

// Load resolves and loads environment variables using the configured flag value.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", fmt.Errorf("env loader is nil")
	}

	log.SetOutput(os.Stderr)

	if custom := strings.TrimSpace(os.Getenv("NARRATIVE_ENV_FILE")); custom != "" {
		if err := godotenv.Overload(custom); err == nil {
			log.Printf("Loaded environment from NARRATIVE_ENV_FILE: %s", custom)
			return custom, nil
		}
		log.Printf("Warning: failed to load NARRATIVE_ENV_FILE=%s", custom)
	}

	requested := strings.TrimSpace(derefString(l.value))
	if requested == "" {
		requested = l.defaultPath
	}

	for _, candidate := range l.candidates(requested) {
		if err := godotenv.Overload(candidate); err == nil {
			log.Printf("Loaded environment from: %s", candidate)
			return candidate, nil
		}
	}

	if l.optional {
		return "", nil
	}
	return "", fmt.Errorf("failed to load env file from %s", requested)
}

func (l *EnvLoader) candidates(requested string) []string {
	out := []string{requested}
	if base := filepath.Base(requested); base != "" && base != requested {
		out = append(out, base)
	}
	if requested != l.defaultPath {
		out = append(out, l.defaultPath)
	}
	return out
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
