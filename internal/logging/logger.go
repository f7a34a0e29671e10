package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const serviceName = "narrative"

func New(environment, level string) (zerolog.Logger, error) {
	return NewWithWriter(os.Stdout, environment, level)
}

// NewWithWriter builds the service logger on top of w. Local environments get
// the human-readable console format; everything else logs JSON lines.
func NewWithWriter(w io.Writer, environment, level string) (zerolog.Logger, error) {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}
	parsedLevel, err := zerolog.ParseLevel(normalized)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("parse LOG_LEVEL=%q: %w", level, err)
	}

	writer := w
	if strings.EqualFold(strings.TrimSpace(environment), "local") {
		writer = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}

	logger := zerolog.New(writer).
		Level(parsedLevel).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()

	return logger, nil
}
