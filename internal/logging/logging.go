// Package logging configures the process-wide zerolog logger.
//
// Components take a child logger tagged with their name:
//
//	log := logging.With("tasks")
//	log.Info().Str("task_id", id).Msg("task started")
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/storytrim/server/internal/config"
)

// Init sets the global level and output format.
func Init(cfg config.Log) {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stdout
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05"}
	}
	zlog.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// With returns a child of the global logger tagged with component.
func With(component string) *zerolog.Logger {
	logger := zlog.Logger.With().Str("component", component).Logger()
	return &logger
}
