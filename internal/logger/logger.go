// Package logger provides the process-wide zerolog logger.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/kozaktomas/meter-lab/internal/config"
)

// Options configures the logger.
type Options struct {
	Level      string
	Format     string // console or json
	Writer     io.Writer
	WithCaller bool
}

// FromConfig builds Options from the loaded configuration.
func FromConfig(cfg config.LogConfig) Options {
	return Options{
		Level:  strings.ToLower(cfg.Level),
		Format: strings.ToLower(cfg.Format),
	}
}

var (
	once sync.Once
	root atomic.Pointer[zerolog.Logger]
)

// New builds a logger from opt without touching the process-wide root.
func New(opt Options) zerolog.Logger {
	var w io.Writer = os.Stderr
	if opt.Writer != nil {
		w = opt.Writer
	}
	if opt.Format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	log := zerolog.New(w).Level(parseLevel(opt.Level)).With().Timestamp().Logger()
	if opt.WithCaller {
		log = log.With().Caller().Logger()
	}
	return log
}

// Init configures the root logger, safe to call once.
func Init(opt Options) {
	once.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339Nano
		log := New(opt)
		root.Store(&log)
	})
}

// Get returns the root logger, initializing it from the environment if needed.
func Get() *zerolog.Logger {
	if l := root.Load(); l != nil {
		return l
	}
	Init(FromConfig(config.Load().Log))
	return root.Load()
}

// Named returns a child logger with a component field.
func Named(component string) zerolog.Logger {
	return Get().With().Str("component", component).Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
