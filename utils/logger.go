package utils

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevelEnv overrides the configured log level when set.
const LogLevelEnv = "AMRCOMM_LOG_LEVEL"

var (
	logMu   sync.RWMutex
	logBase zerolog.Logger
)

func init() {
	level := zerolog.InfoLevel
	if env := os.Getenv(LogLevelEnv); env != "" {
		if lvl, err := zerolog.ParseLevel(env); err == nil {
			level = lvl
		}
	}
	InitLogger(os.Stderr, level)
}

// InitLogger replaces the process wide base logger.
func InitLogger(out io.Writer, level zerolog.Level) {
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}
	logMu.Lock()
	logBase = zerolog.New(output).Level(level).With().Timestamp().Logger()
	logMu.Unlock()
}

// SetLogLevel parses name ("debug", "info", ...) and applies it to the base
// logger. The environment variable wins over the argument.
func SetLogLevel(name string) (err error) {
	if env := os.Getenv(LogLevelEnv); env != "" {
		name = env
	}
	var lvl zerolog.Level
	if lvl, err = zerolog.ParseLevel(name); err != nil {
		return fmt.Errorf("bad log level %q: %w", name, err)
	}
	logMu.Lock()
	logBase = logBase.Level(lvl)
	logMu.Unlock()
	return
}

// Logger returns a child of the base logger tagged with component.
func Logger(component string) zerolog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return logBase.With().Str("component", component).Logger()
}
