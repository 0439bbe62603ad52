package utils

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// DebugLogEnv names the file Debug appends to.
const DebugLogEnv = "THINDL_DEBUG_LOG"

var (
	debugLogger = zerolog.Nop()
	debugOnce   sync.Once
)

// Debug writes a message to the JSON debug log named by THINDL_DEBUG_LOG.
// It is a no-op when the variable is unset. The dashboard owns the terminal,
// so this is the only way to trace it while it runs.
func Debug(format string, args ...any) {
	debugOnce.Do(func() {
		p := os.Getenv(DebugLogEnv)
		if p == "" {
			return
		}
		f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return
		}
		debugLogger = zerolog.New(f).With().Timestamp().Str("component", "debug").Logger()
	})
	// Log carries no level so the global level does not filter it
	debugLogger.Log().Msgf(format, args...)
}
