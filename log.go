package recorder

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// loggerPtr stores the active logger. Accessed atomically so SetLogger can
// race with logging from the GPU and worker threads.
var loggerPtr atomic.Pointer[zerolog.Logger]

func init() {
	l := zerolog.Nop()
	loggerPtr.Store(&l)
}

// SetLogger configures the logger used by the package. By default the
// package produces no log output.
//
// Log levels used:
//   - Debug: per-command traces (start received, format changed, drain stats)
//   - Info: session lifecycle (started, stopped, result paths and durations)
//   - Warn: absorbed anomalies (unexpected dequeue status, attach failures,
//     timestamp repairs, release errors during teardown)
//   - Error: protocol violations and start failures
func SetLogger(l zerolog.Logger) {
	loggerPtr.Store(&l)
}

// Logger returns the current package logger.
func Logger() zerolog.Logger {
	return *loggerPtr.Load()
}

// componentLogger returns a child logger annotated with the component name.
func componentLogger(component string) zerolog.Logger {
	return Logger().With().Str("component", component).Logger()
}
