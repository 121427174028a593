package gpuproc

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/gpuproc/integration/canvas"
	"github.com/gogpu/gpuproc/internal/dispatch"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for gpuproc, its actor loop and the
// canvas integration. By default nothing is logged.
//
// SetLogger is safe for concurrent use. Pass nil to restore the silent
// default.
//
// Log levels used by gpuproc:
//   - [slog.LevelDebug]: per-request diagnostics (late completions, swap chain setup)
//   - [slog.LevelInfo]: lifecycle events (actor start and stop, adapter selected)
//   - [slog.LevelWarn]: failed requests, dropped frames, undeliverable replies
//   - [slog.LevelError]: failed map operations, recovered handler panics
//
// Backends log separately; see backend/native.SetLogger and
// backend/software.SetLogger.
//
// Example:
//
//	gpuproc.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	dispatch.SetLogger(l)
	canvas.SetLogger(l)
}

// Logger returns the current logger used by gpuproc.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

func slogger() *slog.Logger { return loggerPtr.Load() }
