package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"

	charmlog "github.com/charmbracelet/log"

	"procview/internal/logging"
)

var (
	initOnce    sync.Once
	initialized atomic.Bool
	closer      io.Closer
)

// Setup installs the charm logger as the slog default handler. Logs go to
// logFile when set, stderr otherwise. Only the first call has an effect.
func Setup(logFile string, debug bool) {
	initOnce.Do(func() {
		lc := logging.NewLogger()
		if logFile != "" {
			if fl, err := logging.NewFileLogger(logFile); err == nil {
				lc = fl
			} else {
				fmt.Fprintf(os.Stderr, "procview: %v, logging to stderr\n", err)
			}
		}
		if debug {
			lc.SetLevel(charmlog.DebugLevel)
			lc.SetReportCaller(true)
		}
		closer = lc

		slog.SetDefault(slog.New(lc.Logger))
		initialized.Store(true)
	})
}

// Close flushes and closes the log file opened by Setup, if any.
func Close() error {
	if closer == nil {
		return nil
	}
	return closer.Close()
}

func Initialized() bool {
	return initialized.Load()
}

func RecoverPanic(name string, cleanup func()) {
	if r := recover(); r != nil {
		if Initialized() {
			slog.Error(fmt.Sprintf("Panic in %s", name),
				"panic", r,
				"stack", string(debug.Stack()))
		}
		if cleanup != nil {
			cleanup()
		}
	}
}
