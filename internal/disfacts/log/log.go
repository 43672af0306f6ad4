package log

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	charmlog "github.com/charmbracelet/log"

	"disfacts/internal/logging"
)

var (
	initOnce    sync.Once
	initialized atomic.Bool
	current     *logging.LoggerCloser
)

// Setup installs the charm logger as the slog default. debug lowers the
// level below whatever DISFACTS_LOG_LEVEL asks for and reports callers.
func Setup(debug bool) {
	initOnce.Do(func() {
		current = logging.NewLogger()
		if debug {
			current.SetLevel(charmlog.DebugLevel)
			current.SetReportCaller(true)
		}
		slog.SetDefault(slog.New(current.Logger))
		initialized.Store(true)
	})
}

func Initialized() bool {
	return initialized.Load()
}

// Close releases the log file opened under DISFACTS_LOG_TO_FILE.
func Close() error {
	if current == nil {
		return nil
	}
	return current.Close()
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
