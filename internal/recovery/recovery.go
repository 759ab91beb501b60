// internal/recovery/recovery.go
package recovery

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
)

// exit is replaced in tests
var exit = os.Exit

// HandlePanic should be deferred at the top of main().
// It logs the panic value and stack, then exits with code 1.
func HandlePanic() {
	if r := recover(); r != nil {
		report(r, debug.Stack())
		exit(1)
	}
}

// HandlePanicFunc should be deferred at the top of goroutines. It logs the panic,
// runs cleanup so waiters are released, then exits with code 1.
func HandlePanicFunc(cleanup func()) {
	if r := recover(); r != nil {
		report(r, debug.Stack())
		if cleanup != nil {
			cleanup()
		}
		exit(1)
	}
}

func report(r any, stack []byte) {
	slog.Error("fatal panic", slog.String("panic", fmt.Sprint(r)))
	_, _ = fmt.Fprintf(os.Stderr, "FATAL: %v\n\nStack trace:\n%s\n", r, stack)
}
