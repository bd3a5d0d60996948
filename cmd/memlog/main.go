// Command memlog reads and writes the shared memory log from the shell.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"memlog/internal/domain"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		r := newRenderer(root.ErrOrStderr())
		fmt.Fprintln(root.ErrOrStderr(), r.errorLine(err))
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to a stable process exit status so scripts can
// branch on the failure class.
func exitCode(err error) int {
	var usage *usageError
	if errors.As(err, &usage) {
		return 2
	}
	switch domain.ErrorCodeOf(err) {
	case domain.CodeValidation, domain.CodeInvalidInput:
		return 3
	case domain.CodeNotFound:
		return 4
	case domain.CodeLockTimeout, domain.CodeTimeout:
		return 5
	case domain.CodeAccessDenied, domain.CodePermissionDenied:
		return 6
	case domain.CodeConfigLoad:
		return 7
	default:
		return 1
	}
}

// usageError reports a malformed command line.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}
