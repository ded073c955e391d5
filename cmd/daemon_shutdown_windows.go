//go:build windows

package cmd

import (
	"context"
	"os"
	"os/signal"
)

// setupShutdownHandler returns a context that is canceled on Ctrl+C.
// syscall.SIGTERM is not delivered on Windows.
func setupShutdownHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}
