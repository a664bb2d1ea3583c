package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// waitContext returns a context cancelled on Ctrl+C or SIGTERM, and after timeout when positive.
func waitContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

// interrupted reports whether ctx ended because of a signal rather than its deadline.
func interrupted(ctx context.Context) bool {
	return ctx.Err() != nil && ctx.Err() != context.DeadlineExceeded
}
