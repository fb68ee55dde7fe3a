package async

import (
	"context"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Task is a unit of background work
type Task func(ctx context.Context) error

// Go runs fn in a goroutine bounded by timeout. Errors and panics are logged
// under taskName and never reach the caller.
//
// The returned channel is closed when fn has finished.
//
//	async.Go(ctx, time.Minute, "grant statistics", logger, func(ctx context.Context) error {
//		return refresh(ctx)
//	})
func Go(parentCtx context.Context, timeout time.Duration, taskName string, logger *observability.Logger, fn Task) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(parentCtx, timeout, taskName, logger, fn)
	}()
	return done
}

func run(parentCtx context.Context, timeout time.Duration, taskName string, logger *observability.Logger, fn Task) {
	ctx, cancel := context.WithTimeout(parentCtx, timeout)
	defer cancel()
	defer observability.RecoverPanic(logger, taskName)

	if err := fn(ctx); err != nil {
		logger.WithError(err).WithField("task", taskName).Warn("Background task failed")
	}
}
