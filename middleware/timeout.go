package middleware

import (
	"context"
	"log/slog"

	"github.com/xraph/governor/operation"
)

// Timeout returns middleware that enforces the per-operation execution
// deadline. If the operation has a non-zero Timeout, a context.WithTimeout
// wraps the handler call. When the deadline is exceeded the context is
// cancelled and the handler should return context.DeadlineExceeded. The
// cancellation is cooperative: the engine routes a deadline failure
// through retry regardless of whether the work has actually stopped.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, op *operation.Operation, next Handler) error {
		if op.Timeout > 0 {
			logger.Debug("operation deadline set",
				slog.String("operation_id", op.ID.String()),
				slog.Duration("timeout", op.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, op.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
