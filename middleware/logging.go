package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/governor/operation"
)

// Logging returns middleware that logs operation start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, op *operation.Operation, next Handler) error {
		logger.Info("operation started",
			slog.String("operation_id", op.ID.String()),
			slog.String("category", op.Category),
			slog.Int("attempt", op.Attempt),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("operation failed",
				slog.String("operation_id", op.ID.String()),
				slog.String("category", op.Category),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("operation completed",
				slog.String("operation_id", op.ID.String()),
				slog.String("category", op.Category),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
