// Package middleware provides composable middleware for operation execution.
//
// A [Middleware] is a function that wraps an operation handler. Middleware
// are composed into a chain using [Chain] and applied before each operation
// executes. They are applied right-to-left: the first middleware in the
// slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] — logs category, operation ID, duration, and outcome at each execution
//   - [Recover] — catches panics and converts them to errors
//   - [Timeout] — cancels the operation context after its execution deadline
//   - [Tracing] — wraps execution in an OpenTelemetry span
//   - [Metrics] — records per-operation duration and outcome counters
//   - [Tenant] — injects the operation's tenant ID into the context
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, op *operation.Operation, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., circuit breaker, rate limiting).
package middleware
