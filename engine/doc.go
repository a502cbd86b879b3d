// Package engine wires all Governor subsystems into the execution
// coordinator and provides the primary application-level API for
// registering categories and submitting operations.
//
// The engine package exists to break a fundamental import cycle: the root
// governor package defines Entity (imported by operation, dlq, breaker,
// etc.) and therefore cannot import those packages back. Engine sits above
// all subsystem packages and below the application layer.
//
// # Building an Engine
//
//	c, err := governor.New(
//	    governor.WithStore(pgStore),
//	    governor.WithMaxConcurrent(20),
//	)
//
//	eng, err := engine.Build(c,
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(middleware.Logging(logger)),
//	    engine.WithBackoff(backoff.NewExponential(time.Second, time.Minute)),
//	)
//
// # Registering Categories
//
//	// Typed definitions
//	engine.Register(eng, SendEmail)
//
//	// Raw handlers
//	eng.RegisterHandler("send-email", func(ctx context.Context, payload []byte) error { ... })
//
// # Submitting Operations
//
//	engine.Submit(ctx, eng, "send-email", EmailInput{To: "user@example.com"})
//
//	// With options
//	engine.Submit(ctx, eng, "send-email", input,
//	    operation.WithPriority(1),
//	    operation.WithIdempotencyKey("msg-1234"),
//	)
//
// Submit answers synchronously: a full queue or an open circuit rejects
// the call before anything is queued. Everything after admission runs on
// the engine's own goroutines and is observable through extensions and
// the operation ledger.
//
// # Options
//
//   - [WithExtension] — register a lifecycle extension
//   - [WithMiddleware] — add a middleware to the execution chain
//   - [WithBackoff] — set the retry backoff strategy
//   - [WithSampler] — override the resource usage sampler
//   - [WithTracerProvider] — set the OpenTelemetry tracer provider
//   - [WithMeterProvider] — set the OpenTelemetry meter provider
package engine
