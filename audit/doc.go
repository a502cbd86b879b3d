// Package audit is a Governor extension that bridges lifecycle events to
// an audit trail backend.
//
// Every operation and breaker lifecycle hook emits a structured audit
// event through the [Recorder] interface. The extension assigns severity
// levels (info for normal operations, warning for retries and rejections,
// critical for terminal failures) and rich metadata (category, tenant,
// attempt counts, elapsed time, errors).
//
// # Usage with slog
//
// [SlogRecorder] writes each event as one structured log record, which is
// the default backend wired by the server binary:
//
//	audit.New(audit.SlogRecorder(logger))
//
// # Selective filtering
//
//	audit.New(recorder,
//	    audit.WithActions(
//	        audit.ActionOperationFailed,
//	        audit.ActionOperationDeadLettered,
//	        audit.ActionBreakerStateChanged,
//	    ),
//	)
package audit
