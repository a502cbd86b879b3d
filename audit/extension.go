package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/governor/breaker"
	"github.com/xraph/governor/dlq"
	"github.com/xraph/governor/ext"
	"github.com/xraph/governor/operation"
)

// Compile-time interface checks.
var (
	_ ext.Extension             = (*Extension)(nil)
	_ ext.OperationEnqueued     = (*Extension)(nil)
	_ ext.OperationAdmitted     = (*Extension)(nil)
	_ ext.OperationCompleted    = (*Extension)(nil)
	_ ext.OperationFailed       = (*Extension)(nil)
	_ ext.OperationRetrying     = (*Extension)(nil)
	_ ext.OperationDeadLettered = (*Extension)(nil)
	_ ext.OperationRejected     = (*Extension)(nil)
	_ ext.BreakerStateChanged   = (*Extension)(nil)
	_ ext.Shutdown              = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// The package ships [SlogRecorder]; callers with an external audit trail
// inject their own implementation at wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a structured record of one lifecycle event.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// SlogRecorder returns a Recorder that writes each audit event as one
// structured log record. Severity maps onto the log level: info events
// log at Info, warnings at Warn, critical events at Error.
func SlogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		attrs := make([]slog.Attr, 0, len(evt.Metadata)+5)
		attrs = append(attrs,
			slog.String("resource", evt.Resource),
			slog.String("category", evt.Category),
			slog.String("outcome", evt.Outcome),
		)
		if evt.ResourceID != "" {
			attrs = append(attrs, slog.String("resource_id", evt.ResourceID))
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		for k, v := range evt.Metadata {
			attrs = append(attrs, slog.Any(k, v))
		}

		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}

		logger.LogAttrs(ctx, level, evt.Action, attrs...)
		return nil
	})
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges Governor lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit" }

// ── Operation lifecycle hooks ───────────────────────

// OnOperationEnqueued implements ext.OperationEnqueued.
func (e *Extension) OnOperationEnqueued(ctx context.Context, op *operation.Operation) error {
	return e.record(ctx, ActionOperationEnqueued, SeverityInfo, OutcomeSuccess,
		ResourceOperation, op.ID.String(), CategoryOperation, "",
		"operation_category", op.Category,
		"tenant_id", op.TenantID,
		"priority", op.Priority,
		"attempt", op.Attempt,
	)
}

// OnOperationAdmitted implements ext.OperationAdmitted.
func (e *Extension) OnOperationAdmitted(ctx context.Context, op *operation.Operation) error {
	return e.record(ctx, ActionOperationAdmitted, SeverityInfo, OutcomeSuccess,
		ResourceOperation, op.ID.String(), CategoryOperation, "",
		"operation_category", op.Category,
		"tenant_id", op.TenantID,
		"attempt", op.Attempt,
	)
}

// OnOperationCompleted implements ext.OperationCompleted.
func (e *Extension) OnOperationCompleted(ctx context.Context, op *operation.Operation, elapsed time.Duration) error {
	return e.record(ctx, ActionOperationCompleted, SeverityInfo, OutcomeSuccess,
		ResourceOperation, op.ID.String(), CategoryOperation, "",
		"operation_category", op.Category,
		"tenant_id", op.TenantID,
		"attempt", op.Attempt,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnOperationFailed implements ext.OperationFailed.
func (e *Extension) OnOperationFailed(ctx context.Context, op *operation.Operation, opErr error) error {
	reason := ""
	if opErr != nil {
		reason = opErr.Error()
	}
	return e.record(ctx, ActionOperationFailed, SeverityCritical, OutcomeFailure,
		ResourceOperation, op.ID.String(), CategoryOperation, reason,
		"operation_category", op.Category,
		"tenant_id", op.TenantID,
		"attempt", op.Attempt,
		"max_attempts", op.MaxAttempts,
	)
}

// OnOperationRetrying implements ext.OperationRetrying.
func (e *Extension) OnOperationRetrying(ctx context.Context, op *operation.Operation, attempt int, nextRunAt time.Time) error {
	return e.record(ctx, ActionOperationRetrying, SeverityWarning, OutcomeFailure,
		ResourceOperation, op.ID.String(), CategoryOperation, op.LastError,
		"operation_category", op.Category,
		"tenant_id", op.TenantID,
		"attempt", attempt,
		"next_run_at", nextRunAt.Format(time.RFC3339),
	)
}

// OnOperationDeadLettered implements ext.OperationDeadLettered.
func (e *Extension) OnOperationDeadLettered(ctx context.Context, op *operation.Operation, reason dlq.Reason) error {
	return e.record(ctx, ActionOperationDeadLettered, SeverityCritical, OutcomeFailure,
		ResourceOperation, op.ID.String(), CategoryOperation, string(reason),
		"operation_category", op.Category,
		"tenant_id", op.TenantID,
		"attempt", op.Attempt,
		"last_error", op.LastError,
	)
}

// OnOperationRejected implements ext.OperationRejected.
func (e *Extension) OnOperationRejected(ctx context.Context, op *operation.Operation, cause ext.RejectCause) error {
	resourceID := ""
	category := ""
	tenantID := ""
	if op != nil {
		resourceID = op.ID.String()
		category = op.Category
		tenantID = op.TenantID
	}
	return e.record(ctx, ActionOperationRejected, SeverityWarning, OutcomeFailure,
		ResourceOperation, resourceID, CategoryOperation, string(cause),
		"operation_category", category,
		"tenant_id", tenantID,
		"cause", string(cause),
	)
}

// ── Breaker and engine hooks ────────────────────────

// OnBreakerStateChanged implements ext.BreakerStateChanged.
func (e *Extension) OnBreakerStateChanged(ctx context.Context, key string, from, to breaker.State) error {
	severity := SeverityInfo
	outcome := OutcomeSuccess
	if to == breaker.StateOpen {
		severity = SeverityCritical
		outcome = OutcomeFailure
	}
	return e.record(ctx, ActionBreakerStateChanged, severity, outcome,
		ResourceBreaker, key, CategoryBreaker, "",
		"from", string(from),
		"to", string(to),
	)
}

// OnShutdown implements ext.Shutdown.
func (e *Extension) OnShutdown(ctx context.Context) error {
	return e.record(ctx, ActionShutdown, SeverityInfo, OutcomeSuccess,
		ResourceEngine, "", CategorySystem, "")
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
// Recorder failures are logged and swallowed: the audit trail must never
// block the operation pipeline.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category, reason string,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
