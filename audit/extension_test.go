package audit_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/governor"
	"github.com/xraph/governor/audit"
	"github.com/xraph/governor/breaker"
	"github.com/xraph/governor/dlq"
	"github.com/xraph/governor/ext"
	"github.com/xraph/governor/id"
	"github.com/xraph/governor/operation"
)

// ── Mock recorder ────────────────────────────────────

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *audit.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *audit.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockRecorder) findByAction(action string) *audit.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, evt := range m.events {
		if evt.Action == action {
			return evt
		}
	}
	return nil
}

// ── Test helpers ─────────────────────────────────────

func newTestOp() *operation.Operation {
	return &operation.Operation{
		Entity:      governor.NewEntity(),
		ID:          id.NewOperationID(),
		Category:    "send-email",
		TenantID:    "acme",
		Priority:    2,
		MaxAttempts: 3,
		Attempt:     1,
		LastError:   "connection timeout",
	}
}

// ── Tests ────────────────────────────────────────────

func TestExtension_Name(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	if e.Name() != "audit" {
		t.Errorf("expected name %q, got %q", "audit", e.Name())
	}
}

// ── Operation lifecycle tests ────────────────────────

func TestExtension_OperationEnqueued(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	ctx := context.Background()
	op := newTestOp()

	if err := e.OnOperationEnqueued(ctx, op); err != nil {
		t.Fatalf("OnOperationEnqueued: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != audit.ActionOperationEnqueued {
		t.Errorf("Action: want %q, got %q", audit.ActionOperationEnqueued, evt.Action)
	}
	if evt.Resource != audit.ResourceOperation {
		t.Errorf("Resource: want %q, got %q", audit.ResourceOperation, evt.Resource)
	}
	if evt.Category != audit.CategoryOperation {
		t.Errorf("Category: want %q, got %q", audit.CategoryOperation, evt.Category)
	}
	if evt.ResourceID != op.ID.String() {
		t.Errorf("ResourceID: want %q, got %q", op.ID.String(), evt.ResourceID)
	}
	if evt.Severity != audit.SeverityInfo {
		t.Errorf("Severity: want %q, got %q", audit.SeverityInfo, evt.Severity)
	}
	if evt.Outcome != audit.OutcomeSuccess {
		t.Errorf("Outcome: want %q, got %q", audit.OutcomeSuccess, evt.Outcome)
	}
	if evt.Metadata["operation_category"] != "send-email" {
		t.Errorf("Metadata[operation_category]: want %q, got %v", "send-email", evt.Metadata["operation_category"])
	}
	if evt.Metadata["tenant_id"] != "acme" {
		t.Errorf("Metadata[tenant_id]: want %q, got %v", "acme", evt.Metadata["tenant_id"])
	}
}

func TestExtension_OperationCompleted(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	op := newTestOp()
	elapsed := 150 * time.Millisecond

	if err := e.OnOperationCompleted(context.Background(), op, elapsed); err != nil {
		t.Fatalf("OnOperationCompleted: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionOperationCompleted {
		t.Errorf("Action: want %q, got %q", audit.ActionOperationCompleted, evt.Action)
	}
	if evt.Severity != audit.SeverityInfo {
		t.Errorf("Severity: want %q, got %q", audit.SeverityInfo, evt.Severity)
	}
	if evt.Metadata["elapsed_ms"] != elapsed.Milliseconds() {
		t.Errorf("Metadata[elapsed_ms]: want %d, got %v", elapsed.Milliseconds(), evt.Metadata["elapsed_ms"])
	}
}

func TestExtension_OperationFailed(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	op := newTestOp()
	opErr := errors.New("connection timeout")

	if err := e.OnOperationFailed(context.Background(), op, opErr); err != nil {
		t.Fatalf("OnOperationFailed: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionOperationFailed {
		t.Errorf("Action: want %q, got %q", audit.ActionOperationFailed, evt.Action)
	}
	if evt.Severity != audit.SeverityCritical {
		t.Errorf("Severity: want %q, got %q", audit.SeverityCritical, evt.Severity)
	}
	if evt.Outcome != audit.OutcomeFailure {
		t.Errorf("Outcome: want %q, got %q", audit.OutcomeFailure, evt.Outcome)
	}
	if evt.Reason != "connection timeout" {
		t.Errorf("Reason: want %q, got %q", "connection timeout", evt.Reason)
	}
	if evt.Metadata["max_attempts"] != 3 {
		t.Errorf("Metadata[max_attempts]: want %d, got %v", 3, evt.Metadata["max_attempts"])
	}
}

func TestExtension_OperationRetrying(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	op := newTestOp()
	nextRun := time.Now().Add(30 * time.Second)

	if err := e.OnOperationRetrying(context.Background(), op, 2, nextRun); err != nil {
		t.Fatalf("OnOperationRetrying: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionOperationRetrying {
		t.Errorf("Action: want %q, got %q", audit.ActionOperationRetrying, evt.Action)
	}
	if evt.Severity != audit.SeverityWarning {
		t.Errorf("Severity: want %q, got %q", audit.SeverityWarning, evt.Severity)
	}
	if evt.Metadata["attempt"] != 2 {
		t.Errorf("Metadata[attempt]: want %d, got %v", 2, evt.Metadata["attempt"])
	}
	if evt.Metadata["next_run_at"] != nextRun.Format(time.RFC3339) {
		t.Errorf("Metadata[next_run_at]: want %q, got %v", nextRun.Format(time.RFC3339), evt.Metadata["next_run_at"])
	}
}

func TestExtension_OperationDeadLettered(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	op := newTestOp()

	if err := e.OnOperationDeadLettered(context.Background(), op, dlq.ReasonRetriesExhausted); err != nil {
		t.Fatalf("OnOperationDeadLettered: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionOperationDeadLettered {
		t.Errorf("Action: want %q, got %q", audit.ActionOperationDeadLettered, evt.Action)
	}
	if evt.Severity != audit.SeverityCritical {
		t.Errorf("Severity: want %q, got %q", audit.SeverityCritical, evt.Severity)
	}
	if evt.Reason != string(dlq.ReasonRetriesExhausted) {
		t.Errorf("Reason: want %q, got %q", dlq.ReasonRetriesExhausted, evt.Reason)
	}
	if evt.Metadata["last_error"] != "connection timeout" {
		t.Errorf("Metadata[last_error]: want %q, got %v", "connection timeout", evt.Metadata["last_error"])
	}
}

func TestExtension_OperationRejected(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	op := newTestOp()

	if err := e.OnOperationRejected(context.Background(), op, ext.RejectQueueFull); err != nil {
		t.Fatalf("OnOperationRejected: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionOperationRejected {
		t.Errorf("Action: want %q, got %q", audit.ActionOperationRejected, evt.Action)
	}
	if evt.Severity != audit.SeverityWarning {
		t.Errorf("Severity: want %q, got %q", audit.SeverityWarning, evt.Severity)
	}
	if evt.Metadata["cause"] != string(ext.RejectQueueFull) {
		t.Errorf("Metadata[cause]: want %q, got %v", ext.RejectQueueFull, evt.Metadata["cause"])
	}

	// A nil operation still produces an event.
	if err := e.OnOperationRejected(context.Background(), nil, ext.RejectDuplicate); err != nil {
		t.Fatalf("OnOperationRejected(nil): %v", err)
	}
	if evt := rec.last(); evt.ResourceID != "" {
		t.Errorf("ResourceID for nil op: want empty, got %q", evt.ResourceID)
	}
}

// ── Breaker and shutdown tests ───────────────────────

func TestExtension_BreakerStateChanged(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	ctx := context.Background()

	if err := e.OnBreakerStateChanged(ctx, "payments", breaker.StateClosed, breaker.StateOpen); err != nil {
		t.Fatalf("OnBreakerStateChanged: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionBreakerStateChanged {
		t.Errorf("Action: want %q, got %q", audit.ActionBreakerStateChanged, evt.Action)
	}
	if evt.Resource != audit.ResourceBreaker {
		t.Errorf("Resource: want %q, got %q", audit.ResourceBreaker, evt.Resource)
	}
	if evt.ResourceID != "payments" {
		t.Errorf("ResourceID: want %q, got %q", "payments", evt.ResourceID)
	}
	if evt.Severity != audit.SeverityCritical {
		t.Errorf("opening breaker Severity: want %q, got %q", audit.SeverityCritical, evt.Severity)
	}
	if evt.Metadata["to"] != string(breaker.StateOpen) {
		t.Errorf("Metadata[to]: want %q, got %v", breaker.StateOpen, evt.Metadata["to"])
	}

	// Recovery transitions are informational.
	if err := e.OnBreakerStateChanged(ctx, "payments", breaker.StateHalfOpen, breaker.StateClosed); err != nil {
		t.Fatalf("OnBreakerStateChanged: %v", err)
	}
	if evt := rec.last(); evt.Severity != audit.SeverityInfo {
		t.Errorf("closing breaker Severity: want %q, got %q", audit.SeverityInfo, evt.Severity)
	}
}

func TestExtension_Shutdown(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	if err := e.OnShutdown(context.Background()); err != nil {
		t.Fatalf("OnShutdown: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionShutdown {
		t.Errorf("Action: want %q, got %q", audit.ActionShutdown, evt.Action)
	}
	if evt.Category != audit.CategorySystem {
		t.Errorf("Category: want %q, got %q", audit.CategorySystem, evt.Category)
	}
}

// ── WithActions filter tests ─────────────────────────

func TestExtension_WithActions_FiltersDisabled(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec, audit.WithActions(audit.ActionOperationCompleted, audit.ActionOperationFailed))

	ctx := context.Background()
	op := newTestOp()

	// Enqueued is NOT enabled — silently skipped.
	if err := e.OnOperationEnqueued(ctx, op); err != nil {
		t.Fatalf("OnOperationEnqueued: %v", err)
	}
	if rec.count() != 0 {
		t.Errorf("expected 0 events (enqueued disabled), got %d", rec.count())
	}

	// Completed IS enabled — recorded.
	if err := e.OnOperationCompleted(ctx, op, 50*time.Millisecond); err != nil {
		t.Fatalf("OnOperationCompleted: %v", err)
	}
	if rec.count() != 1 {
		t.Errorf("expected 1 event (completed enabled), got %d", rec.count())
	}

	// Failed IS enabled — recorded.
	if err := e.OnOperationFailed(ctx, op, errors.New("boom")); err != nil {
		t.Fatalf("OnOperationFailed: %v", err)
	}
	if rec.count() != 2 {
		t.Errorf("expected 2 events, got %d", rec.count())
	}
}

// ── Recorder behavior tests ──────────────────────────

func TestRecorderFunc(t *testing.T) {
	var captured *audit.AuditEvent
	fn := audit.RecorderFunc(func(_ context.Context, evt *audit.AuditEvent) error {
		captured = evt
		return nil
	})

	e := audit.New(fn)

	if err := e.OnOperationEnqueued(context.Background(), newTestOp()); err != nil {
		t.Fatalf("OnOperationEnqueued: %v", err)
	}
	if captured == nil {
		t.Fatal("RecorderFunc was not called")
	}
	if captured.Action != audit.ActionOperationEnqueued {
		t.Errorf("Action: want %q, got %q", audit.ActionOperationEnqueued, captured.Action)
	}
}

func TestExtension_RecorderError_DoesNotPropagate(t *testing.T) {
	failingRecorder := audit.RecorderFunc(func(_ context.Context, _ *audit.AuditEvent) error {
		return errors.New("audit backend down")
	})

	e := audit.New(failingRecorder, audit.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	// The hook must not return an error: audit failures never block
	// the operation pipeline.
	if err := e.OnOperationEnqueued(context.Background(), newTestOp()); err != nil {
		t.Fatalf("expected no error (audit failure swallowed), got: %v", err)
	}
}

func TestSlogRecorder(t *testing.T) {
	var mu sync.Mutex
	var records []slog.Record
	handler := recordingHandler{mu: &mu, records: &records}

	r := audit.SlogRecorder(slog.New(handler))
	e := audit.New(r)

	if err := e.OnOperationFailed(context.Background(), newTestOp(), errors.New("boom")); err != nil {
		t.Fatalf("OnOperationFailed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(records) != 1 {
		t.Fatalf("expected 1 log record, got %d", len(records))
	}
	if records[0].Message != audit.ActionOperationFailed {
		t.Errorf("Message: want %q, got %q", audit.ActionOperationFailed, records[0].Message)
	}
	if records[0].Level != slog.LevelError {
		t.Errorf("Level: want %v, got %v", slog.LevelError, records[0].Level)
	}
}

// recordingHandler captures slog records for assertions.
type recordingHandler struct {
	mu      *sync.Mutex
	records *[]slog.Record
}

func (h recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.records = append(*h.records, r)
	return nil
}

func (h recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h recordingHandler) WithGroup(string) slog.Handler      { return h }

// ── Registry integration test ────────────────────────

func TestExtension_ViaRegistry(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := ext.NewRegistry(logger)
	reg.Register(e)

	ctx := context.Background()
	op := newTestOp()

	reg.EmitOperationEnqueued(ctx, op)
	reg.EmitOperationAdmitted(ctx, op)
	reg.EmitOperationCompleted(ctx, op, 50*time.Millisecond)
	reg.EmitOperationFailed(ctx, op, errors.New("fail"))
	reg.EmitOperationRetrying(ctx, op, 1, time.Now())
	reg.EmitOperationDeadLettered(ctx, op, dlq.ReasonRetriesExhausted)
	reg.EmitOperationRejected(ctx, op, ext.RejectQueueFull)
	reg.EmitBreakerStateChanged(ctx, "payments", breaker.StateClosed, breaker.StateOpen)
	reg.EmitShutdown(ctx)

	// All 9 event types recorded.
	allActions := audit.AllActions()
	if rec.count() != len(allActions) {
		t.Fatalf("expected %d events, got %d", len(allActions), rec.count())
	}

	for _, action := range allActions {
		evt := rec.findByAction(action)
		if evt == nil {
			t.Errorf("missing event for action %q", action)
		}
	}
}

// ── AllActions test ──────────────────────────────────

func TestAllActions(t *testing.T) {
	actions := audit.AllActions()
	if len(actions) != 9 {
		t.Errorf("expected 9 actions, got %d", len(actions))
	}
}
