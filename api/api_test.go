package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/governor"
	"github.com/xraph/governor/api"
	"github.com/xraph/governor/breaker"
	"github.com/xraph/governor/dlq"
	"github.com/xraph/governor/engine"
	"github.com/xraph/governor/id"
	"github.com/xraph/governor/observability"
	"github.com/xraph/governor/operation"
	"github.com/xraph/governor/resource"
	"github.com/xraph/governor/store/memory"
)

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubSampler reports an idle host so resource gating never interferes.
type stubSampler struct{}

func (stubSampler) Sample(context.Context) (resource.Snapshot, error) {
	return resource.Snapshot{SampledAt: time.Now().UTC()}, nil
}

type harness struct {
	handler http.Handler
	eng     *engine.Engine
}

func newHarness(t *testing.T, mutate func(*governor.Config), opts ...engine.Option) *harness {
	t.Helper()

	cfg := governor.DefaultConfig()
	cfg.BaseRetryDelay = time.Millisecond
	cfg.MaxRetryDelay = 10 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := governor.New(
		governor.WithConfig(cfg),
		governor.WithStore(memory.New()),
		governor.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("governor.New() error: %v", err)
	}

	all := append([]engine.Option{engine.WithSampler(stubSampler{})}, opts...)
	eng, err := engine.Build(c, all...)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	return &harness{handler: api.New(eng).Handler(), eng: eng}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.eng.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.eng.Stop(ctx)
	})
}

func (h *harness) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		rd = bytes.NewReader(buf)
	}

	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return v
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitForState(t *testing.T, eng *engine.Engine, opID id.OperationID, want operation.State) {
	t.Helper()
	var last operation.State
	deadline := time.Now().Add(3 * time.Second)
	for {
		state, err := eng.Status(context.Background(), opID)
		if err == nil {
			last = state
			if state == want {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for operation %s to reach %s (last state %q)", opID, want, last)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Operations
// ─────────────────────────────────────────────────────────────────────────────

func TestSubmitOperation_Accepted(t *testing.T) {
	h := newHarness(t, nil)

	var runs atomic.Int64
	var gotTo atomic.Value
	h.eng.RegisterHandler("email", func(_ context.Context, payload []byte) error {
		var p struct {
			To string `json:"to"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		gotTo.Store(p.To)
		runs.Add(1)
		return nil
	})
	h.start(t)

	rec := h.do(t, http.MethodPost, "/v1/operations", api.SubmitOperationRequest{
		Category: "email",
		Payload:  json.RawMessage(`{"to":"bob@example.com"}`),
		Priority: 2,
		TenantID: "acme",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusAccepted, rec.Body.String())
	}

	op := decodeBody[*operation.Operation](t, rec)
	if op.Category != "email" {
		t.Errorf("Category = %q, want %q", op.Category, "email")
	}
	if op.TenantID != "acme" {
		t.Errorf("TenantID = %q, want %q", op.TenantID, "acme")
	}
	if op.State != operation.StateQueued {
		t.Errorf("State = %q, want %q", op.State, operation.StateQueued)
	}

	waitForState(t, h.eng, op.ID, operation.StateSucceeded)
	if runs.Load() != 1 {
		t.Errorf("handler runs = %d, want 1", runs.Load())
	}
	if got, _ := gotTo.Load().(string); got != "bob@example.com" {
		t.Errorf("payload to = %q, want %q", got, "bob@example.com")
	}
}

func TestSubmitOperation_Validation(t *testing.T) {
	h := newHarness(t, nil)
	h.eng.RegisterHandler("email", func(context.Context, []byte) error { return nil })
	h.start(t)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/operations", bytes.NewBufferString("{not json")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d, want 400", rec.Code)
	}

	rec = h.do(t, http.MethodPost, "/v1/operations", api.SubmitOperationRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing category: status = %d, want 400", rec.Code)
	}

	rec = h.do(t, http.MethodPost, "/v1/operations", api.SubmitOperationRequest{Category: "nope"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown category: status = %d, want 400", rec.Code)
	}

	rec = h.do(t, http.MethodPost, "/v1/operations", api.SubmitOperationRequest{Category: "email", Timeout: "soon"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad timeout: status = %d, want 400", rec.Code)
	}
}

func TestSubmitOperation_DuplicateConflict(t *testing.T) {
	h := newHarness(t, nil)
	h.eng.RegisterHandler("payment", func(context.Context, []byte) error { return nil })
	h.start(t)

	req := api.SubmitOperationRequest{
		Category:       "payment",
		Payload:        json.RawMessage(`{"amount":5}`),
		IdempotencyKey: "charge-77",
	}

	rec := h.do(t, http.MethodPost, "/v1/operations", req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("first submit: status = %d, want 202", rec.Code)
	}
	first := decodeBody[*operation.Operation](t, rec)

	rec = h.do(t, http.MethodPost, "/v1/operations", req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate submit: status = %d, want 409 (body %s)", rec.Code, rec.Body.String())
	}
	dup := decodeBody[*operation.Operation](t, rec)
	if dup.ID != first.ID {
		t.Errorf("duplicate resolved to %s, want original %s", dup.ID, first.ID)
	}
}

func TestGetOperation(t *testing.T) {
	h := newHarness(t, nil)
	h.eng.RegisterHandler("email", func(context.Context, []byte) error { return nil })
	h.start(t)

	op, err := h.eng.SubmitRaw(context.Background(), "email", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("SubmitRaw() error: %v", err)
	}

	rec := h.do(t, http.MethodGet, "/v1/operations/"+op.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decodeBody[*operation.Operation](t, rec)
	if got.ID != op.ID {
		t.Errorf("ID = %s, want %s", got.ID, op.ID)
	}

	rec = h.do(t, http.MethodGet, "/v1/operations/not-an-id", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed ID: status = %d, want 400", rec.Code)
	}

	rec = h.do(t, http.MethodGet, "/v1/operations/"+id.NewOperationID().String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown ID: status = %d, want 404", rec.Code)
	}
}

func TestCancelOperation(t *testing.T) {
	h := newHarness(t, func(cfg *governor.Config) {
		cfg.MaxConcurrent = 1
		cfg.Categories = map[string]governor.CategoryLimits{
			"slow": {MaxConcurrent: 1, MaxQueueSize: 4},
		}
	})

	release := make(chan struct{})
	started := make(chan struct{}, 8)
	h.eng.RegisterHandler("slow", func(ctx context.Context, _ []byte) error {
		started <- struct{}{}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	h.start(t)
	defer close(release)

	running, err := h.eng.SubmitRaw(context.Background(), "slow", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("SubmitRaw() error: %v", err)
	}
	<-started

	queued, err := h.eng.SubmitRaw(context.Background(), "slow", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("SubmitRaw() error: %v", err)
	}

	rec := h.do(t, http.MethodDelete, "/v1/operations/"+queued.ID.String(), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("cancel queued: status = %d, want 204 (body %s)", rec.Code, rec.Body.String())
	}
	waitForState(t, h.eng, queued.ID, operation.StateCancelled)

	rec = h.do(t, http.MethodDelete, "/v1/operations/"+running.ID.String(), nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("cancel running: status = %d, want 409", rec.Code)
	}
}

func TestListOperationsAndCounts(t *testing.T) {
	h := newHarness(t, nil)
	h.eng.RegisterHandler("email", func(context.Context, []byte) error { return nil })
	h.start(t)

	rec := h.do(t, http.MethodGet, "/v1/operations", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing state filter: status = %d, want 400", rec.Code)
	}

	op, err := h.eng.SubmitRaw(context.Background(), "email", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("SubmitRaw() error: %v", err)
	}
	waitForState(t, h.eng, op.ID, operation.StateSucceeded)

	rec = h.do(t, http.MethodGet, "/v1/operations?state=succeeded&category=email", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d, want 200", rec.Code)
	}
	ops := decodeBody[[]*operation.Operation](t, rec)
	if len(ops) != 1 {
		t.Fatalf("listed %d operations, want 1", len(ops))
	}
	if ops[0].ID != op.ID {
		t.Errorf("listed ID = %s, want %s", ops[0].ID, op.ID)
	}

	rec = h.do(t, http.MethodGet, "/v1/operations/counts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("counts: status = %d, want 200", rec.Code)
	}
	counts := decodeBody[api.OperationCountsResponse](t, rec)
	if counts.Succeeded != 1 {
		t.Errorf("Succeeded = %d, want 1", counts.Succeeded)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Dead letter queue
// ─────────────────────────────────────────────────────────────────────────────

func TestDLQLifecycle(t *testing.T) {
	h := newHarness(t, func(cfg *governor.Config) {
		cfg.MaxAttempts = 1
	})

	var healthy atomic.Bool
	h.eng.RegisterHandler("flaky", func(context.Context, []byte) error {
		if healthy.Load() {
			return nil
		}
		return context.DeadlineExceeded
	})
	h.start(t)

	op, err := h.eng.SubmitRaw(context.Background(), "flaky", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("SubmitRaw() error: %v", err)
	}
	waitForState(t, h.eng, op.ID, operation.StateDeadLettered)

	rec := h.do(t, http.MethodGet, "/v1/operations/"+op.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get operation: status = %d, want 200", rec.Code)
	}

	rec = h.do(t, http.MethodGet, "/v1/dlq?category=flaky", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list dlq: status = %d, want 200", rec.Code)
	}
	entries := decodeBody[[]*dlq.Entry](t, rec)
	if len(entries) != 1 {
		t.Fatalf("listed %d entries, want 1", len(entries))
	}
	entry := entries[0]
	if entry.Reason != dlq.ReasonRetriesExhausted {
		t.Errorf("Reason = %q, want %q", entry.Reason, dlq.ReasonRetriesExhausted)
	}

	rec = h.do(t, http.MethodGet, "/v1/dlq/count", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("dlq count: status = %d, want 200", rec.Code)
	}
	if count := decodeBody[api.DLQCountResponse](t, rec); count.Count != 1 {
		t.Errorf("Count = %d, want 1", count.Count)
	}

	rec = h.do(t, http.MethodGet, "/v1/dlq/"+entry.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get dlq entry: status = %d, want 200", rec.Code)
	}

	// Nothing has expired; the purge answers with a zero count.
	rec = h.do(t, http.MethodDelete, "/v1/dlq/expired", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("purge: status = %d, want 202", rec.Code)
	}
	if purged := decodeBody[api.PurgeDLQResponse](t, rec); purged.Purged != 0 {
		t.Errorf("Purged = %d, want 0", purged.Purged)
	}

	healthy.Store(true)

	rec = h.do(t, http.MethodPost, "/v1/dlq/"+entry.ID.String()+"/replay", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("replay: status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
	replayed := decodeBody[*operation.Operation](t, rec)
	if replayed.ID == op.ID {
		t.Error("replayed operation reused the original ID")
	}
	if got := replayed.Metadata[dlq.MetadataReplayOf]; got != entry.ID.String() {
		t.Errorf("replay metadata = %q, want %q", got, entry.ID.String())
	}
	waitForState(t, h.eng, replayed.ID, operation.StateSucceeded)

	// A successful replay resolves the entry.
	waitFor(t, "dlq entry resolution", func() bool {
		return h.do(t, http.MethodGet, "/v1/dlq/"+entry.ID.String(), nil).Code == http.StatusNotFound
	})
}

func TestDLQ_InvalidAndUnknownIDs(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	rec := h.do(t, http.MethodGet, "/v1/dlq/not-an-id", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed ID: status = %d, want 400", rec.Code)
	}

	rec = h.do(t, http.MethodPost, "/v1/dlq/"+id.NewDLQID().String()+"/replay", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown entry replay: status = %d, want 404", rec.Code)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Breakers, stats, health
// ─────────────────────────────────────────────────────────────────────────────

func TestBreakerEndpoints(t *testing.T) {
	h := newHarness(t, func(cfg *governor.Config) {
		cfg.MaxAttempts = 1
		cfg.CircuitFailureThreshold = 2
	})

	h.eng.RegisterHandler("downstream", func(context.Context, []byte) error {
		return context.DeadlineExceeded
	})
	h.start(t)

	for i := 0; i < 2; i++ {
		op, err := h.eng.SubmitRaw(context.Background(), "downstream", json.RawMessage(`{}`))
		if err != nil {
			t.Fatalf("SubmitRaw() error: %v", err)
		}
		waitForState(t, h.eng, op.ID, operation.StateDeadLettered)
	}
	waitFor(t, "breaker to open", func() bool {
		return h.eng.Breakers().StateFor("downstream", "") == breaker.StateOpen
	})

	rec := h.do(t, http.MethodGet, "/v1/breakers", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list breakers: status = %d, want 200", rec.Code)
	}
	statuses := decodeBody[[]*breaker.Status](t, rec)
	var found *breaker.Status
	for _, st := range statuses {
		if st.Key == "downstream" {
			found = st
		}
	}
	if found == nil {
		t.Fatalf("breaker %q missing from snapshot", "downstream")
	}
	if found.State != breaker.StateOpen {
		t.Errorf("State = %q, want %q", found.State, breaker.StateOpen)
	}

	rec = h.do(t, http.MethodPost, "/v1/breakers/downstream/reset", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("reset: status = %d, want 204", rec.Code)
	}
	if state := h.eng.Breakers().StateFor("downstream", ""); state != breaker.StateClosed {
		t.Errorf("state after reset = %q, want %q", state, breaker.StateClosed)
	}

	rec = h.do(t, http.MethodPost, "/v1/breakers/ghost/reset", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown breaker reset: status = %d, want 404", rec.Code)
	}
}

func TestStats(t *testing.T) {
	h := newHarness(t, nil)
	h.eng.RegisterHandler("email", func(context.Context, []byte) error { return nil })
	h.eng.RegisterHandler("billing", func(context.Context, []byte) error { return nil })
	h.start(t)

	op, err := h.eng.SubmitRaw(context.Background(), "email", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("SubmitRaw() error: %v", err)
	}
	waitForState(t, h.eng, op.ID, operation.StateSucceeded)

	rec := h.do(t, http.MethodGet, "/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	stats := decodeBody[api.StatsResponse](t, rec)
	if stats.Operations.Succeeded != 1 {
		t.Errorf("Operations.Succeeded = %d, want 1", stats.Operations.Succeeded)
	}
	if stats.DLQCount != 0 {
		t.Errorf("DLQCount = %d, want 0", stats.DLQCount)
	}
	if len(stats.Queues) != 2 {
		t.Fatalf("len(Queues) = %d, want 2", len(stats.Queues))
	}
	if stats.Queues[0].Category != "billing" || stats.Queues[1].Category != "email" {
		t.Errorf("queue categories = %q, %q; want billing, email",
			stats.Queues[0].Category, stats.Queues[1].Category)
	}
	if stats.Resources.UnderPressure {
		t.Error("Resources.UnderPressure = true on an idle sampler")
	}
}

func TestMetricsSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	h.eng.RegisterHandler("email", func(context.Context, []byte) error { return nil })
	h.start(t)

	op, err := h.eng.SubmitRaw(context.Background(), "email", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("SubmitRaw() error: %v", err)
	}
	waitForState(t, h.eng, op.ID, operation.StateSucceeded)

	waitFor(t, "collector row", func() bool {
		rec := h.do(t, http.MethodGet, "/v1/metrics/snapshot", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		rows := decodeBody[[]observability.RowSnapshot](t, rec)
		for _, row := range rows {
			if row.Category == "email" && row.Succeeded == 1 {
				return true
			}
		}
		return false
	})
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	rec := h.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody[map[string]string](t, rec)
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want %q", body["status"], "ok")
	}
}
