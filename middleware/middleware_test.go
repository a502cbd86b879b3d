package middleware_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/governor/id"
	"github.com/xraph/governor/middleware"
	"github.com/xraph/governor/operation"
)

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *operation.Operation, next middleware.Handler) error {
		order = append(order, "mw1-before")
		err := next(ctx)
		order = append(order, "mw1-after")
		return err
	}

	mw2 := func(ctx context.Context, _ *operation.Operation, next middleware.Handler) error {
		order = append(order, "mw2-before")
		err := next(ctx)
		order = append(order, "mw2-after")
		return err
	}

	chain := middleware.Chain(mw1, mw2)
	op := &operation.Operation{Category: "email", ID: id.NewOperationID()}
	handler := func(_ context.Context) error {
		order = append(order, "handler")
		return nil
	}

	err := chain(context.Background(), op, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := middleware.Chain()
	called := false
	handler := func(_ context.Context) error {
		called = true
		return nil
	}

	err := chain(context.Background(), &operation.Operation{ID: id.NewOperationID()}, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestChain_PropagatesError(t *testing.T) {
	mw := func(ctx context.Context, _ *operation.Operation, next middleware.Handler) error {
		return next(ctx)
	}
	chain := middleware.Chain(mw)
	want := errors.New("handler error")

	err := chain(context.Background(), &operation.Operation{ID: id.NewOperationID()}, func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Recover(logger)
	op := &operation.Operation{Category: "panicky", ID: id.NewOperationID()}

	err := mw(context.Background(), op, func(_ context.Context) error {
		panic("test panic")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	want := fmt.Sprintf("panic in operation %s: test panic", op.ID)
	if got := err.Error(); got != want {
		t.Errorf("unexpected error message: %q, want %q", got, want)
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Recover(logger)
	op := &operation.Operation{Category: "normal", ID: id.NewOperationID()}

	called := false
	err := mw(context.Background(), op, func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_Success(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Logging(logger)
	op := &operation.Operation{Category: "email", ID: id.NewOperationID()}

	called := false
	err := mw(context.Background(), op, func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_Error(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Logging(logger)
	op := &operation.Operation{Category: "email", ID: id.NewOperationID()}
	want := errors.New("fail")

	err := mw(context.Background(), op, func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestTimeout_CancelsAfterDeadline(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Timeout(logger)
	op := &operation.Operation{
		Category: "slow",
		ID:       id.NewOperationID(),
		Timeout:  10 * time.Millisecond,
	}

	err := mw(context.Background(), op, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
			return nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestTimeout_ZeroIsUnbounded(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Timeout(logger)
	op := &operation.Operation{Category: "fast", ID: id.NewOperationID()}

	err := mw(context.Background(), op, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Error("expected no deadline for zero timeout")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTenant_InjectsIntoContext(t *testing.T) {
	mw := middleware.Tenant()
	op := &operation.Operation{
		Category: "email",
		ID:       id.NewOperationID(),
		TenantID: "acme",
	}

	err := mw(context.Background(), op, func(ctx context.Context) error {
		tenantID, ok := middleware.TenantFrom(ctx)
		if !ok {
			t.Fatal("expected tenant in context")
		}
		if tenantID != "acme" {
			t.Errorf("TenantFrom = %q, want %q", tenantID, "acme")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTenant_NoOpWhenEmpty(t *testing.T) {
	mw := middleware.Tenant()
	op := &operation.Operation{Category: "email", ID: id.NewOperationID()}

	err := mw(context.Background(), op, func(ctx context.Context) error {
		if _, ok := middleware.TenantFrom(ctx); ok {
			t.Fatal("expected no tenant in context for untenanted operation")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
