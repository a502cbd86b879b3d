package operation

import (
	"context"

	"github.com/xraph/governor/id"
)

// ListOpts controls pagination and filtering for operation list queries.
type ListOpts struct {
	// Limit is the maximum number of operations to return. Zero means no limit.
	Limit int
	// Offset is the number of operations to skip.
	Offset int
	// Category filters by category name. Empty means all categories.
	Category string
	// TenantID filters by tenant. Empty means all tenants.
	TenantID string
}

// CountOpts controls filtering for operation count queries.
type CountOpts struct {
	// Category filters by category name. Empty means all categories.
	Category string
	// TenantID filters by tenant. Empty means all tenants.
	TenantID string
	// State filters by operation state. Empty means all states.
	State State
}

// Store defines the persistence contract for the operation ledger.
// The ledger backs the status API; admission ordering itself lives in
// memory inside the admission package.
type Store interface {
	// PutOperation persists a new operation in queued state.
	PutOperation(ctx context.Context, op *Operation) error

	// GetOperation retrieves an operation by ID.
	GetOperation(ctx context.Context, opID id.OperationID) (*Operation, error)

	// UpdateOperation persists changes to an existing operation.
	UpdateOperation(ctx context.Context, op *Operation) error

	// DeleteOperation removes an operation by ID.
	DeleteOperation(ctx context.Context, opID id.OperationID) error

	// ListOperationsByState returns operations matching the given state,
	// ordered by priority (ascending, most urgent first) then EnqueuedAt.
	ListOperationsByState(ctx context.Context, state State, opts ListOpts) ([]*Operation, error)

	// CountOperations returns the number of operations matching the options.
	CountOperations(ctx context.Context, opts CountOpts) (int64, error)
}
