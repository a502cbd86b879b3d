package middleware

import (
	"context"

	"github.com/xraph/governor/operation"
)

type tenantKey struct{}

// Tenant returns middleware that injects the operation's tenant ID into
// the context. Handlers retrieve it with TenantFrom. Operations without
// a tenant leave the context untouched.
func Tenant() Middleware {
	return func(ctx context.Context, op *operation.Operation, next Handler) error {
		if op.TenantID != "" {
			ctx = context.WithValue(ctx, tenantKey{}, op.TenantID)
		}
		return next(ctx)
	}
}

// TenantFrom extracts the tenant ID injected by the Tenant middleware.
func TenantFrom(ctx context.Context) (string, bool) {
	tenantID, ok := ctx.Value(tenantKey{}).(string)
	return tenantID, ok
}
