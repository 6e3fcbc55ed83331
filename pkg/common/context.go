package common

import (
	"context"

	"meshmind-backend/domain/graph"
)

// ContextKey represents a context key type
type ContextKey string

// ContextKeyTenantID carries the resolved tenant through a request.
// Request IDs ride on chi's own context key.
const ContextKeyTenantID ContextKey = "tenant_id"

// WithTenantID adds the resolved tenant to context
func WithTenantID(ctx context.Context, tenantID graph.TenantID) context.Context {
	return context.WithValue(ctx, ContextKeyTenantID, tenantID)
}

// GetTenantID extracts the tenant from context
func GetTenantID(ctx context.Context) (graph.TenantID, bool) {
	tenantID, ok := ctx.Value(ContextKeyTenantID).(graph.TenantID)
	return tenantID, ok
}
