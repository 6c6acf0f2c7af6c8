// Package middleware provides request-scoped HTTP middleware: tenant
// extraction, correlation propagation, and operator gating.
package middleware

import (
	"context"
	"net/http"
)

const headerTenantID = "X-Tenant-ID"

type tenantCtxKey struct{}

// TenantID is middleware that extracts the tenant ID from the X-Tenant-ID
// header and stores it in the request context. The header is mandatory:
// every read and write is tenant-scoped, so a caller without one gets 400
// rather than someone else's data.
func TenantID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tid := r.Header.Get(headerTenantID)
		if tid == "" {
			http.Error(w, "X-Tenant-ID header is required", http.StatusBadRequest)
			return
		}
		ctx := context.WithValue(r.Context(), tenantCtxKey{}, tid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TenantIDFromContext returns the tenant ID stored in ctx, or an empty
// string outside the middleware.
func TenantIDFromContext(ctx context.Context) string {
	if tid, ok := ctx.Value(tenantCtxKey{}).(string); ok {
		return tid
	}
	return ""
}
