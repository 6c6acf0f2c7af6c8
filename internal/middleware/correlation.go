package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const headerCorrelationID = "X-Correlation-ID"

type correlationCtxKey struct{}

// Correlation is middleware that reads the X-Correlation-ID header, minting a
// fresh id when absent, stores it in the request context, and echoes it on
// the response. Handlers propagate it into every event and record derived
// from the request; it is never recomputed downstream.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(headerCorrelationID)
		if cid == "" {
			cid = uuid.NewString()
		}
		w.Header().Set(headerCorrelationID, cid)
		ctx := context.WithValue(r.Context(), correlationCtxKey{}, cid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CorrelationIDFromContext returns the correlation ID stored in ctx, or an
// empty string if absent.
func CorrelationIDFromContext(ctx context.Context) string {
	cid, _ := ctx.Value(correlationCtxKey{}).(string)
	return cid
}
