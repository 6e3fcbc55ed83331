package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"meshmind-backend/domain/graph"
	"meshmind-backend/pkg/common"
	"meshmind-backend/pkg/ratelimit"
)

// TenantHeader carries the caller's tenant. Platform ingress authenticates
// the caller and sets this header; this service trusts it but still
// validates the value, since the tenant ID ends up inside SQL and object
// keys.
const TenantHeader = "X-Tenant-ID"

// ResolveTenant validates the tenant header and injects the tenant into the
// request context. Requests without a valid tenant never reach a handler.
func ResolveTenant(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(TenantHeader)
			if raw == "" {
				common.RespondError(w, http.StatusBadRequest, "TENANT_REQUIRED",
					"missing "+TenantHeader+" header")
				return
			}

			tenantID, err := graph.NewTenantID(raw)
			if err != nil {
				logger.Debug("Rejected malformed tenant header", zap.String("raw", raw))
				common.RespondError(w, http.StatusBadRequest, "TENANT_INVALID", err.Error())
				return
			}

			ctx := common.WithTenantID(r.Context(), tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimit throttles requests per tenant. Requests before tenant resolution
// pass through untouched.
func RateLimit(limiter *ratelimit.TokenBucketLimiter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID, ok := common.GetTenantID(r.Context())
			if ok && !limiter.Allow(tenantID.String()) {
				common.RespondError(w, http.StatusTooManyRequests, "RATE_LIMITED",
					"tenant request rate exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
