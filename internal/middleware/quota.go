package middleware

import (
	"context"
	"log"
	"net/http"
	"time"

	"moderation-gateway/internal/apierror"
	"moderation-gateway/internal/quota"
	"moderation-gateway/internal/services"

	"github.com/google/uuid"
)

// QuotaStore is the slice of the store the quota middleware needs.
type QuotaStore interface {
	CheckAndIncrementQuota(ctx context.Context, apiKeyID uuid.UUID, periodKey string, limit int) (bool, error)
}

// QuotaMiddleware enforces the per-key monthly quota. The store operation is
// a single atomic check-and-increment, so concurrent requests across the
// fleet can never admit more than the key's limit in one period.
type QuotaMiddleware struct {
	store   QuotaStore
	metrics *services.MetricsCollector
	now     func() time.Time
}

func NewQuotaMiddleware(store QuotaStore, metrics *services.MetricsCollector) *QuotaMiddleware {
	return &QuotaMiddleware{store: store, metrics: metrics, now: time.Now}
}

func (m *QuotaMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := GetAPIKeyFromContext(r.Context())
		if apiKey == nil {
			// Quota runs strictly after auth.
			apierror.Write(w, http.StatusUnauthorized, apierror.KindInvalidAPIKey, "Invalid API key")
			return
		}

		arrival := m.now()
		periodKey := quota.PeriodKey(arrival)

		admitted, err := m.store.CheckAndIncrementQuota(r.Context(), apiKey.ID, periodKey, apiKey.MonthlyQuota)
		if err != nil {
			admitted, err = m.store.CheckAndIncrementQuota(r.Context(), apiKey.ID, periodKey, apiKey.MonthlyQuota)
		}
		if err != nil {
			log.Printf("[ERROR] Quota check failed: %v", err)
			apierror.Write(w, http.StatusServiceUnavailable, apierror.KindServiceUnavailable, "Temporarily unable to check quota")
			return
		}

		if !admitted {
			log.Printf("[WARN] Monthly quota exceeded for key: %s", apiKey.Name)
			m.metrics.RecordQuotaRejection()
			apierror.WriteQuotaExceeded(w, quota.ResetAt(arrival))
			return
		}

		next.ServeHTTP(w, r)
	})
}
