package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stylesync/quota-server-go/internal/audit"
	apperrors "github.com/stylesync/quota-server-go/internal/errors"
	"github.com/stylesync/quota-server-go/internal/service"
)

const rateLimitWindow = 60 * time.Second

// AccountRateLimitMiddleware caps requests per account per minute. It must
// run after AuthMiddleware.
type AccountRateLimitMiddleware struct {
	limiter service.Limiter
	limit   int
	prefix  string
}

func NewAccountRateLimitMiddleware(limiter service.Limiter, limitPerMin int, prefix string) *AccountRateLimitMiddleware {
	return &AccountRateLimitMiddleware{
		limiter: limiter,
		limit:   limitPerMin,
		prefix:  prefix,
	}
}

func (m *AccountRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := GetClaims(r.Context())
		if claims == nil || m.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := "account:" + m.prefix + ":" + claims.AccountID
		allowed, resetAt := m.limiter.CheckLimit(r.Context(), key, m.limit, rateLimitWindow)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.limit))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			log.Warn().Str("accountId", claims.AccountID).Str("scope", m.prefix).Msg("rate limit exceeded")
			audit.LogFromRequest(r, audit.Event{
				Type:      audit.EventRateLimitExceed,
				UserID:    claims.UserID,
				AccountID: claims.AccountID,
				Details:   map[string]interface{}{"scope": m.prefix},
			})
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(resetAt)))
			writeError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func retryAfterSeconds(resetAt time.Time) int {
	secs := int(time.Until(resetAt).Seconds()) + 1
	if secs < 1 {
		return 1
	}
	return secs
}
