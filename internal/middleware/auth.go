package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/stylesync/quota-server-go/internal/audit"
	"github.com/stylesync/quota-server-go/internal/auth"
	apperrors "github.com/stylesync/quota-server-go/internal/errors"
)

type contextKey string

const ClaimsContextKey contextKey = "claims"

// GetClaims returns the verified access token claims of the request.
func GetClaims(ctx context.Context) *auth.Claims {
	if claims, ok := ctx.Value(ClaimsContextKey).(*auth.Claims); ok {
		return claims
	}
	return nil
}

// WithClaims stores claims in ctx. Handlers under test use it to skip the
// token round trip.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, ClaimsContextKey, claims)
}

type AuthMiddleware struct {
	tokens *auth.TokenIssuer
}

func NewAuthMiddleware(tokens *auth.TokenIssuer) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		claims, err := m.tokens.Verify(token)
		if err != nil {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]interface{}{"reason": err.Error()},
			})
			if errors.Is(err, auth.ErrTokenExpired) {
				writeError(w, apperrors.TokenExpired())
				return
			}
			writeError(w, apperrors.InvalidToken("Invalid token"))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// extractToken reads the bearer header, falling back to the access_token
// query parameter because EventSource cannot set headers.
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return r.URL.Query().Get("access_token")
}
