package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/KetaVip/license-bot/internal/http/response"
	"github.com/KetaVip/license-bot/internal/observability"
	"github.com/KetaVip/license-bot/internal/security"
)

type contextKey string

const ClaimsContextKey contextKey = "claims"

// OperatorAuth guards the admin API. A request authenticates with either an
// operator JWT whose subject is on the allowlist, or a static X-API-Key
// matching one of the configured bcrypt hashes.
func OperatorAuth(tokens *security.TokenManager, operators []string, apiKeyHashes []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(operators))
	for _, op := range operators {
		allowed[op] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key := r.Header.Get("X-API-Key"); key != "" {
				if security.MatchAPIKey(key, apiKeyHashes) {
					observability.Audit(r, "operator_api_key_accepted")
					next.ServeHTTP(w, r)
					return
				}
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid api key", nil)
				return
			}

			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing operator credentials", nil)
				return
			}
			claims, err := tokens.ParseOperatorToken(strings.TrimSpace(auth[7:]))
			if err != nil {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid operator token", nil)
				return
			}
			if _, ok := allowed[claims.Subject]; !ok {
				observability.Audit(r, "operator_denied", "subject", claims.Subject)
				response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "subject is not an operator", nil)
				return
			}
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	c, ok := ctx.Value(ClaimsContextKey).(*security.Claims)
	return c, ok
}
