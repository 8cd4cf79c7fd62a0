package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
	"github.com/meridian-rms/meridian-rms/internal/shared"
)

// RequireBearer authenticates requests with an Authorization: Bearer header
// and stores the resulting Principal in the request context. Anything else
// gets the 401 envelope.
func RequireBearer(tokens *TokenIssuer, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				httpx.ErrorWithCode(w, r, http.StatusUnauthorized, httpx.CodeUnauthorized, "missing bearer token")
				return
			}
			claims, err := tokens.Parse(raw)
			if err != nil {
				if logger != nil {
					logger.Debug("reject bearer token", slog.Any("error", err))
				}
				httpx.ErrorWithCode(w, r, http.StatusUnauthorized, httpx.CodeUnauthorized, "invalid or expired token")
				return
			}
			userID, err := claims.UserID()
			if err != nil {
				httpx.ErrorWithCode(w, r, http.StatusUnauthorized, httpx.CodeUnauthorized, "invalid or expired token")
				return
			}
			principal := &shared.Principal{UserID: userID, Email: claims.Email, Role: claims.Role}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
