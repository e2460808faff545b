package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Samoo1234/clinica-sub000/internal/auth"
)

// RequireAuth valida o Bearer JWT (emitido pelo login da clínica) e põe as
// claims no context.
func RequireAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				deny(w, r, http.StatusUnauthorized, "missing or invalid authorization")
				return
			}
			claims, err := auth.ParseJWT(secret, raw)
			if err != nil {
				zerolog.Ctx(r.Context()).Debug().Err(err).Msg("jwt rejected")
				deny(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole deve vir depois de RequireAuth.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := auth.ClaimsFrom(r.Context())
			if c == nil {
				deny(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !allowed[c.Role] {
				zerolog.Ctx(r.Context()).Info().Str("role", c.Role).Str("user_id", c.UserID).Msg("role not allowed")
				deny(w, r, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, r *http.Request, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":      msg,
		"request_id": RequestIDFromContext(r.Context()),
	})
}

func bearerToken(h string) (string, bool) {
	scheme, tok, found := strings.Cut(strings.TrimSpace(h), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}
