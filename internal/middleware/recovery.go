package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/rs/zerolog"
)

// Recover captura panics e responde 500 em JSON. Stack só no log.
func Recover(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				var stack [4096]byte
				n := runtime.Stack(stack[:], false)
				rid := r.Header.Get(HeaderRequestID)
				logger.Error().
					Str("request_id", rid).
					Str("path", r.URL.Path).
					Str("panic", fmt.Sprintf("%v", rec)).
					Str("stack", string(stack[:n])).
					Msg("panic recovered")

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprintf(w, `{"error":"internal","request_id":%q}`, rid)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
