package server

import (
	"log/slog"
	"net/http"

	"github.com/heungtae/codex-chat-bridge/internal/profile"
)

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqHeaders := r.Header.Get("Access-Control-Request-Headers")
		if reqHeaders == "" {
			reqHeaders = "Authorization, Content-Type, Accept"
		}
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// verboseMiddleware logs every request while the active profile has
// verbose logging on. The flag is read per request so a profile switch
// takes effect immediately.
func verboseMiddleware(profiles *profile.Manager, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if active := profiles.Active(); active.Config.Verbose {
			slog.Info("request", "method", r.Method, "path", r.URL.Path, "profile", active.Name)
		}
		next.ServeHTTP(w, r)
	})
}
