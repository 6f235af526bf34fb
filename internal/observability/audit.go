package observability

import (
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Audit emits one structured audit line for an auth flow. It complements the
// persisted security log and never carries secrets.
func Audit(r *http.Request, event, outcome string, attrs ...any) {
	requestID := chimiddleware.GetReqID(r.Context())
	if requestID == "" {
		requestID = r.Header.Get("X-Request-Id")
	}
	base := []any{
		"event", event,
		"outcome", outcome,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", requestID,
	}
	base = append(base, attrs...)
	level := slog.LevelInfo
	if outcome != "success" {
		level = slog.LevelWarn
	}
	slog.Log(r.Context(), level, "audit", base...)
}
