package observability

import (
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Audit emits one structured line per operator mutation. These lines are the
// record tying an admin action to a subject, so they log at Info regardless
// of what else the handler logs.
func Audit(r *http.Request, event string, attrs ...any) {
	fields := make([]any, 0, len(attrs)+10)
	fields = append(fields,
		"audit", true,
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"remote", r.RemoteAddr,
		"request_id", chimiddleware.GetReqID(r.Context()),
	)
	fields = append(fields, attrs...)
	slog.InfoContext(r.Context(), "audit", fields...)
}
