package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/KetaVip/license-bot/internal/http/handler"
	"github.com/KetaVip/license-bot/internal/http/middleware"
	"github.com/KetaVip/license-bot/internal/http/response"
	"github.com/KetaVip/license-bot/internal/security"
)

type Dependencies struct {
	CheckHandler   *handler.CheckHandler
	AdminHandler   *handler.AdminHandler
	TokenManager   *security.TokenManager
	Operators      []string
	APIKeyHashes   []string
	RateLimitRPM   int
	RateLimiter    func(http.Handler) http.Handler
	EnableOTelHTTP bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	if dep.RateLimiter != nil {
		r.Use(dep.RateLimiter)
	} else {
		r.Use(middleware.NewRateLimiter(dep.RateLimitRPM, time.Minute).Middleware())
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("KetaVip license service\n"))
	})
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Client polling endpoint. Unauthenticated on purpose: the hwid is the
	// credential, and the contract is a bare JSON object, not the envelope.
	r.Get("/check", dep.CheckHandler.Check)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.OperatorAuth(dep.TokenManager, dep.Operators, dep.APIKeyHashes))
		r.Route("/licenses", func(r chi.Router) {
			r.Get("/", dep.AdminHandler.List)
			r.Post("/", dep.AdminHandler.Issue)
			r.Route("/{subject_id}", func(r chi.Router) {
				r.Post("/renew", dep.AdminHandler.Renew)
				r.Delete("/", dep.AdminHandler.Revoke)
				r.Post("/reset-ip", dep.AdminHandler.ResetBinding)
			})
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
