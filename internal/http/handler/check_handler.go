package handler

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/KetaVip/license-bot/internal/domain"
	"github.com/KetaVip/license-bot/internal/observability"
	"github.com/KetaVip/license-bot/internal/service"
)

// checkResponse is the fixed contract polled by client software. The
// endpoint always answers 200 with a status string; "expire" is present only
// on valid.
type checkResponse struct {
	Status string `json:"status"`
	Expire string `json:"expire,omitempty"`
}

type CheckHandler struct {
	store    *service.LicenseStore
	cache    service.UnknownHWIDCache
	cacheTTL time.Duration
	logger   *slog.Logger
}

func NewCheckHandler(store *service.LicenseStore, cache service.UnknownHWIDCache, cacheTTL time.Duration, logger *slog.Logger) *CheckHandler {
	return &CheckHandler{store: store, cache: cache, cacheTTL: cacheTTL, logger: logger}
}

func (h *CheckHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	hwid := r.URL.Query().Get("hwid")
	if hwid == "" {
		observability.RecordValidation(ctx, "error")
		writeCheck(w, checkResponse{Status: "error"})
		return
	}

	if seen, err := h.cache.Seen(ctx, hwid); err == nil && seen {
		observability.RecordValidation(ctx, string(domain.StatusInvalid))
		writeCheck(w, checkResponse{Status: string(domain.StatusInvalid)})
		return
	}

	res, err := h.store.Validate(ctx, hwid, sourceIP(r))
	if err != nil {
		h.logger.Error("validation failed", "error", err)
		observability.RecordValidation(ctx, "error")
		writeCheck(w, checkResponse{Status: "error"})
		return
	}

	if res.Status == domain.StatusInvalid {
		if err := h.cache.Remember(ctx, hwid, h.cacheTTL); err != nil {
			h.logger.Warn("negative cache write failed", "error", err)
		}
	}

	observability.RecordValidation(ctx, string(res.Status))
	resp := checkResponse{Status: string(res.Status)}
	if res.Status == domain.StatusValid {
		resp.Expire = res.ExpiresAt.UTC().Format("2006-01-02")
	}
	writeCheck(w, resp)
}

func writeCheck(w http.ResponseWriter, resp checkResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// sourceIP is the caller's observed address, as rewritten by the RealIP
// middleware when a proxy header is present.
func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
