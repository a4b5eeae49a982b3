package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/KetaVip/license-bot/internal/domain"
	"github.com/KetaVip/license-bot/internal/http/response"
	"github.com/KetaVip/license-bot/internal/observability"
	"github.com/KetaVip/license-bot/internal/service"
)

// AdminHandler is the operator control surface. Authorization happened in
// the middleware by the time a request lands here; side effects (role
// changes, cache flushes) run after the store mutation returns and never
// fail the request.
type AdminHandler struct {
	store      *service.LicenseStore
	roles      service.RoleManager
	cache      service.UnknownHWIDCache
	defaultTTL time.Duration
	validate   *validator.Validate
	logger     *slog.Logger
}

func NewAdminHandler(store *service.LicenseStore, roles service.RoleManager, cache service.UnknownHWIDCache, defaultTTL time.Duration, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		store:      store,
		roles:      roles,
		cache:      cache,
		defaultTTL: defaultTTL,
		validate:   validator.New(),
		logger:     logger,
	}
}

type issueRequest struct {
	SubjectID uint64 `json:"subject_id" validate:"required"`
	TTLDays   int    `json:"ttl_days" validate:"omitempty,gt=0"`
}

type renewRequest struct {
	DeltaDays int `json:"delta_days" validate:"required,gt=0"`
}

func (h *AdminHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if !h.decode(w, r, &req) {
		return
	}

	ttl := h.defaultTTL
	if req.TTLDays > 0 {
		ttl = time.Duration(req.TTLDays) * 24 * time.Hour
	}

	rec, err := h.store.Issue(r.Context(), req.SubjectID, ttl)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTTL) {
			response.Error(w, r, http.StatusBadRequest, "INVALID_TTL", "ttl must be positive", nil)
			return
		}
		h.logger.Error("issue failed", "subject_id", req.SubjectID, "error", err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not issue license", nil)
		return
	}
	observability.Audit(r, "license_issued", "subject_id", rec.SubjectID, "expires_at", rec.ExpiresAt)

	if err := h.roles.GrantRole(r.Context(), rec.SubjectID); err != nil {
		h.logger.Warn("role grant failed", "subject_id", rec.SubjectID, "error", err)
	}
	if err := h.cache.Flush(r.Context()); err != nil {
		h.logger.Warn("negative cache flush failed", "error", err)
	}

	response.JSON(w, r, http.StatusCreated, rec)
}

func (h *AdminHandler) Renew(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.subjectID(w, r)
	if !ok {
		return
	}
	var req renewRequest
	if !h.decode(w, r, &req) {
		return
	}

	expiresAt, err := h.store.Renew(r.Context(), subjectID, time.Duration(req.DeltaDays)*24*time.Hour)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "no license for subject", nil)
		case errors.Is(err, domain.ErrInvalidTTL):
			response.Error(w, r, http.StatusBadRequest, "INVALID_TTL", "delta must be positive", nil)
		default:
			h.logger.Error("renew failed", "subject_id", subjectID, "error", err)
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not renew license", nil)
		}
		return
	}
	observability.Audit(r, "license_renewed", "subject_id", subjectID, "expires_at", expiresAt)
	response.JSON(w, r, http.StatusOK, map[string]any{"subject_id": subjectID, "expires_at": expiresAt})
}

func (h *AdminHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.subjectID(w, r)
	if !ok {
		return
	}

	if err := h.store.Revoke(r.Context(), subjectID); err != nil {
		h.logger.Error("revoke failed", "subject_id", subjectID, "error", err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not revoke license", nil)
		return
	}
	observability.Audit(r, "license_revoked", "subject_id", subjectID)

	if err := h.roles.RevokeRole(r.Context(), subjectID); err != nil {
		h.logger.Warn("role revocation failed", "subject_id", subjectID, "error", err)
	}

	response.JSON(w, r, http.StatusOK, map[string]any{"subject_id": subjectID, "revoked": true})
}

// ResetBinding clears the subject's pinned IP. Operators always reset with
// the owner bypass; the rate-limited self-service path lives in the chat
// front end.
func (h *AdminHandler) ResetBinding(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.subjectID(w, r)
	if !ok {
		return
	}

	if err := h.store.ResetBinding(r.Context(), subjectID, true); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "no license for subject", nil)
			return
		}
		h.logger.Error("reset binding failed", "subject_id", subjectID, "error", err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not reset binding", nil)
		return
	}
	observability.Audit(r, "license_binding_reset", "subject_id", subjectID)
	response.JSON(w, r, http.StatusOK, map[string]any{"subject_id": subjectID, "bound_ip": nil})
}

func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.ListActive(r.Context())
	if err != nil {
		h.logger.Error("list active failed", "error", err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not list licenses", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, recs)
}

func (h *AdminHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_INPUT", "malformed request body", nil)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_INPUT", "invalid request body", err.Error())
		return false
	}
	return true
}

func (h *AdminHandler) subjectID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := chi.URLParam(r, "subject_id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_INPUT", "subject_id must be a positive integer", nil)
		return 0, false
	}
	return id, true
}
