package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/KetaVip/license-bot/internal/security"
)

const testSecret = "abcdefghijklmnopqrstuvwxyz123456"

func protectedHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ClaimsFromContext(r.Context()); !ok && r.Header.Get("X-API-Key") == "" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestOperatorAuthAllowsAllowlistedSubject(t *testing.T) {
	mgr := security.NewTokenManager("license-bot", "license-admin", testSecret)
	h := OperatorAuth(mgr, []string{"42"}, nil)(protectedHandler())

	token, err := mgr.SignOperatorToken("42", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/licenses", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for allowlisted operator, got %d", rr.Code)
	}
}

func TestOperatorAuthRejectsUnknownSubject(t *testing.T) {
	mgr := security.NewTokenManager("license-bot", "license-admin", testSecret)
	h := OperatorAuth(mgr, []string{"42"}, nil)(protectedHandler())

	token, err := mgr.SignOperatorToken("99", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/licenses", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-operator subject, got %d", rr.Code)
	}
}

func TestOperatorAuthRejectsMissingCredentials(t *testing.T) {
	mgr := security.NewTokenManager("license-bot", "license-admin", testSecret)
	h := OperatorAuth(mgr, []string{"42"}, nil)(protectedHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/licenses", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rr.Code)
	}
}

func TestOperatorAuthAcceptsAPIKey(t *testing.T) {
	mgr := security.NewTokenManager("license-bot", "license-admin", testSecret)
	hash, err := security.HashAPIKey("automation-key")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h := OperatorAuth(mgr, nil, []string{hash})(protectedHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/licenses", nil)
	req.Header.Set("X-API-Key", "automation-key")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for valid api key, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/licenses", nil)
	req.Header.Set("X-API-Key", "wrong-key")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad api key, got %d", rr.Code)
	}
}
