package admin

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"notioncalsync/internal/store"
)

func newHandler(t *testing.T, adminToken string) (*Handler, *store.MappingStore) {
	t.Helper()
	mapping := store.New(store.NewMemory())
	return &Handler{Mapping: mapping, AdminToken: adminToken, Log: zerolog.Nop()}, mapping
}

func TestAuthorizedNoTokenConfiguredAllowsAll(t *testing.T) {
	h, _ := newHandler(t, "")
	req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	if !h.authorized(req) {
		t.Fatalf("expected no-token config to allow all requests")
	}
}

func TestAuthorizedHeaderToken(t *testing.T) {
	h, _ := newHandler(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	req.Header.Set("X-Admin-Token", "secret")
	if !h.authorized(req) {
		t.Fatalf("expected header token to authorize")
	}
}

func TestAuthorizedQueryParamToken(t *testing.T) {
	h, _ := newHandler(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/admin/status?admin_token=secret", nil)
	if !h.authorized(req) {
		t.Fatalf("expected query-param token to authorize")
	}
}

func TestAuthorizedRejectsWrongToken(t *testing.T) {
	h, _ := newHandler(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	req.Header.Set("X-Admin-Token", "wrong")
	if h.authorized(req) {
		t.Fatalf("expected wrong token to be rejected")
	}
}

func TestServeHTTPUnauthorizedGetsStatusCode(t *testing.T) {
	h, _ := newHandler(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestServeHTTPStatusPageRendersLastFullSync(t *testing.T) {
	h, mapping := newHandler(t, "")
	if err := mapping.PutSetting("last_full_sync", "2026-07-30T00:00:00Z"); err != nil {
		t.Fatalf("seed setting: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "2026-07-30T00:00:00Z") {
		t.Fatalf("expected last_full_sync timestamp in body, got:\n%s", rec.Body.String())
	}
}

func TestServeHTTPSaveSettingsPersistsFields(t *testing.T) {
	h, mapping := newHandler(t, "")

	form := url.Values{}
	form.Set("action", "save_settings")
	form.Set("calendar_color", "#112233")

	req := httptest.NewRequest(http.MethodPost, "/admin/status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var stored string
	ok, err := mapping.GetSetting("calendar_color", &stored)
	if err != nil || !ok || stored != "#112233" {
		t.Fatalf("expected calendar_color persisted, got %q ok=%v err=%v", stored, ok, err)
	}
}

func TestServeHTTPUnknownActionIsBadRequest(t *testing.T) {
	h, _ := newHandler(t, "")

	form := url.Values{}
	form.Set("action", "not_a_real_action")

	req := httptest.NewRequest(http.MethodPost, "/admin/status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown action, got %d", rec.Code)
	}
}
