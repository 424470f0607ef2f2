package route

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"booth/internal/config"
	"booth/internal/logger"
	"booth/internal/service/params"
)

func setupRouter(t *testing.T) http.Handler {
	t.Helper()
	log, err := logger.NewLogger(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	t.Cleanup(log.Close)

	cfg := &config.Config{Password: "secret", StaticDir: "../../static"}
	svc := Services{Params: params.NewStore(map[string]any{params.EffectType: "glow"})}
	return SetupRoutes(svc, cfg, log)
}

func TestLoginPageIsServed(t *testing.T) {
	router := setupRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected login page, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `action="/auth/login"`) {
		t.Error("Expected login form posting to /auth/login")
	}
}

func TestLoginFlowUnlocksAdminRoutes(t *testing.T) {
	router := setupRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/params", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 before login, got %d", rec.Code)
	}

	form := url.Values{"password": {"secret"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("Expected redirect after login, got %d", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("Expected one cookie, got %v", cookies)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/params", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected params with session cookie, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "glow") {
		t.Errorf("Expected params body, got %q", rec.Body.String())
	}
}

func TestUnknownPageIsNotFound(t *testing.T) {
	router := setupRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}
