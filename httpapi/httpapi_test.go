package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/helpdeskd/authkit"
	"github.com/helpdeskd/authkit/password"
	"github.com/helpdeskd/authkit/store"
	"github.com/helpdeskd/authkit/token"
)

const (
	testEmail    = "agent@helpdesk.local"
	testPassword = "correct-horse-battery"
)

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()

	engine, err := token.NewEngine(token.Config{
		Secret:     []byte("0123456789abcdef0123456789abcdef"),
		Issuer:     "helpdesk-api",
		Audience:   "helpdesk-users",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	hasher, err := password.NewHasher(4)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	sessions := store.NewMemory(time.Hour)
	t.Cleanup(func() { _ = sessions.Close() })

	manager, err := authkit.New(authkit.Config{MaxLoginAttempts: 3}, authkit.Deps{
		Tokens:   engine,
		Sessions: sessions,
		Users:    authkit.NewMemoryUserStore(),
		Hasher:   hasher,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(manager.Close)

	router := New(manager, false).Routes()

	rec := doJSON(t, router, http.MethodPost, "/api/auth/register", map[string]string{
		"email":    testEmail,
		"password": testPassword,
	}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("seed register status = %d: %s", rec.Code, rec.Body)
	}

	return router
}

func doJSON(t *testing.T, router *mux.Router, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "test-agent")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (%s)", err, rec.Body)
	}
	return out
}

func login(t *testing.T, router *mux.Router) map[string]any {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    testEmail,
		"password": testPassword,
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body)
	}
	return decodeBody(t, rec)
}

func TestLoginResponseShape(t *testing.T) {
	router := newTestRouter(t)
	body := login(t, router)

	for _, key := range []string{"token", "refreshToken", "sessionId", "expiresIn", "user"} {
		if _, ok := body[key]; !ok {
			t.Errorf("missing %q in login response", key)
		}
	}
	if body["expiresIn"].(float64) != 900 {
		t.Errorf("expiresIn = %v, want 900", body["expiresIn"])
	}

	user := body["user"].(map[string]any)
	if user["email"] != testEmail || user["role"] != "user" {
		t.Errorf("user = %v", user)
	}
	if _, ok := user["password"]; ok {
		t.Error("login response leaked a password field")
	}
}

func TestLoginFailures(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    testEmail,
		"password": "wrong",
	}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if body := decodeBody(t, rec); body["code"] != "INVALID_CREDENTIALS" {
		t.Fatalf("code = %v", body["code"])
	}

	rec = doJSON(t, router, http.MethodPost, "/api/auth/login", map[string]string{"email": testEmail}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing password status = %d, want 400", rec.Code)
	}
}

func TestLoginLockoutReturns429(t *testing.T) {
	router := newTestRouter(t)

	var rec *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		rec = doJSON(t, router, http.MethodPost, "/api/auth/login", map[string]string{
			"email":    testEmail,
			"password": "wrong",
		}, "")
	}

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
	body := decodeBody(t, rec)
	if body["retryAfter"].(float64) <= 0 {
		t.Fatalf("retryAfter = %v", body["retryAfter"])
	}
}

func TestRegisterValidation(t *testing.T) {
	router := newTestRouter(t)

	cases := []struct {
		name       string
		body       map[string]string
		wantStatus int
		wantCode   string
	}{
		{"duplicate", map[string]string{"email": testEmail, "password": "fine-password"}, http.StatusConflict, "USER_EXISTS"},
		{"bad email", map[string]string{"email": "nope", "password": "fine-password"}, http.StatusBadRequest, "INVALID_EMAIL"},
		{"weak password", map[string]string{"email": "new@helpdesk.local", "password": "123"}, http.StatusBadRequest, "WEAK_PASSWORD"},
		{"bad role", map[string]string{"email": "new@helpdesk.local", "password": "fine-password", "role": "root"}, http.StatusBadRequest, "INVALID_ROLE"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/api/auth/register", tc.body, "")
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tc.wantStatus, rec.Body)
			}
			if body := decodeBody(t, rec); body["code"] != tc.wantCode {
				t.Fatalf("code = %v, want %s", body["code"], tc.wantCode)
			}
		})
	}
}

func TestLogoutAlwaysSucceeds(t *testing.T) {
	router := newTestRouter(t)
	session := login(t, router)
	tok := session["token"].(string)

	rec := doJSON(t, router, http.MethodPost, "/api/auth/logout", nil, tok)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if body := decodeBody(t, rec); body["code"] != "LOGOUT_SUCCESS" {
		t.Fatalf("code = %v", body["code"])
	}

	// The token is now dead.
	rec = doJSON(t, router, http.MethodGet, "/api/auth/me", nil, tok)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("me after logout status = %d, want 403", rec.Code)
	}

	// No token, garbage token: still 200.
	for _, bearer := range []string{"", "garbage"} {
		rec := doJSON(t, router, http.MethodPost, "/api/auth/logout", nil, bearer)
		if rec.Code != http.StatusOK {
			t.Fatalf("logout with bearer %q status = %d", bearer, rec.Code)
		}
	}
}

func TestRefreshFlow(t *testing.T) {
	router := newTestRouter(t)
	session := login(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/auth/refresh", map[string]string{
		"refreshToken": session["refreshToken"].(string),
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	body := decodeBody(t, rec)
	if body["token"] == "" || body["sessionId"] != session["sessionId"] {
		t.Fatalf("refresh body = %v", body)
	}

	// A fresh access token from the refresh works against /me.
	rec = doJSON(t, router, http.MethodGet, "/api/auth/me", nil, body["token"].(string))
	if rec.Code != http.StatusOK {
		t.Fatalf("me with refreshed token status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/auth/refresh", map[string]string{}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing refresh token status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/auth/refresh", map[string]string{
		"refreshToken": session["token"].(string), // access token, wrong kind
	}, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("access-as-refresh status = %d, want 403", rec.Code)
	}
}

func TestMeRequiresAuth(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/auth/me", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if body := decodeBody(t, rec); body["code"] != "MISSING_TOKEN" {
		t.Fatalf("code = %v", body["code"])
	}

	session := login(t, router)
	rec = doJSON(t, router, http.MethodGet, "/api/auth/me", nil, session["token"].(string))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	user := decodeBody(t, rec)["user"].(map[string]any)
	if user["email"] != testEmail || user["sessionId"] != session["sessionId"] {
		t.Fatalf("user = %v", user)
	}
}

func TestChangePasswordEndpoint(t *testing.T) {
	router := newTestRouter(t)
	session := login(t, router)
	tok := session["token"].(string)

	rec := doJSON(t, router, http.MethodPost, "/api/auth/change-password", map[string]string{
		"currentPassword": "wrong",
		"newPassword":     "brand-new-passphrase",
	}, tok)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong current status = %d, want 401", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/auth/change-password", map[string]string{
		"currentPassword": testPassword,
		"newPassword":     "brand-new-passphrase",
	}, tok)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if body := decodeBody(t, rec); body["code"] != "PASSWORD_CHANGED" {
		t.Fatalf("code = %v", body["code"])
	}

	// Every session died with the change, the old token included.
	rec = doJSON(t, router, http.MethodGet, "/api/auth/me", nil, tok)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("me after change status = %d, want 403", rec.Code)
	}
}

func TestSessionsEndpoint(t *testing.T) {
	router := newTestRouter(t)
	first := login(t, router)
	second := login(t, router)

	rec := doJSON(t, router, http.MethodGet, "/api/auth/sessions", nil, second["token"].(string))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	body := decodeBody(t, rec)
	if body["currentSessionId"] != second["sessionId"] {
		t.Fatalf("currentSessionId = %v", body["currentSessionId"])
	}

	sessions := body["sessions"].([]any)
	if len(sessions) != 2 {
		t.Fatalf("%d sessions, want 2", len(sessions))
	}
	currents := 0
	for _, raw := range sessions {
		s := raw.(map[string]any)
		if s["current"].(bool) {
			currents++
			if s["sessionId"] != second["sessionId"] {
				t.Fatalf("wrong session flagged current: %v", s)
			}
		}
	}
	if currents != 1 {
		t.Fatalf("%d sessions flagged current, want 1", currents)
	}
	_ = first
}

func TestRevokeAllEndpoint(t *testing.T) {
	router := newTestRouter(t)
	first := login(t, router)
	second := login(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/auth/sessions/revoke-all", nil, second["token"].(string))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if body := decodeBody(t, rec); body["revokedCount"].(float64) != 2 {
		t.Fatalf("revokedCount = %v", body["revokedCount"])
	}

	for _, session := range []map[string]any{first, second} {
		rec := doJSON(t, router, http.MethodGet, "/api/auth/me", nil, session["token"].(string))
		if rec.Code != http.StatusForbidden {
			t.Fatalf("me after revoke-all status = %d, want 403", rec.Code)
		}
	}
}
