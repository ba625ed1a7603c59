package token

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		Secret:     []byte("0123456789abcdef0123456789abcdef"),
		Issuer:     "helpdesk-api",
		Audience:   "helpdesk-users",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(testConfig())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestNewEngineRejectsBadSecrets(t *testing.T) {
	cases := []struct {
		name   string
		secret string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"placeholder", "your_super_secret_jwt_key_here"},
		{"demo placeholder", "demo_jwt_secret_key_for_testing_only_change_in_production_a1b2c3d4e5f6789012345678901234567890"},
		{"too short", "short-secret"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Secret = []byte(tc.secret)
			if _, err := NewEngine(cfg); err == nil {
				t.Fatalf("expected error for secret %q", tc.secret)
			}
		})
	}
}

func TestNewEngineRejectsBadTTLs(t *testing.T) {
	cfg := testConfig()
	cfg.AccessTTL = 0
	if _, err := NewEngine(cfg); err == nil {
		t.Fatal("expected error for zero access TTL")
	}

	cfg = testConfig()
	cfg.RefreshTTL = time.Minute // shorter than access
	if _, err := NewEngine(cfg); err == nil {
		t.Fatal("expected error for refresh TTL shorter than access TTL")
	}
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	sub := Subject{ID: "user-1", Email: "agent@helpdesk.local", Role: "user"}

	tokenStr, sessionID, err := e.Issue(sub, KindAccess, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if sessionID == "" {
		t.Fatal("expected generated session id")
	}

	claims, err := e.Verify(tokenStr)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != sub.ID || claims.Email != sub.Email || claims.Role != sub.Role {
		t.Fatalf("claims mismatch: %+v", claims)
	}
	if claims.SessionID != sessionID {
		t.Fatalf("session id mismatch: %q vs %q", claims.SessionID, sessionID)
	}
	if claims.Kind != KindAccess {
		t.Fatalf("kind = %q, want access", claims.Kind)
	}
	if claims.ID == "" {
		t.Fatal("expected a jti")
	}
}

func TestIssueReusesProvidedSessionID(t *testing.T) {
	e := newTestEngine(t)
	sub := Subject{ID: "user-1", Email: "a@b.co", Role: "user"}

	_, sessionID, err := e.Issue(sub, KindAccess, "")
	if err != nil {
		t.Fatalf("Issue access: %v", err)
	}
	refresh, refreshSID, err := e.Issue(sub, KindRefresh, sessionID)
	if err != nil {
		t.Fatalf("Issue refresh: %v", err)
	}
	if refreshSID != sessionID {
		t.Fatalf("refresh session id %q, want %q", refreshSID, sessionID)
	}

	claims, err := e.Verify(refresh)
	if err != nil {
		t.Fatalf("Verify refresh: %v", err)
	}
	if claims.Kind != KindRefresh || claims.SessionID != sessionID {
		t.Fatalf("refresh claims mismatch: %+v", claims)
	}
}

func TestIssueRejectsUnknownKind(t *testing.T) {
	e := newTestEngine(t)
	if _, _, err := e.Issue(Subject{ID: "u"}, Kind("bogus"), ""); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	cfg := testConfig()
	cfg.AccessTTL = -time.Minute
	cfg.RefreshTTL = time.Hour
	// Bypass NewEngine's TTL validation on purpose to mint an expired token.
	e := &Engine{config: cfg}

	tokenStr, _, err := e.Issue(Subject{ID: "u", Email: "e@x.co", Role: "user"}, KindAccess, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	_, err = newTestEngine(t).Verify(tokenStr)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
}

func TestVerifyMalformedInputs(t *testing.T) {
	e := newTestEngine(t)

	otherCfg := testConfig()
	otherCfg.Secret = []byte("ffffffffffffffffffffffffffffffff")
	other, err := NewEngine(otherCfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	forged, _, err := other.Issue(Subject{ID: "u", Email: "e@x.co", Role: "user"}, KindAccess, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	valid, _, err := e.Issue(Subject{ID: "u", Email: "e@x.co", Role: "user"}, KindAccess, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	tampered := valid[:len(valid)-4] + "AAAA"

	for name, input := range map[string]string{
		"garbage":      "not-a-token",
		"empty":        "",
		"wrong secret": forged,
		"tampered":     tampered,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := e.Verify(input); !errors.Is(err, ErrTokenMalformed) {
				t.Fatalf("err = %v, want ErrTokenMalformed", err)
			}
		})
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	cfg := testConfig()
	cfg.Issuer = "other-issuer"
	other, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	tokenStr, _, err := other.Issue(Subject{ID: "u", Email: "e@x.co", Role: "user"}, KindAccess, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := newTestEngine(t).Verify(tokenStr); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("err = %v, want ErrTokenMalformed", err)
	}
}

func TestTTLPerKind(t *testing.T) {
	e := newTestEngine(t)
	if got := e.TTL(KindAccess); got != 15*time.Minute {
		t.Fatalf("access TTL = %v", got)
	}
	if got := e.TTL(KindRefresh); got != 7*24*time.Hour {
		t.Fatalf("refresh TTL = %v", got)
	}
}

func TestValidateSecret(t *testing.T) {
	if err := ValidateSecret(strings.Repeat("a", 32)); err != nil {
		t.Fatalf("ValidateSecret: %v", err)
	}
	if err := ValidateSecret(strings.Repeat("a", 31)); err == nil {
		t.Fatal("expected error for 31-char secret")
	}
}
