package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const secret = "test-secret"

func TestLogin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("gate-pass"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	token, err := Login("Starter", "gate-pass", string(hash), secret)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := ValidateLocalToken(token, secret, time.Now())
	if err != nil {
		t.Fatalf("ValidateLocalToken: %v", err)
	}
	if claims.Name != "Starter" {
		t.Errorf("Name = %q, want %q", claims.Name, "Starter")
	}

	if _, err := Login("Starter", "wrong", string(hash), secret); err != ErrInvalidCredentials {
		t.Errorf("Login(wrong password) = %v, want ErrInvalidCredentials", err)
	}
	if _, err := Login("Starter", "gate-pass", "", secret); err != ErrInvalidCredentials {
		t.Errorf("Login(no hash configured) = %v, want ErrInvalidCredentials", err)
	}
}

func TestValidateLocalToken_Rejects(t *testing.T) {
	now := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	token, err := GenerateLocalToken("finish", secret, now)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ValidateLocalToken(token, "other-secret", now); err == nil {
		t.Error("token signed with another secret should be rejected")
	}
	if _, err := ValidateLocalToken(token, secret, now.Add(TokenTTL+time.Minute)); err == nil {
		t.Error("expired token should be rejected")
	}
	if _, err := ValidateLocalToken("jwt.abc.def", secret, now); err == nil {
		t.Error("foreign token format should be rejected")
	}
}

func protected() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op := GetOperator(r.Context())
		if op == nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(op.Name))
	})
}

func TestMiddleware(t *testing.T) {
	mw := Middleware(false, AdminSet([]string{"Chief"}), secret)(protected())

	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/race", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	token, _ := GenerateLocalToken("chief", secret, time.Now())
	req := httptest.NewRequest(http.MethodGet, "/api/race", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "chief" {
		t.Errorf("with token: status = %d body = %q", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/feed?token="+token, nil)
	rec = httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("query token: status = %d, want 200", rec.Code)
	}
}

func TestMiddleware_DevMode(t *testing.T) {
	mw := Middleware(true, nil, "")(RequireAdmin(protected().ServeHTTP))
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/riders/import", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("dev mode: status = %d, want 200", rec.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	mw := Middleware(false, AdminSet([]string{"chief"}), secret)(RequireAdmin(protected().ServeHTTP))

	token, _ := GenerateLocalToken("timer", secret, time.Now())
	req := httptest.NewRequest(http.MethodPost, "/api/riders/import", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-admin: status = %d, want 403", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "admin access required") {
		t.Errorf("body = %q", rec.Body.String())
	}
}
