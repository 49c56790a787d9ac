package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// TokenTTL is how long an operator token stays valid. One race day plus
// margin.
const TokenTTL = 36 * time.Hour

var ErrInvalidCredentials = errors.New("invalid operator name or password")

type OperatorClaims struct {
	Name    string `json:"name"`
	IsAdmin bool   `json:"isAdmin"`
}

type contextKey string

const OperatorKey contextKey = "operator"

// localTokenPayload is the JSON payload embedded in a local auth token.
type localTokenPayload struct {
	Name string `json:"name"`
	Exp  int64  `json:"exp"`
}

// Login checks password against the shared operator bcrypt hash and returns
// a signed token for name.
func Login(name, password, passwordHash, secret string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || passwordHash == "" {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return GenerateLocalToken(name, secret, time.Now())
}

// GenerateLocalToken creates an HMAC-signed token for an operator.
// Format: local.<base64url(json-payload)>.<base64url(hmac-sha256)>
func GenerateLocalToken(name, secret string, now time.Time) (string, error) {
	payload := localTokenPayload{
		Name: name,
		Exp:  now.Add(TokenTTL).Unix(),
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	payloadB64 := base64.RawURLEncoding.EncodeToString(payloadBytes)
	return "local." + payloadB64 + "." + sign(payloadB64, secret), nil
}

func sign(payloadB64, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payloadB64))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// ValidateLocalToken verifies and decodes a local auth token.
func ValidateLocalToken(token, secret string, now time.Time) (*OperatorClaims, error) {
	parts := strings.SplitN(token, ".", 3)
	if len(parts) != 3 || parts[0] != "local" {
		return nil, fmt.Errorf("invalid token format")
	}

	payloadB64 := parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(sign(payloadB64, secret))) {
		return nil, fmt.Errorf("invalid token signature")
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, fmt.Errorf("invalid token payload")
	}

	var payload localTokenPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, fmt.Errorf("invalid token payload")
	}

	if now.Unix() > payload.Exp {
		return nil, fmt.Errorf("token expired")
	}

	return &OperatorClaims{Name: payload.Name}, nil
}

// Middleware returns an HTTP middleware that verifies the Authorization header.
// Paths starting with /api/auth/ and /health bypass authentication.
// When devMode is true, any request is allowed through with a stub admin operator.
func Middleware(devMode bool, adminOperators map[string]bool, secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/api/auth/") || r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			if devMode {
				claims := &OperatorClaims{Name: "dev", IsAdmin: true}
				ctx := context.WithValue(r.Context(), OperatorKey, claims)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			token, ok := bearer(r)
			if !ok {
				writeUnauthorized(w, "missing or malformed authorization")
				return
			}

			claims, err := ValidateLocalToken(token, secret, time.Now())
			if err != nil {
				writeUnauthorized(w, "unauthorized: "+err.Error())
				return
			}

			claims.IsAdmin = adminOperators[strings.ToLower(claims.Name)]

			ctx := context.WithValue(r.Context(), OperatorKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearer reads the token from the Authorization header, or from the
// token query parameter for websocket clients that cannot set headers.
func bearer(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		token := strings.TrimPrefix(h, "Bearer ")
		return token, token != h && token != ""
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t, true
	}
	return "", false
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// AdminSet builds the lookup used by Middleware from operator names.
func AdminSet(names []string) map[string]bool {
	admins := make(map[string]bool, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(strings.ToLower(n)); n != "" {
			admins[n] = true
		}
	}
	return admins
}

// GetOperator extracts the authenticated operator from the request context.
func GetOperator(ctx context.Context) *OperatorClaims {
	claims, _ := ctx.Value(OperatorKey).(*OperatorClaims)
	return claims
}

// RequireAdmin is an HTTP middleware that returns 403 if the operator is not an admin.
func RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		op := GetOperator(r.Context())
		if op == nil || !op.IsAdmin {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]string{"error": "admin access required"})
			return
		}
		next(w, r)
	}
}
