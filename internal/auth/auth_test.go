package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const testSecret = "test-secret"

func TestGenerateAndParseToken(t *testing.T) {
	id := uuid.New()
	token, err := GenerateToken(id, "alice", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.UserID != id || claims.Username != "alice" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestParseTokenRejects(t *testing.T) {
	id := uuid.New()
	good, _ := GenerateToken(id, "alice", testSecret, time.Hour)
	expired, _ := GenerateToken(id, "alice", testSecret, -time.Minute)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: id})
	noneToken, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"wrong secret", good, "other"},
		{"expired", expired, testSecret},
		{"alg none", noneToken, testSecret},
		{"garbage", "not-a-token", testSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token, tt.secret)
			if !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("err = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestAuthenticator(t *testing.T) {
	a := NewAuthenticator(testSecret)
	id := uuid.New()
	token, _ := GenerateToken(id, "bob", testSecret, time.Hour)

	if _, err := a.Authenticate(""); !errors.Is(err, ErrMissingToken) {
		t.Errorf("empty token err = %v", err)
	}

	ident, err := a.Authenticate(token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if ident.UserID != id || ident.Username != "bob" {
		t.Errorf("identity = %+v", ident)
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=q", nil)
	if got := TokenFromRequest(r); got != "q" {
		t.Errorf("query token = %q", got)
	}

	r.Header.Set("Authorization", "Bearer h")
	if got := TokenFromRequest(r); got != "h" {
		t.Errorf("header token = %q", got)
	}

	r.Header.Set("Authorization", "Basic xyz")
	if got := TokenFromRequest(r); got != "" {
		t.Errorf("non-bearer header = %q, want empty", got)
	}
}
