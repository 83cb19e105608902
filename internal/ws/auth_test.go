package ws

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, userID int64) string {
	t.Helper()
	claims := &Claims{}
	claims.User.ID = userID
	claims.User.Email = "user@example.com"
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestAuthenticateQueryParam(t *testing.T) {
	a := NewJWTAuthenticator(testSecret)
	r := httptest.NewRequest("GET", "/ws?token="+signToken(t, testSecret, 42), nil)

	userID, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if userID != 42 {
		t.Fatalf("got user %d, want 42", userID)
	}
}

func TestAuthenticateBearerHeader(t *testing.T) {
	a := NewJWTAuthenticator(testSecret)
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, 7))

	userID, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if userID != 7 {
		t.Fatalf("got user %d, want 7", userID)
	}
}

func TestAuthenticateMissingToken(t *testing.T) {
	a := NewJWTAuthenticator(testSecret)
	r := httptest.NewRequest("GET", "/ws", nil)

	if _, err := a.Authenticate(r); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestAuthenticateWrongSecret(t *testing.T) {
	a := NewJWTAuthenticator(testSecret)
	r := httptest.NewRequest("GET", "/ws?token="+signToken(t, "other-secret", 42), nil)

	if _, err := a.Authenticate(r); err == nil {
		t.Fatal("expected error for wrong signing secret")
	}
}

func TestAuthenticateExpiredToken(t *testing.T) {
	claims := &Claims{}
	claims.User.ID = 42
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	a := NewJWTAuthenticator(testSecret)
	r := httptest.NewRequest("GET", "/ws?token="+token, nil)

	if _, err := a.Authenticate(r); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestAuthenticateZeroUserID(t *testing.T) {
	a := NewJWTAuthenticator(testSecret)
	r := httptest.NewRequest("GET", "/ws?token="+signToken(t, testSecret, 0), nil)

	if _, err := a.Authenticate(r); err == nil {
		t.Fatal("expected error for token without user id")
	}
}
