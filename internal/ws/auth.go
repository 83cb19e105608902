package ws

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned when a handshake carries no valid token.
var ErrUnauthorized = errors.New("ws: unauthorized")

// Claims is the JWT payload issued by the account service. The user object
// carries more fields than listed here; only the ones this server needs are
// decoded.
type Claims struct {
	User struct {
		ID    int64  `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
	jwt.RegisteredClaims
}

// Authenticator resolves an upgrade request to an authenticated user id.
type Authenticator interface {
	Authenticate(r *http.Request) (int64, error)
}

// JWTAuthenticator validates HS256 tokens signed with the shared secret.
// Tokens arrive either as a `token` query parameter (browser WebSocket
// clients cannot set headers) or as a Bearer Authorization header.
type JWTAuthenticator struct {
	secret []byte
}

// NewJWTAuthenticator creates an authenticator for the given signing secret.
func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

// Authenticate extracts and verifies the request's token and returns the
// authenticated user id.
func (a *JWTAuthenticator) Authenticate(r *http.Request) (int64, error) {
	raw := tokenFromRequest(r)
	if raw == "" {
		return 0, fmt.Errorf("%w: no token", ErrUnauthorized)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !token.Valid || claims.User.ID == 0 {
		return 0, fmt.Errorf("%w: invalid claims", ErrUnauthorized)
	}
	return claims.User.ID, nil
}

func tokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
