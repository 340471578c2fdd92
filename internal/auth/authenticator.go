package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Identity is who a connection or request acts as once its token checks out.
type Identity struct {
	UserID   uuid.UUID
	Username string
}

var ErrMissingToken = errors.New("missing bearer token")

// Authenticator verifies credentials presented when a realtime connection
// opens. Nothing downstream runs without the Identity it returns.
type Authenticator struct {
	secret string
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: secret}
}

// Authenticate checks signature and expiry of token.
func (a *Authenticator) Authenticate(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}
	claims, err := ParseToken(token, a.secret)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: claims.UserID, Username: claims.Username}, nil
}

// AuthenticateRequest pulls the token out of r and authenticates it.
func (a *Authenticator) AuthenticateRequest(r *http.Request) (Identity, error) {
	return a.Authenticate(TokenFromRequest(r))
}

// TokenFromRequest reads "Authorization: Bearer <token>" and falls back to
// the "token" query parameter, which is the only option browsers have
// when opening a websocket.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
