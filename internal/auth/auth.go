// Package auth verifies the HS256 tokens issued by the account service.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cast"

	"pong-server/internal/game"
)

var ErrUnauthorized = errors.New("UNAUTHORIZED: missing or invalid token")

// idClaims are checked in order; older tokens carry userId or sub.
var idClaims = []string{"id", "userId", "sub"}

type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// Verify checks the signature and expiry of token and returns the player id
// it names.
func (v *Verifier) Verify(token string) (game.PlayerID, error) {
	if token == "" {
		return 0, ErrUnauthorized
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(v.now))
	if err != nil {
		return 0, ErrUnauthorized
	}
	for _, key := range idClaims {
		raw, ok := claims[key]
		if !ok {
			continue
		}
		id, err := cast.ToInt64E(raw)
		if err != nil || id <= 0 {
			return 0, ErrUnauthorized
		}
		return game.PlayerID(id), nil
	}
	return 0, ErrUnauthorized
}

// Issue signs a token for id. The account service owns real issuance; this
// backs tests and local tooling.
func (v *Verifier) Issue(id game.PlayerID, username string, ttl time.Duration) (string, error) {
	now := v.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":       int64(id),
		"username": username,
		"iat":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
	})
	return tok.SignedString(v.secret)
}

// TokenFromRequest reads a bearer token from the Authorization header, or
// the token query parameter when the header is absent.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if t, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(t)
		}
	}
	return r.URL.Query().Get("token")
}

// Authenticate verifies the token carried by r.
func (v *Verifier) Authenticate(r *http.Request) (game.PlayerID, error) {
	return v.Verify(TokenFromRequest(r))
}
