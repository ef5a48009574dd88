// Package token signs and verifies the compact connection tokens that
// authorize a client to open a socket. A token is issued by the project's
// backend (through the external issuer surface) and consumed exactly once by
// the gateway at upgrade time.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wosherco/socketless/internal/webhook"
)

// Claims bind a connection request to a project, an identifier, an initial
// feed set, and optionally a point-to-point webhook.
type Claims struct {
	ProjectID  int64                  `json:"projectId"`
	Identifier string                 `json:"identifier"`
	ClientID   string                 `json:"clientId"`
	Feeds      []string               `json:"feeds"`
	Webhook    *webhook.SimpleWebhook `json:"webhook,omitempty"`
	jwt.RegisteredClaims
}

// Codec issues and verifies connection tokens with a shared HMAC secret.
type Codec struct {
	secret []byte
	ttl    time.Duration
}

// NewCodec creates a codec. ttl bounds how long issued tokens stay valid.
func NewCodec(secret string, ttl time.Duration) *Codec {
	return &Codec{secret: []byte(secret), ttl: ttl}
}

// Issue signs a new connection token.
func (c *Codec) Issue(projectID int64, identifier, clientID string, feeds []string, wh *webhook.SimpleWebhook) (string, error) {
	now := time.Now()
	claims := &Claims{
		ProjectID:  projectID,
		Identifier: identifier,
		ClientID:   clientID,
		Feeds:      feeds,
		Webhook:    wh,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			Issuer:    "socketless",
			Subject:   identifier,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Verify validates a token string and returns its claims. Expired,
// malformed, or wrongly-signed tokens are rejected.
func (c *Codec) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return c.secret, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Identifier == "" || claims.ProjectID == 0 {
		return nil, errors.New("token missing identifier or project")
	}

	return claims, nil
}
