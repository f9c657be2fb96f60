// Package svcauth authenticates the Coordinator to an Agent's /play
// endpoint with a short-lived HMAC-signed token, modeled on
// infrastructure/serviceauth's ServiceClaims / X-Service-Token pattern from
// the broader example pack (spec §4.4: "Coordinator-authenticated dispatch").
package svcauth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DispatchTokenHeader carries the signed token on a /play request.
const DispatchTokenHeader = "X-Coordinator-Token"

const tokenTTL = 30 * time.Second

// Claims identifies the Coordinator issuing a match dispatch.
type Claims struct {
	GameID string `json:"game_id"`
	jwt.RegisteredClaims
}

// Issuer mints dispatch tokens using a pre-shared secret (configured on
// each agent out of band, the same way the Coordinator URL itself is;
// registration does not carry it).
type Issuer struct {
	secret []byte
}

func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret)}
}

// Mint issues a token scoped to a single gameId, valid for tokenTTL.
func (i *Issuer) Mint(gameID string) (string, error) {
	now := time.Now()
	claims := Claims{
		GameID: gameID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			Issuer:    "proofofflip-coordinator",
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("svcauth: sign token: %w", err)
	}
	return signed, nil
}

// Verifier checks dispatch tokens on the Agent side using the same
// pre-shared secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates token, returning the gameId it was scoped to.
func (v *Verifier) Verify(token string) (string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("svcauth: parse token: %w", err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("svcauth: token invalid")
	}
	return claims.GameID, nil
}
