// ABOUTME: Opaque session tokens and signed short-lived ceremony tokens
// ABOUTME: Ceremony tokens are HS256 JWTs carrying passkey challenge state between requests

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// NewOpaqueToken returns n random bytes, hex encoded. Used for session and
// verification tokens, which are looked up rather than verified.
func NewOpaqueToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// CeremonySigner signs state that must survive between the begin and finish
// halves of a passkey ceremony without server-side storage.
type CeremonySigner struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewCeremonySigner derives a signing key from secret. The key is distinct
// from the secret itself so a leaked ceremony token reveals nothing about it.
func NewCeremonySigner(secret string, ttl time.Duration) (*CeremonySigner, error) {
	if secret == "" {
		return nil, errors.New("ceremony signer: secret is required")
	}
	sum := sha256.Sum256([]byte("todovex/webauthn-ceremony\x00" + secret))
	return &CeremonySigner{key: sum[:], ttl: ttl, now: time.Now}, nil
}

// Sign binds subject (a user ID, or "" for discoverable login) to data.
func (s *CeremonySigner) Sign(subject string, data []byte) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub": subject,
		"dat": string(data),
		"iat": now.Unix(),
		"exp": now.Add(s.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.key)
}

// Verify checks signature and expiry and returns what Sign was given.
func (s *CeremonySigner) Verify(tokenString string) (subject string, data []byte, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.key, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", nil, ErrExpiredToken
		}
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", nil, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	dat, ok := claims["dat"].(string)
	if !ok || dat == "" {
		return "", nil, fmt.Errorf("%w: dat", ErrMissingClaim)
	}
	return sub, []byte(dat), nil
}
