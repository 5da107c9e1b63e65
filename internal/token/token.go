// Package token signs and verifies the short-lived credentials that
// authorize one subject to fetch one specific image path. Tokens are
// stateless: everything needed to verify is in the token bytes plus the
// process-wide signing secret, and expiry is the only termination.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// ImageClaims binds a subject to a single normalized image path.
type ImageClaims struct {
	UserID    string `json:"user_id"`
	ImagePath string `json:"image_path"`
	jwt.RegisteredClaims
}

// Codec issues and verifies image access tokens with a shared HMAC secret.
type Codec struct {
	secret     []byte
	defaultTTL time.Duration
}

func NewCodec(secret string, defaultTTL time.Duration) *Codec {
	return &Codec{secret: []byte(secret), defaultTTL: defaultTTL}
}

// DefaultTTL is the expiry applied by Generate when ttl <= 0.
func (c *Codec) DefaultTTL() time.Duration {
	return c.defaultTTL
}

// Generate signs a token for userID to fetch imagePath. The path must
// already be normalized; verification compares it byte for byte.
func (c *Codec) Generate(userID, imagePath string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := time.Now()
	claims := ImageClaims{
		UserID:    userID,
		ImagePath: imagePath,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(c.secret)
}

// Verify checks the signature and expiry, then compares the embedded path
// against expectedPath. A valid signature for a different path fails: a
// token replayed across resources must not authorize anything.
//
// Every failure mode collapses to ok=false so callers cannot build an
// oracle out of the distinction between tampered, expired, and mismatched.
func (c *Codec) Verify(tokenStr, expectedPath string) (userID string, ok bool) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &ImageClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, hmac := t.Method.(*jwt.SigningMethodHMAC); !hmac {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		return "", false
	}

	claims, valid := parsed.Claims.(*ImageClaims)
	if !valid || !parsed.Valid {
		return "", false
	}
	if claims.ImagePath != expectedPath {
		return "", false
	}
	return claims.UserID, true
}
