package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// Issuer is stamped on every access token and required when parsing.
	Issuer = "grayhub"

	defaultTTL      = 30 * time.Minute
	clockLeeway     = 30 * time.Second
	staticTokenSize = 32
)

var signingMethod = jwt.SigningMethodHS256

// Claims is the access token payload. Subject names the client (a panel,
// a script); Name is what shows up as the context user in the logbook.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// GenerateAccessToken signs a token for subject valid for ttl
// (defaultTTL when ttl is not positive).
func GenerateAccessToken(subject, name, secret string, ttl time.Duration) (string, error) {
	switch {
	case secret == "":
		return "", ErrNoSecret
	case subject == "":
		return "", fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name: name,
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing access token for %s: %w", subject, err)
	}
	return signed, nil
}

// ParseToken verifies an access token and returns its claims. The token
// must be HS256, carry exp, come from Issuer and name a subject.
func ParseToken(raw, secret string) (*Claims, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(Issuer),
		jwt.WithLeeway(clockLeeway),
	)
	claims := &Claims{}
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return claims, nil
}

// GenerateStaticToken returns a random hex token for security.tokens.
func GenerateStaticToken() (string, error) {
	b := make([]byte, staticTokenSize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
