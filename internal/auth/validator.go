package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"strings"
	"sync"
)

// Principal kinds.
const (
	KindStatic = "static"
	KindJWT    = "jwt"
)

// staticSubject is reported for tokens from the configured list.
const staticSubject = "static"

// Principal is who a validated token belongs to.
type Principal struct {
	Subject string
	Name    string
	Kind    string
}

// Validator checks bearer tokens against the configured static tokens and
// the JWT secret.
//
// Thread Safety: all methods are safe for concurrent use.
type Validator struct {
	secret string
	plain  [][sha256.Size]byte
	hashed []tokenHash

	// verified caches digests of tokens that matched a hashed entry so
	// Argon2id runs once per token, not once per request.
	verified sync.Map
}

// NewValidator builds a validator. Entries in tokens that start with
// "$argon2id$" are treated as hashes; everything else as plaintext.
func NewValidator(secret string, tokens []string) (*Validator, error) {
	v := &Validator{secret: secret}
	for i, tok := range tokens {
		tok = strings.TrimSpace(tok)
		switch {
		case tok == "":
			return nil, fmt.Errorf("security.tokens[%d]: %w", i, ErrTokenMissing)
		case strings.HasPrefix(tok, phcPrefix):
			h, err := parseTokenHash(tok)
			if err != nil {
				return nil, fmt.Errorf("security.tokens[%d]: %w", i, err)
			}
			v.hashed = append(v.hashed, h)
		default:
			v.plain = append(v.plain, sha256.Sum256([]byte(tok)))
		}
	}
	return v, nil
}

// Enabled reports whether any token could ever validate.
func (v *Validator) Enabled() bool {
	return v.secret != "" || len(v.plain) > 0 || len(v.hashed) > 0
}

// Validate returns the principal for token or ErrTokenInvalid.
func (v *Validator) Validate(token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrTokenMissing
	}

	digest := sha256.Sum256([]byte(token))
	if v.matchStatic(token, digest) {
		return Principal{Subject: staticSubject, Kind: KindStatic}, nil
	}

	if v.secret == "" {
		return Principal{}, ErrTokenInvalid
	}
	claims, err := ParseToken(token, v.secret)
	if err != nil {
		return Principal{}, err
	}
	return Principal{Subject: claims.Subject, Name: claims.Name, Kind: KindJWT}, nil
}

func (v *Validator) matchStatic(token string, digest [sha256.Size]byte) bool {
	found := 0
	for i := range v.plain {
		found |= subtle.ConstantTimeCompare(digest[:], v.plain[i][:])
	}
	if found == 1 {
		return true
	}

	if len(v.hashed) == 0 {
		return false
	}
	if _, ok := v.verified.Load(digest); ok {
		return true
	}
	for _, h := range v.hashed {
		if h.matches(token) {
			v.verified.Store(digest, struct{}{})
			return true
		}
	}
	return false
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrTokenMissing
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrTokenMissing
	}
	return token, nil
}
