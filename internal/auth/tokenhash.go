package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Parameters for newly hashed tokens.
const (
	hashIterations = 3
	hashMemoryKiB  = 64 * 1024
	hashThreads    = 1
	hashKeyLen     = 32
	hashSaltLen    = 16
)

// Limits on parameters read back from configuration.
const (
	maxMemoryKiB  = 1 << 20
	maxIterations = 16
	minKeyLen     = 16
)

// phcPrefix marks a configured token as a hash rather than plaintext.
const phcPrefix = "$argon2id$"

var b64 = base64.RawStdEncoding

// tokenHash is a decoded $argon2id$v=19$m=..,t=..,p=..$salt$key string.
type tokenHash struct {
	memory     uint32
	iterations uint32
	threads    uint8
	salt       []byte
	key        []byte
}

func (h tokenHash) String() string {
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		phcPrefix, argon2.Version, h.memory, h.iterations, h.threads,
		b64.EncodeToString(h.salt), b64.EncodeToString(h.key))
}

// matches derives a key from token with h's parameters and compares in
// constant time.
func (h tokenHash) matches(token string) bool {
	//nolint:gosec // key length was bounded in parseTokenHash
	derived := argon2.IDKey([]byte(token), h.salt, h.iterations, h.memory, h.threads, uint32(len(h.key)))
	return subtle.ConstantTimeCompare(h.key, derived) == 1
}

func parseTokenHash(encoded string) (tokenHash, error) {
	var h tokenHash
	rest, ok := strings.CutPrefix(encoded, phcPrefix)
	if !ok {
		return h, fmt.Errorf("%w: not an argon2id hash", ErrTokenInvalid)
	}
	fields := strings.Split(rest, "$")
	if len(fields) != 4 {
		return h, fmt.Errorf("%w: want v=..$m=..,t=..,p=..$salt$key", ErrTokenInvalid)
	}

	var version int
	if _, err := fmt.Sscanf(fields[0], "v=%d", &version); err != nil || version != argon2.Version {
		return h, fmt.Errorf("%w: unsupported argon2 version %q", ErrTokenInvalid, fields[0])
	}
	if _, err := fmt.Sscanf(fields[1], "m=%d,t=%d,p=%d", &h.memory, &h.iterations, &h.threads); err != nil {
		return h, fmt.Errorf("%w: parameters %q: %w", ErrTokenInvalid, fields[1], err)
	}
	switch {
	case h.memory == 0 || h.memory > maxMemoryKiB:
		return h, fmt.Errorf("%w: memory %d KiB out of range", ErrTokenInvalid, h.memory)
	case h.iterations == 0 || h.iterations > maxIterations:
		return h, fmt.Errorf("%w: %d iterations out of range", ErrTokenInvalid, h.iterations)
	case h.threads == 0:
		return h, fmt.Errorf("%w: zero parallelism", ErrTokenInvalid)
	}

	var err error
	if h.salt, err = b64.DecodeString(fields[2]); err != nil {
		return h, fmt.Errorf("%w: salt: %w", ErrTokenInvalid, err)
	}
	if h.key, err = b64.DecodeString(fields[3]); err != nil {
		return h, fmt.Errorf("%w: key: %w", ErrTokenInvalid, err)
	}
	if len(h.key) < minKeyLen {
		return h, fmt.Errorf("%w: key shorter than %d bytes", ErrTokenInvalid, minKeyLen)
	}
	return h, nil
}

// HashToken hashes a static token with Argon2id for security.tokens.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", ErrTokenMissing
	}
	salt := make([]byte, hashSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	h := tokenHash{
		memory:     hashMemoryKiB,
		iterations: hashIterations,
		threads:    hashThreads,
		salt:       salt,
		key:        argon2.IDKey([]byte(token), salt, hashIterations, hashMemoryKiB, hashThreads, hashKeyLen),
	}
	return h.String(), nil
}

// VerifyToken reports whether token matches encodedHash. A malformed hash
// is an error, a mismatch is not.
func VerifyToken(token, encodedHash string) (bool, error) {
	h, err := parseTokenHash(encodedHash)
	if err != nil {
		return false, err
	}
	return h.matches(token), nil
}
