// password.go

// Package password implements Argon2id hashing and verification for account
// passwords and one-time tokens.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

// ErrHashing wraps every KDF failure, including a malformed stored hash.
var ErrHashing = errors.New("password hashing failed")

// Params holds the Argon2id cost parameters used for new hashes.
// Verification always uses the params encoded in the stored hash, so old
// hashes keep verifying after these change.
type Params struct {
	Memory  uint32 // KiB
	Time    uint32
	Threads uint8
	SaltLen uint32
	KeyLen  uint32
}

// DefaultParams: m=64MiB, t=3, p=2, 16-byte salt, 32-byte key.
var DefaultParams = Params{
	Memory:  64 * 1024,
	Time:    3,
	Threads: 2,
	SaltLen: 16,
	KeyLen:  32,
}

// Minimum accepted params. Anything weaker is rejected by NewHasher.
const (
	minMemory  = 1024
	minSaltLen = 16
	minKeyLen  = 16
)

// Hasher hashes and verifies secrets. Safe for concurrent use.
type Hasher struct {
	params Params
	dummy  func() string
}

// NewHasher validates p and returns a Hasher using it for new hashes.
func NewHasher(p Params) (*Hasher, error) {
	switch {
	case p.Memory < minMemory:
		return nil, fmt.Errorf("argon2 memory must be at least %d KiB", minMemory)
	case p.Time < 1:
		return nil, errors.New("argon2 time must be at least 1")
	case p.Threads < 1:
		return nil, errors.New("argon2 threads must be at least 1")
	case p.SaltLen < minSaltLen:
		return nil, fmt.Errorf("argon2 salt length must be at least %d bytes", minSaltLen)
	case p.KeyLen < minKeyLen:
		return nil, fmt.Errorf("argon2 key length must be at least %d bytes", minKeyLen)
	}

	h := &Hasher{params: p}
	// Computed lazily, once, with the live params so a dummy verify costs
	// the same as a real one.
	h.dummy = sync.OnceValue(func() string {
		encoded, _ := h.Hash("linkvault-dummy-secret")
		return encoded
	})
	return h, nil
}

// Params returns the params used for new hashes.
func (h *Hasher) Params() Params {
	return h.params
}

// Hash returns a PHC-formatted Argon2id hash of secret with a fresh salt.
// Format: $argon2id$v=19$m=65536,t=3,p=2$<base64 salt>$<base64 hash>
func (h *Hasher) Hash(secret string) (string, error) {
	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("%w: generating salt: %w", ErrHashing, err)
	}

	key := argon2.IDKey([]byte(secret), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether secret matches encoded. A mismatch is (false, nil);
// a malformed encoded hash returns an error wrapping ErrHashing.
// Comparison is constant-time.
func (h *Hasher) Verify(secret, encoded string) (bool, error) {
	d, err := decode(encoded)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrHashing, err)
	}

	key := argon2.IDKey([]byte(secret), d.salt, d.time, d.memory, d.threads, uint32(len(d.key)))
	return subtle.ConstantTimeCompare(key, d.key) == 1, nil
}

// VerifyDummy runs one verification against a throwaway hash. Call it when
// no account was found so the miss costs the same as a wrong password.
func (h *Hasher) VerifyDummy(secret string) {
	_, _ = h.Verify(secret, h.dummy())
}

type decoded struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

// decode parses a PHC Argon2id string.
func decode(encoded string) (decoded, error) {
	var d decoded

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return d, errors.New("invalid hash format")
	}
	if parts[1] != "argon2id" {
		return d, fmt.Errorf("unsupported algorithm %q", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return d, fmt.Errorf("parsing hash version: %w", err)
	}
	if version != argon2.Version {
		return d, fmt.Errorf("unsupported argon2 version: %d", version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &d.memory, &d.time, &d.threads); err != nil {
		return d, fmt.Errorf("parsing hash params: %w", err)
	}
	if d.memory == 0 || d.time == 0 || d.threads == 0 {
		return d, errors.New("hash params must be positive")
	}

	var err error
	if d.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return d, fmt.Errorf("decoding salt: %w", err)
	}
	if d.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return d, fmt.Errorf("decoding hash: %w", err)
	}
	if len(d.salt) == 0 || len(d.key) == 0 {
		return d, errors.New("empty salt or hash")
	}
	return d, nil
}
