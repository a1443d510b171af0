// password_test.go

// unit tests for Hasher and the PHC decoder.
package password

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cheap params keep the suite fast; production uses DefaultParams.
var cheap = Params{Memory: 1024, Time: 1, Threads: 1, SaltLen: 16, KeyLen: 32}

func newCheapHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher(cheap)
	require.NoError(t, err)
	return h
}

// --- NewHasher ---

func TestNewHasher(t *testing.T) {
	t.Run("default params accepted", func(t *testing.T) {
		h, err := NewHasher(DefaultParams)
		require.NoError(t, err)
		assert.Equal(t, DefaultParams, h.Params())
	})

	tests := []struct {
		name   string
		mutate func(p *Params)
	}{
		{"memory below floor", func(p *Params) { p.Memory = 512 }},
		{"zero time", func(p *Params) { p.Time = 0 }},
		{"zero threads", func(p *Params) { p.Threads = 0 }},
		{"short salt", func(p *Params) { p.SaltLen = 8 }},
		{"short key", func(p *Params) { p.KeyLen = 8 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := cheap
			tt.mutate(&p)
			_, err := NewHasher(p)
			assert.Error(t, err)
		})
	}
}

// --- Hash ---

func TestHash(t *testing.T) {
	h := newCheapHasher(t)

	t.Run("output matches PHC format", func(t *testing.T) {
		encoded, err := h.Hash("correcthorsebatterystaple")
		require.NoError(t, err)

		// PHC format: $argon2id$v=19$m=1024,t=1,p=1$<salt>$<hash>
		parts := strings.Split(encoded, "$")
		require.Len(t, parts, 6)
		assert.Equal(t, "argon2id", parts[1])
		assert.Equal(t, "v=19", parts[2])
		assert.Equal(t, "m=1024,t=1,p=1", parts[3])
	})

	t.Run("unique salts per call", func(t *testing.T) {
		h1, err := h.Hash("same-password")
		require.NoError(t, err)
		h2, err := h.Hash("same-password")
		require.NoError(t, err)
		assert.NotEqual(t, h1, h2)
	})
}

// --- Verify ---

func TestVerify(t *testing.T) {
	h := newCheapHasher(t)

	t.Run("correct secret verifies", func(t *testing.T) {
		encoded, err := h.Hash("Passw0rd!")
		require.NoError(t, err)

		ok, err := h.Verify("Passw0rd!", encoded)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		encoded, err := h.Hash("Passw0rd!")
		require.NoError(t, err)

		ok, err := h.Verify("Passw0rd?", encoded)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("hash from other params still verifies", func(t *testing.T) {
		other, err := NewHasher(Params{Memory: 2048, Time: 2, Threads: 1, SaltLen: 16, KeyLen: 16})
		require.NoError(t, err)
		encoded, err := other.Hash("Passw0rd!")
		require.NoError(t, err)

		ok, err := h.Verify("Passw0rd!", encoded)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	malformed := map[string]string{
		"empty":             "",
		"too few parts":     "$argon2id$v=19$m=1024,t=1,p=1$c2FsdA",
		"wrong algorithm":   "$argon2i$v=19$m=1024,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"wrong version":     "$argon2id$v=16$m=1024,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"bad params":        "$argon2id$v=19$m=x,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"zero params":       "$argon2id$v=19$m=0,t=0,p=0$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"bad salt encoding": "$argon2id$v=19$m=1024,t=1,p=1$!!!$aGFzaA",
		"bad hash encoding": "$argon2id$v=19$m=1024,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$!!!",
		"plain text":        "Passw0rd!",
	}
	for name, encoded := range malformed {
		t.Run("malformed: "+name, func(t *testing.T) {
			ok, err := h.Verify("Passw0rd!", encoded)
			assert.ErrorIs(t, err, ErrHashing)
			assert.False(t, ok)
		})
	}
}

// Random secrets never verify against a hash of a different random secret.
func TestVerify_NoFalsePositives(t *testing.T) {
	trials := 10000
	if testing.Short() {
		trials = 200
	}
	h := newCheapHasher(t)

	encoded, err := h.Hash(randomSecret(t))
	require.NoError(t, err)

	for i := 0; i < trials; i++ {
		ok, err := h.Verify(randomSecret(t), encoded)
		require.NoError(t, err)
		if ok {
			t.Fatalf("trial %d: unrelated secret verified", i)
		}
	}
}

func TestVerify_RoundTripAlwaysMatches(t *testing.T) {
	h := newCheapHasher(t)
	for i := 0; i < 50; i++ {
		secret := randomSecret(t)
		encoded, err := h.Hash(secret)
		require.NoError(t, err)
		ok, err := h.Verify(secret, encoded)
		require.NoError(t, err)
		require.True(t, ok, "round trip %d failed", i)
	}
}

// --- VerifyDummy ---

func TestVerifyDummy(t *testing.T) {
	h := newCheapHasher(t)

	// Must not panic and must reuse one cached hash.
	h.VerifyDummy("anything")
	first := h.dummy()
	h.VerifyDummy("anything else")
	assert.Equal(t, first, h.dummy())
	assert.True(t, strings.HasPrefix(first, "$argon2id$v=19$m=1024,t=1,p=1$"))
}

func randomSecret(t *testing.T) string {
	t.Helper()
	b := make([]byte, 12)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return hex.EncodeToString(b)
}
