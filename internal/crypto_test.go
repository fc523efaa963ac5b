package internal

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAESGCMEncrypt(t *testing.T) {
	key := make([]byte, 32)
	enc, err := NewTransportEncryptor(ModeAES256GCM, key)
	require.NoError(t, err)

	plaintext := []byte{0xAA, 0xBB, 0xCC}
	aad := make([]byte, 12)

	ciphertext, nonce, err := enc.Encrypt(plaintext, aad)
	require.NoError(t, err)

	// ciphertext includes the 16-byte tag
	assert.Len(t, ciphertext, len(plaintext)+16)
	assert.Len(t, nonce, 12)
	assert.Equal(t, []byte{0, 0, 0, 0}, nonce[:NoncePrefixLen])

	// second call uses counter 1
	_, nonce2, err := enc.Encrypt(plaintext, aad)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(nonce2[:4]))
}

func TestXChaChaEncrypt(t *testing.T) {
	key := make([]byte, 32)
	enc, err := NewTransportEncryptor(ModeXChaCha20Poly1305, key)
	require.NoError(t, err)

	ciphertext, nonce, err := enc.Encrypt([]byte{0x01}, []byte{0x02})
	require.NoError(t, err)
	assert.Len(t, ciphertext, 1+16)
	assert.Len(t, nonce, 24)
}

func TestNonceMonotonic(t *testing.T) {
	enc, err := NewTransportEncryptor(ModeAES256GCM, make([]byte, 32))
	require.NoError(t, err)

	seen := make(map[uint32]bool)
	for i := 0; i < 100; i++ {
		_, nonce, err := enc.Encrypt([]byte{0x00}, nil)
		require.NoError(t, err)
		counter := binary.BigEndian.Uint32(nonce[:4])
		assert.Equal(t, uint32(i), counter)
		assert.False(t, seen[counter], "nonce reuse at %d", counter)
		seen[counter] = true
	}
}

func TestNewTransportEncryptorErrors(t *testing.T) {
	_, err := NewTransportEncryptor(ModeAES256GCM, make([]byte, 16))
	assert.Error(t, err)

	_, err = NewTransportEncryptor("aead_unknown", make([]byte, 32))
	assert.Error(t, err)
}

func TestSelectMode(t *testing.T) {
	tests := []struct {
		name        string
		supported   []string
		forceChaCha bool
		want        string
	}{
		{"prefers gcm", []string{ModeXChaCha20Poly1305, ModeAES256GCM}, false, ModeAES256GCM},
		{"forced chacha", []string{ModeAES256GCM}, true, ModeXChaCha20Poly1305},
		{"gcm absent", []string{ModeXChaCha20Poly1305}, false, ModeXChaCha20Poly1305},
		{"nothing offered", nil, false, ModeXChaCha20Poly1305},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectMode(tt.supported, tt.forceChaCha))
		})
	}
}
