package internal

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Transport AEAD modes, as advertised by the voice service.
const (
	ModeAES256GCM         = "aead_aes256_gcm_rtpsize"
	ModeXChaCha20Poly1305 = "aead_xchacha20_poly1305_rtpsize"
)

// NoncePrefixLen is how many leading nonce bytes travel on the wire after
// the ciphertext; the receiver reconstructs the rest as zeros.
const NoncePrefixLen = 4

// TransportEncryptor seals RTP/RTCP payloads for one SSRC. The returned
// ciphertext includes the authentication tag; the returned nonce is the full
// construction whose first NoncePrefixLen bytes are appended to the packet.
//
// The nonce counter strictly increases per call and never repeats under a
// given key, so audio and video must each own an independent instance.
type TransportEncryptor interface {
	Encrypt(plaintext, aad []byte) (ciphertext, nonce []byte, err error)
	Mode() string
}

type aeadEncryptor struct {
	aead    cipher.AEAD
	mode    string
	counter uint32
}

// NewTransportEncryptor constructs the encryptor for a negotiated mode with
// the 32-byte secret from SELECT_PROTOCOL_ACK.
func NewTransportEncryptor(mode string, key []byte) (TransportEncryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("transport key must be 32 bytes, got %d", len(key))
	}
	switch mode {
	case ModeAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
		return &aeadEncryptor{aead: aead, mode: mode}, nil
	case ModeXChaCha20Poly1305:
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, err
		}
		return &aeadEncryptor{aead: aead, mode: mode}, nil
	}
	return nil, fmt.Errorf("unknown transport mode %q", mode)
}

func (e *aeadEncryptor) Encrypt(plaintext, aad []byte) ([]byte, []byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	binary.BigEndian.PutUint32(nonce[:4], e.counter)
	e.counter++

	ciphertext := e.aead.Seal(nil, nonce, plaintext, aad)
	return ciphertext, nonce, nil
}

func (e *aeadEncryptor) Mode() string { return e.mode }

// SelectMode implements the negotiation rule: AES-256-GCM when the server
// offers it and ChaCha is not forced, XChaCha20-Poly1305 otherwise.
func SelectMode(supported []string, forceChaCha bool) string {
	if !forceChaCha {
		for _, m := range supported {
			if m == ModeAES256GCM {
				return ModeAES256GCM
			}
		}
	}
	return ModeXChaCha20Poly1305
}
