// Package crypto provides the vault's authenticated encryption. Ciphertext
// is an envelope of version(1) || unix timestamp(8, big endian) ||
// nonce(12) || AES-256-GCM(plaintext) with the version and timestamp bound
// as additional authenticated data. The timestamp records when the envelope
// was created; it is never used to expire stored data.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
)

const (
	// Version identifies the envelope layout.
	Version = 0x01

	headerLen = 1 + 8

	// NonceLen is the AES-GCM nonce length in bytes.
	NonceLen = 12

	// TagLen is the GCM authentication tag length in bytes.
	TagLen = 16

	// MinCiphertextLen is the smallest valid envelope (header + nonce + tag).
	MinCiphertextLen = headerLen + NonceLen + TagLen
)

// hkdfInfo is fixed: every file encrypts under the same derived key, so the
// post-decrypt content-hash check remains an independent line of defense
// against swapped blobs.
const hkdfInfo = "privault-file-encryption-v1"

var (
	// ErrAuthentication indicates the ciphertext failed tag verification:
	// corruption, tampering, or the wrong key.
	ErrAuthentication = errors.New("crypto: ciphertext authentication failed")

	// ErrInvalidCiphertext indicates a truncated envelope or an unknown version.
	ErrInvalidCiphertext = errors.New("crypto: malformed ciphertext envelope")

	// ErrInvalidKey indicates the master key is not 32 bytes.
	ErrInvalidKey = errors.New("crypto: master key must be 32 bytes")
)

// Encryptor performs authenticated encryption under a key derived from the
// vault's master secret. It holds no per-operation state and is safe for
// concurrent use.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor derives the AES-256 key from masterKey via HKDF-SHA256.
func NewEncryptor(masterKey []byte) (*Encryptor, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(masterKey))
	}

	derived := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte(hkdfInfo)), derived); err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}

	return &Encryptor{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh random nonce. Identical plaintext
// never produces identical ciphertext.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	header := make([]byte, headerLen)
	header[0] = Version
	binary.BigEndian.PutUint64(header[1:], uint64(time.Now().Unix()))

	nonce := make([]byte, NonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}

	out := make([]byte, 0, MinCiphertextLen+len(plaintext))
	out = append(out, header...)
	out = append(out, nonce...)
	return e.aead.Seal(out, nonce, plaintext, header), nil
}

// Decrypt opens an envelope produced by Encrypt. It returns
// ErrAuthentication on any tag failure and never returns unauthenticated
// bytes.
func (e *Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < MinCiphertextLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidCiphertext, len(ciphertext))
	}
	if ciphertext[0] != Version {
		return nil, fmt.Errorf("%w: unknown version %#x", ErrInvalidCiphertext, ciphertext[0])
	}

	header := ciphertext[:headerLen]
	nonce := ciphertext[headerLen : headerLen+NonceLen]
	sealed := ciphertext[headerLen+NonceLen:]

	plaintext, err := e.aead.Open(nil, nonce, sealed, header)
	if err != nil {
		return nil, ErrAuthentication
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// CreatedAt extracts the envelope's creation timestamp without decrypting.
// The value is only authenticated once Decrypt succeeds.
func CreatedAt(ciphertext []byte) (time.Time, error) {
	if len(ciphertext) < MinCiphertextLen {
		return time.Time{}, fmt.Errorf("%w: %d bytes", ErrInvalidCiphertext, len(ciphertext))
	}
	return time.Unix(int64(binary.BigEndian.Uint64(ciphertext[1:headerLen])), 0), nil
}
