package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// Placeholder replaces content that could not be opened for a recipient.
// Delivery proceeds with the placeholder instead of failing the fan-out.
const Placeholder = "[message unavailable]"

// ErrOpenFailed indicates a key/ciphertext mismatch or tampering.
var ErrOpenFailed = errors.New("unable to open sealed content")

// NewKey returns a fresh 256-bit symmetric key.
func NewKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext with AES-GCM and returns base64(nonce || ciphertext).
// The authenticated mode makes any tampering detectable on open.
func Seal(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("seal: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("seal: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("seal: %w", err)
	}

	out := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts content produced by Seal.
func Open(key []byte, sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrOpenFailed
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", ErrOpenFailed
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrOpenFailed
	}
	if len(raw) < gcm.NonceSize() {
		return "", ErrOpenFailed
	}

	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrOpenFailed
	}
	return string(plaintext), nil
}

// OpenOrPlaceholder opens sealed content, substituting the opaque placeholder
// when the key does not match or the ciphertext is corrupted.
func OpenOrPlaceholder(key []byte, sealed string) string {
	plaintext, err := Open(key, sealed)
	if err != nil {
		return Placeholder
	}
	return plaintext
}

// Reseal opens content with from and seals it again with to. Used for the
// per-recipient leg of an encrypted fan-out. A failed open yields the
// placeholder sealed under the recipient key so delivery still proceeds.
func Reseal(from, to []byte, sealed string) (string, error) {
	return Seal(to, OpenOrPlaceholder(from, sealed))
}
