// Package vault encrypts platform tokens at rest and signs time-limited media links.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"golang.org/x/crypto/hkdf"
)

const (
	keySize = 32
	keyInfo = "archivist-vault"
)

// ErrDecryption is returned when a stored token cannot be recovered. It usually means the
// application secret was rotated after the token was stored.
var ErrDecryption = errors.New("vault: decryption failed")

// Vault holds the working key derived from the application secret.
type Vault struct {
	key  []byte
	aead cipher.AEAD
	now  func() time.Time
}

// SignedURL carries the query parameters of a signed media link.
type SignedURL struct {
	ExpiresAt int64
	Signature string
}

// New derives a fixed-length key from secret. Secrets of any length map to a 32-byte key.
func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, errors.New("vault: empty secret")
	}

	key, err := deriveKey([]byte(secret))
	if err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: create gcm: %w", err)
	}

	return &Vault{key: key, aead: aead, now: time.Now}, nil
}

func deriveKey(secret []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, []byte(keyInfo))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt seals plaintext under a fresh nonce and returns base64(nonce || ciphertext).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Every failure wraps ErrDecryption.
func (v *Vault) Decrypt(blob string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64", ErrDecryption)
	}

	nonceSize := v.aead.NonceSize()
	if len(data) < nonceSize+v.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryption)
	}

	plaintext, err := v.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return string(plaintext), nil
}

// SignMediaURL signs mediaID for ttl from now.
func (v *Vault) SignMediaURL(mediaID uint, ttl time.Duration) SignedURL {
	expires := v.now().Add(ttl).Unix()
	return SignedURL{ExpiresAt: expires, Signature: v.sign(mediaID, expires)}
}

// VerifyMediaURL checks the signature and rejects links past their expiry.
func (v *Vault) VerifyMediaURL(mediaID uint, expiresAt int64, signature string) bool {
	if v.now().Unix() > expiresAt {
		return false
	}
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	got, _ := hex.DecodeString(v.sign(mediaID, expiresAt))
	return hmac.Equal(got, want)
}

func (v *Vault) sign(mediaID uint, expiresAt int64) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(strconv.FormatUint(uint64(mediaID), 10) + ":" + strconv.FormatInt(expiresAt, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
