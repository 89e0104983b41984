package envelope

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	keySize   = 32
	nonceSize = 12

	// DefaultMaxClockSkew bounds how far a signing timestamp may drift from now.
	DefaultMaxClockSkew = 300 * time.Second
)

var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrTimestampSkew     = errors.New("timestamp outside allowed window")
	ErrSignatureMismatch = errors.New("signature mismatch")
)

// AESGCMProvider is an in-process Provider: AES-256-GCM with a random 12-byte nonce
// prefixed to the ciphertext, base64 encoded, and HMAC-SHA256 signatures over the
// data followed by the little-endian timestamp.
//
// Keys are used as UTF-8 bytes, zero-padded or truncated to 32 bytes.
type AESGCMProvider struct {
	MaxClockSkew time.Duration
	now          func() time.Time
}

// NewAESGCMProvider returns a provider with the default clock skew window.
func NewAESGCMProvider() *AESGCMProvider {
	return &AESGCMProvider{MaxClockSkew: DefaultMaxClockSkew, now: time.Now}
}

func deriveKey(key string) []byte {
	derived := make([]byte, keySize)
	copy(derived, key)
	return derived
}

func newGCM(key string) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(key))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under key.
func (p *AESGCMProvider) Encrypt(_ context.Context, plaintext, key string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (p *AESGCMProvider) Decrypt(_ context.Context, ciphertext, key string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(data) < nonceSize {
		return "", ErrInvalidCiphertext
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plaintext), nil
}

// Sign authenticates data and timestamp. Timestamps outside MaxClockSkew are rejected.
func (p *AESGCMProvider) Sign(_ context.Context, data string, timestamp int64, key string) (string, error) {
	if !p.withinSkew(timestamp) {
		return "", ErrTimestampSkew
	}
	return base64.StdEncoding.EncodeToString(mac(data, timestamp, key)), nil
}

// Verify checks a signature produced by Sign, including the timestamp window.
func (p *AESGCMProvider) Verify(data string, timestamp int64, signature, key string) error {
	if !p.withinSkew(timestamp) {
		return ErrTimestampSkew
	}
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || !hmac.Equal(got, mac(data, timestamp, key)) {
		return ErrSignatureMismatch
	}
	return nil
}

func (p *AESGCMProvider) withinSkew(timestamp int64) bool {
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	skew := p.MaxClockSkew
	if skew <= 0 {
		skew = DefaultMaxClockSkew
	}
	diff := now().Unix() - timestamp
	if diff < 0 {
		diff = -diff
	}
	return time.Duration(diff)*time.Second <= skew
}

func mac(data string, timestamp int64, key string) []byte {
	h := hmac.New(sha256.New, deriveKey(key))
	h.Write([]byte(data))
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(timestamp))
	h.Write(ts[:])
	return h.Sum(nil)
}

// GenerateKey returns a base64-encoded 32-byte random key.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
