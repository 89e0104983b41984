package envelope

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/polisai/securehttp/pkg/domain"
)

// Provider is the external crypto capability set.
type Provider interface {
	Encrypt(ctx context.Context, plaintext, key string) (string, error)
	Decrypt(ctx context.Context, ciphertext, key string) (string, error)
	Sign(ctx context.Context, data string, timestamp int64, key string) (string, error)
}

// Envelope replaces the plaintext body on the wire when crypto is enabled.
type Envelope struct {
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
	Nonce     string `json:"nonce"`
}

// GenerateNonce returns a UUID-v4 shaped nonce carrying 122 random bits.
func GenerateNonce() string {
	return uuid.NewString()
}

// Sealer builds and opens envelopes through a Provider.
type Sealer struct {
	provider Provider
	now      func() time.Time
	nonce    func() string
}

// NewSealer creates a Sealer. A nil provider is accepted so that clients without
// crypto can be built; the first Seal or Open then fails with a ConfigurationError.
func NewSealer(provider Provider) *Sealer {
	return &Sealer{
		provider: provider,
		now:      time.Now,
		nonce:    GenerateNonce,
	}
}

// Seal JSON-encodes body, encrypts it, then signs the ciphertext with the current
// Unix-seconds timestamp.
func (s *Sealer) Seal(ctx context.Context, body any, key string) (*Envelope, error) {
	if s.provider == nil {
		return nil, &domain.ConfigurationError{Capability: "encrypt"}
	}

	plaintext, err := json.Marshal(body)
	if err != nil {
		return nil, domain.NewCryptoError("encrypt", err)
	}

	timestamp := s.now().Unix()
	nonce := s.nonce()

	ciphertext, err := s.provider.Encrypt(ctx, string(plaintext), key)
	if err != nil {
		return nil, domain.NewCryptoError("encrypt", err)
	}
	signature, err := s.provider.Sign(ctx, ciphertext, timestamp, key)
	if err != nil {
		return nil, domain.NewCryptoError("encrypt", err)
	}

	return &Envelope{
		Data:      ciphertext,
		Timestamp: timestamp,
		Signature: signature,
		Nonce:     nonce,
	}, nil
}

// Ciphertext returns the envelope field of a decoded response body, if any.
func Ciphertext(body any) (string, bool) {
	switch v := body.(type) {
	case map[string]any:
		data, ok := v["data"].(string)
		return data, ok && data != ""
	case *Envelope:
		if v == nil {
			return "", false
		}
		return v.Data, v.Data != ""
	}
	return "", false
}

// Open decrypts the envelope field of body and decodes the plaintext as JSON.
// The second return value is false when body carries no envelope field. Decryption
// ignores ctx cancellation: once started it runs to completion.
func (s *Sealer) Open(ctx context.Context, body any, key string) (any, bool, error) {
	ciphertext, ok := Ciphertext(body)
	if !ok {
		return body, false, nil
	}
	if s.provider == nil {
		return nil, true, &domain.ConfigurationError{Capability: "decrypt"}
	}

	plaintext, err := s.provider.Decrypt(context.WithoutCancel(ctx), ciphertext, key)
	if err != nil {
		return nil, true, domain.NewCryptoError("decrypt", err)
	}

	var decoded any
	if err := json.Unmarshal([]byte(plaintext), &decoded); err != nil {
		return nil, true, domain.NewCryptoError("decrypt", err)
	}
	return decoded, true, nil
}
