package envelope

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/polisai/securehttp/pkg/domain"
)

// MockProvider records capability calls.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Encrypt(ctx context.Context, plaintext, key string) (string, error) {
	args := m.Called(ctx, plaintext, key)
	return args.String(0), args.Error(1)
}

func (m *MockProvider) Decrypt(ctx context.Context, ciphertext, key string) (string, error) {
	args := m.Called(ctx, ciphertext, key)
	return args.String(0), args.Error(1)
}

func (m *MockProvider) Sign(ctx context.Context, data string, timestamp int64, key string) (string, error) {
	args := m.Called(ctx, data, timestamp, key)
	return args.String(0), args.Error(1)
}

// reverseProvider is a reversible stub: "encryption" reverses the string.
type reverseProvider struct{}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

func (reverseProvider) Encrypt(_ context.Context, plaintext, key string) (string, error) {
	return key + ":" + reverse(plaintext), nil
}

func (reverseProvider) Decrypt(_ context.Context, ciphertext, key string) (string, error) {
	rest, ok := strings.CutPrefix(ciphertext, key+":")
	if !ok {
		return "", errors.New("wrong key")
	}
	return reverse(rest), nil
}

func (reverseProvider) Sign(_ context.Context, data string, timestamp int64, key string) (string, error) {
	return "sig", nil
}

var uuidV4 = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

func TestGenerateNonce_IsUUIDv4(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		n := GenerateNonce()
		assert.Regexp(t, uuidV4, n)
		assert.False(t, seen[n], "nonce repeated")
		seen[n] = true
	}
}

func TestSealer_Seal_EncryptThenSign(t *testing.T) {
	provider := &MockProvider{}
	sealer := NewSealer(provider)
	sealer.now = func() time.Time { return time.Unix(1700000000, 0) }
	sealer.nonce = func() string { return "nonce-1" }

	ctx := context.Background()
	encrypt := provider.On("Encrypt", ctx, `{"a":1}`, "k").Return("cipher", nil).Once()
	provider.On("Sign", ctx, "cipher", int64(1700000000), "k").Return("signature", nil).Once().NotBefore(encrypt)

	env, err := sealer.Seal(ctx, map[string]any{"a": 1}, "k")
	require.NoError(t, err)

	assert.Equal(t, &Envelope{Data: "cipher", Timestamp: 1700000000, Signature: "signature", Nonce: "nonce-1"}, env)
	provider.AssertExpectations(t)
	provider.AssertNotCalled(t, "Decrypt", mock.Anything, mock.Anything, mock.Anything)
}

func TestSealer_WireShape(t *testing.T) {
	raw, err := json.Marshal(&Envelope{Data: "c", Timestamp: 5, Signature: "s", Nonce: "n"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":"c","timestamp":5,"signature":"s","nonce":"n"}`, string(raw))
}

func TestSealer_MissingProvider(t *testing.T) {
	sealer := NewSealer(nil)

	_, err := sealer.Seal(context.Background(), map[string]any{"a": 1}, "k")
	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "encrypt", cfgErr.Capability)

	_, found, err := sealer.Open(context.Background(), map[string]any{"data": "x"}, "k")
	assert.True(t, found)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "decrypt", cfgErr.Capability)
}

func TestSealer_ProviderFailureIsGeneric(t *testing.T) {
	provider := &MockProvider{}
	provider.On("Encrypt", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("native: key handle 0x7f invalid"))

	_, err := NewSealer(provider).Seal(context.Background(), "body", "k")
	require.ErrorIs(t, err, domain.ErrCrypto)
	assert.Equal(t, "failed to encrypt request", err.Error())
	provider.AssertNotCalled(t, "Sign", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSealer_OpenWithoutEnvelopeField(t *testing.T) {
	provider := &MockProvider{}
	body := map[string]any{"plain": true}

	got, found, err := NewSealer(provider).Open(context.Background(), body, "k")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, body, got)
	provider.AssertNotCalled(t, "Decrypt", mock.Anything, mock.Anything, mock.Anything)
}

func TestSealer_OpenIgnoresCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &MockProvider{}
	provider.On("Decrypt", mock.MatchedBy(func(c context.Context) bool { return c.Err() == nil }), "cipher", "k").
		Return(`{"ok":true}`, nil).Once()

	got, found, err := NewSealer(provider).Open(ctx, map[string]any{"data": "cipher"}, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, map[string]any{"ok": true}, got)
	provider.AssertExpectations(t)
}

func TestSealer_RoundTripWithStub(t *testing.T) {
	sealer := NewSealer(reverseProvider{})
	ctx := context.Background()

	env, err := sealer.Seal(ctx, map[string]any{"user": "ana", "n": 3.0}, "secret")
	require.NoError(t, err)

	got, found, err := sealer.Open(ctx, map[string]any{"data": env.Data}, "secret")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, map[string]any{"user": "ana", "n": 3.0}, got)
}

func TestSealerRoundTripProperties(t *testing.T) {
	sealer := NewSealer(NewAESGCMProvider())
	rapid.Check(t, func(t *rapid.T) {
		key := rapid.StringMatching(`[a-zA-Z0-9]{1,40}`).Draw(t, "key")
		payload := rapid.MapOf(rapid.StringMatching(`[a-z]{1,8}`), rapid.StringMatching(`[a-zA-Z0-9 ]{0,20}`)).Draw(t, "payload")

		env, err := sealer.Seal(context.Background(), payload, key)
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		got, found, err := sealer.Open(context.Background(), map[string]any{"data": env.Data}, key)
		if err != nil || !found {
			t.Fatalf("open: found=%v err=%v", found, err)
		}

		want := make(map[string]any, len(payload))
		for k, v := range payload {
			want[k] = v
		}
		assert.Equal(t, want, got)
	})
}
