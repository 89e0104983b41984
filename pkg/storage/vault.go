// Package storage provides key storage for the crypto envelope.
// It mirrors the storeKey/getKey/removeKey/clearStorage capability of the
// platform keystore so that callers can swap in an in-memory implementation.
package storage

import (
	"context"
	"errors"
)

// DefaultKeyName is the slot GetOrCreateKey uses for the envelope key.
const DefaultKeyName = "CRYPTO_KEY"

// ErrKeyNotFound is returned when a requested key does not exist in the store.
var ErrKeyNotFound = errors.New("key not found")

// KeyStore manages opaque key material by name.
type KeyStore interface {
	StoreKey(ctx context.Context, name, value string) error
	// GetKey returns ErrKeyNotFound for unknown names.
	GetKey(ctx context.Context, name string) (string, error)
	RemoveKey(ctx context.Context, name string) error
	ClearStorage(ctx context.Context) error
}

// GetOrCreateKey returns the key stored under DefaultKeyName, generating and
// storing a new one when absent.
func GetOrCreateKey(ctx context.Context, store KeyStore, generate func() (string, error)) (string, error) {
	key, err := store.GetKey(ctx, DefaultKeyName)
	if err == nil && key != "" {
		return key, nil
	}
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return "", err
	}

	key, err = generate()
	if err != nil {
		return "", err
	}
	if err := store.StoreKey(ctx, DefaultKeyName, key); err != nil {
		return "", err
	}
	return key, nil
}
