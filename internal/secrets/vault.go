package secrets

import (
	"context"
	"errors"

	"github.com/rendis/flowsketch/pkg/schema"
)

// APIKeyName is the vault entry holding the Gemini API key.
const APIKeyName = "gemini_api_key"

// Vault stores secrets encrypted at rest and decrypts them on demand.
type Vault interface {
	Resolve(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// SecretStore is the minimal persistence interface needed by the vault.
// Satisfied by store.Store.
type SecretStore interface {
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)
}

// ResolveAPIKey returns override when set, otherwise the key stored in the
// vault. A missing vault entry yields "" without error.
func ResolveAPIKey(ctx context.Context, v Vault, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if v == nil {
		return "", nil
	}
	raw, err := v.Resolve(ctx, APIKeyName)
	var fe *schema.FlowsketchError
	if errors.As(err, &fe) && fe.Code == schema.ErrCodeNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
