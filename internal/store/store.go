package store

import (
	"context"
	"time"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Shares
	CreateShare(ctx context.Context, share *Share) error
	GetShare(ctx context.Context, id string) (*Share, error)
	IncrementShareViews(ctx context.Context, id string) (int64, error)
	ListShares(ctx context.Context, filter ShareFilter) ([]*Share, error)

	// Usage counters
	IncrementCounter(ctx context.Context, name string, delta int64) (int64, error)
	Counters(ctx context.Context) (map[string]int64, error)
	MarkUserActive(ctx context.Context, userID string) (bool, error)
	ActiveUsers(ctx context.Context) (int, error)
	SetPeak(ctx context.Context, candidate int64) (int64, error)
	ResetActiveUsers(ctx context.Context, at time.Time) error
	LastReset(ctx context.Context) (time.Time, error)

	// Newsletter subscribers
	AddSubscriber(ctx context.Context, sub *Subscriber) error
	CountSubscribers(ctx context.Context) (int, error)
	RecentSubscribers(ctx context.Context, limit int) ([]*Subscriber, error)

	// Secrets
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
