package coordination

import (
	"context"
	"time"
)

// Store is the shared coordination primitive the control plane is built on.
// Every mutation is atomic on its own; callers from any number of processes
// may race on the same key and the store is the source of mutual exclusion,
// not application logic.
type Store interface {
	// SetIfAbsent is an atomic create-only write. It returns true iff this
	// call created the key.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Set writes the key unconditionally, creating or refreshing it.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// RefreshTTL extends the key's TTL. Returns true iff the key existed.
	RefreshTTL(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)

	AddToSortedSet(ctx context.Context, key string, score float64, member string) error
	RemoveRangeByScore(ctx context.Context, key string, min, max float64) error
	RemoveFromSortedSet(ctx context.Context, key, member string) error
	CountSortedSet(ctx context.Context, key string) (int64, error)
	SetSortedSetTTL(ctx context.Context, key string, ttl time.Duration) error

	AddToSet(ctx context.Context, key string, members ...string) (int64, error)
	RemoveFromSet(ctx context.Context, key string, members ...string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	SetCardinality(ctx context.Context, key string) (int64, error)

	// SlideWindow prunes sorted-set entries with score strictly below cutoff,
	// inserts member at score, refreshes the key's TTL, and returns the
	// resulting cardinality, all as one atomic unit. Admission decisions
	// depend on this sequence not interleaving with concurrent callers.
	SlideWindow(ctx context.Context, key string, cutoff, score float64, member string, ttl time.Duration) (int64, error)
}
