// Package storage abstracts the external object store holding sandbox
// artifacts. The control plane only ever deletes objects (during org hard
// deletion); upload and download happen on the node side.
package storage

import "context"

type ObjectStore interface {
	Delete(ctx context.Context, key string) error
}

// NopStore ignores deletes. Used when no object store is configured and in
// tests.
type NopStore struct{}

func (NopStore) Delete(ctx context.Context, key string) error { return nil }
