// Package heartbeat records node liveness. A node is alive iff its presence
// key exists; there is no stored "down" state. Node agents refresh the key on
// every heartbeat and absence is the only death signal.
package heartbeat

import (
	"context"
	"fmt"
	"time"

	"github.com/atlashq/atlas/internal/coordination"
)

type Registry struct {
	store coordination.Store
}

func NewRegistry(store coordination.Store) *Registry {
	if store == nil {
		panic("coordination store is required")
	}
	return &Registry{store: store}
}

// Record refreshes the node's presence key. Called by the node agent on each
// heartbeat interval with a TTL a few intervals long.
func (r *Registry) Record(ctx context.Context, nodeID string, ttl time.Duration) error {
	return r.store.Set(ctx, heartbeatKey(nodeID), "1", ttl)
}

// IsAlive is a pure function of current store state, which is what keeps the
// reconciler's sweep correct without state of its own.
func (r *Registry) IsAlive(ctx context.Context, nodeID string) (bool, error) {
	return r.store.Exists(ctx, heartbeatKey(nodeID))
}

func heartbeatKey(nodeID string) string {
	return fmt.Sprintf("node_heartbeat:%s", nodeID)
}
