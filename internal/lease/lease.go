// Package lease binds (node, slot) pairs to sandboxes through the
// coordination store. A lease is exclusive by construction: acquisition is a
// create-only write, so concurrent callers racing on the same slot produce
// exactly one winner. TTL expiry means a crashed holder's lease self-heals
// without any cleanup process.
package lease

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/atlashq/atlas/internal/coordination"
)

type Manager struct {
	store coordination.Store
}

func NewManager(store coordination.Store) *Manager {
	if store == nil {
		panic("coordination store is required")
	}
	return &Manager{store: store}
}

// Acquire attempts to bind the slot to sandboxID for ttl. It returns true iff
// the caller now holds the lease. Losing is not an error: the caller picks a
// different slot or retries later.
func (m *Manager) Acquire(ctx context.Context, nodeID string, slot int, sandboxID string, ttl time.Duration) (bool, error) {
	if slot < 0 {
		return false, fmt.Errorf("slot index must be non-negative, got %d", slot)
	}
	acquired, err := m.store.SetIfAbsent(ctx, slotKey(nodeID, slot), sandboxID, ttl)
	if err != nil || !acquired {
		return acquired, err
	}
	// Membership in the per-node index is advisory; the lease key itself
	// stays the source of truth, so an index write failure does not undo
	// the acquisition.
	_, _ = m.store.AddToSet(ctx, indexKey(nodeID), strconv.Itoa(slot))
	return true, nil
}

// Release frees the slot unconditionally. Releasing an already-expired or
// absent lease is a no-op.
func (m *Manager) Release(ctx context.Context, nodeID string, slot int) error {
	if err := m.store.Delete(ctx, slotKey(nodeID, slot)); err != nil {
		return err
	}
	return m.store.RemoveFromSet(ctx, indexKey(nodeID), strconv.Itoa(slot))
}

// Renew extends the lease's TTL. It returns false if the lease expired in the
// meantime; the caller must treat the lease as lost and re-acquire rather
// than assume the renewal took.
func (m *Manager) Renew(ctx context.Context, nodeID string, slot int, ttl time.Duration) (bool, error) {
	return m.store.RefreshTTL(ctx, slotKey(nodeID, slot), ttl)
}

// Held reports whether the slot currently has a live lease.
func (m *Manager) Held(ctx context.Context, nodeID string, slot int) (bool, error) {
	return m.store.Exists(ctx, slotKey(nodeID, slot))
}

// CountActiveLeases reports how many of the node's slots hold a live lease.
// The per-node index can lag reality: leases expire by TTL without touching
// it. Each count verifies every indexed slot against its lease key and prunes
// entries whose lease is gone, so the index converges instead of growing.
func (m *Manager) CountActiveLeases(ctx context.Context, nodeID string) (int, error) {
	members, err := m.store.SetMembers(ctx, indexKey(nodeID))
	if err != nil {
		return 0, err
	}

	active := 0
	var stale []string
	for _, member := range members {
		slot, err := strconv.Atoi(member)
		if err != nil {
			stale = append(stale, member)
			continue
		}
		held, err := m.store.Exists(ctx, slotKey(nodeID, slot))
		if err != nil {
			return 0, err
		}
		if held {
			active++
		} else {
			stale = append(stale, member)
		}
	}
	if len(stale) > 0 {
		if err := m.store.RemoveFromSet(ctx, indexKey(nodeID), stale...); err != nil {
			return active, err
		}
	}
	return active, nil
}

func slotKey(nodeID string, slot int) string {
	return fmt.Sprintf("slot:%s:%d", nodeID, slot)
}

func indexKey(nodeID string) string {
	return fmt.Sprintf("node_slots:%s", nodeID)
}
