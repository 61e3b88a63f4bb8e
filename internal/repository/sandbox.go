package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/atlashq/atlas/internal/models"
)

type SandboxRepository struct {
	db *gorm.DB
}

func NewSandboxRepository(db *gorm.DB) *SandboxRepository {
	return &SandboxRepository{db: db}
}

// GetActiveNodeIDs returns the distinct nodes currently hosting any
// non-terminal sandbox. The reconciler probes liveness for exactly this set.
func (r *SandboxRepository) GetActiveNodeIDs(ctx context.Context) ([]string, error) {
	var nodeIDs []string
	err := r.db.WithContext(ctx).
		Model(&models.Sandbox{}).
		Distinct("node_id").
		Where("status IN ?", models.ActiveSandboxStatuses).
		Where("node_id <> ''").
		Pluck("node_id", &nodeIDs).Error
	if err != nil {
		return nil, err
	}
	return nodeIDs, nil
}

// FindRunningOnNodes returns sandboxes in an active status placed on any of
// the given nodes.
func (r *SandboxRepository) FindRunningOnNodes(ctx context.Context, nodeIDs []string) ([]models.Sandbox, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}
	var sandboxes []models.Sandbox
	err := r.db.WithContext(ctx).
		Where("node_id IN ?", nodeIDs).
		Where("status IN ?", models.ActiveSandboxStatuses).
		Find(&sandboxes).Error
	if err != nil {
		return nil, err
	}
	return sandboxes, nil
}

// FindIdleSince returns running sandboxes with no activity since cutoff.
func (r *SandboxRepository) FindIdleSince(ctx context.Context, cutoff time.Time) ([]models.Sandbox, error) {
	var sandboxes []models.Sandbox
	err := r.db.WithContext(ctx).
		Where("status = ?", models.SandboxStatusRunning).
		Where("last_active_at IS NOT NULL AND last_active_at < ?", cutoff).
		Find(&sandboxes).Error
	if err != nil {
		return nil, err
	}
	return sandboxes, nil
}

// StatusUpdate carries the optional fields of a status transition.
type StatusUpdate struct {
	EndedAt       *time.Time
	FailureReason string
}

// UpdateStatus transitions a sandbox's status, guarded by (id, org_id) so a
// caller can never move another tenant's sandbox.
func (r *SandboxRepository) UpdateStatus(ctx context.Context, id, orgID, status string, extra *StatusUpdate) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if extra != nil {
		if extra.EndedAt != nil {
			updates["ended_at"] = extra.EndedAt
		}
		if extra.FailureReason != "" {
			updates["failure_reason"] = extra.FailureReason
		}
	}
	return r.db.WithContext(ctx).
		Model(&models.Sandbox{}).
		Where("id = ? AND org_id = ?", id, orgID).
		Updates(updates).Error
}

// Create inserts a sandbox row. Used by the API layer after placement.
func (r *SandboxRepository) Create(ctx context.Context, sandbox *models.Sandbox) error {
	return r.db.WithContext(ctx).Create(sandbox).Error
}

// GetByID fetches a sandbox guarded by (id, org_id).
func (r *SandboxRepository) GetByID(ctx context.Context, id, orgID string) (*models.Sandbox, error) {
	var sandbox models.Sandbox
	if err := r.db.WithContext(ctx).First(&sandbox, "id = ? AND org_id = ?", id, orgID).Error; err != nil {
		return nil, err
	}
	return &sandbox, nil
}

// TouchActivity bumps the sandbox's last-activity timestamp.
func (r *SandboxRepository) TouchActivity(ctx context.Context, id, orgID string) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&models.Sandbox{}).
		Where("id = ? AND org_id = ?", id, orgID).
		Updates(map[string]interface{}{"last_active_at": &now, "updated_at": now}).Error
}
