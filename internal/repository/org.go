package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/atlashq/atlas/internal/models"
)

type OrgRepository struct {
	db *gorm.DB
}

func NewOrgRepository(db *gorm.DB) *OrgRepository {
	return &OrgRepository{db: db}
}

func (r *OrgRepository) Create(ctx context.Context, org *models.Org) error {
	return r.db.WithContext(ctx).Create(org).Error
}

// FindDeletedBefore returns orgs soft-deleted before cutoff, the candidates
// for hard deletion.
func (r *OrgRepository) FindDeletedBefore(ctx context.Context, cutoff time.Time) ([]models.Org, error) {
	var orgs []models.Org
	err := r.db.WithContext(ctx).
		Where("deleted_at IS NOT NULL AND deleted_at < ?", cutoff).
		Find(&orgs).Error
	if err != nil {
		return nil, err
	}
	return orgs, nil
}

// ListArtifacts returns the org's artifact rows, needed so object-storage
// deletes can run before the rows are dropped.
func (r *OrgRepository) ListArtifacts(ctx context.Context, orgID string) ([]models.Artifact, error) {
	var artifacts []models.Artifact
	err := r.db.WithContext(ctx).Where("org_id = ?", orgID).Find(&artifacts).Error
	if err != nil {
		return nil, err
	}
	return artifacts, nil
}

func (r *OrgRepository) DeleteArtifacts(ctx context.Context, orgID string) error {
	return r.db.WithContext(ctx).Where("org_id = ?", orgID).Delete(&models.Artifact{}).Error
}

func (r *OrgRepository) DeleteExecs(ctx context.Context, orgID string) error {
	return r.db.WithContext(ctx).Where("org_id = ?", orgID).Delete(&models.SandboxExec{}).Error
}

func (r *OrgRepository) DeleteSessions(ctx context.Context, orgID string) error {
	return r.db.WithContext(ctx).Where("org_id = ?", orgID).Delete(&models.SandboxSession{}).Error
}

func (r *OrgRepository) DeleteSandboxes(ctx context.Context, orgID string) error {
	return r.db.WithContext(ctx).Where("org_id = ?", orgID).Delete(&models.Sandbox{}).Error
}

func (r *OrgRepository) DeleteIdempotencyKeys(ctx context.Context, orgID string) error {
	return r.db.WithContext(ctx).Where("org_id = ?", orgID).Delete(&models.IdempotencyKey{}).Error
}

func (r *OrgRepository) DeleteQuotas(ctx context.Context, orgID string) error {
	return r.db.WithContext(ctx).Where("org_id = ?", orgID).Delete(&models.Quota{}).Error
}

func (r *OrgRepository) DeleteUsage(ctx context.Context, orgID string) error {
	return r.db.WithContext(ctx).Where("org_id = ?", orgID).Delete(&models.UsageRecord{}).Error
}

func (r *OrgRepository) DeleteOrg(ctx context.Context, orgID string) error {
	return r.db.WithContext(ctx).Where("id = ?", orgID).Delete(&models.Org{}).Error
}
