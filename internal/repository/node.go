package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atlashq/atlas/internal/models"
	"github.com/atlashq/atlas/internal/provision"
)

type NodeRepository struct {
	db *gorm.DB
}

func NewNodeRepository(db *gorm.DB) *NodeRepository {
	return &NodeRepository{db: db}
}

func (r *NodeRepository) Create(ctx context.Context, node *models.Node) error {
	return r.db.WithContext(ctx).Create(node).Error
}

func (r *NodeRepository) GetByID(ctx context.Context, id string) (*models.Node, error) {
	var node models.Node
	if err := r.db.WithContext(ctx).First(&node, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &node, nil
}

// LoadResults implements provision.StateStore. Results come back in step
// order; an empty slice means the node has never been provisioned.
func (r *NodeRepository) LoadResults(ctx context.Context, nodeID string) ([]provision.StepResult, error) {
	var records []models.ProvisionStepRecord
	err := r.db.WithContext(ctx).
		Where("node_id = ?", nodeID).
		Order("step_index").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	results := make([]provision.StepResult, len(records))
	for i, rec := range records {
		results[i] = provision.StepResult{ID: rec.StepID, Status: rec.Status, Output: rec.Output}
	}
	return results, nil
}

// SaveResults implements provision.StateStore. Upserts keyed on
// (node_id, step_index) so repeated saves during a run stay one row per step.
func (r *NodeRepository) SaveResults(ctx context.Context, nodeID string, results []provision.StepResult) error {
	now := time.Now()
	records := make([]models.ProvisionStepRecord, len(results))
	for i, res := range results {
		records[i] = models.ProvisionStepRecord{
			NodeID:    nodeID,
			StepIndex: i,
			StepID:    res.ID,
			Status:    res.Status,
			Output:    res.Output,
			UpdatedAt: now,
		}
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "node_id"}, {Name: "step_index"}},
			UpdateAll: true,
		}).
		Create(&records).Error
}

// SetNodeProvisionStatus implements provision.StateStore.
func (r *NodeRepository) SetNodeProvisionStatus(ctx context.Context, nodeID, status, failureReason string) error {
	return r.db.WithContext(ctx).
		Model(&models.Node{}).
		Where("id = ?", nodeID).
		Updates(map[string]interface{}{
			"provision_status": status,
			"failure_reason":   failureReason,
			"updated_at":       time.Now(),
		}).Error
}

// NodeAddr implements nodeclient.AddrLookup. The hostname doubles as the node
// daemon's HTTP address.
func (r *NodeRepository) NodeAddr(ctx context.Context, nodeID string) (string, error) {
	node, err := r.GetByID(ctx, nodeID)
	if err != nil {
		return "", err
	}
	return node.Hostname, nil
}

func (r *NodeRepository) GetProvisionStatus(ctx context.Context, nodeID string) (string, string, error) {
	node, err := r.GetByID(ctx, nodeID)
	if err != nil {
		return "", "", err
	}
	return node.ProvisionStatus, node.FailureReason, nil
}
