package models

import "time"

const (
	SandboxStatusQueued       = "queued"
	SandboxStatusProvisioning = "provisioning"
	SandboxStatusRunning      = "running"
	SandboxStatusStopping     = "stopping"
	SandboxStatusStopped      = "stopped"
	SandboxStatusFailed       = "failed"
	SandboxStatusDeleted      = "deleted"
)

const (
	FailureReasonNodeLost    = "node_lost"
	FailureReasonIdleTimeout = "idle_timeout"
)

// ActiveSandboxStatuses are the statuses under which a sandbox still occupies
// capacity on its node.
var ActiveSandboxStatuses = []string{
	SandboxStatusProvisioning,
	SandboxStatusRunning,
	SandboxStatusStopping,
}

// Sandbox is one ephemeral VM instance placed on a node slot.
type Sandbox struct {
	ID            string     `gorm:"primaryKey;column:id" json:"id"`
	OrgID         string     `gorm:"index;column:org_id" json:"org_id"`
	NodeID        string     `gorm:"index;column:node_id" json:"node_id"`
	SlotIndex     int        `gorm:"column:slot_index" json:"slot_index"`
	Status        string     `gorm:"index;column:status" json:"status"`
	FailureReason string     `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	LastActiveAt  *time.Time `gorm:"column:last_active_at" json:"last_active_at,omitempty"`
	StartedAt     *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	EndedAt       *time.Time `gorm:"column:ended_at" json:"ended_at,omitempty"`
	CreatedAt     time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (Sandbox) TableName() string {
	return "sandboxes"
}
