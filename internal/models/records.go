package models

import "time"

// Artifact is a file produced inside a sandbox and persisted to object
// storage. StorageKey is the object's key in the external store.
type Artifact struct {
	ID         string    `gorm:"primaryKey;column:id"`
	OrgID      string    `gorm:"index;column:org_id"`
	SandboxID  string    `gorm:"index;column:sandbox_id"`
	StorageKey string    `gorm:"column:storage_key"`
	SizeBytes  int64     `gorm:"column:size_bytes"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (Artifact) TableName() string {
	return "artifacts"
}

// SandboxExec is one command execution inside a sandbox.
type SandboxExec struct {
	ID        string    `gorm:"primaryKey;column:id"`
	OrgID     string    `gorm:"index;column:org_id"`
	SandboxID string    `gorm:"index;column:sandbox_id"`
	Command   string    `gorm:"column:command"`
	ExitCode  int       `gorm:"column:exit_code"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (SandboxExec) TableName() string {
	return "sandbox_execs"
}

// SandboxSession is an interactive attach to a sandbox.
type SandboxSession struct {
	ID        string    `gorm:"primaryKey;column:id"`
	OrgID     string    `gorm:"index;column:org_id"`
	SandboxID string    `gorm:"index;column:sandbox_id"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (SandboxSession) TableName() string {
	return "sandbox_sessions"
}

// IdempotencyKey pins a mutating request to its first outcome so retries are
// applied at most once.
type IdempotencyKey struct {
	Key          string    `gorm:"primaryKey;column:key"`
	OrgID        string    `gorm:"index;column:org_id"`
	RequestHash  string    `gorm:"column:request_hash"`
	ResponseBody string    `gorm:"column:response_body"`
	CreatedAt    time.Time `gorm:"index;column:created_at"`
}

func (IdempotencyKey) TableName() string {
	return "idempotency_keys"
}

// Metric is one sampled data point for a sandbox.
type Metric struct {
	ID         uint      `gorm:"primaryKey;autoIncrement;column:id"`
	SandboxID  string    `gorm:"index;column:sandbox_id"`
	Name       string    `gorm:"column:name"`
	Value      float64   `gorm:"column:value"`
	RecordedAt time.Time `gorm:"index;column:recorded_at"`
}

func (Metric) TableName() string {
	return "metrics"
}

// ProvisionStepRecord is the persisted per-step state of a node provisioning
// run. One row per (node, step index).
type ProvisionStepRecord struct {
	NodeID    string    `gorm:"primaryKey;column:node_id"`
	StepIndex int       `gorm:"primaryKey;autoIncrement:false;column:step_index"`
	StepID    string    `gorm:"column:step_id"`
	Name      string    `gorm:"column:name"`
	Status    string    `gorm:"column:status"`
	Output    string    `gorm:"column:output"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (ProvisionStepRecord) TableName() string {
	return "provision_steps"
}
