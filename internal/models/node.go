package models

import "time"

// Node is a bare-metal worker server hosting sandbox slots.
type Node struct {
	ID              string    `gorm:"primaryKey;column:id"`
	Hostname        string    `gorm:"column:hostname"`
	SSHAddr         string    `gorm:"column:ssh_addr"`
	SSHUser         string    `gorm:"column:ssh_user"`
	SlotCount       int       `gorm:"column:slot_count"`
	ProvisionStatus string    `gorm:"column:provision_status"`
	FailureReason   string    `gorm:"column:failure_reason"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

func (Node) TableName() string {
	return "nodes"
}
