package models

import "time"

// Org is a tenant. Deletion is soft at first; the hard-delete sweeper purges
// orgs whose DeletedAt is older than the retention window. The column is a
// plain timestamp rather than gorm's soft-delete type so queries over deleted
// rows stay explicit.
type Org struct {
	ID        string     `gorm:"primaryKey;column:id"`
	Name      string     `gorm:"column:name"`
	DeletedAt *time.Time `gorm:"index;column:deleted_at"`
	CreatedAt time.Time  `gorm:"column:created_at"`
	UpdatedAt time.Time  `gorm:"column:updated_at"`
}

func (Org) TableName() string {
	return "orgs"
}

type Quota struct {
	ID       uint   `gorm:"primaryKey;autoIncrement;column:id"`
	OrgID    string `gorm:"index;column:org_id"`
	Category string `gorm:"column:category"`
	Limit    int    `gorm:"column:limit_value"`
}

func (Quota) TableName() string {
	return "quotas"
}

type UsageRecord struct {
	ID          uint      `gorm:"primaryKey;autoIncrement;column:id"`
	OrgID       string    `gorm:"index;column:org_id"`
	Metric      string    `gorm:"column:metric"`
	Amount      int64     `gorm:"column:amount"`
	PeriodStart time.Time `gorm:"column:period_start"`
}

func (UsageRecord) TableName() string {
	return "usage_records"
}
