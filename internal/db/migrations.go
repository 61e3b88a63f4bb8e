package db

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/atlashq/atlas/internal/models"
)

func Migrations() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		{
			ID: "20250512_create_core_tables",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(
					&models.Org{},
					&models.Node{},
					&models.Sandbox{},
				)
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("sandboxes", "nodes", "orgs")
			},
		},
		{
			ID: "20250601_create_sandbox_children",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(
					&models.Artifact{},
					&models.SandboxExec{},
					&models.SandboxSession{},
					&models.Metric{},
				)
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("artifacts", "sandbox_execs", "sandbox_sessions", "metrics")
			},
		},
		{
			ID: "20250619_create_idempotency_and_quotas",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(
					&models.IdempotencyKey{},
					&models.Quota{},
					&models.UsageRecord{},
				)
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("idempotency_keys", "quotas", "usage_records")
			},
		},
		{
			ID: "20250703_create_provision_steps",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&models.ProvisionStepRecord{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("provision_steps")
			},
		},
	}
}
