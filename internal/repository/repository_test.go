package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	atlasdb "github.com/atlashq/atlas/internal/db"
	"github.com/atlashq/atlas/internal/models"
	"github.com/atlashq/atlas/internal/provision"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, atlasdb.Migrate(gormDB))
	return gormDB
}

func seedSandbox(t *testing.T, db *gorm.DB, id, orgID, nodeID, status string, lastActive *time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&models.Sandbox{
		ID:           id,
		OrgID:        orgID,
		NodeID:       nodeID,
		Status:       status,
		LastActiveAt: lastActive,
	}).Error)
}

func TestSandboxRepository_GetActiveNodeIDs(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSandboxRepository(db)
	ctx := context.Background()

	seedSandbox(t, db, "s1", "org-1", "node-a", models.SandboxStatusRunning, nil)
	seedSandbox(t, db, "s2", "org-1", "node-a", models.SandboxStatusProvisioning, nil)
	seedSandbox(t, db, "s3", "org-1", "node-b", models.SandboxStatusStopped, nil)
	seedSandbox(t, db, "s4", "org-2", "node-c", models.SandboxStatusStopping, nil)
	seedSandbox(t, db, "s5", "org-2", "", models.SandboxStatusQueued, nil)

	nodeIDs, err := repo.GetActiveNodeIDs(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"node-a", "node-c"}, nodeIDs)
}

func TestSandboxRepository_FindRunningOnNodes(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSandboxRepository(db)
	ctx := context.Background()

	seedSandbox(t, db, "s1", "org-1", "node-a", models.SandboxStatusRunning, nil)
	seedSandbox(t, db, "s2", "org-1", "node-b", models.SandboxStatusRunning, nil)
	seedSandbox(t, db, "s3", "org-1", "node-b", models.SandboxStatusStopped, nil)

	sandboxes, err := repo.FindRunningOnNodes(ctx, []string{"node-b"})
	require.NoError(t, err)
	require.Len(t, sandboxes, 1)
	require.Equal(t, "s2", sandboxes[0].ID)

	sandboxes, err = repo.FindRunningOnNodes(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, sandboxes)
}

func TestSandboxRepository_FindIdleSince(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSandboxRepository(db)
	ctx := context.Background()

	now := time.Now()
	stale := now.Add(-20 * time.Minute)
	fresh := now.Add(-5 * time.Minute)
	seedSandbox(t, db, "s1", "org-1", "node-a", models.SandboxStatusRunning, &stale)
	seedSandbox(t, db, "s2", "org-1", "node-a", models.SandboxStatusRunning, &fresh)
	seedSandbox(t, db, "s3", "org-1", "node-a", models.SandboxStatusStopped, &stale)
	seedSandbox(t, db, "s4", "org-1", "node-a", models.SandboxStatusRunning, nil)

	idle, err := repo.FindIdleSince(ctx, now.Add(-15*time.Minute))
	require.NoError(t, err)
	require.Len(t, idle, 1)
	require.Equal(t, "s1", idle[0].ID)
}

func TestSandboxRepository_UpdateStatusGuard(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSandboxRepository(db)
	ctx := context.Background()

	seedSandbox(t, db, "s1", "org-1", "node-a", models.SandboxStatusRunning, nil)

	// Wrong org: no rows touched.
	require.NoError(t, repo.UpdateStatus(ctx, "s1", "org-2", models.SandboxStatusFailed, nil))
	var sandbox models.Sandbox
	require.NoError(t, db.First(&sandbox, "id = ?", "s1").Error)
	require.Equal(t, models.SandboxStatusRunning, sandbox.Status)

	endedAt := time.Now()
	require.NoError(t, repo.UpdateStatus(ctx, "s1", "org-1", models.SandboxStatusFailed, &StatusUpdate{
		EndedAt:       &endedAt,
		FailureReason: models.FailureReasonNodeLost,
	}))
	require.NoError(t, db.First(&sandbox, "id = ?", "s1").Error)
	require.Equal(t, models.SandboxStatusFailed, sandbox.Status)
	require.Equal(t, models.FailureReasonNodeLost, sandbox.FailureReason)
	require.NotNil(t, sandbox.EndedAt)
}

func TestSandboxRepository_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSandboxRepository(db)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, repo.Create(ctx, &models.Sandbox{
		ID:           "s1",
		OrgID:        "org-1",
		NodeID:       "node-a",
		SlotIndex:    2,
		Status:       models.SandboxStatusProvisioning,
		LastActiveAt: &now,
	}))

	sandbox, err := repo.GetByID(ctx, "s1", "org-1")
	require.NoError(t, err)
	require.Equal(t, "node-a", sandbox.NodeID)
	require.Equal(t, 2, sandbox.SlotIndex)

	// Reads are guarded by (id, org_id).
	_, err = repo.GetByID(ctx, "s1", "org-2")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestSandboxRepository_TouchActivity(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSandboxRepository(db)
	ctx := context.Background()

	stale := time.Now().Add(-time.Hour)
	seedSandbox(t, db, "s1", "org-1", "node-a", models.SandboxStatusRunning, &stale)

	require.NoError(t, repo.TouchActivity(ctx, "s1", "org-1"))

	sandbox, err := repo.GetByID(ctx, "s1", "org-1")
	require.NoError(t, err)
	require.NotNil(t, sandbox.LastActiveAt)
	require.True(t, sandbox.LastActiveAt.After(stale), "activity timestamp was not bumped")

	// A touched sandbox drops out of the idle query.
	idle, err := repo.FindIdleSince(ctx, time.Now().Add(-30*time.Minute))
	require.NoError(t, err)
	require.Empty(t, idle)

	// The wrong org must not bump anything.
	seedSandbox(t, db, "s2", "org-2", "node-a", models.SandboxStatusRunning, &stale)
	require.NoError(t, repo.TouchActivity(ctx, "s2", "org-1"))
	other, err := repo.GetByID(ctx, "s2", "org-2")
	require.NoError(t, err)
	require.WithinDuration(t, stale, *other.LastActiveAt, time.Second, "org guard was bypassed")
}

func TestMetricRepository_DeleteOlderThanIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMetricRepository(db)
	ctx := context.Background()

	old := time.Now().Add(-8 * 24 * time.Hour)
	recent := time.Now().Add(-1 * time.Hour)
	require.NoError(t, repo.Record(ctx, &models.Metric{SandboxID: "s1", Name: "cpu", Value: 0.4, RecordedAt: old}))
	require.NoError(t, repo.Record(ctx, &models.Metric{SandboxID: "s1", Name: "cpu", Value: 0.5, RecordedAt: recent}))

	cutoff := time.Now().Add(-7 * 24 * time.Hour)
	deleted, err := repo.DeleteOlderThan(ctx, cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	deleted, err = repo.DeleteOlderThan(ctx, cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 0, deleted)
}

func TestIdempotencyRepository_DeleteOlderThan(t *testing.T) {
	db := setupTestDB(t)
	repo := NewIdempotencyRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.IdempotencyKey{
		Key:       "idem-1",
		OrgID:     "org-1",
		CreatedAt: time.Now().Add(-25 * time.Hour),
	}))
	require.NoError(t, repo.Create(ctx, &models.IdempotencyKey{
		Key:       "idem-2",
		OrgID:     "org-1",
		CreatedAt: time.Now().Add(-1 * time.Hour),
	}))

	deleted, err := repo.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	deleted, err = repo.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 0, deleted)
}

func TestNodeRepository_ProvisionState(t *testing.T) {
	db := setupTestDB(t)
	repo := NewNodeRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.Node{ID: "node-1", Hostname: "w1", SlotCount: 8}))

	results, err := repo.LoadResults(ctx, "node-1")
	require.NoError(t, err)
	require.Empty(t, results)

	initial := []provision.StepResult{
		{ID: "s1", Status: provision.StepPending},
		{ID: "s2", Status: provision.StepPending},
	}
	require.NoError(t, repo.SaveResults(ctx, "node-1", initial))

	initial[0].Status = provision.StepCompleted
	initial[0].Output = "done\n"
	initial[1].Status = provision.StepFailed
	initial[1].Output = "boom\n"
	require.NoError(t, repo.SaveResults(ctx, "node-1", initial))

	results, err = repo.LoadResults(ctx, "node-1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, provision.StepCompleted, results[0].Status)
	require.Equal(t, provision.StepFailed, results[1].Status)
	require.Equal(t, "boom\n", results[1].Output)

	require.NoError(t, repo.SetNodeProvisionStatus(ctx, "node-1", provision.StatusFailed, `step "s2" failed with exit code 1`))
	status, reason, err := repo.GetProvisionStatus(ctx, "node-1")
	require.NoError(t, err)
	require.Equal(t, provision.StatusFailed, status)
	require.Contains(t, reason, "s2")
}
