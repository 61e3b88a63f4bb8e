package worker

import (
	"context"
	"log"
	"time"

	"github.com/atlashq/atlas/internal/events"
	"github.com/atlashq/atlas/internal/models"
	"github.com/atlashq/atlas/internal/nodeclient"
	"github.com/atlashq/atlas/internal/repository"
	"github.com/atlashq/atlas/internal/storage"
)

// Default retention windows.
const (
	DefaultIdleTimeout          = 15 * time.Minute
	DefaultMetricsRetention     = 7 * 24 * time.Hour
	DefaultIdempotencyRetention = 24 * time.Hour
	DefaultOrgPurgeRetention    = 30 * 24 * time.Hour
)

// IdleSweeper stops sandboxes with no activity inside the idle window. The
// remote stop is best-effort: the status transition to stopped/idle_timeout
// happens regardless, because the sweep's job is bookkeeping correctness, not
// guaranteed remote termination.
type IdleSweeper struct {
	repo        SandboxRepo
	nodes       nodeclient.Client
	pub         events.Publisher
	idleTimeout time.Duration
	now         func() time.Time
}

func NewIdleSweeper(repo SandboxRepo, nodes nodeclient.Client, pub events.Publisher, idleTimeout time.Duration) *IdleSweeper {
	if repo == nil {
		panic("sandbox repository is required")
	}
	if pub == nil {
		pub = events.NopPublisher{}
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &IdleSweeper{repo: repo, nodes: nodes, pub: pub, idleTimeout: idleTimeout, now: time.Now}
}

func (s *IdleSweeper) SetClock(now func() time.Time) {
	s.now = now
}

func (s *IdleSweeper) Worker() Worker {
	return Worker{Name: "idle-shutdown", Interval: time.Minute, Run: s.Sweep}
}

func (s *IdleSweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	cutoff := now.Add(-s.idleTimeout)

	idle, err := s.repo.FindIdleSince(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	affected := 0
	for _, sandbox := range idle {
		if s.nodes != nil {
			if err := s.nodes.StopSandbox(ctx, sandbox.NodeID, sandbox.ID); err != nil {
				log.Printf("Best-effort stop of idle sandbox %s failed: %v", sandbox.ID, err)
			}
		}

		endedAt := now
		err := s.repo.UpdateStatus(ctx, sandbox.ID, sandbox.OrgID, models.SandboxStatusStopped, &repository.StatusUpdate{
			EndedAt:       &endedAt,
			FailureReason: models.FailureReasonIdleTimeout,
		})
		if err != nil {
			log.Printf("Failed to mark sandbox %s as stopped: %v", sandbox.ID, err)
			continue
		}
		affected++

		if err := s.pub.PublishStatusChange(ctx, events.StatusChange{
			SandboxID: sandbox.ID,
			OrgID:     sandbox.OrgID,
			Status:    models.SandboxStatusStopped,
			Reason:    models.FailureReasonIdleTimeout,
		}); err != nil {
			log.Printf("Failed to publish status change for sandbox %s: %v", sandbox.ID, err)
		}
	}
	return affected, nil
}

// RetentionRepo deletes entities older than a cutoff.
type RetentionRepo interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewRetentionSweeper builds the shared age-out worker: metrics retention and
// idempotency-key cleanup are the same sweep with different repos and
// windows.
func NewRetentionSweeper(name string, interval, retention time.Duration, repo RetentionRepo) Worker {
	return Worker{
		Name:     name,
		Interval: interval,
		Run: func(ctx context.Context) (int, error) {
			deleted, err := repo.DeleteOlderThan(ctx, time.Now().Add(-retention))
			return int(deleted), err
		},
	}
}

// OrgPurgeRepo is the slice of the org repository the purger needs.
type OrgPurgeRepo interface {
	FindDeletedBefore(ctx context.Context, cutoff time.Time) ([]models.Org, error)
	ListArtifacts(ctx context.Context, orgID string) ([]models.Artifact, error)
	DeleteArtifacts(ctx context.Context, orgID string) error
	DeleteExecs(ctx context.Context, orgID string) error
	DeleteSessions(ctx context.Context, orgID string) error
	DeleteSandboxes(ctx context.Context, orgID string) error
	DeleteIdempotencyKeys(ctx context.Context, orgID string) error
	DeleteQuotas(ctx context.Context, orgID string) error
	DeleteUsage(ctx context.Context, orgID string) error
	DeleteOrg(ctx context.Context, orgID string) error
}

// OrgPurger hard-deletes orgs soft-deleted longer ago than the retention
// window. Children go before the parent row, and object-storage deletes go
// before DB deletes so a crash mid-cascade never leaves a storage object
// referenced by nothing with no cleanup path.
type OrgPurger struct {
	repo      OrgPurgeRepo
	objects   storage.ObjectStore
	retention time.Duration
	now       func() time.Time
}

func NewOrgPurger(repo OrgPurgeRepo, objects storage.ObjectStore, retention time.Duration) *OrgPurger {
	if repo == nil {
		panic("org repository is required")
	}
	if objects == nil {
		objects = storage.NopStore{}
	}
	if retention <= 0 {
		retention = DefaultOrgPurgeRetention
	}
	return &OrgPurger{repo: repo, objects: objects, retention: retention, now: time.Now}
}

func (p *OrgPurger) SetClock(now func() time.Time) {
	p.now = now
}

func (p *OrgPurger) Worker() Worker {
	return Worker{Name: "org-hard-delete", Interval: time.Hour, Run: p.Sweep}
}

func (p *OrgPurger) Sweep(ctx context.Context) (int, error) {
	orgs, err := p.repo.FindDeletedBefore(ctx, p.now().Add(-p.retention))
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, org := range orgs {
		if err := p.purgeOrg(ctx, org.ID); err != nil {
			log.Printf("Failed to purge org %s: %v", org.ID, err)
			continue
		}
		purged++
	}
	return purged, nil
}

func (p *OrgPurger) purgeOrg(ctx context.Context, orgID string) error {
	artifacts, err := p.repo.ListArtifacts(ctx, orgID)
	if err != nil {
		return err
	}
	for _, artifact := range artifacts {
		// The row is about to go either way; a failed storage delete just
		// leaves an unreferenced object behind, which is acceptable.
		if err := p.objects.Delete(ctx, artifact.StorageKey); err != nil {
			log.Printf("Failed to delete artifact object %s: %v", artifact.StorageKey, err)
		}
	}

	steps := []func(context.Context, string) error{
		p.repo.DeleteArtifacts,
		p.repo.DeleteExecs,
		p.repo.DeleteSessions,
		p.repo.DeleteSandboxes,
		p.repo.DeleteIdempotencyKeys,
		p.repo.DeleteQuotas,
		p.repo.DeleteUsage,
		p.repo.DeleteOrg,
	}
	for _, step := range steps {
		if err := step(ctx, orgID); err != nil {
			return err
		}
	}
	return nil
}
