package worker

import (
	"context"
	"log"
	"time"

	"github.com/atlashq/atlas/internal/events"
	"github.com/atlashq/atlas/internal/models"
	"github.com/atlashq/atlas/internal/repository"
)

// SandboxRepo is the slice of the sandbox repository the workers need.
type SandboxRepo interface {
	GetActiveNodeIDs(ctx context.Context) ([]string, error)
	FindRunningOnNodes(ctx context.Context, nodeIDs []string) ([]models.Sandbox, error)
	FindIdleSince(ctx context.Context, cutoff time.Time) ([]models.Sandbox, error)
	UpdateStatus(ctx context.Context, id, orgID, status string, extra *repository.StatusUpdate) error
}

// Liveness answers whether a node is currently heartbeating.
type Liveness interface {
	IsAlive(ctx context.Context, nodeID string) (bool, error)
}

// Reconciler finds sandboxes orphaned by dead nodes and fails them. A node is
// dead when its heartbeat key has expired; there is no explicit down event to
// react to, so the sweep re-derives the dead set from current state each tick.
type Reconciler struct {
	repo  SandboxRepo
	nodes Liveness
	pub   events.Publisher
	now   func() time.Time
}

func NewReconciler(repo SandboxRepo, nodes Liveness, pub events.Publisher) *Reconciler {
	if repo == nil {
		panic("sandbox repository is required")
	}
	if nodes == nil {
		panic("liveness source is required")
	}
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Reconciler{repo: repo, nodes: nodes, pub: pub, now: time.Now}
}

// SetClock replaces the reconciler's time source for tests.
func (r *Reconciler) SetClock(now func() time.Time) {
	r.now = now
}

func (r *Reconciler) Worker() Worker {
	return Worker{Name: "orphan-reconciler", Interval: time.Minute, Run: r.Sweep}
}

// Sweep marks every active sandbox on a dead node as failed with reason
// node_lost and returns the count affected. One sandbox's update failure
// never aborts the rest; the sweep is idempotent because failed sandboxes
// drop out of the active-status query.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	nodeIDs, err := r.repo.GetActiveNodeIDs(ctx)
	if err != nil {
		return 0, err
	}

	var dead []string
	for _, nodeID := range nodeIDs {
		alive, err := r.nodes.IsAlive(ctx, nodeID)
		if err != nil {
			// A store error is not evidence of node death. Skip rather
			// than fail healthy sandboxes on a flaky liveness read.
			log.Printf("Liveness check for node %s failed: %v", nodeID, err)
			continue
		}
		if !alive {
			dead = append(dead, nodeID)
		}
	}
	if len(dead) == 0 {
		return 0, nil
	}

	orphans, err := r.repo.FindRunningOnNodes(ctx, dead)
	if err != nil {
		return 0, err
	}

	now := r.now()
	affected := 0
	for _, sandbox := range orphans {
		err := r.repo.UpdateStatus(ctx, sandbox.ID, sandbox.OrgID, models.SandboxStatusFailed, &repository.StatusUpdate{
			EndedAt:       &now,
			FailureReason: models.FailureReasonNodeLost,
		})
		if err != nil {
			log.Printf("Failed to mark sandbox %s as failed: %v", sandbox.ID, err)
			continue
		}
		affected++

		if err := r.pub.PublishStatusChange(ctx, events.StatusChange{
			SandboxID: sandbox.ID,
			OrgID:     sandbox.OrgID,
			Status:    models.SandboxStatusFailed,
			Reason:    models.FailureReasonNodeLost,
		}); err != nil {
			log.Printf("Failed to publish status change for sandbox %s: %v", sandbox.ID, err)
		}
	}
	return affected, nil
}
