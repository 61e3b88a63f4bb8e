package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/atlashq/atlas/internal/coordination"
	"github.com/atlashq/atlas/internal/remote"
)

var (
	ErrAlreadyProvisioning = errors.New("provisioning already in progress")
	ErrNoFailedStep        = errors.New("no failed step to retry")
	ErrNeverProvisioned    = errors.New("node has never been provisioned")
)

// lockTTL bounds how long a crashed run can block a node before the guard
// self-expires.
const lockTTL = 30 * time.Minute

// StateStore persists per-step results and the node's overall provisioning
// status. Step N+1 never starts before step N's result is persisted.
type StateStore interface {
	LoadResults(ctx context.Context, nodeID string) ([]StepResult, error)
	SaveResults(ctx context.Context, nodeID string, results []StepResult) error
	SetNodeProvisionStatus(ctx context.Context, nodeID, status, failureReason string) error
}

// Runner drives the ordered step list against one node at a time. The step
// list is immutable; all mutable state lives in the parallel results slice.
type Runner struct {
	steps []Step
	state StateStore
	coord coordination.Store
}

func NewRunner(steps []Step, state StateStore, coord coordination.Store) *Runner {
	if len(steps) == 0 {
		panic("at least one provisioning step is required")
	}
	if state == nil {
		panic("state store is required")
	}
	if coord == nil {
		panic("coordination store is required")
	}
	return &Runner{steps: steps, state: state, coord: coord}
}

// Start initializes all steps to pending and runs them in order from index 0.
// It returns ErrAlreadyProvisioning if another run holds the node.
func (r *Runner) Start(ctx context.Context, exec remote.Exec, nodeID string) ([]StepResult, error) {
	results, release, err := r.prepareStart(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	defer release()
	return r.runFrom(ctx, exec, nodeID, results, 0)
}

// Retry resumes a failed run. The first failed step and everything after it
// are reset to pending and re-executed; earlier steps are trusted and never
// re-run. Calling retry with no failed step is an error, not a no-op.
func (r *Runner) Retry(ctx context.Context, exec remote.Exec, nodeID string) ([]StepResult, error) {
	results, failedIdx, release, err := r.prepareRetry(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	defer release()
	return r.runFrom(ctx, exec, nodeID, results, failedIdx)
}

// StartAsync validates and initializes the run synchronously, so conflicts
// surface to the caller, then executes in the background detached from ctx.
// A provisioning run takes minutes; it must survive the triggering request's
// lifetime. Returns the initial pending results.
func (r *Runner) StartAsync(ctx context.Context, exec remote.Exec, nodeID string) ([]StepResult, error) {
	results, release, err := r.prepareStart(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	go r.runDetached(exec, nodeID, results, 0, release)
	return snapshot(results), nil
}

// RetryAsync is StartAsync for resuming a failed run. ErrNoFailedStep and
// ErrNeverProvisioned still surface synchronously.
func (r *Runner) RetryAsync(ctx context.Context, exec remote.Exec, nodeID string) ([]StepResult, error) {
	results, failedIdx, release, err := r.prepareRetry(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	go r.runDetached(exec, nodeID, results, failedIdx, release)
	return snapshot(results), nil
}

func (r *Runner) prepareStart(ctx context.Context, nodeID string) ([]StepResult, func(), error) {
	release, err := r.lock(ctx, nodeID)
	if err != nil {
		return nil, nil, err
	}

	results := make([]StepResult, len(r.steps))
	for i, step := range r.steps {
		results[i] = StepResult{ID: step.ID, Status: StepPending}
	}
	if err := r.state.SaveResults(ctx, nodeID, results); err != nil {
		release()
		return nil, nil, err
	}
	if err := r.state.SetNodeProvisionStatus(ctx, nodeID, StatusProvisioning, ""); err != nil {
		release()
		return nil, nil, err
	}
	return results, release, nil
}

func (r *Runner) prepareRetry(ctx context.Context, nodeID string) ([]StepResult, int, func(), error) {
	release, err := r.lock(ctx, nodeID)
	if err != nil {
		return nil, 0, nil, err
	}

	results, err := r.state.LoadResults(ctx, nodeID)
	if err != nil {
		release()
		return nil, 0, nil, err
	}
	if len(results) == 0 {
		release()
		return nil, 0, nil, ErrNeverProvisioned
	}
	if len(results) != len(r.steps) {
		release()
		return nil, 0, nil, fmt.Errorf("persisted step count %d does not match configured %d", len(results), len(r.steps))
	}

	failedIdx := -1
	for i, res := range results {
		if res.Status == StepFailed {
			failedIdx = i
			break
		}
	}
	if failedIdx < 0 {
		release()
		return nil, 0, nil, ErrNoFailedStep
	}

	for i := failedIdx; i < len(results); i++ {
		results[i].Status = StepPending
		results[i].Output = ""
	}
	if err := r.state.SaveResults(ctx, nodeID, results); err != nil {
		release()
		return nil, 0, nil, err
	}
	if err := r.state.SetNodeProvisionStatus(ctx, nodeID, StatusProvisioning, ""); err != nil {
		release()
		return nil, 0, nil, err
	}
	return results, failedIdx, release, nil
}

func (r *Runner) runDetached(exec remote.Exec, nodeID string, results []StepResult, start int, release func()) {
	defer release()
	if closer, ok := exec.(io.Closer); ok {
		defer closer.Close()
	}

	if _, err := r.runFrom(context.Background(), exec, nodeID, results, start); err != nil {
		log.Printf("Provisioning run for node %s failed: %v", nodeID, err)
	}
}

func snapshot(results []StepResult) []StepResult {
	out := make([]StepResult, len(results))
	copy(out, results)
	return out
}

func (r *Runner) runFrom(ctx context.Context, exec remote.Exec, nodeID string, results []StepResult, start int) ([]StepResult, error) {
	for i := start; i < len(r.steps); i++ {
		step := r.steps[i]

		results[i].Status = StepRunning
		if err := r.state.SaveResults(ctx, nodeID, results); err != nil {
			return results, err
		}

		res, err := exec.Run(ctx, strings.Join(step.Commands, " && "))
		if err != nil {
			return results, r.failStep(ctx, nodeID, results, i,
				err.Error(),
				fmt.Sprintf("step %q: %v", step.Name, err), err)
		}
		if res.ExitCode != 0 {
			return results, r.failStep(ctx, nodeID, results, i,
				res.Combined(),
				fmt.Sprintf("step %q failed with exit code %d", step.Name, res.ExitCode), nil)
		}

		if step.Validate != "" {
			vres, err := exec.Run(ctx, step.Validate)
			if err != nil {
				return results, r.failStep(ctx, nodeID, results, i,
					err.Error(),
					fmt.Sprintf("step %q validation: %v", step.Name, err), err)
			}
			if vres.ExitCode != 0 {
				return results, r.failStep(ctx, nodeID, results, i,
					"Validation failed: "+vres.Combined(),
					fmt.Sprintf("step %q validation failed with exit code %d", step.Name, vres.ExitCode), nil)
			}
		}

		results[i].Status = StepCompleted
		results[i].Output = res.Combined()
		if err := r.state.SaveResults(ctx, nodeID, results); err != nil {
			return results, err
		}
	}

	if err := r.state.SetNodeProvisionStatus(ctx, nodeID, StatusCompleted, ""); err != nil {
		return results, err
	}
	return results, nil
}

// failStep records the step failure and the node's overall failed status.
// runErr is non-nil only for transport faults, which propagate to the caller;
// command and validation failures are terminal for the run but are reported
// through the results, not as errors.
func (r *Runner) failStep(ctx context.Context, nodeID string, results []StepResult, i int, output, reason string, runErr error) error {
	results[i].Status = StepFailed
	results[i].Output = output
	if err := r.state.SaveResults(ctx, nodeID, results); err != nil {
		return err
	}
	if err := r.state.SetNodeProvisionStatus(ctx, nodeID, StatusFailed, reason); err != nil {
		return err
	}
	return runErr
}

// lock guards against two concurrent runs on the same node, across
// processes. While a run is in progress the node's status reads as
// provisioning and the lock is held; a crashed run's lock self-expires so the
// node never stays stuck.
func (r *Runner) lock(ctx context.Context, nodeID string) (func(), error) {
	key := "provision_lock:" + nodeID
	ok, err := r.coord.SetIfAbsent(ctx, key, "1", lockTTL)
	if err != nil {
		return nil, fmt.Errorf("provision lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyProvisioning
	}
	return func() { r.coord.Delete(context.Background(), key) }, nil
}
