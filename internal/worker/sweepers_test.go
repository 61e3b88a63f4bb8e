package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atlashq/atlas/internal/models"
)

type fakeNodeClient struct {
	mu      sync.Mutex
	stopped []string
	err     error
}

func (c *fakeNodeClient) StopSandbox(ctx context.Context, nodeID, sandboxID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = append(c.stopped, sandboxID)
	return c.err
}

func TestIdleSweeper_StopsIdleSandboxes(t *testing.T) {
	now := time.Now()
	stale := now.Add(-20 * time.Minute)
	fresh := now.Add(-2 * time.Minute)

	repo := newFakeSandboxRepo(
		&models.Sandbox{ID: "s1", OrgID: "org-1", NodeID: "node-a", Status: models.SandboxStatusRunning, LastActiveAt: &stale},
		&models.Sandbox{ID: "s2", OrgID: "org-1", NodeID: "node-a", Status: models.SandboxStatusRunning, LastActiveAt: &fresh},
	)
	nodes := &fakeNodeClient{}

	s := NewIdleSweeper(repo, nodes, nil, 15*time.Minute)
	s.SetClock(func() time.Time { return now })

	affected, err := s.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, affected)

	s1 := repo.get("s1")
	require.Equal(t, models.SandboxStatusStopped, s1.Status)
	require.Equal(t, models.FailureReasonIdleTimeout, s1.FailureReason)
	require.Equal(t, []string{"s1"}, nodes.stopped)

	require.Equal(t, models.SandboxStatusRunning, repo.get("s2").Status)
}

func TestIdleSweeper_StopFailureIsSwallowed(t *testing.T) {
	now := time.Now()
	stale := now.Add(-30 * time.Minute)

	repo := newFakeSandboxRepo(
		&models.Sandbox{ID: "s1", OrgID: "org-1", NodeID: "node-a", Status: models.SandboxStatusRunning, LastActiveAt: &stale},
	)
	nodes := &fakeNodeClient{err: errors.New("connection refused")}

	s := NewIdleSweeper(repo, nodes, nil, 15*time.Minute)
	s.SetClock(func() time.Time { return now })

	// The remote stop fails but the bookkeeping transition still happens.
	affected, err := s.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, affected)
	require.Equal(t, models.SandboxStatusStopped, repo.get("s1").Status)
}

type fakeRetentionRepo struct {
	mu      sync.Mutex
	rows    []time.Time
}

func (r *fakeRetentionRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []time.Time
	var deleted int64
	for _, ts := range r.rows {
		if ts.Before(cutoff) {
			deleted++
		} else {
			kept = append(kept, ts)
		}
	}
	r.rows = kept
	return deleted, nil
}

func TestRetentionSweeper_SecondRunDeletesNothing(t *testing.T) {
	repo := &fakeRetentionRepo{rows: []time.Time{
		time.Now().Add(-8 * 24 * time.Hour),
		time.Now().Add(-9 * 24 * time.Hour),
		time.Now().Add(-1 * time.Hour),
	}}

	w := NewRetentionSweeper("metrics-retention", time.Hour, DefaultMetricsRetention, repo)
	require.Equal(t, "metrics-retention", w.Name)

	affected, err := w.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, affected)

	affected, err = w.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, affected)
}

type fakeOrgRepo struct {
	mu        sync.Mutex
	orgs      map[string]*models.Org
	artifacts map[string][]models.Artifact
	deletions map[string][]string // orgID -> ordered entity kinds deleted
}

func newFakeOrgRepo() *fakeOrgRepo {
	return &fakeOrgRepo{
		orgs:      make(map[string]*models.Org),
		artifacts: make(map[string][]models.Artifact),
		deletions: make(map[string][]string),
	}
}

func (r *fakeOrgRepo) FindDeletedBefore(ctx context.Context, cutoff time.Time) ([]models.Org, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Org
	for _, org := range r.orgs {
		if org.DeletedAt != nil && org.DeletedAt.Before(cutoff) {
			out = append(out, *org)
		}
	}
	return out, nil
}

func (r *fakeOrgRepo) ListArtifacts(ctx context.Context, orgID string) ([]models.Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.artifacts[orgID], nil
}

func (r *fakeOrgRepo) record(orgID, kind string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletions[orgID] = append(r.deletions[orgID], kind)
	return nil
}

func (r *fakeOrgRepo) DeleteArtifacts(ctx context.Context, orgID string) error {
	return r.record(orgID, "artifacts")
}
func (r *fakeOrgRepo) DeleteExecs(ctx context.Context, orgID string) error {
	return r.record(orgID, "execs")
}
func (r *fakeOrgRepo) DeleteSessions(ctx context.Context, orgID string) error {
	return r.record(orgID, "sessions")
}
func (r *fakeOrgRepo) DeleteSandboxes(ctx context.Context, orgID string) error {
	return r.record(orgID, "sandboxes")
}
func (r *fakeOrgRepo) DeleteIdempotencyKeys(ctx context.Context, orgID string) error {
	return r.record(orgID, "idempotency_keys")
}
func (r *fakeOrgRepo) DeleteQuotas(ctx context.Context, orgID string) error {
	return r.record(orgID, "quotas")
}
func (r *fakeOrgRepo) DeleteUsage(ctx context.Context, orgID string) error {
	return r.record(orgID, "usage")
}
func (r *fakeOrgRepo) DeleteOrg(ctx context.Context, orgID string) error {
	r.record(orgID, "org")
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.orgs, orgID)
	return nil
}

type recordingObjectStore struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (s *recordingObjectStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, key)
	return s.err
}

func TestOrgPurger_CascadeOrder(t *testing.T) {
	now := time.Now()
	old := now.Add(-40 * 24 * time.Hour)

	repo := newFakeOrgRepo()
	repo.orgs["org-1"] = &models.Org{ID: "org-1", DeletedAt: &old}
	repo.orgs["org-2"] = &models.Org{ID: "org-2"}
	repo.artifacts["org-1"] = []models.Artifact{
		{ID: "a1", OrgID: "org-1", StorageKey: "objects/a1"},
		{ID: "a2", OrgID: "org-1", StorageKey: "objects/a2"},
	}

	objects := &recordingObjectStore{}
	p := NewOrgPurger(repo, objects, DefaultOrgPurgeRetention)
	p.SetClock(func() time.Time { return now })

	purged, err := p.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, purged)

	require.ElementsMatch(t, []string{"objects/a1", "objects/a2"}, objects.deleted)
	require.Equal(t, []string{
		"artifacts", "execs", "sessions", "sandboxes",
		"idempotency_keys", "quotas", "usage", "org",
	}, repo.deletions["org-1"])
	require.Empty(t, repo.deletions["org-2"])

	// Nothing left to purge on the next tick.
	purged, err = p.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, purged)
}

func TestOrgPurger_StorageFailureIsSwallowed(t *testing.T) {
	now := time.Now()
	old := now.Add(-40 * 24 * time.Hour)

	repo := newFakeOrgRepo()
	repo.orgs["org-1"] = &models.Org{ID: "org-1", DeletedAt: &old}
	repo.artifacts["org-1"] = []models.Artifact{{ID: "a1", OrgID: "org-1", StorageKey: "objects/a1"}}

	objects := &recordingObjectStore{err: errors.New("storage unavailable")}
	p := NewOrgPurger(repo, objects, DefaultOrgPurgeRetention)
	p.SetClock(func() time.Time { return now })

	purged, err := p.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, purged)
	require.Contains(t, repo.deletions["org-1"], "org")
}

func TestScheduler_RunsWorkersUntilCancelled(t *testing.T) {
	var mu sync.Mutex
	ticks := 0

	s := NewScheduler(Worker{
		Name:     "test-worker",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) (int, error) {
			mu.Lock()
			defer mu.Unlock()
			ticks++
			return 0, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ticks >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	mu.Lock()
	seen := ticks
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.LessOrEqual(t, ticks, seen+1)
}
