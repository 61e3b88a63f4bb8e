// Package worker runs the control plane's periodic background jobs. Every job
// is a Worker: a named, idempotent handler on a fixed interval. Handlers are
// written so that two overlapping runs are harmless, which is what lets the
// scheduler skip per-worker locking entirely. A failed tick is retried on the
// next one.
package worker

import (
	"context"
	"log"
	"time"
)

type Worker struct {
	Name     string
	Interval time.Duration
	// Run performs one sweep and returns how many entities it affected.
	Run func(ctx context.Context) (int, error)
}

type Scheduler struct {
	workers []Worker
}

func NewScheduler(workers ...Worker) *Scheduler {
	return &Scheduler{workers: workers}
}

// Start launches one ticker loop per worker and returns immediately. Loops
// stop when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Println("Starting background workers...")
	for _, w := range s.workers {
		go s.loop(ctx, w)
	}
	log.Printf("%d background workers started", len(s.workers))
}

func (s *Scheduler) loop(ctx context.Context, w Worker) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			affected, err := w.Run(ctx)
			if err != nil {
				log.Printf("Worker %s failed: %v", w.Name, err)
				continue
			}
			if affected > 0 {
				log.Printf("Worker %s affected %d entities", w.Name, affected)
			}
		}
	}
}
