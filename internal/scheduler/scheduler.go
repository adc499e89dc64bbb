// Package scheduler implements C12: the cron/interval job driver, wiring
// github.com/robfig/cron the way the teacher's go.mod pulls it in as an
// indirect dependency of its agent workflows, promoted here to a direct,
// load-bearing scheduling engine.
package scheduler

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"ragcore/internal/kst"
	"ragcore/internal/logging"
)

// Job is one scheduled unit of work. A job that removes itself (as
// stats_backfill does when no dates remain, spec §4.12) calls
// Scheduler.Remove with its own name.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Scheduler drives named jobs on cron schedules, evaluated in KST.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	mu   sync.Mutex
	ids  map[string]cron.EntryID
}

// New builds a Scheduler whose triggers fire according to kst.Location.
func New(ctx context.Context) *Scheduler {
	return &Scheduler{
		cron: cron.NewWithLocation(kst.Location),
		ctx:  ctx,
		ids:  map[string]cron.EntryID{},
	}
}

// Add schedules job on spec (standard 5-field cron syntax). Job failures are
// logged, never panic the scheduler: "all jobs are idempotent and safe to
// miss" (spec §4.12).
func (s *Scheduler) Add(spec string, job Job) error {
	id, err := s.cron.AddFunc(spec, func() { s.runJob(job) })
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ids[job.Name] = id
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) runJob(job Job) {
	if err := job.Run(s.ctx); err != nil {
		logging.Log.Errorf("scheduler: job %s failed: %v", job.Name, err)
	}
}

// Remove cancels a previously scheduled job by name (used by stats_backfill
// to self-remove once FindMissingDates is empty).
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.ids[name]
	if !ok {
		return
	}
	s.cron.Remove(id)
	delete(s.ids, name)
}

// Start launches the cron driver as a background goroutine.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the cron driver, waiting for any running job to finish.
func (s *Scheduler) Stop() { s.cron.Stop() }
