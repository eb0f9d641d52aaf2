package tasks

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Syncer keeps a local snapshot of a project's task list in step with
// the store. It consumes the turn pipeline's refresh signals and,
// optionally, reconciles on a cron schedule to catch changes made
// outside the assistant. Refresh failures are logged and never
// propagate: the snapshot is eventually consistent by design.
type Syncer struct {
	client    *Client
	projectID string
	logger    zerolog.Logger

	cronMu   sync.Mutex
	schedule string
	cron     *cron.Cron

	mu       sync.RWMutex
	snapshot []Task
	subs     []chan []Task
}

// NewSyncer creates a syncer. schedule is a cron spec for periodic
// reconciliation; empty disables the periodic pass.
func NewSyncer(client *Client, projectID, schedule string, logger zerolog.Logger) (*Syncer, error) {
	if client == nil {
		return nil, fmt.Errorf("task client is required")
	}
	if projectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}

	return &Syncer{
		client:    client,
		projectID: projectID,
		schedule:  schedule,
		logger:    logger,
	}, nil
}

// Run consumes refresh signals until ctx is cancelled. It blocks; run
// it on its own goroutine. Each signal maps to one list call against
// the store.
func (s *Syncer) Run(ctx context.Context, signals <-chan struct{}) {
	s.Reschedule(ctx, s.currentSchedule())
	defer s.stopCron()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-signals:
			if !ok {
				return
			}
			s.Refresh(ctx)
		}
	}
}

// Reschedule replaces the periodic reconcile schedule while running.
// An empty spec disables the periodic pass; refresh signals are
// unaffected either way.
func (s *Syncer) Reschedule(ctx context.Context, spec string) {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()

	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
	s.schedule = spec
	if spec == "" {
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, func() { s.Refresh(ctx) }); err != nil {
		s.logger.Warn().Err(err).Str("schedule", spec).Msg("Invalid reconcile schedule; periodic sync disabled")
		return
	}
	c.Start()
	s.cron = c
}

func (s *Syncer) currentSchedule() string {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	return s.schedule
}

func (s *Syncer) stopCron() {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
}

// Refresh re-fetches the task list once and notifies subscribers on
// success. Errors are swallowed after logging.
func (s *Syncer) Refresh(ctx context.Context) {
	list, err := s.client.List(ctx, s.projectID, Filter{})
	if err != nil {
		s.logger.Warn().Err(err).Str("project_id", s.projectID).Msg("Task refresh failed")
		return
	}

	s.mu.Lock()
	s.snapshot = list
	subs := make([]chan []Task, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, ch := range subs {
		// Coalesce: drop the stale pending snapshot, keep the newest.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- list:
		default:
		}
	}
}

// Snapshot returns the last fetched task list; possibly stale between
// a refresh signal and its completion.
func (s *Syncer) Snapshot() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, len(s.snapshot))
	copy(out, s.snapshot)
	return out
}

// Subscribe returns a channel receiving each new snapshot. Single-slot
// and coalescing; slow consumers see only the latest list.
func (s *Syncer) Subscribe() <-chan []Task {
	ch := make(chan []Task, 1)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}
