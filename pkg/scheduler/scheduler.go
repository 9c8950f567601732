// Package scheduler owns the catalogue of recurring jobs and the
// reconcile algorithm that keeps it in agreement with the desired job
// set of each management node.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dataferry/ferry/pkg/errdefs"
	"github.com/dataferry/ferry/pkg/log"
	"github.com/dataferry/ferry/pkg/metrics"
	"github.com/dataferry/ferry/pkg/types"
)

// Job is the common contract of all recurring jobs
type Job interface {
	// Name identifies the job kind in logs and metrics
	Name() string

	// Run executes one tick with the given parameters
	Run(ctx context.Context, params types.JobParams) error
}

// Request pairs a job implementation with its desired parameters for a
// reconcile
type Request struct {
	Job    Job
	Params types.JobParams
}

// State is the scheduler lifecycle state
type State int

const (
	StateNew State = iota
	StateStarted
	StateStopped
)

// retryWait is the pause between retry attempts of a retryable tick
const retryWait = 5 * time.Second

// stopTimeout bounds the wait for running ticks during Stop
const stopTimeout = 5 * time.Second

// Scheduler owns the catalogue of registered recurring jobs and executes
// their ticks on a bounded worker pool. Ticks of the same job never
// overlap; each job's goroutine serialises them.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry
	state   State

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	sem    chan struct{}

	background bool
	loc        *time.Location
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithParallelism bounds the number of concurrently executing ticks
func WithParallelism(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.sem = make(chan struct{}, n)
		}
	}
}

// WithBackground controls whether registered jobs actually tick.
// Disabled, the scheduler still maintains its catalogue; used by tests
// and by deployments that only want the reconcile bookkeeping.
func WithBackground(enabled bool) Option {
	return func(s *Scheduler) { s.background = enabled }
}

// New creates a scheduler. Cron schedules are evaluated in the
// Europe/London time zone.
func New(opts ...Option) *Scheduler {
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		logger := log.WithComponent("scheduler")
		logger.Warn().Err(err).Msg("falling back to UTC for cron schedules")
		loc = time.UTC
	}

	s := &Scheduler{
		entries:    make(map[string]*entry),
		sem:        make(chan struct{}, 8),
		background: true,
		loc:        loc,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureStarted transitions the scheduler to STARTED. It is idempotent
// and a no-op once stopped.
func (s *Scheduler) EnsureStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateNew {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.state = StateStarted
	logger := log.WithComponent("scheduler")
	logger.Info().Msg("scheduler started")
}

// Stop cancels every job and waits for running ticks, bounded by
// stopTimeout. Stop is irreversible for the process lifetime.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state != StateStarted {
		s.state = StateStopped
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	logger := log.WithComponent("scheduler")
	select {
	case <-done:
	case <-time.After(stopTimeout):
		logger.Warn().Msg("timed out waiting for running ticks")
	}
	logger.Info().Msg("scheduler stopped")
}

// RegisterJob adds a recurring job to the catalogue and starts ticking
// it. With RequireImmediateTrigger set, a one-shot execution with a
// fresh identifier is enqueued in addition to the recurring schedule.
func (s *Scheduler) RegisterJob(job Job, params types.JobParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStopped {
		return fmt.Errorf("scheduler is stopped")
	}
	if _, exists := s.entries[params.JobID]; exists {
		return fmt.Errorf("job %q is already registered", params.JobID)
	}

	spec := s.parseSchedule(params)
	e := &entry{job: job, params: params, spec: spec}
	s.entries[params.JobID] = e
	metrics.RecurringJobsRegistered.Set(float64(len(s.entries)))

	logger := log.WithJob(params.JobID)
	logger.Info().
		Str("job", job.Name()).
		Str("schedule", spec.Resolved).
		Str("management_node", params.NodeID()).
		Msg("registered recurring job")

	if s.state == StateStarted && s.background {
		entryCtx, cancel := context.WithCancel(s.ctx)
		e.cancel = cancel

		s.wg.Add(1)
		go s.runLoop(entryCtx, e)

		if params.RequireImmediateTrigger {
			runID := uuid.NewString()
			logger.Debug().Str("run_id", runID).Msg("enqueueing immediate trigger")
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.execute(entryCtx, e)
			}()
		}
	}

	return nil
}

// RemoveRecurringJob cancels and removes a job from the catalogue. It is
// a no-op for unknown ids.
func (s *Scheduler) RemoveRecurringJob(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(jobID)
}

func (s *Scheduler) removeLocked(jobID string) {
	e, ok := s.entries[jobID]
	if !ok {
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	delete(s.entries, jobID)
	metrics.RecurringJobsRegistered.Set(float64(len(s.entries)))
	logger := log.WithJob(jobID)
	logger.Info().Msg("removed recurring job")
}

// Snapshot returns a copy of the catalogue's parameters keyed by job id
func (s *Scheduler) Snapshot() map[string]types.JobParams {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]types.JobParams, len(s.entries))
	for id, e := range s.entries {
		out[id] = e.params
	}
	return out
}

// ResolvedSchedule reports the effective schedule of a registered job,
// which differs from the requested expression when the lenient fallback
// applied.
func (s *Scheduler) ResolvedSchedule(jobID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[jobID]
	if !ok {
		return "", false
	}
	return e.spec.Resolved, true
}

// runLoop drives one job's recurring ticks until its context is
// cancelled. Waiting restarts after each tick completes, so ticks of the
// same job never overlap.
func (s *Scheduler) runLoop(ctx context.Context, e *entry) {
	defer s.wg.Done()

	for {
		timer := time.NewTimer(e.spec.untilNext(time.Now().In(s.loc)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.execute(ctx, e)
	}
}

// execute runs one tick under the worker semaphore, applying the job's
// retry budget to retryable failures.
func (s *Scheduler) execute(ctx context.Context, e *entry) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-s.sem }()

	e.runMu.Lock()
	defer e.runMu.Unlock()

	logger := log.WithJob(e.params.JobID)
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.JobRunDuration.WithLabelValues(e.job.Name()))

	for attempt := 0; ; attempt++ {
		err := e.job.Run(ctx, e.params)
		if err == nil {
			metrics.JobRunsTotal.WithLabelValues(e.job.Name(), "ok").Inc()
			return
		}

		if !errdefs.IsRetryable(err) {
			metrics.JobRunsTotal.WithLabelValues(e.job.Name(), "error").Inc()
			logger.Error().Err(err).Int("attempt", attempt+1).Msg("job tick failed")
			return
		}

		if attempt >= e.params.Retries {
			metrics.JobRunsTotal.WithLabelValues(e.job.Name(), "retries_exhausted").Inc()
			logger.Error().Err(err).Int("attempts", attempt+1).Msg("job tick failed, retry budget exhausted")
			return
		}

		metrics.JobRunsTotal.WithLabelValues(e.job.Name(), "retry").Inc()
		logger.Warn().Err(err).Int("attempt", attempt+1).Msg("job tick failed, retrying")

		select {
		case <-time.After(retryWait):
		case <-ctx.Done():
			return
		}
	}
}

type entry struct {
	job    Job
	params types.JobParams
	spec   scheduleSpec
	cancel context.CancelFunc
	runMu  sync.Mutex
}
