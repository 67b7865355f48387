// Package schedule runs download cycles on a cron schedule.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Job runs one cycle. ctx is cancelled when the scheduler stops.
type Job func(ctx context.Context)

// Scheduler runs a job on a cron schedule or on demand. At most one run is
// active at any time.
type Scheduler struct {
	cron *cron.Cron
	job  Job
	log  *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool

	// mu orders wg.Add against Stop so no run starts once Stop has begun.
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// New creates a Scheduler for spec, which accepts standard five-field cron
// expressions and descriptors such as "@hourly" or "@every 6h".
func New(ctx context.Context, spec string, job Job, log *slog.Logger) (*Scheduler, error) {
	logger := cronLogger{log: log}

	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	ctx, cancel := context.WithCancel(ctx)

	s := &Scheduler{
		cron:   c,
		job:    job,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}

	if _, err := c.AddFunc(spec, func() { s.run("schedule") }); err != nil {
		cancel()

		return nil, err
	}

	return s, nil
}

// Start begins running scheduled cycles.
func (s *Scheduler) Start() {
	s.log.Info("scheduler started", "next_run", s.Next())
	s.cron.Start()
}

// Trigger starts a cycle immediately in the background. It returns false if
// a cycle is already running.
func (s *Scheduler) Trigger() bool {
	if !s.begin() {
		return false
	}

	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)

		s.log.Info("cycle starting", "trigger", "manual")
		s.job(s.ctx)
	}()

	return true
}

// Running reports whether a cycle is in progress.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Next returns the time of the next scheduled cycle.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}

	return entries[0].Schedule.Next(time.Now())
}

// Stop stops scheduling, cancels the running cycle and waits for it to
// return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.log.Info("scheduler stopping")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronDone := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})

	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// begin claims the single run slot. It fails once Stop has been called or
// while another run holds the slot.
func (s *Scheduler) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || !s.running.CompareAndSwap(false, true) {
		return false
	}

	s.wg.Add(1)

	return true
}

func (s *Scheduler) run(trigger string) {
	if !s.begin() {
		s.log.Warn("skipping cycle", "trigger", trigger, "running", s.running.Load())

		return
	}
	defer s.wg.Done()
	defer s.running.Store(false)

	s.log.Info("cycle starting", "trigger", trigger)
	s.job(s.ctx)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, "err", err)...)
}
