package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one unit of periodic work. The deadline is soft: a job stops
// starting new work after it and leaves the rest to the next tick.
type Job interface {
	RunTick(ctx context.Context, deadline time.Time) error
}

// JobFunc adapts a function to Job
type JobFunc func(ctx context.Context, deadline time.Time) error

// RunTick calls f
func (f JobFunc) RunTick(ctx context.Context, deadline time.Time) error {
	return f(ctx, deadline)
}

// IntervalTriggerConfig holds configuration for an interval trigger
type IntervalTriggerConfig struct {
	Name string

	// Interval between ticks
	Interval time.Duration

	// DeadlineMargin is subtracted from Interval to get each tick's soft deadline
	DeadlineMargin time.Duration

	// Hours restricts ticks to a daily window; nil runs around the clock
	Hours *WorkingHours

	// RunOnStart runs a tick immediately instead of waiting one interval
	RunOnStart bool
}

// DefaultIntervalTriggerConfig returns the express reconciler schedule
func DefaultIntervalTriggerConfig() IntervalTriggerConfig {
	hours := DefaultWorkingHours()
	return IntervalTriggerConfig{
		Name:           "express",
		Interval:       5 * time.Minute,
		DeadlineMargin: 30 * time.Second,
		Hours:          &hours,
	}
}

// IntervalTrigger runs a job every interval inside working hours.
// Ticks never overlap: a tick that overruns delays the next one.
type IntervalTrigger struct {
	config IntervalTriggerConfig
	job    Job
	logger *zap.Logger
	now    func() time.Time

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	lastTick  time.Time
}

// NewIntervalTrigger creates a new interval trigger
func NewIntervalTrigger(config IntervalTriggerConfig, job Job, logger *zap.Logger) (*IntervalTrigger, error) {
	if config.Interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	if config.DeadlineMargin < 0 || config.DeadlineMargin >= config.Interval {
		return nil, fmt.Errorf("%w: deadline margin must be within the interval", ErrInvalidConfig)
	}
	if config.Hours != nil {
		if err := config.Hours.Validate(); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Name == "" {
		config.Name = "job"
	}
	return &IntervalTrigger{
		config: config,
		job:    job,
		logger: logger.Named("scheduler").With(zap.String("job", config.Name)),
		now:    time.Now,
	}, nil
}

// Start starts the trigger loop
func (t *IntervalTrigger) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = true
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.mu.Unlock()

	t.wg.Add(1)
	go t.runLoop(ctx)

	t.logger.Info("Interval trigger started",
		zap.Duration("interval", t.config.Interval),
		zap.Duration("deadline_margin", t.config.DeadlineMargin),
		zap.Bool("working_hours", t.config.Hours != nil),
	)
	return nil
}

// Stop stops the trigger and waits for a running tick to return
func (t *IntervalTrigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = false
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("Interval trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether the loop is active
func (t *IntervalTrigger) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isRunning
}

// LastTick returns when the job last started, zero if never
func (t *IntervalTrigger) LastTick() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastTick
}

func (t *IntervalTrigger) runLoop(ctx context.Context) {
	defer t.wg.Done()

	if t.config.RunOnStart {
		t.tick(ctx)
	}

	ticker := time.NewTicker(t.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

// tick runs the job once if now is inside working hours
func (t *IntervalTrigger) tick(ctx context.Context) {
	now := t.now()
	if t.config.Hours != nil && !t.config.Hours.Contains(now) {
		t.logger.Debug("Outside working hours, skipping tick", zap.Time("now", now))
		return
	}

	t.mu.Lock()
	t.lastTick = now
	t.mu.Unlock()

	deadline := now.Add(t.config.Interval - t.config.DeadlineMargin)
	if err := t.job.RunTick(ctx, deadline); err != nil {
		t.logger.Error("Scheduled job failed", zap.Error(err))
	}
}
