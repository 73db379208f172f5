package collector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/campus-billing/internal/campus"
	"github.com/example/campus-billing/internal/logging"
	"github.com/example/campus-billing/internal/persistence"
)

// Result is one account's outcome for a collection cycle. It is consumed by
// the notification phase of the same cycle and never persisted.
type Result struct {
	UserID        string
	Snapshot      *campus.Snapshot
	Succeeded     bool
	FailureReason string
}

// BindingSource lists the accounts to collect.
type BindingSource interface {
	ListBindings(ctx context.Context) ([]persistence.Binding, error)
}

// CredentialSource unseals a binding into usable login material.
type CredentialSource interface {
	Credentials(binding persistence.Binding) (campus.Credentials, error)
}

// SnapshotSink appends successful readings to the time series.
type SnapshotSink interface {
	AppendSnapshot(ctx context.Context, snapshot persistence.Snapshot) error
}

// Collector produces a snapshot for one account.
type Collector interface {
	Collect(ctx context.Context, userID string, creds campus.Credentials, opts CollectOptions) (campus.Snapshot, error)
}

// Notifier evaluates and sends due notifications for a finished cycle.
type Notifier interface {
	Dispatch(ctx context.Context, results []Result, hour int)
}

// SchedulerConfig tunes cycle cadence and fan-out.
type SchedulerConfig struct {
	Interval      time.Duration // default 1h, cycles align to its boundary
	BatchSize     int           // default 5
	BatchPause    time.Duration // default 1s
	ShutdownGrace time.Duration // default 5s
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.BatchPause <= 0 {
		c.BatchPause = time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 5 * time.Second
	}
	return c
}

// Scheduler drives hourly collection cycles across all bound accounts with
// bounded batch fan-out. A single account's failure never aborts a cycle.
type Scheduler struct {
	bindings    BindingSource
	credentials CredentialSource
	collector   Collector
	tokens      TokenCache
	snapshots   SnapshotSink
	notifier    Notifier
	config      SchedulerConfig
	idGenerator func() string
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger
}

// NewScheduler wires the collection scheduler.
func NewScheduler(bindings BindingSource, credentials CredentialSource, collector Collector, tokens TokenCache, snapshots SnapshotSink, notifier Notifier, config SchedulerConfig, idGenerator func() string, now func() time.Time, logger *slog.Logger) *Scheduler {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		bindings:    bindings,
		credentials: credentials,
		collector:   collector,
		tokens:      tokens,
		snapshots:   snapshots,
		notifier:    notifier,
		config:      config.withDefaults(),
		idGenerator: idGenerator,
		now:         now,
		sleep:       sleepContext,
		logger:      logger,
	}
}

// Run executes cycles aligned to the interval boundary until ctx is
// canceled. An in-flight cycle gets the shutdown grace period to finish
// before its context is cut.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "collection scheduler started",
		"interval", s.config.Interval,
		"batch_size", s.config.BatchSize,
	)

	for {
		next := nextRun(s.now(), s.config.Interval)
		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.InfoContext(ctx, "collection scheduler stopped")
			return ctx.Err()
		case <-timer.C:
		}

		// The cycle context survives shutdown for the grace period so an
		// in-flight cycle can settle instead of losing the whole hour.
		cycleCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		done := make(chan struct{})
		go func() {
			defer close(done)
			s.RunCycle(cycleCtx)
		}()

		select {
		case <-done:
			cancel()
		case <-ctx.Done():
			grace := time.NewTimer(s.config.ShutdownGrace)
			select {
			case <-done:
				grace.Stop()
			case <-grace.C:
			}
			cancel()
			s.logger.Info("collection scheduler stopped")
			return ctx.Err()
		}
	}
}

// RunCycle collects every bound account in batches, persists successes, and
// only then runs the notification phase so stale data never races a fresh
// collection.
func (s *Scheduler) RunCycle(ctx context.Context) []Result {
	started := s.now()
	logger := s.logger.With("service", "Scheduler", "cycle_hour", started.Hour())
	// Downstream services prefer the cycle-scoped logger when present.
	ctx = logging.ContextWithLogger(ctx, logger)

	bindings, err := s.bindings.ListBindings(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list bindings", "error", err)
		return nil
	}
	if len(bindings) == 0 {
		return nil
	}

	results := make([]Result, 0, len(bindings))
	var mu sync.Mutex

	for start := 0; start < len(bindings); start += s.config.BatchSize {
		end := min(start+s.config.BatchSize, len(bindings))

		var wg sync.WaitGroup
		for _, binding := range bindings[start:end] {
			binding := binding
			wg.Add(1)
			go func() {
				defer wg.Done()
				result := s.collectAccount(ctx, binding, logger)
				mu.Lock()
				results = append(results, result)
				mu.Unlock()
			}()
		}
		wg.Wait()

		if end < len(bindings) {
			if err := s.sleep(ctx, s.config.BatchPause); err != nil {
				logger.WarnContext(ctx, "cycle interrupted between batches", "error", err)
				break
			}
		}
	}

	succeeded := 0
	for _, result := range results {
		if result.Succeeded {
			succeeded++
		}
	}
	logger.InfoContext(ctx, "collection cycle finished",
		"accounts", len(results),
		"succeeded", succeeded,
		"elapsed", s.now().Sub(started),
	)

	if s.notifier != nil {
		s.notifier.Dispatch(ctx, results, started.Hour())
	}
	return results
}

// collectAccount runs one account's collection including the second-chance
// path: when a cached token looked valid but was rejected downstream, the
// cache entry is dropped and one fresh-auth attempt is taken before giving
// up for this cycle.
func (s *Scheduler) collectAccount(ctx context.Context, binding persistence.Binding, logger *slog.Logger) Result {
	logger = logger.With("user_id", binding.UserID)

	creds, err := s.credentials.Credentials(binding)
	if err != nil {
		logger.ErrorContext(ctx, "failed to unseal credentials", "error", err)
		return Result{UserID: binding.UserID, FailureReason: "credentials"}
	}

	snapshot, err := s.collector.Collect(ctx, binding.UserID, creds, CollectOptions{})
	if err != nil {
		if invErr := s.tokens.Invalidate(ctx, binding.UserID); invErr != nil {
			logger.WarnContext(ctx, "failed to invalidate token", "error", invErr)
		}
		if campus.Retriable(err) {
			snapshot, err = s.collector.Collect(ctx, binding.UserID, creds, CollectOptions{ForceFresh: true, Attempts: 1})
		}
	}
	if err != nil {
		logger.WarnContext(ctx, "account collection failed", "error", err, "error_kind", collectKind(err))
		return Result{UserID: binding.UserID, FailureReason: collectKind(err)}
	}

	if snapshot.RoomLabel == "" {
		snapshot.RoomLabel = binding.RoomLabel
	}

	stored := persistence.Snapshot{
		ID:         s.idGenerator(),
		UserID:     binding.UserID,
		Electric:   snapshot.Electric,
		Water:      snapshot.Water,
		AC:         snapshot.AC,
		RoomLabel:  snapshot.RoomLabel,
		ObservedAt: snapshot.ObservedAt,
	}
	if err := s.snapshots.AppendSnapshot(ctx, stored); err != nil {
		// The reading is still fresh; notification may proceed even when
		// the time series write fails.
		logger.ErrorContext(ctx, "failed to persist snapshot", "error", err)
	}

	return Result{UserID: binding.UserID, Snapshot: &snapshot, Succeeded: true}
}

// nextRun returns the first interval boundary strictly after now, so the
// first cycle lands on the top of the hour rather than an hour from startup.
func nextRun(now time.Time, interval time.Duration) time.Time {
	return now.Truncate(interval).Add(interval)
}

func collectKind(err error) string {
	var collectErr *CollectError
	if errors.As(err, &collectErr) {
		return collectErr.Kind
	}
	return campus.ErrorKind(err)
}
