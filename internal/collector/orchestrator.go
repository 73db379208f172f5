package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/campus-billing/internal/campus"
	"github.com/example/campus-billing/internal/logging"
)

// CampusClient is the slice of the campus client the orchestrator drives.
type CampusClient interface {
	Login(ctx context.Context, creds campus.Credentials) (campus.Session, error)
	FetchBalances(ctx context.Context, creds campus.Credentials, session campus.Session) (campus.Snapshot, error)
}

// CollectError carries the final failure after the orchestrator exhausts its
// budget or hits a non-retriable condition.
type CollectError struct {
	UserID   string
	Attempts int
	Kind     string
	Err      error
}

func (e *CollectError) Error() string {
	return fmt.Sprintf("collect failed for %s after %d attempt(s): %v", e.UserID, e.Attempts, e.Err)
}

func (e *CollectError) Unwrap() error { return e.Err }

// CollectOptions tunes a single collection request.
type CollectOptions struct {
	// ForceFresh skips the token cache and authenticates from scratch. The
	// scheduler's second-chance path sets it after invalidating a token
	// that looked valid but was rejected downstream.
	ForceFresh bool
	// Attempts overrides the total attempt bound when positive.
	Attempts int
}

// Orchestrator wraps one full authenticate-then-fetch exchange with bounded
// retries and failure classification.
type Orchestrator struct {
	client     CampusClient
	tokens     TokenCache
	retryCount int
	baseDelay  time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *slog.Logger
}

// NewOrchestrator wires the orchestrator. retryCount <= 0 defaults to 3
// retries; baseDelay <= 0 defaults to 2 seconds.
func NewOrchestrator(client CampusClient, tokens TokenCache, retryCount int, baseDelay time.Duration, logger *slog.Logger) *Orchestrator {
	if retryCount <= 0 {
		retryCount = 3
	}
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		client:     client,
		tokens:     tokens,
		retryCount: retryCount,
		baseDelay:  baseDelay,
		sleep:      sleepContext,
		logger:     logger,
	}
}

// Collect returns a fresh snapshot for one account. Retriable failures are
// repeated with a linearly increasing delay (base delay times the attempt
// number); a credential rejection aborts immediately without consuming the
// remaining budget, distinguishable via campus.ErrUnauthorized so callers
// stop hammering a dead credential. A 401 while a cached session was in use
// indicts the token rather than the credentials: the entry is invalidated
// and the next attempt authenticates from scratch.
func (o *Orchestrator) Collect(ctx context.Context, userID string, creds campus.Credentials, opts CollectOptions) (campus.Snapshot, error) {
	logger := o.loggerWith(ctx, userID)

	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = o.retryCount + 1
	}

	useCache := !opts.ForceFresh
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := o.sleep(ctx, o.baseDelay*time.Duration(attempt-1)); err != nil {
				return campus.Snapshot{}, &CollectError{UserID: userID, Attempts: attempt - 1, Kind: "canceled", Err: err}
			}
		}

		snapshot, usedCached, err := o.attempt(ctx, userID, creds, useCache, logger)
		if err == nil {
			return snapshot, nil
		}
		lastErr = err

		if !campus.Retriable(err) {
			if !usedCached {
				logger.WarnContext(ctx, "credential rejected, aborting retries", "attempt", attempt, "error", err)
				return campus.Snapshot{}, &CollectError{UserID: userID, Attempts: attempt, Kind: campus.ErrorKind(err), Err: err}
			}
			logger.WarnContext(ctx, "cached session rejected, retrying with fresh login", "attempt", attempt, "error", err)
			if o.tokens != nil {
				if invErr := o.tokens.Invalidate(ctx, userID); invErr != nil {
					logger.WarnContext(ctx, "failed to invalidate token", "error", invErr)
				}
			}
		} else {
			logger.WarnContext(ctx, "collection attempt failed", "attempt", attempt, "error", err, "error_kind", campus.ErrorKind(err))
		}

		// A cached session has already failed once here; every further
		// attempt authenticates from scratch.
		useCache = false
	}

	return campus.Snapshot{}, &CollectError{UserID: userID, Attempts: attempts, Kind: campus.ErrorKind(lastErr), Err: lastErr}
}

// attempt runs one authenticate-then-fetch pass. The second return reports
// whether a cached session was used, which decides how a 401 is classified.
func (o *Orchestrator) attempt(ctx context.Context, userID string, creds campus.Credentials, useCache bool, logger *slog.Logger) (campus.Snapshot, bool, error) {
	var session campus.Session
	cached := false

	if useCache && o.tokens != nil {
		stored, ok, err := o.tokens.Get(ctx, userID)
		if err != nil {
			logger.WarnContext(ctx, "token cache read failed", "error", err)
		} else if ok {
			session = stored
			cached = true
		}
	}

	if !cached {
		fresh, err := o.client.Login(ctx, creds)
		if err != nil {
			return campus.Snapshot{}, false, err
		}
		session = fresh
	}

	snapshot, err := o.client.FetchBalances(ctx, creds, session)
	if err != nil {
		return campus.Snapshot{}, cached, err
	}

	if !cached && o.tokens != nil {
		if err := o.tokens.Put(ctx, userID, session); err != nil {
			// A cache write failure costs one extra login next cycle, not
			// this collection.
			logger.WarnContext(ctx, "token cache write failed", "error", err)
		}
	}
	return snapshot, cached, nil
}

func (o *Orchestrator) loggerWith(ctx context.Context, userID string) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = o.logger
	}
	return logger.With("service", "Orchestrator", "user_id", userID)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
