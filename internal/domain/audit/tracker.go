package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/medseal/medseal/internal/anchor"
	"github.com/medseal/medseal/internal/platform/telemetry"
)

// Tracker is the periodic task that moves pending entries forward: entries
// holding an external reference are polled for confirmation, referenceless
// ones whose backoff window has passed get another submit attempt. One tick
// runs at a time; anchor calls inside a tick run under a bounded worker pool
// with per-call timeouts so a hung call cannot stall the rest.
type Tracker struct {
	repo   Repo
	client anchor.Client
	logger zerolog.Logger

	// Interval is the tick period and also the budget one tick may spend.
	Interval time.Duration
	// CallTimeout bounds each individual anchor call.
	CallTimeout time.Duration
	// MaxAttempts is the submit budget before a pending entry fails.
	MaxAttempts int
	// Concurrency caps in-flight anchor calls per tick.
	Concurrency int
	// BatchSize caps entries fetched per tick and phase.
	BatchSize int

	running atomic.Bool
}

func NewTracker(repo Repo, client anchor.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		repo:        repo,
		client:      client,
		logger:      logger,
		Interval:    30 * time.Second,
		CallTimeout: 10 * time.Second,
		MaxAttempts: 5,
		Concurrency: 4,
		BatchSize:   50,
	}
}

// TickStats summarizes one tick.
type TickStats struct {
	Skipped     bool
	Checked     int
	Confirmed   int
	Resubmitted int
	Failed      int
}

// Start runs an immediate tick, then one per interval. It blocks until ctx
// is cancelled.
func (t *Tracker) Start(ctx context.Context) {
	t.RunOnce(ctx)

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.RunOnce(ctx)
		}
	}
}

// RunOnce executes one tick. Single-flight: if a tick is already in
// progress the call returns immediately with Skipped set.
func (t *Tracker) RunOnce(ctx context.Context) TickStats {
	if !t.running.CompareAndSwap(false, true) {
		telemetry.RecordTrackerTick("skipped")
		return TickStats{Skipped: true}
	}
	defer t.running.Store(false)

	tickCtx, cancel := context.WithTimeout(ctx, t.Interval)
	defer cancel()

	var stats TickStats
	t.confirmPhase(tickCtx, &stats)
	t.resubmitPhase(tickCtx, &stats)

	telemetry.RecordTrackerTick("completed")
	telemetry.SetPendingEntries(stats.Checked - stats.Confirmed - stats.Failed)

	if stats.Checked > 0 {
		t.logger.Info().
			Int("checked", stats.Checked).
			Int("confirmed", stats.Confirmed).
			Int("resubmitted", stats.Resubmitted).
			Int("failed", stats.Failed).
			Msg("tracker tick completed")
	}
	return stats
}

// confirmPhase polls the anchor for pending entries that already hold an
// external reference. Present means confirmed, terminal; anything else
// leaves the entry pending for the next tick.
func (t *Tracker) confirmPhase(ctx context.Context, stats *TickStats) {
	entries, err := t.repo.ListConfirmable(ctx, t.BatchSize)
	if err != nil {
		t.logger.Error().Err(err).Msg("failed to list confirmable entries")
		return
	}

	var confirmed atomic.Int64
	t.forEach(ctx, entries, func(callCtx context.Context, e *Entry) {
		start := time.Now()
		present, qerr := t.client.Query(callCtx, e.Fingerprint)
		telemetry.RecordAnchorCall("query", qerr, time.Since(start))
		if qerr != nil {
			t.logger.Debug().Err(qerr).Str("entry", e.ID.String()).Msg("confirmation check deferred")
			return
		}
		if !present {
			return
		}
		if _, err := t.repo.MarkConfirmed(ctx, e.ID); err != nil {
			t.logger.Error().Err(err).Str("entry", e.ID.String()).Msg("failed to mark entry confirmed")
			return
		}
		telemetry.RecordTransition(StatusConfirmed)
		t.logger.Info().
			Str("entry", e.ID.String()).
			Str("fingerprint", e.Fingerprint).
			Msg("fingerprint confirmed on anchor")
		confirmed.Add(1)
	})

	stats.Checked += len(entries)
	stats.Confirmed += int(confirmed.Load())
}

// resubmitPhase retries submits for pending entries that never obtained a
// reference. A fresh reference confirms the entry; a failure spends one
// attempt from the budget and schedules the next try, until the budget is
// gone and the entry fails.
func (t *Tracker) resubmitPhase(ctx context.Context, stats *TickStats) {
	entries, err := t.repo.ListResubmittable(ctx, time.Now(), t.BatchSize)
	if err != nil {
		t.logger.Error().Err(err).Msg("failed to list resubmittable entries")
		return
	}

	var resubmitted, failed atomic.Int64
	t.forEach(ctx, entries, func(callCtx context.Context, e *Entry) {
		start := time.Now()
		ref, serr := t.client.Submit(callCtx, e.Fingerprint)
		telemetry.RecordAnchorCall("submit", serr, time.Since(start))

		if serr == nil {
			if _, err := t.repo.ConfirmWithReference(ctx, e.ID, ref); err != nil {
				t.logger.Error().Err(err).Str("entry", e.ID.String()).Msg("failed to store fresh reference")
				return
			}
			telemetry.RecordTransition(StatusConfirmed)
			t.logger.Info().
				Str("entry", e.ID.String()).
				Str("reference", ref).
				Msg("fingerprint anchored on retry")
			resubmitted.Add(1)
			return
		}

		if ctx.Err() != nil {
			return
		}
		updated, uerr := t.repo.RecordSubmitFailure(ctx, e.ID, t.MaxAttempts,
			time.Now().Add(retryBackoff(e.AttemptCount+1)))
		if uerr != nil {
			t.logger.Error().Err(uerr).Str("entry", e.ID.String()).Msg("failed to record submit attempt")
			return
		}
		if updated.Status == StatusFailed {
			telemetry.RecordTransition(StatusFailed)
			t.logger.Warn().
				Str("entry", e.ID.String()).
				Int("attempts", updated.AttemptCount).
				Msg("submit budget exhausted, entry failed")
			failed.Add(1)
		}
	})

	stats.Checked += len(entries)
	stats.Resubmitted += int(resubmitted.Load())
	stats.Failed += int(failed.Load())
}

// forEach fans entries out to at most Concurrency workers, each call bounded
// by CallTimeout, and waits for all of them.
func (t *Tracker) forEach(ctx context.Context, entries []*Entry, fn func(context.Context, *Entry)) {
	sem := make(chan struct{}, t.Concurrency)
	var wg sync.WaitGroup

	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(e *Entry) {
			defer wg.Done()
			defer func() { <-sem }()

			callCtx, cancel := context.WithTimeout(ctx, t.CallTimeout)
			defer cancel()
			fn(callCtx, e)
		}(e)
	}
	wg.Wait()
}

func retryBackoff(attempt int) time.Duration {
	switch attempt {
	case 1:
		return 30 * time.Second
	case 2:
		return 1 * time.Minute
	case 3:
		return 5 * time.Minute
	case 4:
		return 15 * time.Minute
	default:
		return 1 * time.Hour
	}
}
