package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medseal/medseal/internal/anchor"
	"github.com/medseal/medseal/internal/platform/telemetry"
	"github.com/medseal/medseal/internal/seal"
)

// Source resolves a record's current field mapping so drift checks can
// recompute its fingerprint. Implementations return ErrNotFound when the
// record no longer exists.
type Source interface {
	Fields(ctx context.Context, recordType, recordID string) (map[string]any, error)
}

// Service is the verification surface over the audit ledger, and the single
// owner of the fingerprint → append → best-effort submit pipeline. Exactly
// one call site per logical record mutation goes through Seal; nothing else
// appends.
type Service struct {
	repo   Repo
	client anchor.Client
	sealer *seal.Sealer
	source Source
	logger zerolog.Logger

	// SubmitTimeout bounds each anchor submit so callers never block on
	// ledger latency.
	SubmitTimeout time.Duration
	// MaxAttempts is the submit budget before a pending entry fails.
	MaxAttempts int
}

func NewService(repo Repo, client anchor.Client, sealer *seal.Sealer, logger zerolog.Logger) *Service {
	return &Service{
		repo:          repo,
		client:        client,
		sealer:        sealer,
		logger:        logger,
		SubmitTimeout: 10 * time.Second,
		MaxAttempts:   5,
	}
}

// SetSource attaches the record lookup used by Verify. Wired after
// construction because record services themselves depend on this service.
func (s *Service) SetSource(src Source) { s.source = src }

// Seal fingerprints the given field mapping, appends the observation to the
// ledger, and makes one timeout-bounded submit attempt. Anchor failures are
// recorded and swallowed: once the entry is locally persisted the mutation
// has succeeded. A canonicalization failure aborts before anything is
// written.
func (s *Service) Seal(ctx context.Context, recordType, recordID string, fields map[string]any) (*Entry, error) {
	fp, err := s.sealer.Fingerprint(fields)
	if err != nil {
		s.logger.Error().Err(err).
			Str("record_type", recordType).
			Str("record_id", recordID).
			Msg("canonicalization failed, record not sealed")
		return nil, err
	}

	entry, err := s.repo.Append(ctx, &Entry{
		RecordType:  recordType,
		RecordID:    recordID,
		Fingerprint: fp.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}

	outcome := "inserted"
	if entry.Deduped {
		outcome = "deduped"
	}
	telemetry.RecordAppend(outcome)
	s.logger.Debug().
		Str("entry", entry.ID.String()).
		Str("fingerprint", entry.Fingerprint).
		Str("outcome", outcome).
		Msg("audit entry appended")

	// First submit attempt, best effort. Skipped when the dedup target is
	// already confirmed or already holds a reference.
	if entry.Status == StatusPending && entry.ExternalReference == nil {
		entry = s.trySubmit(ctx, entry)
	}
	return entry, nil
}

// trySubmit makes one bounded submit attempt and records the outcome. It
// never returns an error: anchor trouble must not propagate to the record
// mutation path.
func (s *Service) trySubmit(ctx context.Context, e *Entry) *Entry {
	subCtx, cancel := context.WithTimeout(ctx, s.SubmitTimeout)
	defer cancel()

	start := time.Now()
	ref, err := s.client.Submit(subCtx, e.Fingerprint)
	telemetry.RecordAnchorCall("submit", err, time.Since(start))

	if err != nil {
		s.logger.Warn().Err(err).
			Str("entry", e.ID.String()).
			Msg("anchor submit deferred")
		if ctx.Err() != nil {
			// Caller cancelled: leave the entry exactly as appended.
			return e
		}
		updated, uerr := s.repo.RecordSubmitFailure(ctx, e.ID, s.MaxAttempts,
			time.Now().Add(retryBackoff(e.AttemptCount+1)))
		if uerr != nil {
			s.logger.Error().Err(uerr).Str("entry", e.ID.String()).Msg("failed to record submit attempt")
			return e
		}
		if updated.Status == StatusFailed {
			telemetry.RecordTransition(StatusFailed)
		}
		return updated
	}

	updated, uerr := s.repo.SetPendingReference(ctx, e.ID, ref)
	if uerr != nil {
		s.logger.Error().Err(uerr).Str("entry", e.ID.String()).Msg("failed to store external reference")
		return e
	}
	return updated
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

// Verify fetches the record's most recent active entry and recomputes the
// fingerprint from its current content. Drift means the record was changed
// without going through the sealing path. The anchor is never consulted:
// verification reflects best-known local state.
func (s *Service) Verify(ctx context.Context, recordType, recordID string) (*Verification, error) {
	entry, err := s.repo.LatestActive(ctx, recordType, recordID)
	if err != nil {
		return nil, err
	}
	if s.source == nil {
		return nil, fmt.Errorf("record source not configured")
	}

	fields, err := s.source.Fields(ctx, recordType, recordID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Record deleted out from under its entry: that is drift.
			return &Verification{Entry: entry, Drift: true}, nil
		}
		return nil, err
	}

	fp, err := s.sealer.Fingerprint(fields)
	if err != nil {
		return nil, err
	}
	return &Verification{Entry: entry, Drift: fp.String() != entry.Fingerprint}, nil
}

// VerifyByFingerprint resolves the active entry carrying a fingerprint.
func (s *Service) VerifyByFingerprint(ctx context.Context, fingerprint string) (*Entry, error) {
	return s.repo.GetActiveByFingerprint(ctx, fingerprint)
}

// AnchorCheck reports whether one entry's fingerprint is visible on the
// external ledger right now. Advisory: an unreachable anchor reads as "not
// anchored", never as a failure.
type AnchorCheck struct {
	Entry    *Entry `json:"entry"`
	Anchored bool   `json:"anchored"`
}

func (s *Service) CheckAnchored(ctx context.Context, id uuid.UUID) (*AnchorCheck, error) {
	entry, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	qCtx, cancel := context.WithTimeout(ctx, s.SubmitTimeout)
	defer cancel()

	start := time.Now()
	present, qerr := s.client.Query(qCtx, entry.Fingerprint)
	telemetry.RecordAnchorCall("query", qerr, time.Since(start))
	if qerr != nil {
		present = false
	}
	return &AnchorCheck{Entry: entry, Anchored: present}, nil
}

// Resend re-submits the stored fingerprint regardless of current status. On
// success the entry gets a fresh reference and a fresh submit budget; a
// confirmed entry keeps its status, anything else re-enters pending. On
// failure nothing is mutated.
func (s *Service) Resend(ctx context.Context, id uuid.UUID) (*Entry, error) {
	entry, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithTimeout(ctx, s.SubmitTimeout)
	defer cancel()

	start := time.Now()
	ref, err := s.client.Submit(subCtx, entry.Fingerprint)
	telemetry.RecordAnchorCall("submit", err, time.Since(start))
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.SetPendingReference(ctx, id, ref)
	if err != nil {
		return nil, err
	}
	if updated.Status == StatusPending && entry.Status == StatusFailed {
		telemetry.RecordTransition(StatusPending)
	}
	s.logger.Info().
		Str("entry", updated.ID.String()).
		Str("reference", ref).
		Msg("fingerprint resent to anchor")
	return updated, nil
}

// AttachContent stores an off-chain content reference, exactly once.
func (s *Service) AttachContent(ctx context.Context, id uuid.UUID, ref string) (*Entry, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, fmt.Errorf("content_reference is required")
	}
	return s.repo.AttachContent(ctx, id, ref)
}

// AnchorStatus returns the advisory connectivity snapshot.
func (s *Service) AnchorStatus(ctx context.Context) (*anchor.Status, error) {
	return s.client.Status(ctx)
}
