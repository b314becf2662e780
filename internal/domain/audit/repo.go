package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repo is the audit ledger port. Append enforces the dedup invariant at
// write time; the remaining mutations are the narrow, guarded transitions
// the tracker and the verification service are allowed to make. No method
// ever deletes a row.
type Repo interface {
	// Append stores a new fingerprint observation. If an active entry with
	// the same fingerprint already exists the two collapse into one (the
	// newest created_at wins, status and references are preserved);
	// otherwise the record's current active entry is marked superseded and
	// a fresh pending entry is inserted. Safe under concurrent appends for
	// the same record.
	Append(ctx context.Context, e *Entry) (*Entry, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	GetActiveByFingerprint(ctx context.Context, fingerprint string) (*Entry, error)
	LatestActive(ctx context.Context, recordType, recordID string) (*Entry, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error)

	// ListConfirmable returns pending entries that hold an external
	// reference: the only ones the tracker polls for confirmation.
	ListConfirmable(ctx context.Context, limit int) ([]*Entry, error)
	// ListResubmittable returns pending entries without an external
	// reference whose backoff window has passed.
	ListResubmittable(ctx context.Context, now time.Time, limit int) ([]*Entry, error)

	// MarkConfirmed transitions pending → confirmed. Confirmed is terminal:
	// calling it on an already confirmed entry changes nothing.
	MarkConfirmed(ctx context.Context, id uuid.UUID) (*Entry, error)
	// ConfirmWithReference records a tracker-obtained reference and
	// transitions pending → confirmed in one step.
	ConfirmWithReference(ctx context.Context, id uuid.UUID, ref string) (*Entry, error)
	// RecordSubmitFailure increments the attempt count, schedules the next
	// attempt, and transitions pending → failed once maxAttempts is spent.
	RecordSubmitFailure(ctx context.Context, id uuid.UUID, maxAttempts int, nextAttempt time.Time) (*Entry, error)
	// SetPendingReference stores a fresh reference from a manual resend and
	// resets the submit budget. A confirmed entry keeps its status; any
	// other re-enters pending.
	SetPendingReference(ctx context.Context, id uuid.UUID, ref string) (*Entry, error)
	// AttachContent sets the content reference exactly once; a second call
	// fails with ErrConflict and mutates nothing.
	AttachContent(ctx context.Context, id uuid.UUID, ref string) (*Entry, error)
}
