// Package audit owns the append-only ledger of record fingerprints: entry
// creation with write-time deduplication, the pending → confirmed state
// machine, and the verification surface (drift checks, resend, content
// attachment).
package audit

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Entry statuses. pending → confirmed is the only automatic transition and
// confirmed is terminal; failed is reachable only from pending once the
// submit budget is spent, and a manual resend moves failed back to pending.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

var (
	// ErrNotFound means no audit entry matched a verify/resend/attach call.
	ErrNotFound = errors.New("audit entry not found")
	// ErrConflict means attach was called on an entry that already carries
	// a content reference. The first reference is preserved.
	ErrConflict = errors.New("content reference already attached")
)

// Entry is one fingerprint observation of a record. Entries are never
// deleted or overwritten in place: a record whose content changes gets a new
// entry and the old one is marked superseded.
type Entry struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	RecordType        string     `db:"record_type" json:"record_type"`
	RecordID          string     `db:"record_id" json:"record_id"`
	Fingerprint       string     `db:"fingerprint" json:"fingerprint"`
	ContentReference  *string    `db:"content_reference" json:"content_reference,omitempty"`
	ExternalReference *string    `db:"external_reference" json:"external_reference,omitempty"`
	Status            string     `db:"status" json:"status"`
	AttemptCount      int        `db:"attempt_count" json:"attempt_count"`
	NextAttemptAt     *time.Time `db:"next_attempt_at" json:"next_attempt_at,omitempty"`
	SupersededAt      *time.Time `db:"superseded_at" json:"superseded_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`

	// Deduped is set on entries returned from Append when the write
	// collapsed into an existing active entry. Not persisted.
	Deduped bool `db:"-" json:"-"`
}

// Active reports whether this entry is the record's current fingerprint row.
func (e *Entry) Active() bool { return e.SupersededAt == nil }

// Filter narrows List queries. Zero values mean "any"; superseded entries
// are hidden unless IncludeSuperseded is set.
type Filter struct {
	RecordType        string
	RecordID          string
	Status            string
	IncludeSuperseded bool
}

// Verification is the answer to a drift check: the most recent active entry
// for the record plus whether the record's current content still hashes to
// the stored fingerprint.
type Verification struct {
	Entry *Entry `json:"entry"`
	Drift bool   `json:"drift"`
}
