// Package anchor talks to the external append-only ledger that fingerprints
// are committed to. The ledger is a collaborator, not a dependency: every
// variant of Client treats unreachability as a normal, recoverable condition
// and local record mutation never waits on it.
package anchor

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks the anchor ledger unreachable or unconfigured. It is
// an expected condition, recovered locally: the audit entry stays pending or
// failed, and the record mutation that triggered anchoring is never blocked
// or failed by it.
var ErrUnavailable = errors.New("anchor unavailable")

// Client submits and queries record fingerprints against the external
// ledger. Both calls are idempotent from the caller's perspective: retrying
// Submit for an already-anchored fingerprint returns the same or a new valid
// reference, never corrupting ledger state. All failures are transient.
type Client interface {
	// Submit anchors a fingerprint and returns an opaque external reference.
	Submit(ctx context.Context, fingerprint string) (string, error)

	// Query reports whether a fingerprint is present on the ledger.
	Query(ctx context.Context, fingerprint string) (bool, error)

	// Status returns an advisory connectivity snapshot. It never gates the
	// correctness of local operations.
	Status(ctx context.Context) (*Status, error)
}

// Admin manages which submitter accounts the ledger accepts. Wired to the
// anchor CLI subcommands, not the HTTP API.
type Admin interface {
	Authorize(ctx context.Context, account string) (string, error)
	Deauthorize(ctx context.Context, account string) (string, error)
	Authorized(ctx context.Context, account string) (bool, error)
}

// Status is a read-only snapshot of anchor connectivity and ledger position.
// An unreachable gateway yields Configured=true, Reachable=false. That is
// still a valid snapshot, not an error.
type Status struct {
	Configured     bool      `json:"configured"`
	Reachable      bool      `json:"reachable"`
	Endpoint       string    `json:"endpoint,omitempty"`
	Ledger         string    `json:"ledger,omitempty"`
	LatestPosition int64     `json:"latest_position"`
	Submitter      string    `json:"submitter,omitempty"`
	Authorized     bool      `json:"authorized"`
	CheckedAt      time.Time `json:"checked_at"`
}
