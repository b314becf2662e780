package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medseal/medseal/internal/anchor"
)

func newTestTracker(repo Repo, client anchor.Client) *Tracker {
	tr := NewTracker(repo, client, zerolog.Nop())
	tr.Interval = time.Second
	tr.CallTimeout = time.Second
	return tr
}

// rewindBackoff pulls an entry's next attempt into the past so a test tick
// sees it as due without sleeping through real backoff windows.
func rewindBackoff(r *RepoMem, id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok && e.NextAttemptAt != nil {
		past := time.Now().Add(-time.Second)
		e.NextAttemptAt = &past
	}
}

func TestTrackerConfirmsReferencedEntries(t *testing.T) {
	repo := NewRepoMem()
	mem := anchor.NewMemory()
	ctx := context.Background()

	e := mustAppend(t, repo, "patient", "p-1", "0xaa")
	ref, err := mem.Submit(ctx, "0xaa")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := repo.SetPendingReference(ctx, e.ID, ref); err != nil {
		t.Fatalf("SetPendingReference: %v", err)
	}

	tr := newTestTracker(repo, mem)
	stats := tr.RunOnce(ctx)

	if stats.Confirmed != 1 {
		t.Fatalf("confirmed = %d, want 1", stats.Confirmed)
	}
	got, _ := repo.GetByID(ctx, e.ID)
	if got.Status != StatusConfirmed {
		t.Fatalf("status = %q, want confirmed", got.Status)
	}
}

func TestTrackerLeavesUnanchoredPending(t *testing.T) {
	repo := NewRepoMem()
	mem := anchor.NewMemory()
	ctx := context.Background()

	// Reference exists but the anchor has not made the fingerprint
	// visible yet.
	e := mustAppend(t, repo, "patient", "p-1", "0xaa")
	if _, err := repo.SetPendingReference(ctx, e.ID, "ref-1"); err != nil {
		t.Fatalf("SetPendingReference: %v", err)
	}

	tr := newTestTracker(repo, mem)
	tr.RunOnce(ctx)

	got, _ := repo.GetByID(ctx, e.ID)
	if got.Status != StatusPending {
		t.Fatalf("status = %q, want pending until the anchor reports the fingerprint", got.Status)
	}
}

func TestTrackerQueryErrorDefersEntry(t *testing.T) {
	repo := NewRepoMem()
	mem := anchor.NewMemory()
	mem.QueryErr = anchor.ErrUnavailable
	ctx := context.Background()

	e := mustAppend(t, repo, "patient", "p-1", "0xaa")
	if _, err := repo.SetPendingReference(ctx, e.ID, "ref-1"); err != nil {
		t.Fatalf("SetPendingReference: %v", err)
	}

	tr := newTestTracker(repo, mem)
	tr.RunOnce(ctx)

	got, _ := repo.GetByID(ctx, e.ID)
	if got.Status != StatusPending {
		t.Fatalf("status = %q, want pending", got.Status)
	}
	if got.AttemptCount != 0 {
		t.Fatal("a failed confirmation check must not spend the submit budget")
	}
}

func TestTrackerRetriesUntilBudgetExhausted(t *testing.T) {
	repo := NewRepoMem()
	mem := anchor.NewMemory()
	mem.SubmitErr = anchor.ErrUnavailable
	ctx := context.Background()

	e := mustAppend(t, repo, "patient", "p-1", "0xaa")

	tr := newTestTracker(repo, mem)
	tr.MaxAttempts = 3

	for i := 1; i <= 2; i++ {
		tr.RunOnce(ctx)
		got, _ := repo.GetByID(ctx, e.ID)
		if got.Status != StatusPending {
			t.Fatalf("after attempt %d: status = %q, want pending while budget remains", i, got.Status)
		}
		if got.AttemptCount != i {
			t.Fatalf("after attempt %d: count = %d", i, got.AttemptCount)
		}
		rewindBackoff(repo, e.ID)
	}

	stats := tr.RunOnce(ctx)
	if stats.Failed != 1 {
		t.Fatalf("failed = %d, want 1", stats.Failed)
	}
	got, _ := repo.GetByID(ctx, e.ID)
	if got.Status != StatusFailed {
		t.Fatalf("status = %q, want failed once the budget is spent", got.Status)
	}

	// Failed is terminal for the tracker: nothing further is attempted.
	calls := mem.SubmitCalls()
	tr.RunOnce(ctx)
	if mem.SubmitCalls() != calls {
		t.Fatal("tracker retried a failed entry")
	}
}

func TestTrackerFreshReferenceConfirms(t *testing.T) {
	repo := NewRepoMem()
	mem := anchor.NewMemory()
	ctx := context.Background()

	e := mustAppend(t, repo, "patient", "p-1", "0xaa")

	tr := newTestTracker(repo, mem)
	stats := tr.RunOnce(ctx)

	if stats.Resubmitted != 1 {
		t.Fatalf("resubmitted = %d, want 1", stats.Resubmitted)
	}
	got, _ := repo.GetByID(ctx, e.ID)
	if got.Status != StatusConfirmed {
		t.Fatalf("status = %q, want confirmed when the retry freshly anchors", got.Status)
	}
	if got.ExternalReference == nil {
		t.Fatal("fresh reference not stored")
	}
}

func TestTrackerSkipsConfirmedEntries(t *testing.T) {
	repo := NewRepoMem()
	mem := anchor.NewMemory()
	ctx := context.Background()

	e := mustAppend(t, repo, "patient", "p-1", "0xaa")
	if _, err := repo.ConfirmWithReference(ctx, e.ID, "ref-1"); err != nil {
		t.Fatalf("ConfirmWithReference: %v", err)
	}

	tr := newTestTracker(repo, mem)
	tr.RunOnce(ctx)

	if mem.QueryCalls() != 0 || mem.SubmitCalls() != 0 {
		t.Fatal("confirmed entries must not trigger anchor calls")
	}
}

type blockingClient struct {
	anchor.Client
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingClient) Query(ctx context.Context, fingerprint string) (bool, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.Client.Query(ctx, fingerprint)
}

func TestTrackerTicksDoNotOverlap(t *testing.T) {
	repo := NewRepoMem()
	ctx := context.Background()

	e := mustAppend(t, repo, "patient", "p-1", "0xaa")
	if _, err := repo.SetPendingReference(ctx, e.ID, "ref-1"); err != nil {
		t.Fatalf("SetPendingReference: %v", err)
	}

	bc := &blockingClient{
		Client:  anchor.NewMemory(),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	tr := newTestTracker(repo, bc)

	done := make(chan TickStats, 1)
	go func() { done <- tr.RunOnce(ctx) }()

	<-bc.started
	overlapping := tr.RunOnce(ctx)
	if !overlapping.Skipped {
		t.Fatal("a tick started while another runs must be skipped")
	}

	close(bc.release)
	first := <-done
	if first.Skipped {
		t.Fatal("the original tick must run to completion")
	}
}
