package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/medseal/medseal/internal/anchor"
	"github.com/medseal/medseal/internal/seal"
)

type stubSource struct {
	fields map[string]any
	err    error
}

func (s *stubSource) Fields(_ context.Context, _, _ string) (map[string]any, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.fields, nil
}

func newTestService(client anchor.Client) (*Service, *RepoMem) {
	repo := NewRepoMem()
	svc := NewService(repo, client, seal.NewSealer(nil), zerolog.Nop())
	return svc, repo
}

func TestSealAppendsAndSubmits(t *testing.T) {
	mem := anchor.NewMemory()
	svc, _ := newTestService(mem)
	ctx := context.Background()

	entry, err := svc.Seal(ctx, "patient", "p-1", map[string]any{"name": "John"})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if entry.Status != StatusPending {
		t.Fatalf("status = %q, want pending", entry.Status)
	}
	if entry.ExternalReference == nil {
		t.Fatal("successful first submit must store a reference")
	}
	if !mem.Anchored(entry.Fingerprint) {
		t.Fatal("fingerprint not submitted to the anchor")
	}
}

func TestSealSurvivesUnavailableAnchor(t *testing.T) {
	svc, repo := newTestService(anchor.Disabled{})
	ctx := context.Background()

	entry, err := svc.Seal(ctx, "patient", "p-1", map[string]any{"name": "John"})
	if err != nil {
		t.Fatalf("Seal must not fail on anchor trouble: %v", err)
	}
	if entry.Status != StatusPending {
		t.Fatalf("status = %q, want pending", entry.Status)
	}
	if entry.ExternalReference != nil {
		t.Fatal("no reference should exist when the anchor is unavailable")
	}
	if entry.AttemptCount != 1 {
		t.Fatalf("attempt count = %d, want 1 (the spent first attempt)", entry.AttemptCount)
	}
	if entry.NextAttemptAt == nil {
		t.Fatal("failed attempt must schedule a retry")
	}

	stored, err := repo.GetByID(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != StatusPending {
		t.Fatal("ledger row must be persisted despite the anchor being down")
	}
}

func TestSealFailsClosedOnCanonicalization(t *testing.T) {
	svc, repo := newTestService(anchor.NewMemory())
	ctx := context.Background()

	_, err := svc.Seal(ctx, "patient", "p-1", map[string]any{"blob": make(chan int)})
	if err == nil {
		t.Fatal("unencodable field must fail the seal")
	}
	var cerr *seal.CanonicalizationError
	if !errors.As(err, &cerr) {
		t.Fatalf("got %T, want CanonicalizationError", err)
	}

	_, total, err := repo.List(ctx, Filter{IncludeSuperseded: true}, 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 0 {
		t.Fatal("no entry may be appended when canonicalization fails")
	}
}

func TestSealDedupsIdenticalContent(t *testing.T) {
	mem := anchor.NewMemory()
	svc, _ := newTestService(mem)
	ctx := context.Background()

	fields := map[string]any{"name": "John", "dob": "1980-01-01"}

	first, err := svc.Seal(ctx, "patient", "p-1", fields)
	if err != nil {
		t.Fatalf("first Seal: %v", err)
	}
	second, err := svc.Seal(ctx, "patient", "p-1", map[string]any{"dob": "1980-01-01", "name": "John"})
	if err != nil {
		t.Fatalf("second Seal: %v", err)
	}

	if second.ID != first.ID {
		t.Fatal("identical content must collapse into one entry")
	}
	if !second.Deduped {
		t.Fatal("second seal not reported as dedup")
	}
	if calls := mem.SubmitCalls(); calls != 1 {
		t.Fatalf("submit calls = %d, want 1 (dedup target already holds a reference)", calls)
	}

	entries, total, err := svc.List(ctx, Filter{RecordType: "patient", RecordID: "p-1"}, 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 || len(entries) != 1 {
		t.Fatalf("want one row after dedup, got %d", total)
	}
}

func TestSealExcludedFieldsDoNotChurn(t *testing.T) {
	svc, _ := newTestService(anchor.NewMemory())
	ctx := context.Background()

	first, err := svc.Seal(ctx, "patient", "p-1", map[string]any{
		"name": "John",
		"id":   "p-1",
	})
	if err != nil {
		t.Fatalf("first Seal: %v", err)
	}
	second, err := svc.Seal(ctx, "patient", "p-1", map[string]any{
		"name":       "John",
		"id":         "something-else",
		"updated_at": "2026-01-02T03:04:05Z",
	})
	if err != nil {
		t.Fatalf("second Seal: %v", err)
	}
	if second.ID != first.ID || !second.Deduped {
		t.Fatal("changes confined to excluded fields must dedup, not supersede")
	}
}

func TestSealCancelledContextLeavesEntryUntouched(t *testing.T) {
	svc, repo := newTestService(anchor.NewMemory())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	entry, err := svc.Seal(ctx, "patient", "p-1", map[string]any{"name": "John"})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if entry.AttemptCount != 0 {
		t.Fatal("cancellation must not be booked as a failed attempt")
	}

	stored, err := repo.GetByID(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.AttemptCount != 0 || stored.ExternalReference != nil {
		t.Fatal("cancelled submit must leave the appended entry exactly as written")
	}
}

func TestVerifyReportsDrift(t *testing.T) {
	svc, _ := newTestService(anchor.NewMemory())
	ctx := context.Background()

	src := &stubSource{fields: map[string]any{"name": "John"}}
	svc.SetSource(src)

	if _, err := svc.Seal(ctx, "patient", "p-1", src.fields); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	v, err := svc.Verify(ctx, "patient", "p-1")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if v.Drift {
		t.Fatal("unchanged record reported drift")
	}

	// Out-of-band edit: the source now disagrees with the sealed state.
	src.fields = map[string]any{"name": "Jane"}

	v, err = svc.Verify(ctx, "patient", "p-1")
	if err != nil {
		t.Fatalf("Verify after edit: %v", err)
	}
	if !v.Drift {
		t.Fatal("out-of-band edit not reported as drift")
	}
	if v.Entry == nil || v.Entry.RecordID != "p-1" {
		t.Fatal("verification must carry the entry it checked against")
	}
}

func TestVerifyMissingRecordIsDrift(t *testing.T) {
	svc, _ := newTestService(anchor.NewMemory())
	ctx := context.Background()

	src := &stubSource{fields: map[string]any{"name": "John"}}
	svc.SetSource(src)

	if _, err := svc.Seal(ctx, "patient", "p-1", src.fields); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	src.err = ErrNotFound

	v, err := svc.Verify(ctx, "patient", "p-1")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !v.Drift {
		t.Fatal("a sealed record that no longer exists is drift")
	}
}

func TestVerifyUnsealedRecordIsNotFound(t *testing.T) {
	svc, _ := newTestService(anchor.NewMemory())
	svc.SetSource(&stubSource{fields: map[string]any{}})

	_, err := svc.Verify(context.Background(), "patient", "never-sealed")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestResendConfirmedNeverRegresses(t *testing.T) {
	mem := anchor.NewMemory()
	svc, repo := newTestService(mem)
	ctx := context.Background()

	entry, err := svc.Seal(ctx, "patient", "p-1", map[string]any{"name": "John"})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := repo.MarkConfirmed(ctx, entry.ID); err != nil {
		t.Fatalf("MarkConfirmed: %v", err)
	}

	got, err := svc.Resend(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Resend: %v", err)
	}
	if got.Status != StatusConfirmed {
		t.Fatalf("resend regressed status to %q", got.Status)
	}
	if got.ExternalReference == nil {
		t.Fatal("resend must return a reference")
	}
}

func TestResendFailureMutatesNothing(t *testing.T) {
	mem := anchor.NewMemory()
	svc, repo := newTestService(mem)
	ctx := context.Background()

	entry, err := svc.Seal(ctx, "patient", "p-1", map[string]any{"name": "John"})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	before, _ := repo.GetByID(ctx, entry.ID)

	mem.SubmitErr = anchor.ErrUnavailable
	if _, err := svc.Resend(ctx, entry.ID); !errors.Is(err, anchor.ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}

	after, _ := repo.GetByID(ctx, entry.ID)
	if after.Status != before.Status || after.AttemptCount != before.AttemptCount {
		t.Fatal("failed resend must not mutate the entry")
	}
	if (after.ExternalReference == nil) != (before.ExternalReference == nil) {
		t.Fatal("failed resend must not touch the reference")
	}
}

func TestResendFailedEntryRevives(t *testing.T) {
	mem := anchor.NewMemory()
	mem.SubmitErr = anchor.ErrUnavailable
	svc, repo := newTestService(mem)
	svc.MaxAttempts = 1
	ctx := context.Background()

	entry, err := svc.Seal(ctx, "patient", "p-1", map[string]any{"name": "John"})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if entry.Status != StatusFailed {
		t.Fatalf("status = %q, want failed with a one-attempt budget", entry.Status)
	}

	mem.SubmitErr = nil
	got, err := svc.Resend(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Resend: %v", err)
	}
	if got.Status != StatusPending {
		t.Fatalf("status = %q, want pending after manual resend", got.Status)
	}
	if got.AttemptCount != 0 {
		t.Fatal("manual resend must grant a fresh budget")
	}

	stored, _ := repo.GetByID(ctx, entry.ID)
	if stored.ExternalReference == nil {
		t.Fatal("fresh reference not persisted")
	}
}

func TestAttachContentConflictSurfaces(t *testing.T) {
	svc, _ := newTestService(anchor.NewMemory())
	ctx := context.Background()

	entry, err := svc.Seal(ctx, "patient", "p-1", map[string]any{"name": "John"})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if _, err := svc.AttachContent(ctx, entry.ID, "sha256:abc"); err != nil {
		t.Fatalf("AttachContent: %v", err)
	}
	if _, err := svc.AttachContent(ctx, entry.ID, "sha256:def"); !errors.Is(err, ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
	if _, err := svc.AttachContent(ctx, entry.ID, "  "); err == nil {
		t.Fatal("blank reference must be rejected")
	}
}

func TestCheckAnchoredAdvisory(t *testing.T) {
	mem := anchor.NewMemory()
	svc, _ := newTestService(mem)
	ctx := context.Background()

	entry, err := svc.Seal(ctx, "patient", "p-1", map[string]any{"name": "John"})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	check, err := svc.CheckAnchored(ctx, entry.ID)
	if err != nil {
		t.Fatalf("CheckAnchored: %v", err)
	}
	if !check.Anchored {
		t.Fatal("submitted fingerprint should read as anchored")
	}

	mem.QueryErr = anchor.ErrUnavailable
	check, err = svc.CheckAnchored(ctx, entry.ID)
	if err != nil {
		t.Fatalf("CheckAnchored with anchor down: %v", err)
	}
	if check.Anchored {
		t.Fatal("unreachable anchor must read as not anchored, not as an error")
	}
}
