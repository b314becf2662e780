package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RepoMem is a mutex-guarded in-memory Repo with the same semantics as the
// Postgres implementation. It backs tests and the --ephemeral dev mode.
type RepoMem struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry
	order   map[uuid.UUID]int
	seq     int
}

func NewRepoMem() *RepoMem {
	return &RepoMem{
		entries: make(map[uuid.UUID]*Entry),
		order:   make(map[uuid.UUID]int),
	}
}

func clone(e *Entry) *Entry {
	c := *e
	return &c
}

func (r *RepoMem) Append(ctx context.Context, e *Entry) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()

	for _, existing := range r.entries {
		if existing.SupersededAt == nil && existing.Fingerprint == e.Fingerprint {
			existing.CreatedAt = now
			existing.UpdatedAt = now
			dup := clone(existing)
			dup.Deduped = true
			return dup, nil
		}
	}

	for _, existing := range r.entries {
		if existing.SupersededAt == nil &&
			existing.RecordType == e.RecordType && existing.RecordID == e.RecordID {
			t := now
			existing.SupersededAt = &t
			existing.UpdatedAt = now
		}
	}

	stored := &Entry{
		ID:          uuid.New(),
		RecordType:  e.RecordType,
		RecordID:    e.RecordID,
		Fingerprint: e.Fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.entries[stored.ID] = stored
	r.seq++
	r.order[stored.ID] = r.seq
	return clone(stored), nil
}

func (r *RepoMem) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(e), nil
}

func (r *RepoMem) GetActiveByFingerprint(ctx context.Context, fingerprint string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.SupersededAt == nil && e.Fingerprint == fingerprint {
			return clone(e), nil
		}
	}
	return nil, ErrNotFound
}

func (r *RepoMem) LatestActive(ctx context.Context, recordType, recordID string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *Entry
	for _, e := range r.entries {
		if e.SupersededAt != nil || e.RecordType != recordType || e.RecordID != recordID {
			continue
		}
		if latest == nil || e.CreatedAt.After(latest.CreatedAt) ||
			(e.CreatedAt.Equal(latest.CreatedAt) && r.order[e.ID] > r.order[latest.ID]) {
			latest = e
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return clone(latest), nil
}

func (r *RepoMem) List(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Entry
	for _, e := range r.entries {
		if !f.IncludeSuperseded && e.SupersededAt != nil {
			continue
		}
		if f.RecordType != "" && e.RecordType != f.RecordType {
			continue
		}
		if f.RecordID != "" && e.RecordID != f.RecordID {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		matched = append(matched, e)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return r.order[matched[i].ID] > r.order[matched[j].ID]
	})

	total := len(matched)
	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	out := make([]*Entry, len(matched))
	for i, e := range matched {
		out[i] = clone(e)
	}
	return out, total, nil
}

func (r *RepoMem) ListConfirmable(ctx context.Context, limit int) ([]*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Entry
	for _, e := range r.entries {
		if e.Status == StatusPending && e.ExternalReference != nil {
			out = append(out, clone(e))
		}
	}
	sortOldestFirst(out)
	return capped(out, limit), nil
}

func (r *RepoMem) ListResubmittable(ctx context.Context, now time.Time, limit int) ([]*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Entry
	for _, e := range r.entries {
		if e.Status != StatusPending || e.ExternalReference != nil || e.SupersededAt != nil {
			continue
		}
		if e.NextAttemptAt != nil && e.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, clone(e))
	}
	sortOldestFirst(out)
	return capped(out, limit), nil
}

func sortOldestFirst(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}

func capped(entries []*Entry, limit int) []*Entry {
	if limit > 0 && limit < len(entries) {
		return entries[:limit]
	}
	return entries
}

func (r *RepoMem) MarkConfirmed(ctx context.Context, id uuid.UUID) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.Status == StatusPending {
		e.Status = StatusConfirmed
		e.NextAttemptAt = nil
		e.UpdatedAt = time.Now().UTC()
	}
	return clone(e), nil
}

func (r *RepoMem) ConfirmWithReference(ctx context.Context, id uuid.UUID, ref string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.Status == StatusPending {
		e.Status = StatusConfirmed
		e.ExternalReference = &ref
		e.NextAttemptAt = nil
		e.UpdatedAt = time.Now().UTC()
	}
	return clone(e), nil
}

func (r *RepoMem) RecordSubmitFailure(ctx context.Context, id uuid.UUID, maxAttempts int, nextAttempt time.Time) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.Status == StatusPending {
		e.AttemptCount++
		if e.AttemptCount >= maxAttempts {
			e.Status = StatusFailed
			e.NextAttemptAt = nil
		} else {
			t := nextAttempt
			e.NextAttemptAt = &t
		}
		e.UpdatedAt = time.Now().UTC()
	}
	return clone(e), nil
}

func (r *RepoMem) SetPendingReference(ctx context.Context, id uuid.UUID, ref string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.ExternalReference = &ref
	if e.Status != StatusConfirmed {
		e.Status = StatusPending
	}
	e.AttemptCount = 0
	e.NextAttemptAt = nil
	e.UpdatedAt = time.Now().UTC()
	return clone(e), nil
}

func (r *RepoMem) AttachContent(ctx context.Context, id uuid.UUID, ref string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.ContentReference != nil {
		return nil, ErrConflict
	}
	e.ContentReference = &ref
	e.UpdatedAt = time.Now().UTC()
	return clone(e), nil
}

var _ Repo = (*RepoMem)(nil)
