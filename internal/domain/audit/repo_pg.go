package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medseal/medseal/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repo {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const entryCols = `id, record_type, record_id, fingerprint, content_reference,
	external_reference, status, attempt_count, next_attempt_at, superseded_at,
	created_at, updated_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.RecordType, &e.RecordID, &e.Fingerprint,
		&e.ContentReference, &e.ExternalReference, &e.Status, &e.AttemptCount,
		&e.NextAttemptAt, &e.SupersededAt, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Append runs the dedup upsert inside one transaction, serialized per record
// with a transaction-scoped advisory lock so overlapping writers for the same
// record cannot race the supersede step.
func (r *repoPG) Append(ctx context.Context, e *Entry) (*Entry, error) {
	if tx := db.TxFromContext(ctx); tx != nil {
		return r.appendIn(ctx, tx, e)
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback(ctx)

	out, err := r.appendIn(ctx, tx, e)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit append tx: %w", err)
	}
	return out, nil
}

func (r *repoPG) appendIn(ctx context.Context, q queryable, e *Entry) (*Entry, error) {
	if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))`,
		e.RecordType, e.RecordID); err != nil {
		return nil, fmt.Errorf("acquire record lock: %w", err)
	}

	// Same fingerprint still active: collapse. The newest observation wins
	// the created_at; status and references carry over untouched.
	dup, err := scanEntry(q.QueryRow(ctx, `
		UPDATE audit_entries SET created_at = NOW(), updated_at = NOW()
		WHERE fingerprint = $1 AND superseded_at IS NULL
		RETURNING `+entryCols, e.Fingerprint))
	if err == nil {
		dup.Deduped = true
		return dup, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	// New fingerprint: retire the record's current active entry, then insert.
	if _, err := q.Exec(ctx, `
		UPDATE audit_entries SET superseded_at = NOW(), updated_at = NOW()
		WHERE record_type = $1 AND record_id = $2 AND superseded_at IS NULL`,
		e.RecordType, e.RecordID); err != nil {
		return nil, fmt.Errorf("supersede prior entries: %w", err)
	}

	e.ID = uuid.New()
	return scanEntry(q.QueryRow(ctx, `
		INSERT INTO audit_entries (id, record_type, record_id, fingerprint, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+entryCols,
		e.ID, e.RecordType, e.RecordID, e.Fingerprint, StatusPending))
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+` FROM audit_entries WHERE id = $1`, id))
}

func (r *repoPG) GetActiveByFingerprint(ctx context.Context, fingerprint string) (*Entry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+` FROM audit_entries
		 WHERE fingerprint = $1 AND superseded_at IS NULL`, fingerprint))
}

func (r *repoPG) LatestActive(ctx context.Context, recordType, recordID string) (*Entry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+` FROM audit_entries
		 WHERE record_type = $1 AND record_id = $2 AND superseded_at IS NULL
		 ORDER BY created_at DESC LIMIT 1`, recordType, recordID))
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	var where []string
	var args []interface{}
	idx := 1

	if !f.IncludeSuperseded {
		where = append(where, `superseded_at IS NULL`)
	}
	if f.RecordType != "" {
		where = append(where, fmt.Sprintf(`record_type = $%d`, idx))
		args = append(args, f.RecordType)
		idx++
	}
	if f.RecordID != "" {
		where = append(where, fmt.Sprintf(`record_id = $%d`, idx))
		args = append(args, f.RecordID)
		idx++
	}
	if f.Status != "" {
		where = append(where, fmt.Sprintf(`status = $%d`, idx))
		args = append(args, f.Status)
		idx++
	}

	clause := ""
	if len(where) > 0 {
		clause = ` WHERE ` + strings.Join(where, ` AND `)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_entries`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT `+entryCols+` FROM audit_entries`+clause+
		` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListConfirmable(ctx context.Context, limit int) ([]*Entry, error) {
	return r.listEntries(ctx, `
		SELECT `+entryCols+` FROM audit_entries
		WHERE status = 'pending' AND external_reference IS NOT NULL
		ORDER BY created_at ASC LIMIT $1`, limit)
}

func (r *repoPG) ListResubmittable(ctx context.Context, now time.Time, limit int) ([]*Entry, error) {
	return r.listEntries(ctx, `
		SELECT `+entryCols+` FROM audit_entries
		WHERE status = 'pending' AND external_reference IS NULL
		  AND superseded_at IS NULL
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
		ORDER BY created_at ASC LIMIT $2`, now, limit)
}

func (r *repoPG) listEntries(ctx context.Context, query string, args ...interface{}) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *repoPG) MarkConfirmed(ctx context.Context, id uuid.UUID) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `
		UPDATE audit_entries SET status = 'confirmed', next_attempt_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+entryCols, id))
	if errors.Is(err, ErrNotFound) {
		// Not pending: hand back whatever state it is in. Confirmed stays
		// confirmed, so repeated ticks are idempotent.
		return r.GetByID(ctx, id)
	}
	return e, err
}

func (r *repoPG) ConfirmWithReference(ctx context.Context, id uuid.UUID, ref string) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `
		UPDATE audit_entries SET status = 'confirmed', external_reference = $2,
			next_attempt_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+entryCols, id, ref))
	if errors.Is(err, ErrNotFound) {
		return r.GetByID(ctx, id)
	}
	return e, err
}

func (r *repoPG) RecordSubmitFailure(ctx context.Context, id uuid.UUID, maxAttempts int, nextAttempt time.Time) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `
		UPDATE audit_entries SET
			attempt_count = attempt_count + 1,
			status = CASE WHEN attempt_count + 1 >= $2 THEN 'failed' ELSE status END,
			next_attempt_at = CASE WHEN attempt_count + 1 >= $2 THEN NULL ELSE $3 END,
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+entryCols, id, maxAttempts, nextAttempt))
	if errors.Is(err, ErrNotFound) {
		return r.GetByID(ctx, id)
	}
	return e, err
}

func (r *repoPG) SetPendingReference(ctx context.Context, id uuid.UUID, ref string) (*Entry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx, `
		UPDATE audit_entries SET
			external_reference = $2,
			status = CASE WHEN status = 'confirmed' THEN 'confirmed' ELSE 'pending' END,
			attempt_count = 0,
			next_attempt_at = NULL,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+entryCols, id, ref))
}

func (r *repoPG) AttachContent(ctx context.Context, id uuid.UUID, ref string) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `
		UPDATE audit_entries SET content_reference = $2, updated_at = NOW()
		WHERE id = $1 AND content_reference IS NULL
		RETURNING `+entryCols, id, ref))
	if errors.Is(err, ErrNotFound) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrConflict
	}
	return e, err
}
