package records

import (
	"context"
	"errors"

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

// -- Patient Repository --

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const patientCols = `id, first_name, last_name, birth_date, gender, phone, email,
	address_line1, city, blood_group, fingerprint, external_reference,
	created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.BirthDate, &p.Gender,
		&p.Phone, &p.Email, &p.AddressLine1, &p.City, &p.BloodGroup,
		&p.Fingerprint, &p.ExternalReference, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (
			id, first_name, last_name, birth_date, gender, phone, email,
			address_line1, city, blood_group
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		p.ID, p.FirstName, p.LastName, p.BirthDate, p.Gender, p.Phone, p.Email,
		p.AddressLine1, p.City, p.BloodGroup,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patients SET
			first_name=$2, last_name=$3, birth_date=$4, gender=$5, phone=$6,
			email=$7, address_line1=$8, city=$9, blood_group=$10, updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		p.ID, p.FirstName, p.LastName, p.BirthDate, p.Gender, p.Phone,
		p.Email, p.AddressLine1, p.City, p.BloodGroup,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *patientRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *patientRepoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	q := r.conn(ctx)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM patients`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx,
		`SELECT `+patientCols+` FROM patients ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	return patients, total, rows.Err()
}

func (r *patientRepoPG) Count(ctx context.Context) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients`).Scan(&n)
	return n, err
}

func (r *patientRepoPG) SetSealState(ctx context.Context, id uuid.UUID, fingerprint string, externalRef *string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE patients SET fingerprint=$2, external_reference=$3 WHERE id=$1`,
		id, fingerprint, externalRef)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// -- Diagnosis Repository --

type diagnosisRepoPG struct{ pool *pgxpool.Pool }

func NewDiagnosisRepoPG(pool *pgxpool.Pool) DiagnosisRepository {
	return &diagnosisRepoPG{pool: pool}
}

func (r *diagnosisRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const diagnosisCols = `id, patient_id, code, description, clinician, notes,
	diagnosed_at, fingerprint, external_reference, created_at, updated_at`

func scanDiagnosis(row pgx.Row) (*Diagnosis, error) {
	var d Diagnosis
	err := row.Scan(&d.ID, &d.PatientID, &d.Code, &d.Description, &d.Clinician,
		&d.Notes, &d.DiagnosedAt, &d.Fingerprint, &d.ExternalReference,
		&d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *diagnosisRepoPG) Create(ctx context.Context, d *Diagnosis) error {
	d.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO diagnoses (
			id, patient_id, code, description, clinician, notes, diagnosed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		d.ID, d.PatientID, d.Code, d.Description, d.Clinician, d.Notes, d.DiagnosedAt,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
}

func (r *diagnosisRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Diagnosis, error) {
	return scanDiagnosis(r.conn(ctx).QueryRow(ctx,
		`SELECT `+diagnosisCols+` FROM diagnoses WHERE id = $1`, id))
}

func (r *diagnosisRepoPG) Update(ctx context.Context, d *Diagnosis) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE diagnoses SET
			patient_id=$2, code=$3, description=$4, clinician=$5, notes=$6,
			diagnosed_at=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		d.ID, d.PatientID, d.Code, d.Description, d.Clinician, d.Notes, d.DiagnosedAt,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *diagnosisRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM diagnoses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *diagnosisRepoPG) List(ctx context.Context, limit, offset int) ([]*Diagnosis, int, error) {
	return r.list(ctx,
		`SELECT COUNT(*) FROM diagnoses`, nil,
		`SELECT `+diagnosisCols+` FROM diagnoses ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		[]interface{}{limit, offset})
}

func (r *diagnosisRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Diagnosis, int, error) {
	return r.list(ctx,
		`SELECT COUNT(*) FROM diagnoses WHERE patient_id = $1`, []interface{}{patientID},
		`SELECT `+diagnosisCols+` FROM diagnoses WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		[]interface{}{patientID, limit, offset})
}

func (r *diagnosisRepoPG) list(ctx context.Context, countSQL string, countArgs []interface{}, dataSQL string, dataArgs []interface{}) ([]*Diagnosis, int, error) {
	q := r.conn(ctx)
	var total int
	if err := q.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, dataSQL, dataArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var diagnoses []*Diagnosis
	for rows.Next() {
		d, err := scanDiagnosis(rows)
		if err != nil {
			return nil, 0, err
		}
		diagnoses = append(diagnoses, d)
	}
	return diagnoses, total, rows.Err()
}

func (r *diagnosisRepoPG) Count(ctx context.Context) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM diagnoses`).Scan(&n)
	return n, err
}

func (r *diagnosisRepoPG) SetSealState(ctx context.Context, id uuid.UUID, fingerprint string, externalRef *string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE diagnoses SET fingerprint=$2, external_reference=$3 WHERE id=$1`,
		id, fingerprint, externalRef)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// -- LabResult Repository --

type labResultRepoPG struct{ pool *pgxpool.Pool }

func NewLabResultRepoPG(pool *pgxpool.Pool) LabResultRepository {
	return &labResultRepoPG{pool: pool}
}

func (r *labResultRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const labResultCols = `id, patient_id, test_name, result, unit, reference_range,
	performed_at, fingerprint, external_reference, created_at, updated_at`

func scanLabResult(row pgx.Row) (*LabResult, error) {
	var l LabResult
	err := row.Scan(&l.ID, &l.PatientID, &l.TestName, &l.Result, &l.Unit,
		&l.ReferenceRange, &l.PerformedAt, &l.Fingerprint, &l.ExternalReference,
		&l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *labResultRepoPG) Create(ctx context.Context, l *LabResult) error {
	l.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO lab_results (
			id, patient_id, test_name, result, unit, reference_range, performed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		l.ID, l.PatientID, l.TestName, l.Result, l.Unit, l.ReferenceRange, l.PerformedAt,
	).Scan(&l.CreatedAt, &l.UpdatedAt)
}

func (r *labResultRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LabResult, error) {
	return scanLabResult(r.conn(ctx).QueryRow(ctx,
		`SELECT `+labResultCols+` FROM lab_results WHERE id = $1`, id))
}

func (r *labResultRepoPG) Update(ctx context.Context, l *LabResult) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE lab_results SET
			patient_id=$2, test_name=$3, result=$4, unit=$5, reference_range=$6,
			performed_at=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		l.ID, l.PatientID, l.TestName, l.Result, l.Unit, l.ReferenceRange, l.PerformedAt,
	).Scan(&l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *labResultRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM lab_results WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *labResultRepoPG) List(ctx context.Context, limit, offset int) ([]*LabResult, int, error) {
	return r.list(ctx,
		`SELECT COUNT(*) FROM lab_results`, nil,
		`SELECT `+labResultCols+` FROM lab_results ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		[]interface{}{limit, offset})
}

func (r *labResultRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*LabResult, int, error) {
	return r.list(ctx,
		`SELECT COUNT(*) FROM lab_results WHERE patient_id = $1`, []interface{}{patientID},
		`SELECT `+labResultCols+` FROM lab_results WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		[]interface{}{patientID, limit, offset})
}

func (r *labResultRepoPG) list(ctx context.Context, countSQL string, countArgs []interface{}, dataSQL string, dataArgs []interface{}) ([]*LabResult, int, error) {
	q := r.conn(ctx)
	var total int
	if err := q.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, dataSQL, dataArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []*LabResult
	for rows.Next() {
		l, err := scanLabResult(rows)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, l)
	}
	return results, total, rows.Err()
}

func (r *labResultRepoPG) Count(ctx context.Context) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM lab_results`).Scan(&n)
	return n, err
}

func (r *labResultRepoPG) SetSealState(ctx context.Context, id uuid.UUID, fingerprint string, externalRef *string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE lab_results SET fingerprint=$2, external_reference=$3 WHERE id=$1`,
		id, fingerprint, externalRef)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
