// Package records holds the clinical record types whose mutations feed the
// audit ledger: every create and update is canonicalized, fingerprinted, and
// appended before the caller sees a response. Each row mirrors its latest
// fingerprint and external reference for quick inspection; the ledger stays
// the source of truth.
package records

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Record type names used as the audit ledger's record_type discriminator.
const (
	TypePatient   = "patient"
	TypeDiagnosis = "diagnosis"
	TypeLabResult = "lab_result"
)

var ErrNotFound = errors.New("record not found")

// Patient maps to the patients table.
type Patient struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	FirstName         string     `db:"first_name" json:"first_name"`
	LastName          string     `db:"last_name" json:"last_name"`
	BirthDate         *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Gender            *string    `db:"gender" json:"gender,omitempty"`
	Phone             *string    `db:"phone" json:"phone,omitempty"`
	Email             *string    `db:"email" json:"email,omitempty"`
	AddressLine1      *string    `db:"address_line1" json:"address_line1,omitempty"`
	City              *string    `db:"city" json:"city,omitempty"`
	BloodGroup        *string    `db:"blood_group" json:"blood_group,omitempty"`
	Fingerprint       *string    `db:"fingerprint" json:"fingerprint,omitempty"`
	ExternalReference *string    `db:"external_reference" json:"external_reference,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Fields returns the full field mapping handed to the sealer. Identifier,
// mirror, and timestamp keys are listed too; the canonicalizer's exclusion
// set drops them before hashing.
func (p *Patient) Fields() map[string]any {
	return map[string]any{
		"id":                 p.ID,
		"first_name":         p.FirstName,
		"last_name":          p.LastName,
		"birth_date":         timeOrNil(p.BirthDate),
		"gender":             strOrNil(p.Gender),
		"phone":              strOrNil(p.Phone),
		"email":              strOrNil(p.Email),
		"address_line1":      strOrNil(p.AddressLine1),
		"city":               strOrNil(p.City),
		"blood_group":        strOrNil(p.BloodGroup),
		"fingerprint":        strOrNil(p.Fingerprint),
		"external_reference": strOrNil(p.ExternalReference),
		"created_at":         p.CreatedAt,
		"updated_at":         p.UpdatedAt,
	}
}

// Diagnosis maps to the diagnoses table.
type Diagnosis struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	PatientID         uuid.UUID  `db:"patient_id" json:"patient_id"`
	Code              string     `db:"code" json:"code"`
	Description       string     `db:"description" json:"description"`
	Clinician         *string    `db:"clinician" json:"clinician,omitempty"`
	Notes             *string    `db:"notes" json:"notes,omitempty"`
	DiagnosedAt       *time.Time `db:"diagnosed_at" json:"diagnosed_at,omitempty"`
	Fingerprint       *string    `db:"fingerprint" json:"fingerprint,omitempty"`
	ExternalReference *string    `db:"external_reference" json:"external_reference,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

func (d *Diagnosis) Fields() map[string]any {
	return map[string]any{
		"id":                 d.ID,
		"patient_id":         d.PatientID,
		"code":               d.Code,
		"description":        d.Description,
		"clinician":          strOrNil(d.Clinician),
		"notes":              strOrNil(d.Notes),
		"diagnosed_at":       timeOrNil(d.DiagnosedAt),
		"fingerprint":        strOrNil(d.Fingerprint),
		"external_reference": strOrNil(d.ExternalReference),
		"created_at":         d.CreatedAt,
		"updated_at":         d.UpdatedAt,
	}
}

// LabResult maps to the lab_results table.
type LabResult struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	PatientID         uuid.UUID  `db:"patient_id" json:"patient_id"`
	TestName          string     `db:"test_name" json:"test_name"`
	Result            string     `db:"result" json:"result"`
	Unit              *string    `db:"unit" json:"unit,omitempty"`
	ReferenceRange    *string    `db:"reference_range" json:"reference_range,omitempty"`
	PerformedAt       *time.Time `db:"performed_at" json:"performed_at,omitempty"`
	Fingerprint       *string    `db:"fingerprint" json:"fingerprint,omitempty"`
	ExternalReference *string    `db:"external_reference" json:"external_reference,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

func (l *LabResult) Fields() map[string]any {
	return map[string]any{
		"id":                 l.ID,
		"patient_id":         l.PatientID,
		"test_name":          l.TestName,
		"result":             l.Result,
		"unit":               strOrNil(l.Unit),
		"reference_range":    strOrNil(l.ReferenceRange),
		"performed_at":       timeOrNil(l.PerformedAt),
		"fingerprint":        strOrNil(l.Fingerprint),
		"external_reference": strOrNil(l.ExternalReference),
		"created_at":         l.CreatedAt,
		"updated_at":         l.UpdatedAt,
	}
}

// strOrNil unwraps optional fields so nil pointers canonicalize as null
// instead of tripping the unencodable-type check.
func strOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// timeOrNil also truncates to microseconds: Postgres keeps no finer
// resolution, so a re-read row must canonicalize to the same bytes as
// the value that was written.
func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Truncate(time.Microsecond)
}
