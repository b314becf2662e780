package records

import (
	"context"

	"github.com/google/uuid"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
	Count(ctx context.Context) (int, error)

	// SetSealState mirrors the latest fingerprint and external reference
	// onto the row after a seal.
	SetSealState(ctx context.Context, id uuid.UUID, fingerprint string, externalRef *string) error
}

type DiagnosisRepository interface {
	Create(ctx context.Context, d *Diagnosis) error
	GetByID(ctx context.Context, id uuid.UUID) (*Diagnosis, error)
	Update(ctx context.Context, d *Diagnosis) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Diagnosis, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Diagnosis, int, error)
	Count(ctx context.Context) (int, error)

	SetSealState(ctx context.Context, id uuid.UUID, fingerprint string, externalRef *string) error
}

type LabResultRepository interface {
	Create(ctx context.Context, l *LabResult) error
	GetByID(ctx context.Context, id uuid.UUID) (*LabResult, error)
	Update(ctx context.Context, l *LabResult) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*LabResult, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*LabResult, int, error)
	Count(ctx context.Context) (int, error)

	SetSealState(ctx context.Context, id uuid.UUID, fingerprint string, externalRef *string) error
}
