package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/medseal/medseal/internal/domain/audit"
)

// Registry resolves a record's current field mapping by type and id so drift
// checks can recompute its fingerprint. A missing or deleted record reads as
// audit.ErrNotFound, which the verifier treats as drift.
type Registry struct {
	patients   PatientRepository
	diagnoses  DiagnosisRepository
	labResults LabResultRepository
}

func NewRegistry(patients PatientRepository, diagnoses DiagnosisRepository, labResults LabResultRepository) *Registry {
	return &Registry{patients: patients, diagnoses: diagnoses, labResults: labResults}
}

func (r *Registry) Fields(ctx context.Context, recordType, recordID string) (map[string]any, error) {
	id, err := uuid.Parse(recordID)
	if err != nil {
		// Ledger entries outlive their records; an unparseable id can only
		// mean the record is gone.
		return nil, audit.ErrNotFound
	}

	switch recordType {
	case TypePatient:
		p, err := r.patients.GetByID(ctx, id)
		if err != nil {
			return nil, asAuditErr(err)
		}
		return p.Fields(), nil
	case TypeDiagnosis:
		d, err := r.diagnoses.GetByID(ctx, id)
		if err != nil {
			return nil, asAuditErr(err)
		}
		return d.Fields(), nil
	case TypeLabResult:
		l, err := r.labResults.GetByID(ctx, id)
		if err != nil {
			return nil, asAuditErr(err)
		}
		return l.Fields(), nil
	default:
		return nil, fmt.Errorf("unknown record type %q", recordType)
	}
}

func asAuditErr(err error) error {
	if errors.Is(err, ErrNotFound) {
		return audit.ErrNotFound
	}
	return err
}

var _ audit.Source = (*Registry)(nil)
