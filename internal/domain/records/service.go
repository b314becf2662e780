package records

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medseal/medseal/internal/domain/audit"
)

// Service owns clinical record CRUD and routes every create and update
// through the sealing pipeline. The audit entry returned alongside a mutation
// is the caller's receipt: fingerprint, ledger status, and whether the write
// collapsed into an existing entry.
type Service struct {
	patients   PatientRepository
	diagnoses  DiagnosisRepository
	labResults LabResultRepository
	audit      *audit.Service
	logger     zerolog.Logger
}

func NewService(patients PatientRepository, diagnoses DiagnosisRepository, labResults LabResultRepository, auditSvc *audit.Service, logger zerolog.Logger) *Service {
	return &Service{
		patients:   patients,
		diagnoses:  diagnoses,
		labResults: labResults,
		audit:      auditSvc,
		logger:     logger,
	}
}

// seal fingerprints the record after its row is persisted and mirrors the
// outcome onto the record row. A canonicalization failure propagates: the row
// exists but was never sealed, and the caller must hear about it.
func (s *Service) seal(ctx context.Context, recordType string, id uuid.UUID, fields map[string]any) (*audit.Entry, error) {
	entry, err := s.audit.Seal(ctx, recordType, id.String(), fields)
	if err != nil {
		return nil, err
	}

	var setter interface {
		SetSealState(ctx context.Context, id uuid.UUID, fingerprint string, externalRef *string) error
	}
	switch recordType {
	case TypePatient:
		setter = s.patients
	case TypeDiagnosis:
		setter = s.diagnoses
	case TypeLabResult:
		setter = s.labResults
	default:
		return nil, fmt.Errorf("unknown record type %q", recordType)
	}
	if err := setter.SetSealState(ctx, id, entry.Fingerprint, entry.ExternalReference); err != nil {
		// The ledger entry is authoritative; the column is a convenience
		// mirror. Log and move on.
		s.logger.Error().Err(err).
			Str("record_type", recordType).
			Str("record_id", id.String()).
			Msg("failed to mirror seal state onto record")
	}
	return entry, nil
}

// -- Patient --

func (s *Service) CreatePatient(ctx context.Context, p *Patient) (*audit.Entry, error) {
	if p.FirstName == "" || p.LastName == "" {
		return nil, fmt.Errorf("first_name and last_name are required")
	}
	if err := s.patients.Create(ctx, p); err != nil {
		return nil, err
	}
	entry, err := s.seal(ctx, TypePatient, p.ID, p.Fields())
	if err != nil {
		return nil, err
	}
	p.Fingerprint = &entry.Fingerprint
	p.ExternalReference = entry.ExternalReference
	return entry, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) (*audit.Entry, error) {
	if p.FirstName == "" || p.LastName == "" {
		return nil, fmt.Errorf("first_name and last_name are required")
	}
	if err := s.patients.Update(ctx, p); err != nil {
		return nil, err
	}
	entry, err := s.seal(ctx, TypePatient, p.ID, p.Fields())
	if err != nil {
		return nil, err
	}
	p.Fingerprint = &entry.Fingerprint
	p.ExternalReference = entry.ExternalReference
	return entry, nil
}

func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	// Audit entries for the record stay behind; a later verify reports drift.
	return s.patients.Delete(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

func (s *Service) CountPatients(ctx context.Context) (int, error) {
	return s.patients.Count(ctx)
}

// -- Diagnosis --

func (s *Service) CreateDiagnosis(ctx context.Context, d *Diagnosis) (*audit.Entry, error) {
	if d.PatientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	if d.Code == "" {
		return nil, fmt.Errorf("code is required")
	}
	if err := s.diagnoses.Create(ctx, d); err != nil {
		return nil, err
	}
	entry, err := s.seal(ctx, TypeDiagnosis, d.ID, d.Fields())
	if err != nil {
		return nil, err
	}
	d.Fingerprint = &entry.Fingerprint
	d.ExternalReference = entry.ExternalReference
	return entry, nil
}

func (s *Service) GetDiagnosis(ctx context.Context, id uuid.UUID) (*Diagnosis, error) {
	return s.diagnoses.GetByID(ctx, id)
}

func (s *Service) UpdateDiagnosis(ctx context.Context, d *Diagnosis) (*audit.Entry, error) {
	if d.PatientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	if d.Code == "" {
		return nil, fmt.Errorf("code is required")
	}
	if err := s.diagnoses.Update(ctx, d); err != nil {
		return nil, err
	}
	entry, err := s.seal(ctx, TypeDiagnosis, d.ID, d.Fields())
	if err != nil {
		return nil, err
	}
	d.Fingerprint = &entry.Fingerprint
	d.ExternalReference = entry.ExternalReference
	return entry, nil
}

func (s *Service) DeleteDiagnosis(ctx context.Context, id uuid.UUID) error {
	return s.diagnoses.Delete(ctx, id)
}

func (s *Service) ListDiagnoses(ctx context.Context, limit, offset int) ([]*Diagnosis, int, error) {
	return s.diagnoses.List(ctx, limit, offset)
}

func (s *Service) ListDiagnosesByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Diagnosis, int, error) {
	return s.diagnoses.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) CountDiagnoses(ctx context.Context) (int, error) {
	return s.diagnoses.Count(ctx)
}

// -- Lab Result --

func (s *Service) CreateLabResult(ctx context.Context, l *LabResult) (*audit.Entry, error) {
	if l.PatientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	if l.TestName == "" || l.Result == "" {
		return nil, fmt.Errorf("test_name and result are required")
	}
	if err := s.labResults.Create(ctx, l); err != nil {
		return nil, err
	}
	entry, err := s.seal(ctx, TypeLabResult, l.ID, l.Fields())
	if err != nil {
		return nil, err
	}
	l.Fingerprint = &entry.Fingerprint
	l.ExternalReference = entry.ExternalReference
	return entry, nil
}

func (s *Service) GetLabResult(ctx context.Context, id uuid.UUID) (*LabResult, error) {
	return s.labResults.GetByID(ctx, id)
}

func (s *Service) UpdateLabResult(ctx context.Context, l *LabResult) (*audit.Entry, error) {
	if l.PatientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	if l.TestName == "" || l.Result == "" {
		return nil, fmt.Errorf("test_name and result are required")
	}
	if err := s.labResults.Update(ctx, l); err != nil {
		return nil, err
	}
	entry, err := s.seal(ctx, TypeLabResult, l.ID, l.Fields())
	if err != nil {
		return nil, err
	}
	l.Fingerprint = &entry.Fingerprint
	l.ExternalReference = entry.ExternalReference
	return entry, nil
}

func (s *Service) DeleteLabResult(ctx context.Context, id uuid.UUID) error {
	return s.labResults.Delete(ctx, id)
}

func (s *Service) ListLabResults(ctx context.Context, limit, offset int) ([]*LabResult, int, error) {
	return s.labResults.List(ctx, limit, offset)
}

func (s *Service) ListLabResultsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*LabResult, int, error) {
	return s.labResults.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) CountLabResults(ctx context.Context) (int, error) {
	return s.labResults.Count(ctx)
}
