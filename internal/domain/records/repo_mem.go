package records

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PatientRepoMem is a mutex-guarded in-memory PatientRepository. It backs
// tests and the --ephemeral dev mode.
type PatientRepoMem struct {
	mu       sync.RWMutex
	patients map[uuid.UUID]*Patient
	order    map[uuid.UUID]int
	seq      int
}

func NewPatientRepoMem() *PatientRepoMem {
	return &PatientRepoMem{
		patients: make(map[uuid.UUID]*Patient),
		order:    make(map[uuid.UUID]int),
	}
}

func clonePatient(p *Patient) *Patient {
	c := *p
	return &c
}

func (r *PatientRepoMem) Create(ctx context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	p.ID = uuid.New()
	p.CreatedAt = now
	p.UpdatedAt = now
	r.patients[p.ID] = clonePatient(p)
	r.seq++
	r.order[p.ID] = r.seq
	return nil
}

func (r *PatientRepoMem) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePatient(p), nil
}

func (r *PatientRepoMem) Update(ctx context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.patients[p.ID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	stored.FirstName = p.FirstName
	stored.LastName = p.LastName
	stored.BirthDate = p.BirthDate
	stored.Gender = p.Gender
	stored.Phone = p.Phone
	stored.Email = p.Email
	stored.AddressLine1 = p.AddressLine1
	stored.City = p.City
	stored.BloodGroup = p.BloodGroup
	stored.UpdatedAt = now
	p.CreatedAt = stored.CreatedAt
	p.UpdatedAt = now
	return nil
}

func (r *PatientRepoMem) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.patients[id]; !ok {
		return ErrNotFound
	}
	delete(r.patients, id)
	delete(r.order, id)
	return nil
}

func (r *PatientRepoMem) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*Patient, 0, len(r.patients))
	for _, p := range r.patients {
		matched = append(matched, p)
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

	out := make([]*Patient, len(matched))
	for i, p := range matched {
		out[i] = clonePatient(p)
	}
	return out, total, nil
}

func (r *PatientRepoMem) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.patients), nil
}

func (r *PatientRepoMem) SetSealState(ctx context.Context, id uuid.UUID, fingerprint string, externalRef *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return ErrNotFound
	}
	p.Fingerprint = &fingerprint
	p.ExternalReference = externalRef
	return nil
}

var _ PatientRepository = (*PatientRepoMem)(nil)

// DiagnosisRepoMem is the in-memory DiagnosisRepository counterpart.
type DiagnosisRepoMem struct {
	mu        sync.RWMutex
	diagnoses map[uuid.UUID]*Diagnosis
	order     map[uuid.UUID]int
	seq       int
}

func NewDiagnosisRepoMem() *DiagnosisRepoMem {
	return &DiagnosisRepoMem{
		diagnoses: make(map[uuid.UUID]*Diagnosis),
		order:     make(map[uuid.UUID]int),
	}
}

func cloneDiagnosis(d *Diagnosis) *Diagnosis {
	c := *d
	return &c
}

func (r *DiagnosisRepoMem) Create(ctx context.Context, d *Diagnosis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	d.ID = uuid.New()
	d.CreatedAt = now
	d.UpdatedAt = now
	r.diagnoses[d.ID] = cloneDiagnosis(d)
	r.seq++
	r.order[d.ID] = r.seq
	return nil
}

func (r *DiagnosisRepoMem) GetByID(ctx context.Context, id uuid.UUID) (*Diagnosis, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.diagnoses[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDiagnosis(d), nil
}

func (r *DiagnosisRepoMem) Update(ctx context.Context, d *Diagnosis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.diagnoses[d.ID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	stored.PatientID = d.PatientID
	stored.Code = d.Code
	stored.Description = d.Description
	stored.Clinician = d.Clinician
	stored.Notes = d.Notes
	stored.DiagnosedAt = d.DiagnosedAt
	stored.UpdatedAt = now
	d.CreatedAt = stored.CreatedAt
	d.UpdatedAt = now
	return nil
}

func (r *DiagnosisRepoMem) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.diagnoses[id]; !ok {
		return ErrNotFound
	}
	delete(r.diagnoses, id)
	delete(r.order, id)
	return nil
}

func (r *DiagnosisRepoMem) List(ctx context.Context, limit, offset int) ([]*Diagnosis, int, error) {
	return r.listWhere(func(*Diagnosis) bool { return true }, limit, offset)
}

func (r *DiagnosisRepoMem) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Diagnosis, int, error) {
	return r.listWhere(func(d *Diagnosis) bool { return d.PatientID == patientID }, limit, offset)
}

func (r *DiagnosisRepoMem) listWhere(keep func(*Diagnosis) bool, limit, offset int) ([]*Diagnosis, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Diagnosis
	for _, d := range r.diagnoses {
		if keep(d) {
			matched = append(matched, d)
		}
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

	out := make([]*Diagnosis, len(matched))
	for i, d := range matched {
		out[i] = cloneDiagnosis(d)
	}
	return out, total, nil
}

func (r *DiagnosisRepoMem) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.diagnoses), nil
}

func (r *DiagnosisRepoMem) SetSealState(ctx context.Context, id uuid.UUID, fingerprint string, externalRef *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.diagnoses[id]
	if !ok {
		return ErrNotFound
	}
	d.Fingerprint = &fingerprint
	d.ExternalReference = externalRef
	return nil
}

var _ DiagnosisRepository = (*DiagnosisRepoMem)(nil)

// LabResultRepoMem is the in-memory LabResultRepository counterpart.
type LabResultRepoMem struct {
	mu      sync.RWMutex
	results map[uuid.UUID]*LabResult
	order   map[uuid.UUID]int
	seq     int
}

func NewLabResultRepoMem() *LabResultRepoMem {
	return &LabResultRepoMem{
		results: make(map[uuid.UUID]*LabResult),
		order:   make(map[uuid.UUID]int),
	}
}

func cloneLabResult(l *LabResult) *LabResult {
	c := *l
	return &c
}

func (r *LabResultRepoMem) Create(ctx context.Context, l *LabResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	l.ID = uuid.New()
	l.CreatedAt = now
	l.UpdatedAt = now
	r.results[l.ID] = cloneLabResult(l)
	r.seq++
	r.order[l.ID] = r.seq
	return nil
}

func (r *LabResultRepoMem) GetByID(ctx context.Context, id uuid.UUID) (*LabResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.results[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneLabResult(l), nil
}

func (r *LabResultRepoMem) Update(ctx context.Context, l *LabResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.results[l.ID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	stored.PatientID = l.PatientID
	stored.TestName = l.TestName
	stored.Result = l.Result
	stored.Unit = l.Unit
	stored.ReferenceRange = l.ReferenceRange
	stored.PerformedAt = l.PerformedAt
	stored.UpdatedAt = now
	l.CreatedAt = stored.CreatedAt
	l.UpdatedAt = now
	return nil
}

func (r *LabResultRepoMem) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.results[id]; !ok {
		return ErrNotFound
	}
	delete(r.results, id)
	delete(r.order, id)
	return nil
}

func (r *LabResultRepoMem) List(ctx context.Context, limit, offset int) ([]*LabResult, int, error) {
	return r.listWhere(func(*LabResult) bool { return true }, limit, offset)
}

func (r *LabResultRepoMem) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*LabResult, int, error) {
	return r.listWhere(func(l *LabResult) bool { return l.PatientID == patientID }, limit, offset)
}

func (r *LabResultRepoMem) listWhere(keep func(*LabResult) bool, limit, offset int) ([]*LabResult, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*LabResult
	for _, l := range r.results {
		if keep(l) {
			matched = append(matched, l)
		}
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

	out := make([]*LabResult, len(matched))
	for i, l := range matched {
		out[i] = cloneLabResult(l)
	}
	return out, total, nil
}

func (r *LabResultRepoMem) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.results), nil
}

func (r *LabResultRepoMem) SetSealState(ctx context.Context, id uuid.UUID, fingerprint string, externalRef *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.results[id]
	if !ok {
		return ErrNotFound
	}
	l.Fingerprint = &fingerprint
	l.ExternalReference = externalRef
	return nil
}

var _ LabResultRepository = (*LabResultRepoMem)(nil)
