package records

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medseal/medseal/internal/anchor"
)

func newTestHandler(client anchor.Client) (*Handler, *env, *echo.Echo) {
	env := newTestEnv(client)
	return NewHandler(env.svc), env, echo.New()
}

type mutationResponse struct {
	Patient   *Patient   `json:"patient"`
	Diagnosis *Diagnosis `json:"diagnosis"`
	LabResult *LabResult `json:"lab_result"`
	Seal      struct {
		AuditEntryID uuid.UUID `json:"audit_entry_id"`
		Fingerprint  string    `json:"fingerprint"`
		Status       string    `json:"status"`
		Deduped      bool      `json:"deduped"`
	} `json:"seal"`
}

func TestHandler_CreatePatient(t *testing.T) {
	h, _, e := newTestHandler(anchor.NewMemory())

	body := `{"first_name":"Asha","last_name":"Rao"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.CreatePatient(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp mutationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Patient == nil || resp.Patient.ID == uuid.Nil {
		t.Fatal("response must carry the created patient with its id")
	}
	if !strings.HasPrefix(resp.Seal.Fingerprint, "0x") {
		t.Fatalf("seal fingerprint = %q, want 0x prefix", resp.Seal.Fingerprint)
	}
	if resp.Seal.AuditEntryID == uuid.Nil {
		t.Fatal("seal receipt must name the audit entry")
	}
	if resp.Seal.Deduped {
		t.Fatal("a first create cannot dedup")
	}
}

func TestHandler_CreatePatient_MissingFields(t *testing.T) {
	h, _, e := newTestHandler(anchor.NewMemory())

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"first_name":"Asha"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.CreatePatient(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_GetPatient(t *testing.T) {
	h, env, e := newTestHandler(anchor.NewMemory())
	p := &Patient{FirstName: "Asha", LastName: "Rao"}
	if _, err := env.svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.GetPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_GetPatient_NotFound(t *testing.T) {
	h, _, e := newTestHandler(anchor.NewMemory())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	if err := h.GetPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_GetPatient_InvalidID(t *testing.T) {
	h, _, e := newTestHandler(anchor.NewMemory())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if err := h.GetPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_UpdatePatient_Dedups(t *testing.T) {
	h, env, e := newTestHandler(anchor.NewMemory())
	p := &Patient{FirstName: "Asha", LastName: "Rao"}
	if _, err := env.svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}

	body := `{"first_name":"Asha","last_name":"Rao"}`
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.UpdatePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp mutationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Seal.Deduped {
		t.Fatal("content-identical update must report deduped")
	}
}

func TestHandler_UpdatePatient_NotFound(t *testing.T) {
	h, _, e := newTestHandler(anchor.NewMemory())

	body := `{"first_name":"Asha","last_name":"Rao"}`
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	if err := h.UpdatePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_DeletePatient(t *testing.T) {
	h, env, e := newTestHandler(anchor.NewMemory())
	p := &Patient{FirstName: "Asha", LastName: "Rao"}
	if _, err := env.svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.DeletePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if _, err := env.svc.GetPatient(context.Background(), p.ID); err == nil {
		t.Fatal("patient must be gone after delete")
	}
}

func TestHandler_ListPatients(t *testing.T) {
	h, env, e := newTestHandler(anchor.NewMemory())
	ctx := context.Background()
	for _, name := range []string{"Asha", "Vikram"} {
		if _, err := env.svc.CreatePatient(ctx, &Patient{FirstName: name, LastName: "Rao"}); err != nil {
			t.Fatalf("CreatePatient: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	if err := h.ListPatients(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Data  []*Patient `json:"data"`
		Total int        `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Total != 2 || len(resp.Data) != 2 {
		t.Errorf("total = %d, len = %d, want 2 and 2", resp.Total, len(resp.Data))
	}
}

func TestHandler_CountPatients(t *testing.T) {
	h, env, e := newTestHandler(anchor.NewMemory())
	if _, err := env.svc.CreatePatient(context.Background(), &Patient{FirstName: "Asha", LastName: "Rao"}); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	if err := h.CountPatients(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["count"] != 1 {
		t.Errorf("count = %d, want 1", resp["count"])
	}
}

func TestHandler_ListDiagnoses_PatientFilter(t *testing.T) {
	h, env, e := newTestHandler(anchor.NewMemory())
	ctx := context.Background()

	first := &Patient{FirstName: "Asha", LastName: "Rao"}
	second := &Patient{FirstName: "Vikram", LastName: "Shah"}
	for _, p := range []*Patient{first, second} {
		if _, err := env.svc.CreatePatient(ctx, p); err != nil {
			t.Fatalf("CreatePatient: %v", err)
		}
	}
	if _, err := env.svc.CreateDiagnosis(ctx, &Diagnosis{PatientID: first.ID, Code: "E11.9"}); err != nil {
		t.Fatalf("CreateDiagnosis: %v", err)
	}
	if _, err := env.svc.CreateDiagnosis(ctx, &Diagnosis{PatientID: second.ID, Code: "I10"}); err != nil {
		t.Fatalf("CreateDiagnosis: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/?patient_id="+first.ID.String(), nil)
	rec := httptest.NewRecorder()
	if err := h.ListDiagnoses(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Data  []*Diagnosis `json:"data"`
		Total int          `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Total != 1 || len(resp.Data) != 1 || resp.Data[0].Code != "E11.9" {
		t.Errorf("filter returned %d diagnoses, want exactly the first patient's", resp.Total)
	}
}

func TestHandler_ListDiagnoses_BadPatientFilter(t *testing.T) {
	h, _, e := newTestHandler(anchor.NewMemory())

	req := httptest.NewRequest(http.MethodGet, "/?patient_id=nope", nil)
	rec := httptest.NewRecorder()
	if err := h.ListDiagnoses(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_CreateLabResult(t *testing.T) {
	h, env, e := newTestHandler(anchor.NewMemory())
	p := &Patient{FirstName: "Asha", LastName: "Rao"}
	if _, err := env.svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}

	body := `{"patient_id":"` + p.ID.String() + `","test_name":"HbA1c","result":"6.2"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.CreateLabResult(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp mutationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.LabResult == nil || resp.LabResult.PatientID != p.ID {
		t.Fatal("response must carry the created lab result")
	}
	if resp.Seal.Status == "" {
		t.Fatal("seal receipt must carry a ledger status")
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, _, e := newTestHandler(anchor.NewMemory())
	api := e.Group("/api/v1")
	h.RegisterRoutes(api)

	routePaths := make(map[string]bool)
	for _, r := range e.Routes() {
		routePaths[r.Method+":"+r.Path] = true
	}

	expected := []string{
		"GET:/api/v1/patients",
		"GET:/api/v1/patients/count",
		"GET:/api/v1/patients/:id",
		"POST:/api/v1/patients",
		"PUT:/api/v1/patients/:id",
		"DELETE:/api/v1/patients/:id",
		"GET:/api/v1/diagnoses",
		"GET:/api/v1/diagnoses/count",
		"GET:/api/v1/diagnoses/:id",
		"POST:/api/v1/diagnoses",
		"PUT:/api/v1/diagnoses/:id",
		"DELETE:/api/v1/diagnoses/:id",
		"GET:/api/v1/lab-results",
		"GET:/api/v1/lab-results/count",
		"GET:/api/v1/lab-results/:id",
		"POST:/api/v1/lab-results",
		"PUT:/api/v1/lab-results/:id",
		"DELETE:/api/v1/lab-results/:id",
	}
	for _, path := range expected {
		if !routePaths[path] {
			t.Errorf("missing expected route: %s", path)
		}
	}
}
