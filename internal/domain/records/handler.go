package records

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medseal/medseal/internal/domain/audit"
	"github.com/medseal/medseal/internal/seal"
	"github.com/medseal/medseal/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients", h.ListPatients)
	api.GET("/patients/count", h.CountPatients)
	api.GET("/patients/:id", h.GetPatient)
	api.POST("/patients", h.CreatePatient)
	api.PUT("/patients/:id", h.UpdatePatient)
	api.DELETE("/patients/:id", h.DeletePatient)

	api.GET("/diagnoses", h.ListDiagnoses)
	api.GET("/diagnoses/count", h.CountDiagnoses)
	api.GET("/diagnoses/:id", h.GetDiagnosis)
	api.POST("/diagnoses", h.CreateDiagnosis)
	api.PUT("/diagnoses/:id", h.UpdateDiagnosis)
	api.DELETE("/diagnoses/:id", h.DeleteDiagnosis)

	api.GET("/lab-results", h.ListLabResults)
	api.GET("/lab-results/count", h.CountLabResults)
	api.GET("/lab-results/:id", h.GetLabResult)
	api.POST("/lab-results", h.CreateLabResult)
	api.PUT("/lab-results/:id", h.UpdateLabResult)
	api.DELETE("/lab-results/:id", h.DeleteLabResult)
}

// sealReceipt is the portion of a mutation response describing what the
// sealing pipeline did with the write.
type sealReceipt struct {
	AuditEntryID uuid.UUID `json:"audit_entry_id"`
	Fingerprint  string    `json:"fingerprint"`
	Status       string    `json:"status"`
	Deduped      bool      `json:"deduped"`
}

func receipt(e *audit.Entry) sealReceipt {
	return sealReceipt{
		AuditEntryID: e.ID,
		Fingerprint:  e.Fingerprint,
		Status:       e.Status,
		Deduped:      e.Deduped,
	}
}

// writeError maps service errors onto HTTP statuses. The fallback covers the
// common case for the call site: 400 after a mutation (the service validates
// input before touching storage), 500 after a lookup. A canonicalization
// failure is always a server-side defect.
func writeError(c echo.Context, err error, fallback int) error {
	var cerr *seal.CanonicalizationError
	status := fallback
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &cerr):
		status = http.StatusInternalServerError
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}

// -- Patient --

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	entry, err := h.svc.CreatePatient(c.Request().Context(), &p)
	if err != nil {
		return writeError(c, err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusCreated, map[string]any{"patient": &p, "seal": receipt(entry)})
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	var p Patient
	if err := c.Bind(&p); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	p.ID = id
	entry, err := h.svc.UpdatePatient(c.Request().Context(), &p)
	if err != nil {
		return writeError(c, err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusOK, map[string]any{"patient": &p, "seal": receipt(entry)})
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	if err := h.svc.DeletePatient(c.Request().Context(), id); err != nil {
		return writeError(c, err, http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	patients, total, err := h.svc.ListPatients(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return writeError(c, err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, pg.Limit, pg.Offset))
}

func (h *Handler) CountPatients(c echo.Context) error {
	n, err := h.svc.CountPatients(c.Request().Context())
	if err != nil {
		return writeError(c, err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, map[string]int{"count": n})
}

// -- Diagnosis --

func (h *Handler) CreateDiagnosis(c echo.Context) error {
	var d Diagnosis
	if err := c.Bind(&d); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	entry, err := h.svc.CreateDiagnosis(c.Request().Context(), &d)
	if err != nil {
		return writeError(c, err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusCreated, map[string]any{"diagnosis": &d, "seal": receipt(entry)})
}

func (h *Handler) GetDiagnosis(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	d, err := h.svc.GetDiagnosis(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) UpdateDiagnosis(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	var d Diagnosis
	if err := c.Bind(&d); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	d.ID = id
	entry, err := h.svc.UpdateDiagnosis(c.Request().Context(), &d)
	if err != nil {
		return writeError(c, err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusOK, map[string]any{"diagnosis": &d, "seal": receipt(entry)})
}

func (h *Handler) DeleteDiagnosis(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	if err := h.svc.DeleteDiagnosis(c.Request().Context(), id); err != nil {
		return writeError(c, err, http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListDiagnoses(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()

	if raw := c.QueryParam("patient_id"); raw != "" {
		patientID, err := uuid.Parse(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid patient_id"})
		}
		diagnoses, total, err := h.svc.ListDiagnosesByPatient(ctx, patientID, pg.Limit, pg.Offset)
		if err != nil {
			return writeError(c, err, http.StatusInternalServerError)
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(diagnoses, total, pg.Limit, pg.Offset))
	}

	diagnoses, total, err := h.svc.ListDiagnoses(ctx, pg.Limit, pg.Offset)
	if err != nil {
		return writeError(c, err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(diagnoses, total, pg.Limit, pg.Offset))
}

func (h *Handler) CountDiagnoses(c echo.Context) error {
	n, err := h.svc.CountDiagnoses(c.Request().Context())
	if err != nil {
		return writeError(c, err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, map[string]int{"count": n})
}

// -- Lab Result --

func (h *Handler) CreateLabResult(c echo.Context) error {
	var l LabResult
	if err := c.Bind(&l); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	entry, err := h.svc.CreateLabResult(c.Request().Context(), &l)
	if err != nil {
		return writeError(c, err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusCreated, map[string]any{"lab_result": &l, "seal": receipt(entry)})
}

func (h *Handler) GetLabResult(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	l, err := h.svc.GetLabResult(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) UpdateLabResult(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	var l LabResult
	if err := c.Bind(&l); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	l.ID = id
	entry, err := h.svc.UpdateLabResult(c.Request().Context(), &l)
	if err != nil {
		return writeError(c, err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusOK, map[string]any{"lab_result": &l, "seal": receipt(entry)})
}

func (h *Handler) DeleteLabResult(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	if err := h.svc.DeleteLabResult(c.Request().Context(), id); err != nil {
		return writeError(c, err, http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListLabResults(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()

	if raw := c.QueryParam("patient_id"); raw != "" {
		patientID, err := uuid.Parse(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid patient_id"})
		}
		results, total, err := h.svc.ListLabResultsByPatient(ctx, patientID, pg.Limit, pg.Offset)
		if err != nil {
			return writeError(c, err, http.StatusInternalServerError)
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(results, total, pg.Limit, pg.Offset))
	}

	results, total, err := h.svc.ListLabResults(ctx, pg.Limit, pg.Offset)
	if err != nil {
		return writeError(c, err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(results, total, pg.Limit, pg.Offset))
}

func (h *Handler) CountLabResults(c echo.Context) error {
	n, err := h.svc.CountLabResults(c.Request().Context())
	if err != nil {
		return writeError(c, err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, map[string]int{"count": n})
}
