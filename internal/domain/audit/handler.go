package audit

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medseal/medseal/internal/anchor"
	"github.com/medseal/medseal/internal/platform/contentstore"
	"github.com/medseal/medseal/pkg/pagination"
)

// maxContentBytes caps raw payloads accepted on the content endpoint.
const maxContentBytes = 10 << 20

// Handler provides HTTP handlers for the audit ledger.
type Handler struct {
	svc   *Service
	store contentstore.Store
}

// NewHandler creates a new audit ledger handler. store may be nil; the
// content endpoint then accepts pre-computed references only.
func NewHandler(svc *Service, store contentstore.Store) *Handler {
	return &Handler{svc: svc, store: store}
}

// RegisterRoutes registers all audit ledger routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/audit-entries", h.ListEntries)
	api.GET("/audit-entries/:id", h.GetEntry)
	api.GET("/audit-entries/:id/verify", h.CheckEntryAnchored)
	api.GET("/audit-entries/fingerprint/:fingerprint", h.GetByFingerprint)
	api.POST("/audit-entries/:id/resend", h.ResendEntry)
	api.POST("/audit-entries/:id/content", h.AttachContent)

	api.GET("/verify/:recordType/:recordId", h.VerifyRecord)
	api.GET("/anchor/status", h.AnchorStatus)
}

func (h *Handler) ListEntries(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{
		RecordType:        c.QueryParam("record_type"),
		RecordID:          c.QueryParam("record_id"),
		Status:            c.QueryParam("status"),
		IncludeSuperseded: c.QueryParam("include_superseded") == "true",
	}
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetEntry(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	entry, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) GetByFingerprint(c echo.Context) error {
	entry, err := h.svc.VerifyByFingerprint(c.Request().Context(), c.Param("fingerprint"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) CheckEntryAnchored(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	check, err := h.svc.CheckAnchored(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, check)
}

func (h *Handler) ResendEntry(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	entry, err := h.svc.Resend(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, entry)
}

// AttachContent accepts either a JSON body carrying a pre-computed
// content_reference, or raw bytes which are stored and addressed here.
func (h *Handler) AttachContent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}

	ref, err := h.contentReference(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	entry, err := h.svc.AttachContent(c.Request().Context(), id, ref)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) contentReference(c echo.Context) (string, error) {
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		var body struct {
			ContentReference string `json:"content_reference"`
		}
		if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
			return "", errors.New("invalid JSON body")
		}
		if body.ContentReference == "" {
			return "", errors.New("content_reference is required")
		}
		return body.ContentReference, nil
	}

	if h.store == nil {
		return "", errors.New("raw content uploads are not enabled")
	}
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxContentBytes+1))
	if err != nil {
		return "", errors.New("failed to read request body")
	}
	if len(data) == 0 {
		return "", errors.New("request body is empty")
	}
	if len(data) > maxContentBytes {
		return "", errors.New("content exceeds size limit")
	}
	return h.store.Put(c.Request().Context(), data)
}

func (h *Handler) VerifyRecord(c echo.Context) error {
	v, err := h.svc.Verify(c.Request().Context(), c.Param("recordType"), c.Param("recordId"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

// AnchorStatus reports the advisory connectivity snapshot. It answers 200
// even when the anchor is disabled or unreachable.
func (h *Handler) AnchorStatus(c echo.Context) error {
	status, err := h.svc.AnchorStatus(c.Request().Context())
	if err != nil {
		if errors.Is(err, anchor.ErrUnavailable) {
			return c.JSON(http.StatusOK, &anchor.Status{Configured: false})
		}
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

// writeError maps domain sentinels onto HTTP statuses.
func writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrConflict):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, anchor.ErrUnavailable):
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
