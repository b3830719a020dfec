package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/invoicely/invoicely/internal/documents/doctype"
	"github.com/invoicely/invoicely/internal/documents/status"
	"github.com/invoicely/invoicely/internal/platform/httpx"
	"github.com/invoicely/invoicely/internal/shared"
)

// IdempotencyHeader carries a client-chosen key making a POST safe to replay.
const IdempotencyHeader = "Idempotency-Key"

// IdempotencyStore records processed request keys.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Renderer produces the PDF of a finalized document.
type Renderer interface {
	RenderDocument(ctx context.Context, doc DocumentWithClient) ([]byte, error)
}

// Handler exposes the document lifecycle over JSON.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	idempotency IdempotencyStore
	renderer    Renderer
}

// NewHandler builds a Handler. idempotency and renderer may be nil.
func NewHandler(logger *slog.Logger, service *Service, idempotency IdempotencyStore, renderer Renderer) *Handler {
	return &Handler{
		logger:      logger,
		service:     service,
		idempotency: idempotency,
		renderer:    renderer,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	req, err := parseListRequest(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.List(r.Context(), req)
	if err != nil {
		h.fail(w, r, "list documents failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	doc, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get document failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	release, ok := h.claimIdempotencyKey(w, r, "documents.create")
	if !ok {
		return
	}
	doc, err := h.service.Create(r.Context(), req)
	if err != nil {
		release()
		h.fail(w, r, "create document failed", err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("%s/%s", strings.TrimSuffix(r.URL.Path, "/"), doc.ID))
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	var req UpdateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	doc, err := h.service.Update(r.Context(), id, req)
	if err != nil {
		h.fail(w, r, "update document failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.fail(w, r, "delete document failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) duplicate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	release, ok := h.claimIdempotencyKey(w, r, "documents.duplicate")
	if !ok {
		return
	}
	doc, err := h.service.Duplicate(r.Context(), id)
	if err != nil {
		release()
		h.fail(w, r, "duplicate document failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	var req StatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	doc, err := h.service.ChangeStatus(r.Context(), id, req)
	if err != nil {
		h.fail(w, r, "change document status failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, h.service.Preview(req))
}

func (h *Handler) nextNumber(w http.ResponseWriter, r *http.Request) {
	t, err := doctype.Parse(r.URL.Query().Get("type"))
	if err != nil {
		httpx.RespondError(w, shared.NewValidationError("type", "must be one of: invoice quote"))
		return
	}
	number, err := h.service.NextNumber(r.Context(), t)
	if err != nil {
		h.fail(w, r, "preview document number failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"type": string(t), "number": number})
}

func (h *Handler) pdf(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	if h.renderer == nil {
		httpx.Problem(w, http.StatusNotImplemented, "Not Implemented", "PDF rendering is not configured")
		return
	}
	doc, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get document for pdf failed", err)
		return
	}
	pdf, err := h.renderer.RenderDocument(r.Context(), doc)
	if err != nil {
		h.logger.Error("render document pdf failed", slog.String("document_id", id.String()), slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Bad Gateway", "PDF rendering failed")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", doc.Number+".pdf"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

// claimIdempotencyKey records the request's key, if any. The returned
// release func forgets the key so a failed request can be retried.
func (h *Handler) claimIdempotencyKey(w http.ResponseWriter, r *http.Request, module string) (func(), bool) {
	raw := r.Header.Get(IdempotencyHeader)
	if raw == "" || h.idempotency == nil {
		return func() {}, true
	}
	userID, err := shared.RequireUserID(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return nil, false
	}
	key := userID.String() + ":" + raw
	if err := h.idempotency.CheckAndInsert(r.Context(), key, module); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			httpx.RespondError(w, err)
			return nil, false
		}
		h.fail(w, r, "record idempotency key failed", err)
		return nil, false
	}
	return func() {
		if err := h.idempotency.Delete(context.WithoutCancel(r.Context()), key, module); err != nil {
			h.logger.Warn("release idempotency key failed", slog.String("module", module), slog.Any("error", err))
		}
	}, true
}

func (h *Handler) documentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, shared.NewValidationError("id", "must be a valid UUID"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, httpx.ErrNotFound), errors.Is(err, httpx.ErrDuplicate),
		errors.Is(err, httpx.ErrUnprocessable), errors.Is(err, httpx.ErrUnauthorized):
		h.logger.Debug(msg, slog.String("path", r.URL.Path), slog.Any("error", err))
	default:
		h.logger.Error(msg, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseListRequest(r *http.Request) (ListRequest, error) {
	q := r.URL.Query()
	var req ListRequest
	verr := &ValidationError{}
	if raw := q.Get("type"); raw != "" {
		t, err := doctype.Parse(raw)
		if err != nil {
			verr.Add("type", "must be one of: invoice quote")
		} else {
			req.Type = &t
		}
	}
	if raw := q.Get("status"); raw != "" {
		st := status.Status(raw)
		if !status.Valid(doctype.Invoice, st) && !status.Valid(doctype.Quote, st) {
			verr.Add("status", "unknown status")
		} else {
			req.Status = &st
		}
	}
	if raw := q.Get("client_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			verr.Add("client_id", "must be a valid UUID")
		} else {
			req.ClientID = &id
		}
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			verr.Add("limit", "must be a non-negative integer")
		}
		req.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			verr.Add("offset", "must be a non-negative integer")
		}
		req.Offset = n
	}
	return req, verr.OrNil()
}
