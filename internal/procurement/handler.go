package procurement

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-grn/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-grn/internal/shared"
)

// Handler exposes the GRN workflow as JSON endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds a procurement handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers GRN endpoints under the procurement prefix.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/grns", func(r chi.Router) {
		r.Post("/", h.createGRN)
		r.Get("/{id}", h.getGRN)
		r.Put("/{id}", h.updateGRN)
		r.Post("/{id}/verify", h.verifyGRN)
		r.Post("/{id}/excess-resolution", h.resolveExcess)
		r.Post("/{id}/mismatch-requests", h.createMismatchRequest)
		r.Post("/{id}/commit", h.commitGRN)
	})
	r.Route("/pos/{poID}", func(r chi.Router) {
		r.Get("/grns", h.listGRNs)
		r.Post("/shortage-grns", h.createShortageGRN)
	})
}

func (h *Handler) createGRN(w http.ResponseWriter, r *http.Request) {
	var req createGRNRequest
	actor, ok := h.decode(w, r, &req)
	if !ok {
		return
	}
	grn, err := h.service.CreateGRN(r.Context(), CreateGRNInput{
		POID:          req.POID,
		ReceivedAt:    req.ReceivedAt,
		InvoiceNumber: req.InvoiceNumber,
		ChallanNumber: req.ChallanNumber,
		Remarks:       req.Remarks,
		Draft:         req.Draft,
		ActorID:       actor,
		Lines:         lineInputs(req.Lines),
	})
	if err != nil {
		h.writeError(w, "create grn", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toGRNResponse(grn))
}

func (h *Handler) createShortageGRN(w http.ResponseWriter, r *http.Request) {
	poID, ok := h.pathID(w, r, "poID")
	if !ok {
		return
	}
	var req fulfillmentRequest
	actor, ok := h.decode(w, r, &req)
	if !ok {
		return
	}
	grn, err := h.service.CreateShortageFulfillmentGRN(r.Context(), FulfillmentInput{
		POID:          poID,
		ReceivedAt:    req.ReceivedAt,
		InvoiceNumber: req.InvoiceNumber,
		ChallanNumber: req.ChallanNumber,
		Remarks:       req.Remarks,
		Draft:         req.Draft,
		ActorID:       actor,
		Lines:         lineInputs(req.Lines),
	})
	if err != nil {
		h.writeError(w, "create shortage grn", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toGRNResponse(grn))
}

func (h *Handler) getGRN(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	view, err := h.service.GetGRN(r.Context(), id)
	if err != nil {
		h.writeError(w, "get grn", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toViewResponse(view))
}

func (h *Handler) listGRNs(w http.ResponseWriter, r *http.Request) {
	poID, ok := h.pathID(w, r, "poID")
	if !ok {
		return
	}
	grns, err := h.service.ListGRNsByPO(r.Context(), poID)
	if err != nil {
		h.writeError(w, "list grns", err)
		return
	}
	out := make([]grnResponse, 0, len(grns))
	for _, g := range grns {
		out = append(out, toGRNResponse(g))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"grns": out})
}

func (h *Handler) updateGRN(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req updateGRNRequest
	actor, ok := h.decode(w, r, &req)
	if !ok {
		return
	}
	grn, err := h.service.UpdateGRN(r.Context(), id, req.input(actor))
	if err != nil {
		h.writeError(w, "update grn", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toGRNResponse(grn))
}

func (h *Handler) verifyGRN(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req verifyRequest
	actor, ok := h.decode(w, r, &req)
	if !ok {
		return
	}
	grn, err := h.service.VerifyGRN(r.Context(), id, VerifyInput{
		Decision: VerifyDecision(req.Decision),
		Override: req.Override,
		Notes:    req.Notes,
		ActorID:  actor,
	})
	if err != nil {
		h.writeError(w, "verify grn", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toGRNResponse(grn))
}

func (h *Handler) resolveExcess(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req resolveExcessRequest
	actor, ok := h.decode(w, r, &req)
	if !ok {
		return
	}
	res, err := h.service.ResolveExcess(r.Context(), id, ResolveExcessInput{Action: ExcessAction(req.Action), Notes: req.Notes, ActorID: actor})
	if err != nil {
		h.writeError(w, "resolve excess", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResolutionResponse(res))
}

func (h *Handler) createMismatchRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req mismatchRequest
	actor, ok := h.decode(w, r, &req)
	if !ok {
		return
	}
	mr, err := h.service.CreateMismatchRequest(r.Context(), id, MismatchInput{
		RequestedAction: MismatchAction(req.RequestedAction),
		Description:     req.Description,
		ActionNotes:     req.ActionNotes,
		LineNotes:       req.LineNotes,
		ActorID:         actor,
	})
	if err != nil {
		h.writeError(w, "create mismatch request", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toMismatchResponse(mr))
}

func (h *Handler) commitGRN(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req commitRequest
	actor, ok := h.decode(w, r, &req)
	if !ok {
		return
	}
	rec, err := h.service.CommitToInventory(r.Context(), id, CommitInput{Location: req.Location, ActorID: actor})
	if err != nil {
		h.writeError(w, "commit grn", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toCommitResponse(rec))
}

// decode reads the JSON body into dst, validates it and returns the acting user.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) (int64, bool) {
	actor := shared.ActorFromContext(r.Context())
	if actor == 0 {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return 0, false
	}
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return 0, false
	}
	if err := h.validator.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Namespace()] = fe.Tag()
			}
			httpx.ValidationProblem(w, "request failed validation", fields)
			return 0, false
		}
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return 0, false
	}
	return actor, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.ValidationProblem(w, "invalid path parameter", map[string]string{name: "must be a positive integer"})
		return 0, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		httpx.ValidationProblem(w, verr.Error(), verr.Fields)
		return
	}
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidQuantities):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrBusy):
		httpx.Problem(w, http.StatusLocked, "Locked", err.Error())
	case isRuleViolation(err):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func isRuleViolation(err error) bool {
	for _, target := range []error{
		ErrNotEditable, ErrInvalidTransition, ErrNoOverage, ErrAlreadyResolved, ErrNoShortage,
		ErrNotVerified, ErrOverageUnresolved, ErrAlreadyCommitted, ErrNoOutstandingShortage,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
