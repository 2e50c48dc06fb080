package api

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/ez3davatars/A360-Aging-UI/internal/apperr"
	"github.com/ez3davatars/A360-Aging-UI/internal/subject"
	"github.com/go-chi/chi/v5"
)

// Handler holds API route handlers.
type Handler struct {
	svc *Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// subjectID extracts and canonicalizes the subject reference from the URL.
// Accepts loose forms (s1, 001, Subject 1) and returns the zero-padded ID.
func subjectID(r *http.Request) (string, error) {
	id, _, _, err := subject.ParseID(chi.URLParam(r, "id"))
	return id, err
}

// ListSubjects handles GET /api/subjects.
//
//	@Summary		List all subjects with stored-slot counts
//	@Tags			subjects
//	@Produce		json
//	@Success		200	{object}	SubjectListResponse
//	@Security		BearerAuth
//	@Router			/subjects [get]
func (h *Handler) ListSubjects(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListSubjects(r.Context())
	if err != nil {
		slog.Error("list subjects failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subjects": items,
		"total":    len(items),
	})
}

// GetSubject handles GET /api/subjects/{id}.
//
//	@Summary		Get one subject with its timeline slot states
//	@Tags			subjects
//	@Produce		json
//	@Param			id	path		string	true	"Subject ID (S001, s1, 1)"
//	@Success		200	{object}	SubjectDetail
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/subjects/{id} [get]
func (h *Handler) GetSubject(w http.ResponseWriter, r *http.Request) {
	id, err := subjectID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid subject id"))
		return
	}
	detail, err := h.svc.GetSubject(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get subject failed", slog.String("subject", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// GetSlots handles GET /api/subjects/{id}/slots.
//
//	@Summary		Get the eleven timeline slot states for a subject
//	@Tags			subjects
//	@Produce		json
//	@Param			id	path		string	true	"Subject ID"
//	@Success		200	{object}	SlotsResponse
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/subjects/{id}/slots [get]
func (h *Handler) GetSlots(w http.ResponseWriter, r *http.Request) {
	id, err := subjectID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid subject id"))
		return
	}
	slots, err := h.svc.Slots(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get slots failed", slog.String("subject", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subject_id": id,
		"slots":      slots,
	})
}

// ListIngests handles GET /api/ingests.
//
//	@Summary		List recent ingest ledger entries, newest first
//	@Tags			ingests
//	@Produce		json
//	@Param			limit	query		int	false	"Max rows (default 50)"
//	@Success		200		{object}	IngestListResponse
//	@Security		BearerAuth
//	@Router			/ingests [get]
func (h *Handler) ListIngests(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := h.svc.Ingests(limit)
	if err != nil {
		slog.Error("list ingests failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ingests": rows,
		"total":   len(rows),
	})
}

// ExportSubject handles POST /api/subjects/{id}/export.
//
//	@Summary		Assemble the subject manifest and, when complete, the export archive
//	@Tags			subjects
//	@Produce		json
//	@Param			id	path		string	true	"Subject ID"
//	@Success		200	{object}	manifest.Result
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/subjects/{id}/export [post]
func (h *Handler) ExportSubject(w http.ResponseWriter, r *http.Request) {
	id, err := subjectID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid subject id"))
		return
	}
	res, err := h.svc.Export(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		case errors.Is(err, os.ErrNotExist):
			writeJSON(w, http.StatusConflict, errorBody("timeline folder missing"))
		default:
			slog.Error("export subject failed", slog.String("subject", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}
