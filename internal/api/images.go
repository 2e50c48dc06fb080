package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ez3davatars/A360-Aging-UI/internal/apperr"
	"github.com/go-chi/chi/v5"
)

// ImageHandler serves canonical timeline images straight from disk.
type ImageHandler struct {
	svc *Service
}

// NewImageHandler creates a handler backed by the API service.
func NewImageHandler(svc *Service) *ImageHandler {
	return &ImageHandler{svc: svc}
}

// ServeImage handles GET /api/subjects/{id}/images/{age}.
//
// The file path is resolved from the validated subject ID and age only, so
// no client-supplied path segment ever reaches the filesystem.
//
//	@Summary		Download the canonical image for one timeline slot
//	@Tags			subjects
//	@Produce		image/png
//	@Param			id	path		string	true	"Subject ID"
//	@Param			age	path		int		true	"Timeline age (20..70)"
//	@Success		200	{file}		binary
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/subjects/{id}/images/{age} [get]
func (h *ImageHandler) ServeImage(w http.ResponseWriter, r *http.Request) {
	id, err := subjectID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid subject id"))
		return
	}
	age, err := strconv.Atoi(chi.URLParam(r, "age"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid age"))
		return
	}

	abs, err := h.svc.ImagePath(r.Context(), id, age)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			http.NotFound(w, r)
		} else {
			slog.Error("serve image failed", slog.String("subject", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	http.ServeFile(w, r, abs)
}
