package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/okian/facewatch/internal/domain/model"
	"github.com/okian/facewatch/pkg/logger"
)

// FormField is the multipart field carrying the uploaded face.
const FormField = "file"

// FacesDependencies defines the face operations behind the HTTP surface.
type FacesDependencies interface {
	Upload(ctx context.Context, data []byte) (string, error)
	GetFace(ctx context.Context, id string) ([]byte, error)
	ListRecent(ctx context.Context, n int) ([]string, error)
	RecentLimit() int
}

// FacesHandler handles face upload and retrieval.
type FacesHandler struct {
	deps     FacesDependencies
	maxBytes int64
	logger   logger.Logger
}

// NewFacesHandler creates a new faces handler.
func NewFacesHandler(deps FacesDependencies, maxBytes int64, l logger.Logger) *FacesHandler {
	return &FacesHandler{deps: deps, maxBytes: maxBytes, logger: l}
}

// HandleUpload handles POST /upload_face requests.
func (h *FacesHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	const op = "api.upload_face"

	// Multipart framing needs room on top of the image itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+64<<10)
	file, _, err := r.FormFile(FormField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", WrapKind(op, ErrTooLarge, err))
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	defer file.Close()
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	data, err := io.ReadAll(io.LimitReader(file, h.maxBytes+1))
	switch {
	case err != nil:
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	case int64(len(data)) > h.maxBytes:
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", NewKind(op, ErrTooLarge))
		return
	}

	id, err := h.deps.Upload(r.Context(), data)
	if err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{FaceID: id})
}

// HandleGet handles GET /faces/{id} requests.
func (h *FacesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_face"
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusNotFound, "not_found", nil)
		return
	}

	img, err := h.deps.GetFace(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

// HandleList handles GET /faces requests.
func (h *FacesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_faces"
	ids, err := h.deps.ListRecent(r.Context(), h.deps.RecentLimit())
	if err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	refs := make([]model.FaceRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, model.FaceRef{ID: id})
	}
	writeJSON(w, http.StatusOK, refs)
}
