package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/okian/facewatch/internal/adapters/mq/queue"
	"github.com/okian/facewatch/pkg/logger"
)

// FramesHandler accepts raw frames for local runs without a producer.
type FramesHandler struct {
	publisher FramePublisher
	maxBytes  int64
	logger    logger.Logger
}

// NewFramesHandler creates a new frames handler.
func NewFramesHandler(publisher FramePublisher, maxBytes int64, l logger.Logger) *FramesHandler {
	return &FramesHandler{publisher: publisher, maxBytes: maxBytes, logger: l}
}

// HandlePostFrame handles POST /frames?priority=N requests. The body is the
// encoded frame.
func (h *FramesHandler) HandlePostFrame(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_frame"

	var priority uint8
	if raw := r.URL.Query().Get("priority"); raw != "" {
		p, err := strconv.ParseUint(raw, 10, 8)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		priority = uint8(p)
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", WrapKind(op, ErrTooLarge, err))
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}

	switch err := h.publisher.Publish(r.Context(), data, priority); {
	case err == nil:
		writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
	case errors.Is(err, queue.ErrFull):
		writeError(w, http.StatusTooManyRequests, "backpressure", WrapKind(op, ErrBackpressure, err))
	case errors.Is(err, queue.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
	default:
		h.logger.Error(r.Context(), "publish frame", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", NewKind(op, ErrInternal))
	}
}
