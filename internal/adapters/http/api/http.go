// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/okian/facewatch/internal/adapters/hub"
	service "github.com/okian/facewatch/internal/app"
	"github.com/okian/facewatch/pkg/logger"
)

const defaultMaxUploadBytes = 10 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	Upload(ctx context.Context, data []byte) (string, error)
	GetFace(ctx context.Context, id string) ([]byte, error)
	ListRecent(ctx context.Context, n int) ([]string, error)
	RecentLimit() int
	Subscribe(ctx context.Context, conn hub.Conn) error
	StatsProvider
}

// FramePublisher enqueues raw frames for the consumer.
type FramePublisher interface {
	Publish(ctx context.Context, data []byte, priority uint8) error
}

// Server wires HTTP routes for the ingestion API.
type Server struct {
	deps           Dependencies
	frames         FramePublisher
	maxUploadBytes int64
	upgrader       *websocket.Upgrader
	logger         logger.Logger

	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	facesHandler  *FacesHandler
	wsHandler     *WSHandler
	framesHandler *FramesHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		deps:           deps,
		maxUploadBytes: defaultMaxUploadBytes,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.Get().Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.healthHandler = NewHealthHandler()
	s.statsHandler = NewStatsHandler(deps, s.logger)
	s.facesHandler = NewFacesHandler(deps, s.maxUploadBytes, s.logger)
	s.wsHandler = NewWSHandler(deps, s.upgrader, s.logger)
	if s.frames != nil {
		s.framesHandler = NewFramesHandler(s.frames, s.maxUploadBytes, s.logger)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.wrap(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("GET /stats", s.wrap(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST /upload_face", s.wrap(s.facesHandler.HandleUpload, "upload_face"))
	mux.HandleFunc("GET /faces", s.wrap(s.facesHandler.HandleList, "faces"))
	mux.HandleFunc("GET /faces/{id}", s.wrap(s.facesHandler.HandleGet, "face"))
	mux.HandleFunc("GET /ws", s.wrap(s.wsHandler.HandleWS, "ws"))
	if s.framesHandler != nil {
		mux.HandleFunc("POST /frames", s.wrap(s.framesHandler.HandlePostFrame, "frames"))
		s.logger.Info(ctx, "frame ingress enabled", logger.String("path", "/frames"))
	}
}

func (s *Server) wrap(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return RequestIDMiddleware(MetricsMiddleware(next, endpoint), s.logger)
}

type uploadResponse struct {
	FaceID string `json:"face_id"`
}

type ackResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError maps service errors onto status codes. Unclassified
// failures are logged and answered with a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, l logger.Logger, op string, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", Wrap(op, err))
	case errors.Is(err, service.ErrEmptyImage):
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
	default:
		l.Error(r.Context(), "request failed", logger.String("op", op), logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", NewKind(op, ErrInternal))
	}
}
