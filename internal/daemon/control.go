package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/router"
)

// Submitter runs a message on the event loop and returns its response.
type Submitter interface {
	Submit(ctx context.Context, msg router.Message) (any, error)
}

// maxMessageBytes bounds a control request body.
const maxMessageBytes = 1 << 20

// ControlHandler serves the local control endpoint.
type ControlHandler struct {
	submitter Submitter
	logger    *zap.Logger
}

// NewControlHandler creates the HTTP handler for POST /message and GET /healthz.
func NewControlHandler(s Submitter, logger *zap.Logger) http.Handler {
	h := &ControlHandler{submitter: s, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc(router.MessagePath, h.HandleMessage)
	mux.HandleFunc(router.HealthPath, h.HandleHealth)
	return mux
}

// HandleMessage decodes a message and answers with the router's result.
// Unknown actions are answered without entering the event loop.
func (h *ControlHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var msg router.Message
	if err := ParseJSON(http.MaxBytesReader(w, r.Body, maxMessageBytes), &msg); err != nil {
		Error(w, http.StatusBadRequest, "invalid message: "+err.Error())
		return
	}

	if !router.IsKnownAction(msg.Action) {
		h.logger.Warn("unknown action", zap.String("action", msg.Action))
		JSON(w, http.StatusOK, router.ErrorResponse{Error: router.UnknownActionMessage})
		return
	}

	resp, err := h.submitter.Submit(r.Context(), msg)
	if err != nil {
		h.logger.Warn("message not handled", zap.String("action", msg.Action), zap.Error(err))
		Error(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	JSON(w, http.StatusOK, resp)
}

// HandleHealth reports that the daemon is serving.
func (h *ControlHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, router.ErrorResponse{Error: message})
}

// ParseJSON decodes a JSON body
func ParseJSON(body io.Reader, v any) error {
	return json.NewDecoder(body).Decode(v)
}

// ControlServer is the HTTP server for the control endpoint.
type ControlServer struct {
	srv      *http.Server
	listener net.Listener
	logger   *zap.Logger
}

// ListenControl binds addr. Call Serve to accept requests.
func ListenControl(addr string, handler http.Handler, logger *zap.Logger) (*ControlServer, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &ControlServer{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: l,
		logger:   logger,
	}, nil
}

// Addr returns the bound address (useful when listening on port 0).
func (s *ControlServer) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks until the server is shut down.
func (s *ControlServer) Serve() error {
	s.logger.Info("control endpoint listening", zap.String("addr", s.Addr()))
	if err := s.srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *ControlServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
