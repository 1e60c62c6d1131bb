// Package server exposes a research Driver over HTTP: session creation,
// messages, review responses, report export and a websocket stream of
// state updates.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	fgerrors "github.com/randalmurphal/reportgraph/pkg/flowgraph/errors"
	"github.com/randalmurphal/reportgraph/pkg/research"
)

// Server routes HTTP requests to a Driver.
type Server struct {
	driver   *research.Driver
	logger   *slog.Logger
	auth     *Authenticator
	upgrader websocket.Upgrader
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAuth requires a bearer token signed for auth on every route.
func WithAuth(auth *Authenticator) Option {
	return func(s *Server) { s.auth = auth }
}

// New creates a Server over driver.
func New(driver *research.Driver, opts ...Option) *Server {
	s := &Server{
		driver: driver,
		logger: slog.Default(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed, authenticated handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sessions", s.handleList)
	mux.HandleFunc("POST /sessions", s.handleCreate)
	mux.HandleFunc("GET /sessions/{id}", s.handleGet)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleAbandon)
	mux.HandleFunc("POST /sessions/{id}/messages", s.handleMessage)
	mux.HandleFunc("POST /sessions/{id}/resume", s.handleResume)
	mux.HandleFunc("POST /sessions/{id}/retry", s.handleRetry)
	mux.HandleFunc("GET /sessions/{id}/report", s.handleReport)
	mux.HandleFunc("GET /sessions/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	var h http.Handler = mux
	if s.auth != nil {
		h = s.auth.Middleware(h)
	}
	return s.logRequests(h)
}

type messageRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content"`
}

type errorResponse struct {
	Error     string           `json:"error"`
	Retryable bool             `json:"retryable"`
	Result    *research.Result `json:"result,omitempty"`
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": s.driver.Sessions()})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decode(w, r, &req) {
		return
	}
	id := req.SessionID
	if id == "" {
		id = research.NewSessionID()
	}
	res, err := s.driver.Send(r.Context(), id, research.HumanMessage(req.Content))
	s.respond(w, http.StatusCreated, res, err)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.driver.Send(r.Context(), r.PathValue("id"), research.HumanMessage(req.Content))
	s.respond(w, http.StatusOK, res, err)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var msg research.Message
	if !decode(w, r, &msg) {
		return
	}
	res, err := s.driver.Resume(r.Context(), r.PathValue("id"), msg)
	s.respond(w, http.StatusOK, res, err)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	res, err := s.driver.Retry(r.Context(), r.PathValue("id"))
	s.respond(w, http.StatusOK, res, err)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	res, err := s.driver.Result(r.Context(), r.PathValue("id"))
	s.respond(w, http.StatusOK, res, err)
}

func (s *Server) handleAbandon(w http.ResponseWriter, r *http.Request) {
	if err := s.driver.Abandon(r.Context(), r.PathValue("id")); err != nil {
		s.respond(w, 0, research.Result{}, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReport renders the session's report as Markdown, or as HTML with
// ?format=html.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	state, _, err := s.driver.Snapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respond(w, 0, research.Result{}, err)
		return
	}

	if r.URL.Query().Get("format") == "html" {
		html, err := research.RenderHTML(state)
		if err != nil {
			s.respond(w, 0, research.Result{}, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(html))
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, _ = w.Write([]byte(research.Markdown(state)))
}

// respond writes res with status, or maps err onto an error response that
// still carries the session result when there is one.
func (s *Server) respond(w http.ResponseWriter, status int, res research.Result, err error) {
	if err == nil {
		writeJSON(w, status, res)
		return
	}

	code := statusFor(err)
	body := errorResponse{Error: err.Error(), Retryable: retryable(err)}
	if res.SessionID != "" {
		body.Result = &res
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "session_id", res.SessionID, "error", err)
	}
	writeJSON(w, code, body)
}

func statusFor(err error) int {
	var (
		invalid  *research.InvalidResumeError
		validErr *research.ValidationError
		oracle   *research.OracleCallError
		unknown  *research.UnknownToolError
	)
	switch {
	case errors.Is(err, research.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, research.ErrSessionSuspended), errors.As(err, &invalid):
		return http.StatusConflict
	case errors.As(err, &validErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &oracle), errors.As(err, &unknown):
		return http.StatusBadGateway
	case errors.Is(err, research.ErrToolTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// retryable reports whether repeating the round (POST .../retry) may
// succeed.
func retryable(err error) bool {
	var oracle *research.OracleCallError
	if errors.As(err, &oracle) {
		return fgerrors.IsRetryable(oracle.Err)
	}
	return errors.Is(err, research.ErrToolTimeout)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
