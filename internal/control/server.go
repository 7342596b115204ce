// Package control exposes the host side of the worker to pages and
// operators: page messages, push, notification clicks, and sync triggers.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/faiz501/bharat-industry/internal/config"
	"github.com/faiz501/bharat-industry/internal/worker"
)

const maxPayload = 1 << 20

// Server is the control API
type Server struct {
	config *config.Config
	host   *worker.Host
	hub    *Hub
	router chi.Router
}

// New creates the control API for host
func New(cfg *config.Config, host *worker.Host, hub *Hub) *Server {
	s := &Server{
		config: cfg,
		host:   host,
		hub:    hub,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Route("/sw", func(r chi.Router) {
		r.Post("/messages", s.handleMessage)
		r.Handle("/ws", hub)
		r.Post("/push", s.handlePush)
		r.Post("/notifications/{id}/click", s.handleNotificationClick)
		r.Post("/sync/{tag}", s.handleSync(worker.EventSync))
		r.Post("/periodicsync/{tag}", s.handleSync(worker.EventPeriodicSync))
	})
	s.router = r

	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.ControlPort),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logrus.Infof("Starting control API on port %d", s.config.Server.ControlPort)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	State   string `json:"state"`
	Waiting string `json:"waiting,omitempty"`
	Pages   int    `json:"pages"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := healthResponse{Status: "ok", State: "none", Pages: s.hub.Len()}
	if active := s.host.Active(); active != nil {
		health.Version = active.Version()
		health.State = active.State().String()
	}
	if waiting := s.host.Waiting(); waiting != nil {
		health.Waiting = waiting.Version()
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg worker.Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPayload)).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid message: " + err.Error()})
		return
	}

	res, err := s.host.Message(r.Context(), msg)
	if err != nil {
		writeError(w, err)
		return
	}
	if res.Reply == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, res.Reply)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayload))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "failed to read payload: " + err.Error()})
		return
	}

	res, err := s.host.Dispatch(r.Context(), worker.Event{Kind: worker.EventPush, Data: data})
	if err != nil {
		writeError(w, err)
		return
	}
	if res.Reply == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusAccepted, res.Reply)
}

func (s *Server) handleNotificationClick(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.host.Dispatch(r.Context(), worker.Event{Kind: worker.EventNotificationClick, NotificationID: id}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSync(kind worker.EventKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tag := chi.URLParam(r, "tag")
		if _, err := s.host.Dispatch(r.Context(), worker.Event{Kind: kind, Tag: tag}); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, worker.ErrNoWorker):
		status = http.StatusServiceUnavailable
	case errors.Is(err, worker.ErrNotificationNotFound):
		status = http.StatusNotFound
	default:
		logrus.Errorf("Control request failed: %v", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("Failed to write response body: %v", err)
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logrus.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
		}).Debugf("%s %s", r.Method, r.URL.Path)
	})
}
