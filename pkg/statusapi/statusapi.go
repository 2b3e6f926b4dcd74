// Package statusapi exposes a loopback-bound, read-only HTTP
// introspection surface over a running engine: container listing,
// single-container detail, logs, and a live event stream.
// SPEC_FULL.md's supplemented status API. Structurally grounded on
// ORCA's cmd/orchestrator (gorilla/mux router, a logging middleware,
// JSON responses via json.NewEncoder), but the routes are read-only
// and there is no control-plane surface — deploys and stops still
// only happen through the CLI's calls into pkg/runtime, never through
// this API, per spec.md's daemon-less design.
package statusapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/containust/containust/pkg/runtime"
	"github.com/containust/containust/pkg/state"
)

// Server is the status API's HTTP handler set.
type Server struct {
	engine *runtime.Engine
	states *state.Index
	log    *logrus.Logger
	router *mux.Router
}

// New builds a Server wired to engine and states. Both may be read
// concurrently with the engine's own goroutines; the server only ever
// reads.
func New(engine *runtime.Engine, states *state.Index, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
	}
	s := &Server{engine: engine, states: states, log: log}
	s.router = mux.NewRouter()
	s.router.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	s.router.HandleFunc("/containers", s.listContainersHandler).Methods("GET")
	s.router.HandleFunc("/containers/{ref}", s.getContainerHandler).Methods("GET")
	s.router.HandleFunc("/containers/{ref}/logs", s.logsHandler).Methods("GET")
	s.router.HandleFunc("/events", s.eventsHandler).Methods("GET")
	s.router.Use(s.loggingMiddleware)
	return s
}

// ListenAndServe binds addr (expected loopback, e.g. "127.0.0.1:7780")
// and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // /events streams indefinitely
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("address", addr).Info("status API listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
			"remote":   r.RemoteAddr,
		}).Debug("status API request")
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listContainersHandler(w http.ResponseWriter, r *http.Request) {
	records, err := s.states.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) getContainerHandler(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["ref"]
	rec, err := s.states.FindByNameOrIDPrefix(ref)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) logsHandler(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["ref"]
	rec, err := s.states.FindByNameOrIDPrefix(ref)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	logs, err := s.engine.Logs(r.Context(), rec.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(logs))
}

// eventsHandler streams newline-delimited JSON events as they occur,
// closing when the client disconnects. Not Server-Sent-Events framed
// (no "data: " prefix) since this is meant for the SDK's event stream
// and simple tooling, not a browser EventSource.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errNoFlush)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	events := s.engine.Events()
	enc := json.NewEncoder(w)
	for {
		select {
		case ev := <-events:
			if err := enc.Encode(ev); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

const errNoFlush = simpleErr("response writer does not support streaming")

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// LoopbackListener is a convenience for callers that want to bind an
// ephemeral loopback port (e.g. tests) rather than a fixed address.
func LoopbackListener() (net.Listener, error) {
	return net.Listen("tcp", "127.0.0.1:0")
}
