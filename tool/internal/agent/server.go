// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/ex"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/pointcut"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/util"
)

const maxPayload = 4 << 20

// Server is the admin HTTP surface of the agent.
type Server struct {
	agent  *Agent
	logger *slog.Logger
	router *chi.Mux
	server *http.Server
}

type sourceView struct {
	pointcut.Source
	Directives int `json:"directives"`
}

func NewServer(addr string, agent *Agent, logger *slog.Logger) *Server {
	s := &Server{
		agent:  agent,
		logger: logger,
		router: chi.NewRouter(),
	}
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.withLogger)

	s.router.Route("/sources", func(r chi.Router) {
		r.Get("/", s.listSources)
		r.Post("/{source}", s.submit)
		r.Delete("/{source}", s.remove)
	})
	s.router.Get("/provenance", s.provenance)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return ex.Wrapf(err, "admin server stopped")
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := s.logger.With("request_id", middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(util.ContextWithLogger(r.Context(), logger)))
	})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	kind := pointcut.SourceDynamic
	if k := r.URL.Query().Get("kind"); k != "" {
		parsed, err := pointcut.ParseSourceKind(k)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		kind = parsed
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayload))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	res := s.agent.ProcessDirectives(r.Context(), payload, chi.URLParam(r, "source"), kind)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	res := s.agent.ProcessDirectives(r.Context(), nil, chi.URLParam(r, "source"), pointcut.SourceDynamic)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	snap := s.agent.Snapshot()
	views := make([]sourceView, 0)
	for _, src := range snap.Sources() {
		views = append(views, sourceView{Source: src, Directives: len(snap.Directives(src.Name))})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) provenance(w http.ResponseWriter, r *http.Request) {
	class := r.URL.Query().Get("class")
	method := r.URL.Query().Get("method")
	if class == "" && method == "" {
		writeJSON(w, http.StatusOK, s.agent.Records())
		return
	}
	rec, ok := s.agent.Provenance(class, method)
	if !ok {
		writeError(w, http.StatusNotFound, ex.Newf("method %s of class %s is not woven", method, class))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
