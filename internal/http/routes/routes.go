// Package routes wires the pipeline's inbound surface: document fetch,
// discovery, stats, health, and prometheus metrics.
package routes

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/aisecdocs/docpipe/internal/discovery"
	"github.com/aisecdocs/docpipe/internal/docs"
	"github.com/aisecdocs/docpipe/internal/httpc"
	"github.com/aisecdocs/docpipe/internal/metrics"
)

type Server struct {
	Router *chi.Mux

	orch   *docs.Orchestrator
	disc   *discovery.Service
	client *httpc.Client
	mets   *metrics.Metrics
	logger zerolog.Logger
}

type ServerOptions struct {
	Orchestrator *docs.Orchestrator
	Discovery    *discovery.Service
	Client       *httpc.Client
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
}

func New(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	s := &Server{
		Router: r,
		orch:   opts.Orchestrator,
		disc:   opts.Discovery,
		client: opts.Client,
		mets:   opts.Metrics,
		logger: opts.Logger,
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/documents/{type}/{filename}", s.getDocument)
		r.Get("/discovery", s.getDiscovery)
		r.Get("/cache/stats", s.getCacheStats)
		r.Get("/pool/stats", s.getPoolStats)
		r.Get("/breakers", s.getBreakers)
		r.Get("/health", s.getHealth)
	})
	if s.mets != nil {
		r.Method(http.MethodGet, "/metrics", s.mets.Handler())
	}
	return s
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	typ, ok := docs.ParseDocType(chi.URLParam(r, "type"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown document type")
		return
	}
	filename := chi.URLParam(r, "filename")

	doc, ok := s.orch.GetDocument(r.Context(), typ, filename)
	if !ok {
		s.count(string(typ), "unavailable")
		// Every internal cause collapses to this single outcome.
		s.writeError(w, http.StatusNotFound, "document unavailable")
		return
	}
	s.count(string(typ), "served")
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) getDiscovery(w http.ResponseWriter, r *http.Request) {
	res := s.disc.Discover(r.Context())
	if s.mets != nil {
		s.mets.Discoveries.WithLabelValues(string(res.Source)).Inc()
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) getCacheStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orch.CacheStats())
}

func (s *Server) getPoolStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.client.PoolStats())
}

func (s *Server) getBreakers(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.client.BreakerSnapshot())
}

func (s *Server) getHealth(w http.ResponseWriter, _ *http.Request) {
	health := s.orch.Health()
	status := http.StatusOK
	if health.Status == docs.HealthCritical {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}

func (s *Server) count(typ, outcome string) {
	if s.mets != nil {
		s.mets.DocumentsServed.WithLabelValues(typ, outcome).Inc()
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
