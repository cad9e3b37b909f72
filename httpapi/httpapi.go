// Package httpapi exposes the runtime over HTTP: aggregate state,
// per-module views, Record queries, toggle flips, and Telos or user-state
// changes.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/soulmesh/soulmesh"
	"github.com/soulmesh/soulmesh/eventbus"
	"github.com/soulmesh/soulmesh/orchestrator"
	"github.com/soulmesh/soulmesh/registry"
	"github.com/soulmesh/soulmesh/toggles"
)

// Server wires the orchestration surface onto a chi router.
type Server struct {
	os      *orchestrator.Orchestrator
	bus     *eventbus.Bus
	reg     *registry.Registry
	toggles *toggles.Store
	logger  soulmesh.Logger
	router  chi.Router
}

// New builds a Server over the given runtime components. A nil logger
// falls back to the no-op logger.
func New(os *orchestrator.Orchestrator, bus *eventbus.Bus, reg *registry.Registry, tog *toggles.Store, logger soulmesh.Logger) *Server {
	if logger == nil {
		logger = soulmesh.NopLogger{}
	}
	s := &Server{os: os, bus: bus, reg: reg, toggles: tog, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api/os", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/health", s.handleHealth)
		r.Get("/modules", s.handleModules)
		r.Get("/modules/{id}", s.handleModule)
		r.Get("/record", s.handleRecord)
		r.Get("/summary/errors", s.handleErrorSummary)
		r.Get("/summary/activity", s.handleActivitySummary)
		r.Post("/toggles", s.handleToggles)
		r.Post("/modules/{id}/load", s.handleLoad)
		r.Post("/capabilities/{capability}/ensure", s.handleEnsure)
		r.Post("/telos/{id}", s.handleSetTelos)
		r.Post("/user-state", s.handleSetUserState)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.os.State())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	report := s.os.Health()
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, report)
}

// moduleView is the per-module row of the modules listing.
type moduleView struct {
	Manifest *soulmesh.Manifest         `json:"manifest"`
	Enabled  bool                       `json:"enabled"`
	State    orchestrator.InstanceState `json:"state,omitempty"`
	Resident bool                       `json:"resident"`
}

func (s *Server) handleModules(w http.ResponseWriter, _ *http.Request) {
	manifests := s.reg.AllManifests()
	views := make([]moduleView, 0, len(manifests))
	for _, m := range manifests {
		v := moduleView{Manifest: m, Enabled: s.toggles.IsEnabled(m.ID)}
		if state, ok := s.os.InstanceState(m.ID); ok {
			v.State = state
			v.Resident = true
		}
		views = append(views, v)
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleModule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m := s.reg.Manifest(id)
	if m == nil {
		s.writeError(w, http.StatusNotFound, "unknown module: "+id)
		return
	}
	v := moduleView{Manifest: m, Enabled: s.toggles.IsEnabled(id)}
	if state, ok := s.os.InstanceState(id); ok {
		v.State = state
		v.Resident = true
	}
	s.writeJSON(w, http.StatusOK, v)
}

// handleRecord queries the bounded event Record. Supported query
// parameters: type (repeatable), since, until (RFC 3339), and
// format=cloudevents for a CloudEvents rendering.
func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := eventbus.RecordFilter{Types: q["type"]}

	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "bad since timestamp: "+raw)
			return
		}
		filter.Since = t
	}
	if raw := q.Get("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "bad until timestamp: "+raw)
			return
		}
		filter.Until = t
	}

	events := s.bus.QueryRecord(filter)
	if q.Get("format") == "cloudevents" {
		s.writeJSON(w, http.StatusOK, eventbus.RecordToCloudEvents(events))
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleErrorSummary(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.os.ErrorSummary(windowHours(r)))
}

func (s *Server) handleActivitySummary(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.os.ActivitySummary(windowHours(r)))
}

func windowHours(r *http.Request) int {
	if raw := r.URL.Query().Get("hours"); raw != "" {
		if hours, err := strconv.Atoi(raw); err == nil {
			return hours
		}
	}
	return 0
}

func (s *Server) handleToggles(w http.ResponseWriter, r *http.Request) {
	var body map[string]bool
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "body must be a JSON object of module id to enabled")
		return
	}
	if len(body) == 0 {
		s.writeError(w, http.StatusBadRequest, "no toggles in request")
		return
	}
	s.toggles.BatchToggle(r.Context(), body)
	s.writeJSON(w, http.StatusOK, s.toggles.AllStates())
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.reg.Manifest(id) == nil {
		s.writeError(w, http.StatusNotFound, "unknown module: "+id)
		return
	}
	if s.os.LoadModule(r.Context(), id) == nil {
		state, _ := s.os.InstanceState(id)
		s.writeJSON(w, http.StatusConflict, map[string]any{
			"loaded": false,
			"state":  state,
		})
		return
	}
	state, _ := s.os.InstanceState(id)
	s.writeJSON(w, http.StatusOK, map[string]any{"loaded": true, "state": state})
}

func (s *Server) handleEnsure(w http.ResponseWriter, r *http.Request) {
	capability := chi.URLParam(r, "capability")
	instance := s.os.EnsureModuleWithCapability(r.Context(), capability)
	if instance == nil {
		s.writeError(w, http.StatusNotFound, "no loadable module provides "+capability)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"module":  instance.Manifest().ID,
		"exposed": instance.ExposedItems(),
	})
}

func (s *Server) handleSetTelos(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.os.SetTelosByID(r.Context(), id); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.os.CurrentTelos())
}

func (s *Server) handleSetUserState(w http.ResponseWriter, r *http.Request) {
	var state soulmesh.UserState
	if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed user state")
		return
	}
	s.os.SetUserState(r.Context(), &state)
	s.writeJSON(w, http.StatusOK, s.os.State())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
