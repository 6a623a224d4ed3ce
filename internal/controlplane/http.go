package controlplane

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/danielpatrickdp/simuniverse-cert/internal/registry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// #region router
// maxRequestBody bounds a create request including inline evidence.
const maxRequestBody = 16 << 20

// NewRouter exposes the service over HTTP:
//
//	POST /runs                  create and certify a run
//	GET  /runs?env=&limit=      list runs, newest first
//	GET  /runs/{run_id}         fetch one run
//	GET  /runs/{run_id}/events  lifecycle log of a run
//	GET  /gates                 evaluate gate rules against live metrics
//	GET  /metrics               Prometheus exposition
func NewRouter(svc *Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/runs", func(api chi.Router) {
		api.Post("/", svc.handleCreate)
		api.Get("/", svc.handleList)
		api.Get("/{run_id}", svc.handleGet)
		api.Get("/{run_id}/events", svc.handleEvents)
	})
	r.Get("/gates", svc.handleGates)
	if svc.exporter != nil {
		r.Method(http.MethodGet, "/metrics", svc.exporter.Handler())
	}
	return r
}

// #endregion router

// #region handlers
func (s *Service) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, &InvalidRequestError{Field: "body", Err: err}, nil)
		return
	}
	rec, err := s.CreateRun(r.Context(), req)
	if err != nil {
		s.log.Warnf("create run: %v", err)
		var run *registry.RunRecord
		if rec.RunID != "" {
			run = &rec
		}
		writeError(w, err, run)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.GetRun(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	opts := registry.ListOptions{Environment: r.URL.Query().Get("env")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, &InvalidRequestError{Field: "limit", Err: err}, nil)
			return
		}
		opts.Limit = n
	}
	runs, err := s.ListRuns(r.Context(), opts)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.RunEvents(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Service) handleGates(w http.ResponseWriter, r *http.Request) {
	d, err := s.EvaluateGates()
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// #endregion handlers

// #region responses
// ErrorBody is the JSON shape of every error response. Run is set when the
// failure left a registered run behind.
type ErrorBody struct {
	Error   Kind                `json:"error"`
	Message string              `json:"message"`
	Run     *registry.RunRecord `json:"run,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error, run *registry.RunRecord) {
	kind := Classify(err)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorBody{Error: KindInvalidInput, Message: err.Error()})
		return
	}
	writeJSON(w, kind.HTTPStatus(), ErrorBody{Error: kind, Message: err.Error(), Run: run})
}

// #endregion responses
