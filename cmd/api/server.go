package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"courtroom/internal/rubric"
	"courtroom/internal/runstore"
	"courtroom/internal/state"
)

type server struct {
	coord *runstore.Coordinator
}

func newServer(coord *runstore.Coordinator) *server {
	return &server{coord: coord}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/run", s.handleSubmit)
	mux.HandleFunc("GET /api/run/{id}", s.handleGet)
	mux.HandleFunc("GET /api/run/{id}/watch", s.handleWatch)
	mux.HandleFunc("GET /api/runs", s.handleList)
	mux.HandleFunc("GET /api/rubric", s.handleRubric)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

type runRequest struct {
	RepoURL    string `json:"repo_url,omitempty"`
	DocPath    string `json:"doc_path,omitempty"`
	RubricPath string `json:"rubric_path,omitempty"`
}

// handleSubmit starts a run. ?wait=false returns 202 immediately; the
// default blocks until the run is terminal.
func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cat, err := loadRubric(req.RubricPath)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	subject := state.Subject{RepoURL: req.RepoURL, DocPath: req.DocPath}

	if r.URL.Query().Get("wait") == "false" {
		rec, err := s.coord.Submit(r.Context(), subject, cat)
		if err != nil {
			submitError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, rec)
		return
	}

	rec, err := s.coord.Run(r.Context(), subject, cat)
	if err != nil {
		submitError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.coord.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, runstore.ErrNotFound) {
		httpError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	recs, err := s.coord.List(r.Context(), 50)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *server) handleRubric(w http.ResponseWriter, r *http.Request) {
	cat, err := rubric.LoadFromEnv()
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cat)
}

func loadRubric(path string) (*rubric.Catalog, error) {
	if path != "" {
		return rubric.Load(path)
	}
	return rubric.LoadFromEnv()
}

func submitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, runstore.ErrBusy):
		httpError(w, http.StatusTooManyRequests, err.Error())
	default:
		httpError(w, http.StatusBadRequest, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func httpError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
