// Package api exposes the HTTP control surface: arming a save, notifying a
// completed buffer write, one-shot trims and duration probes.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"replaytrim/internal/logger"
)

// SaveManager is the slice of the replay manager the handlers need.
type SaveManager interface {
	RequestSave(durationSeconds int) error
	HandleBufferSaved(path string) (string, error)
	PendingSaveDuration() int
	Probe(path string) (float64, error)
}

// Engine runs synchronous one-shot trims.
type Engine interface {
	TrimToLastSeconds(inputPath, outputPath string, durationSeconds int) bool
}

type API struct {
	manager SaveManager
	engine  Engine
	log     logger.Logger
}

func New(manager SaveManager, engine Engine, log logger.Logger) http.Handler {
	api := &API{
		manager: manager,
		engine:  engine,
		log:     log,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/save", api.handleSave)
	mux.HandleFunc("POST /api/saved", api.handleSaved)
	mux.HandleFunc("POST /api/trim", api.handleTrim)
	mux.HandleFunc("GET /api/probe", api.handleProbe)
	mux.HandleFunc("GET /healthz", api.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

type saveRequest struct {
	DurationSeconds int `json:"duration_seconds"`
}

type saveResponse struct {
	PendingSaveDuration int `json:"pending_save_duration"`
}

// handleSave arms the duration for the next buffer save.
func (a *API) handleSave(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if err := a.manager.RequestSave(req.DurationSeconds); err != nil {
		a.log.Warnf("save request rejected: %v", err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	writeJSON(w, saveResponse{PendingSaveDuration: a.manager.PendingSaveDuration()})
}

type savedRequest struct {
	Path string `json:"path"`
}

type savedResponse struct {
	JobID string `json:"job_id,omitempty"`
}

// handleSaved reports that the host finished writing the buffer to disk. The
// armed duration, if any, turns into a queued trim job.
func (a *API) handleSaved(w http.ResponseWriter, r *http.Request) {
	var req savedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}

	jobID, err := a.manager.HandleBufferSaved(req.Path)
	if err != nil {
		a.log.Errorf("buffer-saved notification for %s failed: %v", req.Path, err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, savedResponse{JobID: jobID})
}

type trimRequest struct {
	Input           string `json:"input"`
	Output          string `json:"output"`
	DurationSeconds int    `json:"duration_seconds"`
}

type trimResponse struct {
	OK     bool   `json:"ok"`
	Output string `json:"output,omitempty"`
}

// handleTrim runs a synchronous trim of an arbitrary file.
func (a *API) handleTrim(w http.ResponseWriter, r *http.Request) {
	var req trimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.Input == "" || req.Output == "" {
		http.Error(w, "input and output are required", http.StatusBadRequest)
		return
	}
	if req.DurationSeconds <= 0 {
		http.Error(w, "duration_seconds must be positive", http.StatusBadRequest)
		return
	}

	if !a.engine.TrimToLastSeconds(req.Input, req.Output, req.DurationSeconds) {
		writeJSON(w, trimResponse{OK: false})
		return
	}
	writeJSON(w, trimResponse{OK: true, Output: req.Output})
}

type probeResponse struct {
	Path            string  `json:"path"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// handleProbe returns the playable duration of the container at ?path=.
func (a *API) handleProbe(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "path query parameter is required", http.StatusBadRequest)
		return
	}

	duration, err := a.manager.Probe(path)
	if err != nil {
		http.Error(w, fmt.Sprintf("probe failed: %v", err), http.StatusNotFound)
		return
	}

	writeJSON(w, probeResponse{Path: path, DurationSeconds: duration})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
