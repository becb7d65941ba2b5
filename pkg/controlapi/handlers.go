package controlapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/swarmd/pkg/orchestrator"
	"github.com/cuemby/swarmd/pkg/swarmerr"
	"github.com/cuemby/swarmd/pkg/types"
)

type handler struct {
	coord *orchestrator.Coordinator
}

// errorStatus maps a sentinel from pkg/swarmerr to its REST status code.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, swarmerr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, swarmerr.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, swarmerr.ErrCapacity), errors.Is(err, swarmerr.ErrIneligible):
		return http.StatusServiceUnavailable
	case errors.Is(err, swarmerr.ErrCycle), errors.Is(err, swarmerr.ErrProtocol):
		return http.StatusBadRequest
	case errors.Is(err, swarmerr.ErrSpawn), errors.Is(err, swarmerr.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, swarmerr.ErrUnreachable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errorStatus(err), map[string]string{"error": err.Error()})
}

// --- agents ---

func (h *handler) spawnAgent(w http.ResponseWriter, r *http.Request) {
	var spec orchestrator.AgentSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	id, err := h.coord.SpawnAgent(spec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *handler) terminateAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.coord.TerminateAgent(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) getAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	view, err := h.coord.GetAgent(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) listAgents(w http.ResponseWriter, r *http.Request) {
	var filter orchestrator.AgentFilter
	if s := r.URL.Query().Get("state"); s != "" {
		state := types.AgentState(s)
		filter.State = &state
	}
	writeJSON(w, http.StatusOK, h.coord.ListAgentViews(filter))
}

// --- tasks ---

func (h *handler) submitTask(w http.ResponseWriter, r *http.Request) {
	var spec orchestrator.TaskSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	id, err := h.coord.SubmitTask(spec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *handler) cancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.coord.CancelTask(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) getTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	view, err := h.coord.GetTask(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) listTasks(w http.ResponseWriter, r *http.Request) {
	var filter orchestrator.TaskFilter
	if s := r.URL.Query().Get("status"); s != "" {
		status := types.TaskStatus(s)
		filter.Status = &status
	}
	writeJSON(w, http.StatusOK, h.coord.ListTaskViews(filter))
}

// --- swarm ---

func (h *handler) swarmMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.coord.Metrics())
}
