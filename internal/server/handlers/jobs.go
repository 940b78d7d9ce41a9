package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/expinfo/internal/errors"
	"github.com/3leaps/expinfo/pkg/jobregistry"
	"github.com/3leaps/expinfo/pkg/match"
)

// JobView is one registry record as served over HTTP.
type JobView struct {
	ID string `json:"id"`
	jobregistry.Job
	Stale bool `json:"stale"`
}

// JobsResponse is the body of GET /jobs.
type JobsResponse struct {
	Count     int       `json:"count"`
	Exclusive string    `json:"exclusive,omitempty"`
	Jobs      []JobView `json:"jobs"`
}

// JobsHandler serves the registry read-only.
type JobsHandler struct {
	Registry *jobregistry.Registry
	// Alive reports whether a recorded pid still runs.
	Alive func(pid int) bool
}

// NewJobsHandler creates a handler over reg.
func NewJobsHandler(reg *jobregistry.Registry) *JobsHandler {
	return &JobsHandler{Registry: reg, Alive: jobregistry.IsProcessAlive}
}

func (h *JobsHandler) view(id string, j jobregistry.Job) JobView {
	stale := false
	if j.PID > 0 && h.Alive != nil {
		stale = !h.Alive(j.PID)
	}
	return JobView{ID: id, Job: j, Stale: stale}
}

// List serves GET /jobs, ordered by start time.
//
// Query parameters narrow the listing: user (glob, repeatable), grep
// (regex over message and command) and exclusive=true. Exclusive always
// names the holder, even when the filter hides it.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.Registry == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("registry not configured", nil))
		return
	}
	q := r.URL.Query()
	exclusiveOnly, err := parseBool(q.Get("exclusive"))
	if err != nil {
		respondWithError(w, r, apperrors.NewBadRequestError("invalid exclusive parameter", err))
		return
	}
	sel, err := match.New(match.Config{Users: q["user"], Grep: q.Get("grep"), ExclusiveOnly: exclusiveOnly})
	if err != nil {
		respondWithError(w, r, apperrors.NewBadRequestError("invalid filter", err))
		return
	}

	all, err := h.Registry.Jobs(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	jobs := sel.Filter(all)

	resp := JobsResponse{Count: len(jobs), Jobs: make([]JobView, 0, len(jobs))}
	if id, ok := all.HasExclusive(); ok {
		resp.Exclusive = id
	}
	for _, id := range jobs.IDs() {
		resp.Jobs = append(resp.Jobs, h.view(id, jobs[id]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get serves GET /jobs/{id}.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Registry == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("registry not configured", nil))
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	job, ok, err := h.Registry.Get(r.Context(), id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if !ok {
		respondWithError(w, r, apperrors.NewNotFoundError("job "+id+" not found"))
		return
	}
	writeJSON(w, http.StatusOK, h.view(id, job))
}

func parseBool(s string) (bool, error) {
	if strings.TrimSpace(s) == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}
