package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/expinfo/internal/errors"
	"github.com/3leaps/expinfo/pkg/jobregistry"
)

func seededRegistry(t *testing.T) *jobregistry.Registry {
	t.Helper()
	reg := jobregistry.Open(filepath.Join(t.TempDir(), "expinfo.json"))
	ctx := context.Background()
	require.NoError(t, reg.Set(ctx, "bbb", jobregistry.PatchFromJob(jobregistry.Job{
		User: "bob", Start: "2026-01-19 10:00:00", Cmd: "make bench", Msg: "bench", PID: 222,
	})))
	require.NoError(t, reg.Set(ctx, "aaa", jobregistry.PatchFromJob(jobregistry.Job{
		User: "alice", Start: "2026-01-19 09:00:00", Cmd: "./train", Msg: "training", PID: 111,
	})))
	return reg
}

func jobsRouter(h *JobsHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/jobs", h.List)
	r.Get("/jobs/{id}", h.Get)
	return r
}

func TestJobsHandler_List(t *testing.T) {
	h := NewJobsHandler(seededRegistry(t))
	h.Alive = func(pid int) bool { return pid == 111 }

	rec := httptest.NewRecorder()
	jobsRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp JobsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	assert.Equal(t, 2, resp.Count)
	assert.Empty(t, resp.Exclusive)
	require.Len(t, resp.Jobs, 2)
	assert.Equal(t, "aaa", resp.Jobs[0].ID)
	assert.Equal(t, "alice", resp.Jobs[0].User)
	assert.False(t, resp.Jobs[0].Stale)
	assert.Equal(t, "bbb", resp.Jobs[1].ID)
	assert.True(t, resp.Jobs[1].Stale)
}

func TestJobsHandler_ListFiltered(t *testing.T) {
	h := NewJobsHandler(seededRegistry(t))
	h.Alive = func(int) bool { return true }

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "user glob", query: "?user=a*", want: []string{"aaa"}},
		{name: "repeated users", query: "?user=alice&user=bob", want: []string{"aaa", "bbb"}},
		{name: "grep", query: "?grep=bench", want: []string{"bbb"}},
		{name: "exclusive only", query: "?exclusive=true", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			jobsRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs"+tt.query, nil))

			require.Equal(t, http.StatusOK, rec.Code)
			var resp JobsResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			ids := make([]string, 0, len(resp.Jobs))
			for _, j := range resp.Jobs {
				ids = append(ids, j.ID)
			}
			assert.Equal(t, tt.want, ids)
			assert.Equal(t, len(tt.want), resp.Count)
		})
	}
}

func TestJobsHandler_ListBadFilter(t *testing.T) {
	h := NewJobsHandler(seededRegistry(t))

	for _, query := range []string{"?user=%5Ba", "?grep=train(", "?exclusive=maybe"} {
		rec := httptest.NewRecorder()
		jobsRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs"+query, nil))

		require.Equal(t, http.StatusBadRequest, rec.Code, query)
		var body apperrors.HTTPErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, apperrors.CodeBadRequest, body.Error.Code)
	}
}

func TestJobsHandler_ListEmpty(t *testing.T) {
	h := NewJobsHandler(jobregistry.Open(filepath.Join(t.TempDir(), "expinfo.json")))

	rec := httptest.NewRecorder()
	jobsRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":0,"jobs":[]}`, rec.Body.String())
}

func TestJobsHandler_Get(t *testing.T) {
	h := NewJobsHandler(seededRegistry(t))
	h.Alive = func(int) bool { return true }

	rec := httptest.NewRecorder()
	jobsRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/bbb", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var view JobView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Equal(t, "bbb", view.ID)
	assert.Equal(t, "make bench", view.Cmd)
	assert.Equal(t, 222, view.PID)
}

func TestJobsHandler_GetMissing(t *testing.T) {
	h := NewJobsHandler(seededRegistry(t))

	rec := httptest.NewRecorder()
	jobsRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/zzz", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, apperrors.CodeNotFound, body.Error.Code)
	assert.Contains(t, body.Error.Message, "zzz")
}

func TestJobsHandler_NoRegistry(t *testing.T) {
	h := &JobsHandler{}
	for _, path := range []string{"/jobs", "/jobs/aaa"} {
		rec := httptest.NewRecorder()
		jobsRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestVersionHandler(t *testing.T) {
	orig := versionInfo
	defer func() { versionInfo = orig }()

	SetVersionInfo("1.0.0", "abc123", "2026-01-15")
	rec := httptest.NewRecorder()
	VersionHandler(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp VersionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "1.0.0", resp.Version)
	assert.Equal(t, "abc123", resp.Commit)
	assert.NotEmpty(t, resp.GoVersion)
}
