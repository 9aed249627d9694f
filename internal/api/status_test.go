package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videoflow/internal/models"
)

func newTestMux(tracker *Tracker) *http.ServeMux {
	mux := http.NewServeMux()
	NewStatusAPI(tracker, log.NewLogger()).Register(mux)
	return mux
}

func get(t *testing.T, mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatusAPI_Health(t *testing.T) {
	rec := get(t, newTestMux(NewTracker()), "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["uptime"])
}

func TestStatusAPI_Progress(t *testing.T) {
	tracker := NewTracker()
	ch := make(chan models.Progress, 3)
	ch <- models.NewProgress(models.PhaseHashing, 50, 100)
	ch <- models.NewProgress(models.PhaseUploading, 75, 100)
	close(ch)
	tracker.FollowProgress("entrance.mp4", ch)

	rec := get(t, newTestMux(tracker), "/uploads/progress")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]models.Progress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, models.PhaseUploading, body["entrance.mp4"].Phase)
	assert.Equal(t, float64(75), body["entrance.mp4"].Percent)
}

func TestStatusAPI_Jobs(t *testing.T) {
	tracker := NewTracker()
	tracker.RecordJobs(map[string]models.Job{
		"job-b": {JobID: "job-b", Status: models.JobStatusRunning},
		"job-a": {JobID: "job-a", Status: models.JobStatusPending},
	})
	tracker.RecordJob(models.Job{JobID: "job-a", Status: models.JobStatusCompleted})
	mux := newTestMux(tracker)

	rec := get(t, mux, "/jobs")
	var jobs []models.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-a", jobs[0].JobID)
	assert.Equal(t, models.JobStatusCompleted, jobs[0].Status)

	rec = get(t, mux, "/jobs/job-b")
	assert.Equal(t, http.StatusOK, rec.Code)
	var job models.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, models.JobStatusRunning, job.Status)

	rec = get(t, mux, "/jobs/job-z")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}

func TestStatusAPI_Lease(t *testing.T) {
	tracker := NewTracker()
	expires := time.Now().Add(time.Hour)
	lease := models.AccessLease{ResourceID: "video-1", StreamType: "proxy", URL: "https://cdn.test/1", ExpiresAt: expires}
	tracker.RecordLease("video-1", "proxy", models.LeaseState{Lease: lease, Remaining: time.Hour, Renewed: true})

	renewed := lease
	renewed.URL = "https://cdn.test/2"
	tracker.RecordLease("video-1", "proxy", models.LeaseState{Lease: renewed, Remaining: 59 * time.Minute, Renewed: true})
	mux := newTestMux(tracker)

	rec := get(t, mux, "/leases/video-1/proxy")
	assert.Equal(t, http.StatusOK, rec.Code)
	var view LeaseView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "https://cdn.test/2", view.URL)
	assert.Equal(t, int64(59*60), view.RemainingSeconds)
	assert.Equal(t, 1, view.Renewals)

	rec = get(t, mux, "/leases/video-1/thumbnail")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusAPI_LeaseFailure(t *testing.T) {
	tracker := NewTracker()
	tracker.RecordLease("video-1", "hls", models.LeaseState{Err: errors.New("polling failed")})

	rec := get(t, newTestMux(tracker), "/leases/video-1/hls")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "polling failed")
}

func TestTracker_FailedRenewalKeepsURL(t *testing.T) {
	tracker := NewTracker()
	lease := models.AccessLease{URL: "https://cdn.test/1", ExpiresAt: time.Now().Add(time.Minute)}
	tracker.RecordLease("video-1", "proxy", models.LeaseState{Lease: lease, Remaining: time.Minute, Renewed: true})
	tracker.RecordLease("video-1", "proxy", models.LeaseState{Lease: lease, Remaining: 30 * time.Second, Err: errors.New("boom")})

	view, ok := tracker.Lease("video-1", "proxy")
	require.True(t, ok)
	assert.Equal(t, "https://cdn.test/1", view.URL)
	assert.Equal(t, "boom", view.Error)
	assert.Equal(t, int64(30), view.RemainingSeconds)
}
