package api

import (
	"maps"
	"slices"
	"sync"
	"time"

	"videoflow/internal/models"
)

// LeaseView is the public shape of a tracked lease.
type LeaseView struct {
	VideoID          string    `json:"video_id"`
	StreamType       string    `json:"stream_type"`
	URL              string    `json:"url,omitempty"`
	ExpiresAt        time.Time `json:"expires_at,omitempty"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	Renewals         int       `json:"renewals"`
	Error            string    `json:"error,omitempty"`
}

// Tracker keeps the latest state reported by the upload, job and lease
// streams so the status API can serve it. Safe for concurrent use.
type Tracker struct {
	mu        sync.RWMutex
	uploads   map[string]models.Progress
	jobs      map[string]models.Job
	leases    map[string]LeaseView
	startedAt time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		uploads:   make(map[string]models.Progress),
		jobs:      make(map[string]models.Job),
		leases:    make(map[string]LeaseView),
		startedAt: time.Now(),
	}
}

func (t *Tracker) RecordProgress(name string, p models.Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.uploads[name] = p
}

// FollowProgress records every snapshot from ch until it is closed.
func (t *Tracker) FollowProgress(name string, ch <-chan models.Progress) {
	for p := range ch {
		t.RecordProgress(name, p)
	}
}

func (t *Tracker) RecordJob(job models.Job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[job.JobID] = job
}

func (t *Tracker) RecordJobs(jobs map[string]models.Job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	maps.Copy(t.jobs, jobs)
}

// RecordLease stores a lease observation. An error state keeps the last
// known URL around next to the error.
func (t *Tracker) RecordLease(videoID, streamType string, state models.LeaseState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := leaseKey(videoID, streamType)
	view := t.leases[key]
	view.VideoID = videoID
	view.StreamType = streamType
	if state.Err != nil {
		view.Error = state.Err.Error()
		view.RemainingSeconds = state.RemainingSeconds()
		t.leases[key] = view
		return
	}

	if state.Renewed && view.URL != "" {
		view.Renewals++
	}
	view.URL = state.Lease.URL
	view.ExpiresAt = state.Lease.ExpiresAt
	view.RemainingSeconds = state.RemainingSeconds()
	view.Error = ""
	t.leases[key] = view
}

func (t *Tracker) Uploads() map[string]models.Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.uploads)
}

// Jobs returns all tracked jobs ordered by id.
func (t *Tracker) Jobs() []models.Job {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := slices.Sorted(maps.Keys(t.jobs))
	jobs := make([]models.Job, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, t.jobs[id])
	}
	return jobs
}

func (t *Tracker) Job(jobID string) (models.Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[jobID]
	return job, ok
}

func (t *Tracker) Lease(videoID, streamType string) (LeaseView, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	view, ok := t.leases[leaseKey(videoID, streamType)]
	return view, ok
}

func (t *Tracker) Uptime() time.Duration {
	return time.Since(t.startedAt)
}

func leaseKey(videoID, streamType string) string {
	return videoID + "/" + streamType
}
