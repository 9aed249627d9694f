package api

import (
	"fmt"
	"net/http"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"videoflow/internal/response"
)

type StatusAPI struct {
	tracker *Tracker
	logger  log.Logger
}

func NewStatusAPI(tracker *Tracker, logger log.Logger) *StatusAPI {
	return &StatusAPI{tracker: tracker, logger: logger}
}

// Register mounts the read-only status routes on mux.
func (h *StatusAPI) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /uploads/progress", h.HandleProgress)
	mux.HandleFunc("GET /jobs", h.HandleJobs)
	mux.HandleFunc("GET /jobs/{job_id}", h.HandleJob)
	mux.HandleFunc("GET /leases/{video_id}/{stream_type}", h.HandleLease)
}

func (h *StatusAPI) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response.Data(map[string]string{
		"status": "ok",
		"uptime": units.HumanDuration(h.tracker.Uptime()),
	}).Write(w)
}

func (h *StatusAPI) HandleProgress(w http.ResponseWriter, r *http.Request) {
	response.Data(h.tracker.Uploads()).Write(w)
}

func (h *StatusAPI) HandleJobs(w http.ResponseWriter, r *http.Request) {
	response.Data(h.tracker.Jobs()).Write(w)
}

func (h *StatusAPI) HandleJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	job, ok := h.tracker.Job(jobID)
	if !ok {
		response.Error("not_found", fmt.Sprintf("job %s is not tracked", jobID)).WriteError(w, http.StatusNotFound)
		return
	}
	response.Data(job).Write(w)
}

func (h *StatusAPI) HandleLease(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("video_id")
	streamType := r.PathValue("stream_type")

	view, ok := h.tracker.Lease(videoID, streamType)
	if !ok {
		response.Error("not_found", fmt.Sprintf("no %s lease tracked for %s", streamType, videoID)).WriteError(w, http.StatusNotFound)
		return
	}
	if view.Error != "" && view.URL == "" {
		h.logger.Debugf("Serving failed lease %s/%s: %s", videoID, streamType, view.Error)
		response.Data(view).WriteError(w, http.StatusBadGateway)
		return
	}
	response.Data(view).Write(w)
}
