package models

// Phase names the stage an upload is in.
type Phase string

const (
	PhaseHashing    Phase = "hashing"
	PhaseUploading  Phase = "uploading"
	PhaseFinalizing Phase = "finalizing"
	PhaseDone       Phase = "done"
	PhaseAborted    Phase = "aborted"
)

// Progress is a snapshot of an upload in flight.
type Progress struct {
	Phase      Phase   `json:"phase"`
	VideoID    string  `json:"video_id,omitempty"`
	BytesDone  int64   `json:"bytes_done"`
	TotalBytes int64   `json:"total_bytes"`
	Percent    float64 `json:"percent"`
	PartNumber int     `json:"part_number,omitempty"`
	TotalParts int     `json:"total_parts,omitempty"`
}

// NewProgress fills in Percent from the byte counters.
func NewProgress(phase Phase, done, total int64) Progress {
	p := Progress{Phase: phase, BytesDone: done, TotalBytes: total}
	if total > 0 {
		p.Percent = float64(done) * 100 / float64(total)
	}
	return p
}
