// Package jobs observes server-side processing jobs until they settle.
package jobs

import (
	"context"
	"errors"
	"iter"
	"maps"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"golang.org/x/sync/errgroup"

	"videoflow/internal/models"
)

const DefaultInterval = 3 * time.Second

// StatusSource reports the current state of a job.
type StatusSource interface {
	GetJobStatus(ctx context.Context, jobID string) (*models.Job, error)
}

type Poller struct {
	source   StatusSource
	interval time.Duration
	logger   log.Logger
}

func NewPoller(source StatusSource, interval time.Duration, logger log.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{source: source, interval: interval, logger: logger}
}

// Watch yields a snapshot of jobID right away and then once per interval.
// The sequence ends after the first terminal snapshot, after a failed fetch
// (yielded as a PollingFailedError), when ctx is done, or when the consumer
// stops ranging.
func (p *Poller) Watch(ctx context.Context, jobID string) iter.Seq2[models.Job, error] {
	return func(yield func(models.Job, error) bool) {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			job, err := p.fetch(ctx, jobID)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				yield(models.Job{JobID: jobID}, err)
				return
			}
			if !yield(*job, nil) {
				return
			}
			if job.Status.IsTerminal() {
				p.logger.Debugf("Job %s settled as %s", jobID, job.Status)
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}
}

// WatchAll polls every job in jobIDs on a shared schedule. Each tick fetches
// the jobs that are not terminal yet, concurrently, and a copy of the whole
// status map is yielded whenever one of them changed. Jobs never observed
// are absent from the map. The sequence ends once all jobs are terminal or
// on the first failed fetch.
func (p *Poller) WatchAll(ctx context.Context, jobIDs []string) iter.Seq2[map[string]models.Job, error] {
	return func(yield func(map[string]models.Job, error) bool) {
		pending := dedupe(jobIDs)
		if len(pending) == 0 {
			return
		}

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		statuses := make(map[string]models.Job, len(pending))
		for {
			snapshots, err := p.fetchAll(ctx, pending)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}

			changed := false
			next := pending[:0]
			for _, id := range pending {
				job := snapshots[id]
				if prev, ok := statuses[id]; !ok || prev.Status != job.Status || prev.ErrorMessage != job.ErrorMessage {
					changed = true
				}
				statuses[id] = job
				if !job.Status.IsTerminal() {
					next = append(next, id)
				}
			}
			pending = next

			if changed && !yield(maps.Clone(statuses), nil) {
				return
			}
			if len(pending) == 0 {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}
}

func (p *Poller) fetch(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := p.source.GetJobStatus(ctx, jobID)
	if err != nil {
		return nil, models.NewPollingFailedError("job "+jobID, err)
	}
	if job == nil {
		return nil, models.NewPollingFailedError("job "+jobID, errors.New("empty response"))
	}
	if job.JobID == "" {
		job.JobID = jobID
	}
	return job, nil
}

func (p *Poller) fetchAll(ctx context.Context, jobIDs []string) (map[string]models.Job, error) {
	var mu sync.Mutex
	snapshots := make(map[string]models.Job, len(jobIDs))

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range jobIDs {
		g.Go(func() error {
			job, err := p.fetch(gctx, id)
			if err != nil {
				return err
			}
			mu.Lock()
			snapshots[id] = *job
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snapshots, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
