package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	utils "videoflow/internal"
	"videoflow/internal/api"
	"videoflow/internal/auth"
	"videoflow/internal/backend"
	"videoflow/internal/config"
	"videoflow/internal/digest"
	"videoflow/internal/jobs"
	"videoflow/internal/lease"
	"videoflow/internal/models"
	"videoflow/internal/preview"
	"videoflow/internal/s3"
	"videoflow/internal/transfer"
	"videoflow/internal/upload"
)

type app struct {
	cfg     *config.Config
	engine  *config.EngineConfig
	logger  log.Logger
	tracker *api.Tracker

	backend     upload.Backend
	jobSource   jobs.StatusSource
	leaseSource lease.Source
}

func newApp(ctx context.Context, cfg *config.Config, engine *config.EngineConfig, logger log.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		engine:  engine,
		logger:  logger,
		tracker: api.NewTracker(),
	}

	switch cfg.Mode {
	case config.ModeS3:
		client, err := s3.NewClient(ctx, cfg.S3Region, cfg.S3Bucket, cfg.AWSAccessKey, cfg.AWSSecretKey, cfg.S3Endpoint)
		if err != nil {
			return nil, err
		}
		store := s3.NewStore(client, engine, logger)
		a.backend = store
		a.leaseSource = store
	default:
		client := backend.NewClient(backend.Config{
			BaseURL: cfg.APIURL,
			Token:   cfg.APIToken,
			Timeout: cfg.HTTPTimeout,
		}, logger)
		a.backend = client
		a.jobSource = client
		a.leaseSource = client
	}

	return a, nil
}

func (a *app) runUpload(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	mallID := fs.String("mall", "", "mall UUID")
	pinID := fs.String("pin", "", "camera pin UUID")
	recordedAt := fs.String("recorded-at", "", "recording start time (RFC 3339)")
	notes := fs.String("notes", "", "operator notes")
	width := fs.Int("width", 0, "video width in pixels")
	height := fs.Int("height", 0, "video height in pixels")
	fps := fs.Float64("fps", 0, "video frame rate")
	duration := fs.Int("duration", 0, "video duration in seconds")
	watch := fs.Bool("watch", false, "follow the processing job after the upload")
	statusAddr := fs.String("status-addr", "", "serve the status API on this address during the upload")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("usage: videoflow upload --mall <uuid> --pin <uuid> [flags] <file.mp4>")
	}

	file, err := models.OpenSourceFile(fs.Arg(0))
	if err != nil {
		return err
	}

	metadata := &upload.Metadata{
		OperatorNotes:        *notes,
		VideoWidth:           *width,
		VideoHeight:          *height,
		VideoFPS:             *fps,
		VideoDurationSeconds: *duration,
	}
	if *recordedAt != "" {
		t, err := time.Parse(time.RFC3339, *recordedAt)
		if err != nil {
			return fmt.Errorf("invalid --recorded-at: %w", err)
		}
		metadata.RecordedAt = &t
	}

	service, err := a.uploadService()
	if err != nil {
		return err
	}

	if *statusAddr != "" {
		stop := a.startStatusServer(*statusAddr)
		defer stop()
	}

	progress := make(chan models.Progress, 16)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.reportProgress(file.Name, progress)
	}()

	result, err := service.Upload(ctx, upload.Request{
		MallID:   *mallID,
		PinID:    *pinID,
		File:     file,
		Metadata: metadata,
		Progress: progress,
	})
	close(progress)
	wg.Wait()
	if err != nil {
		return err
	}

	if result.Duplicate {
		a.logger.Donef("%s is already stored as video %s", file.Name, result.VideoID)
		return nil
	}
	a.logger.Donef("Video %s uploaded in %d parts", result.VideoID, result.Parts)

	if result.JobID == "" {
		return nil
	}
	a.logger.Infof("Processing job: %s", result.JobID)
	if *watch {
		return a.watchJobs(ctx, []string{result.JobID})
	}
	return nil
}

func (a *app) uploadService() (*upload.Service, error) {
	maxSize, err := a.engine.MaxFileSizeBytes()
	if err != nil {
		return nil, err
	}
	chunkSize, err := a.engine.DigestChunkSizeBytes()
	if err != nil {
		return nil, err
	}

	unit := transfer.NewUnit(transfer.Config{
		MaxAttempts: a.engine.Transfer.MaxAttempts,
		BaseDelay:   a.engine.Transfer.BaseDelay,
		Multiplier:  a.engine.Transfer.Multiplier,
		Timeout:     a.cfg.HTTPTimeout,
	}, a.logger)

	return upload.NewService(a.backend, unit, digest.NewEngine(int(chunkSize)), upload.Options{
		MaxFileSize:  maxSize,
		URLBatchSize: a.engine.URLBatchSize,
	}, a.logger), nil
}

// reportProgress logs phase changes and every tenth of the upload.
func (a *app) reportProgress(name string, progress <-chan models.Progress) {
	var phase models.Phase
	lastStep := -1
	for p := range progress {
		a.tracker.RecordProgress(name, p)

		step := int(p.Percent / 10)
		if p.Phase == phase && step == lastStep {
			continue
		}
		if p.Phase != phase {
			lastStep = -1
		}
		phase, lastStep = p.Phase, step

		switch p.Phase {
		case models.PhaseUploading:
			a.logger.Printf("%s: part %d/%d, %s of %s (%.0f%%)", p.Phase, p.PartNumber, p.TotalParts,
				units.HumanSize(float64(p.BytesDone)), units.HumanSize(float64(p.TotalBytes)), p.Percent)
		default:
			a.logger.Printf("%s: %.0f%%", p.Phase, p.Percent)
		}
	}
}

func (a *app) runWatchJobs(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch-jobs", flag.ExitOnError)
	fs.Parse(args)

	var ids []string
	for _, arg := range fs.Args() {
		ids = append(ids, utils.SplitList(arg)...)
	}
	if len(ids) == 0 {
		return errors.New("usage: videoflow watch-jobs <job-id>...")
	}
	return a.watchJobs(ctx, ids)
}

func (a *app) watchJobs(ctx context.Context, ids []string) error {
	if a.jobSource == nil {
		return fmt.Errorf("processing jobs are not available in %s mode", a.cfg.Mode)
	}

	poller := jobs.NewPoller(a.jobSource, a.engine.Jobs.Interval, a.logger)
	var last map[string]models.Job
	for statuses, err := range poller.WatchAll(ctx, ids) {
		if err != nil {
			return err
		}
		a.tracker.RecordJobs(statuses)
		for _, id := range ids {
			job, ok := statuses[id]
			if !ok || last[id].Status == job.Status {
				continue
			}
			a.logJob(job)
		}
		last = statuses
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	failed := 0
	for _, job := range last {
		if job.Status == models.JobStatusFailed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d job(s) failed", failed, len(last))
	}
	return nil
}

func (a *app) logJob(job models.Job) {
	switch job.Status {
	case models.JobStatusCompleted:
		a.logger.Donef("Job %s completed", job.JobID)
	case models.JobStatusFailed:
		a.logger.Errorf("Job %s failed: %s", job.JobID, job.ErrorMessage)
	default:
		a.logger.Infof("Job %s is %s", job.JobID, job.Status)
	}
}

func (a *app) leaseManager() *lease.Manager {
	return lease.NewManager(a.leaseSource, lease.Config{
		TTL:               a.engine.Lease.TTL,
		RenewMargin:       a.engine.Lease.RenewMargin,
		CountdownInterval: a.engine.Lease.CountdownInterval,
	}, a.logger)
}

func (a *app) runLease(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("lease", flag.ExitOnError)
	videoID := fs.String("video", "", "video id")
	streamType := fs.String("stream", "proxy", "stream type (original, proxy, thumbnail)")
	watchFor := fs.Duration("for", 0, "stop after this long (0 keeps running until interrupted)")
	fs.Parse(args)

	if *videoID == "" {
		return errors.New("usage: videoflow lease --video <id> [--stream proxy] [--for 2h]")
	}

	if *watchFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *watchFor)
		defer cancel()
	}

	for state := range a.leaseManager().Watch(ctx, *videoID, *streamType) {
		a.tracker.RecordLease(*videoID, *streamType, state)
		if state.Err != nil {
			return state.Err
		}
		if state.Renewed {
			a.logger.Donef("%s URL (expires %s): %s", *streamType, state.Lease.ExpiresAt.Format(time.RFC3339), state.Lease.URL)
			continue
		}
		a.logger.Debugf("%s lease expires in %s", *streamType, units.HumanDuration(state.Remaining))
	}
	return nil
}

func (a *app) runThumbnail(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("thumbnail", flag.ExitOnError)
	videoID := fs.String("video", "", "video id")
	outDir := fs.String("out", ".", "output directory")
	sizes := fs.String("sizes", "", "comma separated widths, overrides the configured sizes")
	format := fs.String("format", "", "jpeg, png or webp, overrides the configured format")
	fs.Parse(args)

	if *videoID == "" {
		return errors.New("usage: videoflow thumbnail --video <id> [--out dir] [--sizes 256,512] [--format webp]")
	}

	so := *a.engine.GetStorageOptions(preview.ThumbnailStream)
	if *sizes != "" {
		so.Sizes = utils.SplitList(*sizes)
	}
	if *format != "" {
		so.ConvertTo = *format
	}

	generator := preview.NewGenerator(a.leaseSource, &http.Client{Timeout: a.cfg.HTTPTimeout}, a.logger)
	paths, err := generator.Generate(ctx, *videoID, &so, *outDir)
	if err != nil {
		return err
	}
	a.logger.Donef("Rendered %d preview(s) of %s", len(paths), *videoID)
	return nil
}

func (a *app) runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", a.cfg.StatusAddr, "listen address")
	jobIDs := fs.String("jobs", "", "comma separated job ids to track")
	leases := fs.String("leases", "", "comma separated video_id:stream_type pairs to keep fresh")
	fs.Parse(args)

	var wg sync.WaitGroup
	if ids := utils.SplitList(*jobIDs); len(ids) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.watchJobs(ctx, ids); err != nil && ctx.Err() == nil {
				a.logger.Warnf("Job tracking stopped: %s", err)
			}
		}()
	}

	manager := a.leaseManager()
	for _, pair := range utils.SplitList(*leases) {
		videoID, streamType, ok := strings.Cut(pair, ":")
		if !ok || videoID == "" || streamType == "" {
			return fmt.Errorf("invalid lease %q, expected video_id:stream_type", pair)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for state := range manager.Watch(ctx, videoID, streamType) {
				a.tracker.RecordLease(videoID, streamType, state)
				if state.Err != nil {
					a.logger.Warnf("Lease %s/%s stopped: %s", videoID, streamType, state.Err)
				}
			}
		}()
	}

	stop := a.startStatusServer(*addr)
	<-ctx.Done()
	stop()
	wg.Wait()
	return nil
}

// startStatusServer serves the status API in the background and returns a
// function that shuts it down.
func (a *app) startStatusServer(addr string) func() {
	mux := http.NewServeMux()
	api.NewStatusAPI(a.tracker, a.logger).Register(mux)

	authConfig := &auth.Config{APIKey: a.cfg.StatusAPIKey, PublicPaths: []string{"/health"}}
	server := &http.Server{
		Addr:         addr,
		Handler:      auth.APIKeyMiddleware(authConfig, a.logger)(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		a.logger.Infof("Starting status server on %s 🚀", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			utils.GracefulExit(fmt.Sprintf("Status server failed to start: %v", err))
		}
	}()

	return func() {
		a.logger.Infof("Shutting down status server... 🛑")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			a.logger.Errorf("Status server forced to shutdown 🚨: %v", err)
		}
	}
}
