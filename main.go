package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/bitrise-io/go-utils/v2/log"

	utils "videoflow/internal"
	"videoflow/internal/config"
	"videoflow/internal/upload"
)

const usage = `Usage: videoflow <command> [flags]

Commands:
  upload      upload an .mp4 to a mall pin and optionally watch its processing job
  watch-jobs  follow processing jobs until they settle
  lease       keep a signed stream URL fresh and print it on every renewal
  thumbnail   render local previews of a video thumbnail
  serve       run the status API, tracking the given jobs and leases
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		utils.Shutdown(fmt.Sprintf("Invalid configuration: %v", err))
	}

	logger := log.NewLogger()
	logger.EnableDebugLog(cfg.Debug())

	engine, err := config.LoadEngineConfig(cfg.EngineConfigPath)
	if err != nil {
		utils.Shutdown(fmt.Sprintf("Failed to load engine config: %v", err))
	}

	ctx, cancel := utils.CancelOnSignal(context.Background())
	defer cancel()

	app, err := newApp(ctx, cfg, engine, logger)
	if err != nil {
		utils.Shutdown(fmt.Sprintf("Failed to set up %s mode: %v", cfg.Mode, err))
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "upload":
		err = app.runUpload(ctx, args)
	case "watch-jobs":
		err = app.runWatchJobs(ctx, args)
	case "lease":
		err = app.runLease(ctx, args)
	case "thumbnail":
		err = app.runThumbnail(ctx, args)
	case "serve":
		err = app.runServe(ctx, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		if errors.Is(err, upload.ErrUploadCancelled) {
			logger.Warnf("Upload cancelled")
			os.Exit(130)
		}
		logger.Errorf("%s", err)
		os.Exit(1)
	}
}
