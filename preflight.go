package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/embano1/transcribe-worker/internal/config"
	"github.com/embano1/transcribe-worker/internal/logging"
)

const preflightTimeout = 10 * time.Second

type bucketChecker interface {
	HeadBucket(ctx context.Context, bucket string) error
}

// preflight checks external tools and bucket access. Problems are logged and
// returned, never fatal: jobs report their own errors.
func preflight(ctx context.Context, cfg *config.Config, bucket bucketChecker, lookPath func(string) (string, error), logger *slog.Logger) []string {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	var warnings []string
	warn := func(msg string, attrs ...logging.Attr) {
		warnings = append(warnings, msg)
		logger.Warn(msg, logging.Args(append(attrs, logging.String(logging.FieldEventType, "preflight"))...)...)
	}

	binaries := []string{cfg.FFmpegPath}
	if cfg.Engine == config.EngineWhisperX {
		binaries = append(binaries, cfg.PythonPath)
	}
	for _, bin := range binaries {
		if _, err := lookPath(bin); err != nil {
			warn(fmt.Sprintf("%s not found on PATH", bin), logging.Error(err))
		}
	}

	if cfg.BucketName == "" {
		warn("S3_BUCKET_NAME not set; every job will fail until it is")
		return warnings
	}
	checkCtx, cancel := context.WithTimeout(ctx, preflightTimeout)
	defer cancel()
	if err := bucket.HeadBucket(checkCtx, cfg.BucketName); err != nil {
		warn(fmt.Sprintf("bucket %s is not accessible", cfg.BucketName), logging.Error(err))
	}
	return warnings
}
