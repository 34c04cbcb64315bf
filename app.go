package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	awsint "github.com/embano1/transcribe-worker/internal/aws"
	"github.com/embano1/transcribe-worker/internal/command"
	"github.com/embano1/transcribe-worker/internal/config"
	"github.com/embano1/transcribe-worker/internal/device"
	"github.com/embano1/transcribe-worker/internal/engine"
	"github.com/embano1/transcribe-worker/internal/handler"
	"github.com/embano1/transcribe-worker/internal/media"
	"github.com/embano1/transcribe-worker/internal/models"
	"github.com/embano1/transcribe-worker/internal/pipeline"
	"github.com/embano1/transcribe-worker/internal/whisperx"
)

// app holds the collaborators built once per process. Nothing in here keeps
// per-job state.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	s3       *awsint.S3Service
	provider *models.Provider
	handler  *handler.Handler
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.ScratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure scratch dir: %w", err)
	}

	awsCfg, err := awsint.LoadConfig(ctx, awsint.ClientOptions{
		Region:          cfg.Region,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		EndpointURL:     cfg.EndpointURL,
	})
	if err != nil {
		return nil, err
	}
	s3svc := awsint.NewS3Service(awsint.NewS3Client(awsCfg, cfg.EndpointURL))

	provider := newProvider(cfg, logger)

	var eng engine.Engine
	switch cfg.Engine {
	case config.EngineAWSTranscribe:
		eng = awsint.NewTranscribeEngine(s3svc, awsint.NewTranscribeClient(awsCfg), awsint.TranscribeOptions{
			Bucket: cfg.BucketName,
			Logger: logger,
		})
	default:
		eng = whisperx.New(whisperx.Config{
			Python:     cfg.PythonPath,
			BatchSize:  cfg.BatchSize,
			ScratchDir: cfg.ScratchDir,
		}, provider, command.ExecRunner{Env: helperEnv(cfg)}, logger)
	}

	runner := command.ExecRunner{}
	transcoder := media.NewTranscoder(cfg.FFmpegPath, cfg.ScratchDir, cfg.TranscodeTimeout, runner, logger)
	prober := device.NewProber(cfg.Device, runner, logger)

	pipe := pipeline.New(s3svc, transcoder, prober, eng, pipeline.Options{
		Bucket:      cfg.BucketName,
		ComputeType: cfg.ComputeType,
		ScratchDir:  cfg.ScratchDir,
		Logger:      logger,
	})
	h, err := handler.New(cfg.BucketName, pipe, logger)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		s3:       s3svc,
		provider: provider,
		handler:  h,
	}, nil
}

func newProvider(cfg *config.Config, logger *slog.Logger) *models.Provider {
	return models.NewProvider(models.Options{
		CacheDir:    cfg.ModelCacheDir,
		RegistryURL: cfg.ModelRegistryURL,
		Token:       cfg.HFToken,
		AutoFetch:   cfg.ModelAutoFetch,
		Logger:      logger,
	})
}

// helperEnv is passed to the WhisperX helper. Alignment models are cached
// next to the whisper models.
func helperEnv(cfg *config.Config) []string {
	env := []string{
		"HF_HOME=" + cfg.ModelCacheDir,
		"TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1",
	}
	if cfg.HFToken != "" {
		env = append(env, "HF_TOKEN="+cfg.HFToken)
	}
	return env
}
