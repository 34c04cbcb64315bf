// Package pipeline runs one transcription job end to end: fetch, transcode,
// device selection, model load, transcription and optional alignment.
//
// Process never returns an error and never panics. Each failure is classified
// by stage and reported as an error response, and every scratch file and
// engine resource the job acquired is released before it returns.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/embano1/transcribe-worker/internal/engine"
	"github.com/embano1/transcribe-worker/internal/formatting"
	"github.com/embano1/transcribe-worker/internal/logging"
	"github.com/embano1/transcribe-worker/internal/media"
	"github.com/embano1/transcribe-worker/internal/scratch"
	"github.com/embano1/transcribe-worker/internal/types"
)

// Fetcher downloads an object from the blob store into a local file.
type Fetcher interface {
	Download(ctx context.Context, bucket, key, dest string) (int64, error)
}

// Transcoder normalizes media into the canonical waveform.
type Transcoder interface {
	NeedsConversion(name string) bool
	Convert(ctx context.Context, input string) (string, error)
}

// DeviceProber picks the compute device for one job.
type DeviceProber interface {
	Probe(ctx context.Context) string
}

// Options configures a Pipeline.
type Options struct {
	Bucket      string
	ComputeType string
	ScratchDir  string
	Logger      *slog.Logger
}

// Pipeline sequences the job stages. It holds no per-job state and is safe
// for concurrent use.
type Pipeline struct {
	fetcher    Fetcher
	transcoder Transcoder
	prober     DeviceProber
	engine     engine.Engine
	opts       Options
	logger     *slog.Logger
}

// New constructs a pipeline from its collaborators.
func New(fetcher Fetcher, transcoder Transcoder, prober DeviceProber, eng engine.Engine, opts Options) *Pipeline {
	return &Pipeline{
		fetcher:    fetcher,
		transcoder: transcoder,
		prober:     prober,
		engine:     eng,
		opts:       opts,
		logger:     logging.NewComponentLogger(opts.Logger, "pipeline"),
	}
}

type jobIDKey struct{}

// WithJobID attaches a job id to ctx for log correlation.
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobIDKey{}, id)
}

// JobID returns the job id stored in ctx, or "".
func JobID(ctx context.Context) string {
	id, _ := ctx.Value(jobIDKey{}).(string)
	return id
}

// Process runs req and returns exactly one of a result or an error.
func (p *Pipeline) Process(ctx context.Context, req types.JobRequest) (resp types.Response) {
	jobID := JobID(ctx)
	if jobID == "" {
		jobID = uuid.NewString()
	}
	log := p.logger.With(logging.String(logging.FieldJobID, jobID))
	reg := scratch.New(p.opts.ScratchDir, log)
	held := &resources{logger: log}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panic",
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
			)
			resp = types.Failure(fmt.Sprintf("Unexpected error: %v", r))
		}
		held.release()
		// failures are logged by the registry
		_ = reg.Cleanup()

		if resp.Failed() {
			log.Error("job failed", logging.String("error", resp.ErrorMessage()), logging.Duration("elapsed", time.Since(start)))
			return
		}
		log.Info("job completed", logging.Duration("elapsed", time.Since(start)))
	}()

	log.Info("job received",
		logging.String("file_name", req.FileName),
		logging.String("model_size", req.ModelSize),
		logging.String("language", req.Language),
		logging.Bool("align", req.Align),
	)

	result, err := p.run(ctx, log, req, reg, held)
	if err != nil {
		var stageErr *StageError
		if !errors.As(err, &stageErr) {
			stageErr = stageError(ErrUnexpected, "unknown", err, "Unexpected error: %v", err)
		}
		log.Warn("stage failed",
			logging.String(logging.FieldStage, stageErr.Stage),
			logging.String("kind", stageErr.Kind.Error()),
			logging.Error(stageErr.Err),
		)
		return types.Failure(stageErr.Message)
	}
	return types.Success(result)
}

func (p *Pipeline) run(ctx context.Context, log *slog.Logger, req types.JobRequest, reg *scratch.Registry, held *resources) (types.TranscriptionResult, error) {
	// fetch: the path is tracked before the download so partial files go too
	done := stage(log, "fetch")
	local := reg.Path(req.FileName)
	reg.Track(local)
	n, err := p.fetcher.Download(ctx, p.opts.Bucket, req.FileName, local)
	if err != nil {
		return types.TranscriptionResult{}, stageError(ErrFetch, "fetch", err, "S3 download failed: %v", err)
	}
	done(logging.Bytes("size", n))

	audio := local
	if p.transcoder.NeedsConversion(req.FileName) {
		done = stage(log, "transcode")
		out, err := p.transcoder.Convert(ctx, local)
		if out != "" {
			reg.Track(out)
		}
		if err != nil {
			if errors.Is(err, media.ErrConversionTimeout) {
				return types.TranscriptionResult{}, stageError(ErrConversionTimeout, "transcode", err, "FFmpeg conversion timed out: %s", causeText(err, media.ErrConversionTimeout))
			}
			return types.TranscriptionResult{}, stageError(ErrConversion, "transcode", err, "FFmpeg conversion failed: %s", causeText(err, media.ErrConversionFailed))
		}
		if err := reg.Remove(local); err != nil {
			log.Warn("failed to delete raw download early", logging.String("path", local), logging.Error(err))
		}
		audio = out
		done()
	}

	device := p.prober.Probe(ctx)

	done = stage(log, "model_load")
	spec := engine.ModelSpec{
		Size:        req.ModelSize,
		Device:      device,
		ComputeType: p.opts.ComputeType,
	}
	if !req.AutoDetect() {
		spec.Language = strings.TrimSpace(req.Language)
	}
	model, err := p.engine.LoadModel(ctx, spec)
	if err != nil {
		return types.TranscriptionResult{}, stageError(ErrModelLoad, "model_load", err, "Model load failed: %s", causeText(err, engine.ErrModelLoad))
	}
	held.add("model", model)
	done(logging.String("model", model.Name()), logging.String("device", device))

	done = stage(log, "transcribe")
	transcript, err := model.Transcribe(ctx, audio)
	if err != nil {
		if errors.Is(err, engine.ErrModelLoad) {
			return types.TranscriptionResult{}, stageError(ErrModelLoad, "transcribe", err, "Model load failed: %s", causeText(err, engine.ErrModelLoad))
		}
		return types.TranscriptionResult{}, stageError(ErrTranscription, "transcribe", err, "Transcription failed: %v", err)
	}
	done(logging.Int("segments", len(transcript.Segments)))

	detected := strings.TrimSpace(transcript.Language)
	if detected == "" {
		detected = types.UnknownLanguage
	}
	used := detected
	if spec.Language != "" {
		used = spec.Language
	}

	segments := transcript.Segments
	if req.Align && used != types.UnknownLanguage {
		segments = p.align(ctx, log, held, segments, audio, used, device)
	}
	if segments == nil {
		segments = []types.Segment{}
	}

	result := types.TranscriptionResult{
		Text:           formatting.JoinSegmentText(segments),
		Segments:       segments,
		UsedLanguage:   used,
		ModelUsed:      model.Name(),
		ComputeProfile: p.opts.ComputeType,
		DeviceUsed:     device,
		ProcessedFile:  req.FileName,
	}
	// only reported when the caller asked for detection
	if req.AutoDetect() {
		result.DetectedLanguage = &detected
	}
	return result, nil
}

// align refines segments. Any failure, including a panic, falls back to the
// unaligned segments.
func (p *Pipeline) align(ctx context.Context, log *slog.Logger, held *resources, segments []types.Segment, audio, language, device string) (out []types.Segment) {
	done := stage(log, "align")
	fallback := func(err error) {
		log.Warn("alignment failed, returning unaligned segments",
			logging.String(logging.FieldStage, "align"),
			logging.String(logging.FieldErrorHint, ErrAlignment.Error()),
			logging.Error(err),
		)
		out = segments
	}
	defer func() {
		if r := recover(); r != nil {
			fallback(fmt.Errorf("panic: %v", r))
		}
	}()

	aligner, err := p.engine.LoadAligner(ctx, language, device)
	if err != nil {
		fallback(err)
		return out
	}
	held.add("aligner", aligner)

	aligned, err := aligner.Align(ctx, segments, audio)
	if err != nil {
		fallback(err)
		return out
	}
	done(logging.String("language", language))
	return aligned
}

// stage logs the start of a stage and returns a func that logs its end.
func stage(log *slog.Logger, name string) func(...logging.Attr) {
	start := time.Now()
	log.Debug("stage started", logging.String(logging.FieldStage, name))
	return func(attrs ...logging.Attr) {
		attrs = append(attrs,
			logging.String(logging.FieldStage, name),
			logging.Duration("elapsed", time.Since(start)),
		)
		log.Info("stage finished", logging.Args(attrs...)...)
	}
}

type releaser interface {
	Release() error
}

// resources tracks engine handles acquired by one job.
type resources struct {
	logger *slog.Logger
	names  []string
	items  []releaser
}

func (r *resources) add(name string, item releaser) {
	r.names = append(r.names, name)
	r.items = append(r.items, item)
}

// release frees handles in reverse order; failures are only logged.
func (r *resources) release() {
	for i := len(r.items) - 1; i >= 0; i-- {
		if err := safeRelease(r.items[i]); err != nil {
			r.logger.Warn("failed to release engine resource",
				logging.String("resource", r.names[i]),
				logging.Error(err),
			)
			continue
		}
		r.logger.Debug("released engine resource", logging.String("resource", r.names[i]))
	}
	r.names, r.items = nil, nil
}

func safeRelease(item releaser) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during release: %v", r)
		}
	}()
	return item.Release()
}
