package aws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	ttypes "github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/embano1/transcribe-worker/internal/engine"
	"github.com/embano1/transcribe-worker/internal/formatting"
	"github.com/embano1/transcribe-worker/internal/logging"
	"github.com/embano1/transcribe-worker/internal/types"
)

// EngineName is reported as the model used by the Amazon Transcribe engine.
const EngineName = "aws-transcribe"

const (
	defaultPollInterval = 10 * time.Second
	defaultPrefix       = "scratch/"
	releaseTimeout      = 30 * time.Second
)

// TranscribeAPI is the part of the Transcribe client the worker uses.
type TranscribeAPI interface {
	StartTranscriptionJob(ctx context.Context, params *transcribe.StartTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.StartTranscriptionJobOutput, error)
	GetTranscriptionJob(ctx context.Context, params *transcribe.GetTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.GetTranscriptionJobOutput, error)
	DeleteTranscriptionJob(ctx context.Context, params *transcribe.DeleteTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.DeleteTranscriptionJobOutput, error)
}

// TranscribeOptions configures the Amazon Transcribe engine.
type TranscribeOptions struct {
	Bucket       string
	Prefix       string
	PollInterval time.Duration
	Logger       *slog.Logger
}

// TranscribeEngine implements engine.Engine with Amazon Transcribe. Audio is
// staged under Prefix in Bucket; every staged object and the job itself are
// deleted when the model is released.
type TranscribeEngine struct {
	s3     *S3Service
	client TranscribeAPI
	opts   TranscribeOptions
	logger *slog.Logger
}

// NewTranscribeEngine creates a new Transcribe engine
func NewTranscribeEngine(s3 *S3Service, client TranscribeAPI, opts TranscribeOptions) *TranscribeEngine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	return &TranscribeEngine{
		s3:     s3,
		client: client,
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "aws-transcribe"),
	}
}

// LoadModel maps the requested language; the model size has no meaning for
// the managed service.
func (t *TranscribeEngine) LoadModel(_ context.Context, spec engine.ModelSpec) (engine.Model, error) {
	var code ttypes.LanguageCode
	if lang := strings.TrimSpace(spec.Language); lang != "" {
		mapped, err := LanguageCode(lang)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", engine.ErrModelLoad, err)
		}
		code = mapped
	}
	return &transcribeModel{engine: t, language: code}, nil
}

// LoadAligner returns a pass-through aligner: Transcribe already reports
// word timings.
func (t *TranscribeEngine) LoadAligner(context.Context, string, string) (engine.Aligner, error) {
	return passthroughAligner{}, nil
}

// LanguageCode maps a language tag such as "en" or "pt-PT" to a Transcribe
// language code, filling in the most likely region when none is given.
func LanguageCode(lang string) (ttypes.LanguageCode, error) {
	tag, err := language.Parse(lang)
	if err != nil {
		return "", fmt.Errorf("parse language %q: %w", lang, err)
	}
	base, _ := tag.Base()
	region, _ := tag.Region()
	code := ttypes.LanguageCode(base.String() + "-" + region.String())
	if !slices.Contains(code.Values(), code) {
		return "", fmt.Errorf("no Amazon Transcribe language for %q", lang)
	}
	return code, nil
}

func baseLanguage(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return types.UnknownLanguage
	}
	base, _ := tag.Base()
	return base.String()
}

type transcribeModel struct {
	engine   *TranscribeEngine
	language ttypes.LanguageCode

	mu     sync.Mutex
	keys   []string
	jobs   []string
	once   sync.Once
	relErr error
}

func (m *transcribeModel) Name() string { return EngineName }

func (m *transcribeModel) track(key, job string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key != "" {
		m.keys = append(m.keys, key)
	}
	if job != "" {
		m.jobs = append(m.jobs, job)
	}
}

func (m *transcribeModel) Transcribe(ctx context.Context, audioPath string) (engine.Transcript, error) {
	t := m.engine
	bucket := t.opts.Bucket
	id := uuid.NewString()
	mediaKey := t.opts.Prefix + id + path.Ext(audioPath)
	jobName := "transcribe-worker-" + id
	outputKey := t.opts.Prefix + jobName + ".json"

	m.track(mediaKey, "")
	if err := t.s3.UploadFile(ctx, bucket, mediaKey, audioPath); err != nil {
		return engine.Transcript{}, fmt.Errorf("stage audio: %w", err)
	}

	mediaURI := fmt.Sprintf("s3://%s/%s", bucket, mediaKey)
	input := &transcribe.StartTranscriptionJobInput{
		TranscriptionJobName: &jobName,
		Media: &ttypes.Media{
			MediaFileUri: &mediaURI,
		},
		OutputBucketName: &bucket,
		OutputKey:        &outputKey,
	}
	if format := mediaFormat(audioPath); format != "" {
		input.MediaFormat = format
	}
	if m.language != "" {
		input.LanguageCode = m.language
	} else {
		input.IdentifyLanguage = awssdk.Bool(true)
	}
	if _, err := t.client.StartTranscriptionJob(ctx, input); err != nil {
		return engine.Transcript{}, fmt.Errorf("start transcription job: %w", err)
	}
	m.track(outputKey, jobName)
	t.logger.Info("transcription job started", logging.String("job", jobName), logging.String("media", mediaURI))

	job, err := t.waitForJob(ctx, jobName)
	if err != nil {
		return engine.Transcript{}, err
	}

	result, err := t.s3.GetTranscript(ctx, bucket, outputKey)
	if err != nil {
		return engine.Transcript{}, fmt.Errorf("fetch transcript: %w", err)
	}

	detected := result.Results.LanguageCode
	if detected == "" {
		detected = string(job.LanguageCode)
	}
	lang := types.UnknownLanguage
	if detected != "" {
		lang = baseLanguage(detected)
	}
	return engine.Transcript{
		Segments: formatting.SegmentsFromItems(result.Results.Items),
		Language: lang,
	}, nil
}

// waitForJob polls until the job completes or fails.
func (t *TranscribeEngine) waitForJob(ctx context.Context, jobName string) (*ttypes.TranscriptionJob, error) {
	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			out, err := t.client.GetTranscriptionJob(ctx, &transcribe.GetTranscriptionJobInput{
				TranscriptionJobName: &jobName,
			})
			if err != nil {
				return nil, fmt.Errorf("retrieving transcription job status: %w", err)
			}
			job := out.TranscriptionJob
			if job == nil {
				return nil, fmt.Errorf("transcription job %s: empty status", jobName)
			}
			t.logger.Debug("job status", logging.String("job", jobName), logging.String("status", string(job.TranscriptionJobStatus)))
			switch job.TranscriptionJobStatus {
			case ttypes.TranscriptionJobStatusCompleted:
				return job, nil
			case ttypes.TranscriptionJobStatusFailed:
				reason := "unknown reason"
				if job.FailureReason != nil {
					reason = *job.FailureReason
				}
				return nil, fmt.Errorf("transcription job failed: %s", reason)
			}
		}
	}
}

// Release deletes the staged audio, the transcript document and the job.
func (m *transcribeModel) Release() error {
	m.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()

		m.mu.Lock()
		keys, jobs := m.keys, m.jobs
		m.mu.Unlock()

		var errs []error
		for _, key := range keys {
			if err := m.engine.s3.DeleteObject(ctx, m.engine.opts.Bucket, key); err != nil {
				errs = append(errs, err)
			}
		}
		for _, job := range jobs {
			_, err := m.engine.client.DeleteTranscriptionJob(ctx, &transcribe.DeleteTranscriptionJobInput{
				TranscriptionJobName: &job,
			})
			if err != nil && !isJobNotFound(err) {
				errs = append(errs, fmt.Errorf("delete transcription job %s: %w", job, err))
			}
		}
		m.relErr = errors.Join(errs...)
	})
	return m.relErr
}

func isJobNotFound(err error) bool {
	return isNotFoundError(err) || strings.Contains(err.Error(), "The requested job couldn't be found")
}

func mediaFormat(p string) ttypes.MediaFormat {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".")
	format := ttypes.MediaFormat(ext)
	if slices.Contains(format.Values(), format) {
		return format
	}
	return ""
}

type passthroughAligner struct{}

func (passthroughAligner) Align(_ context.Context, segments []types.Segment, _ string) ([]types.Segment, error) {
	return segments, nil
}

func (passthroughAligner) Release() error { return nil }
