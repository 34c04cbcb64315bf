// Package whisperx runs WhisperX transcription and alignment through an
// embedded Python helper, one process per call.
//
// Model weights and accelerator memory live in the helper process and are
// returned to the system when it exits. A loaded handle only owns its session
// directory (helper script, JSON exchange files), which Release removes.
package whisperx

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/embano1/transcribe-worker/internal/command"
	"github.com/embano1/transcribe-worker/internal/engine"
	"github.com/embano1/transcribe-worker/internal/logging"
	"github.com/embano1/transcribe-worker/internal/models"
	"github.com/embano1/transcribe-worker/internal/types"
)

//go:embed assets/whisperx_helper.py
var helperScript []byte

const (
	helperName   = "whisperx_helper.py"
	exitLoadFail = 3
)

// Resolver maps a model size to a validated cache entry.
type Resolver interface {
	Resolve(ctx context.Context, size string) (models.Model, error)
}

// Config captures runtime settings for WhisperX operations.
type Config struct {
	// Python is the interpreter that has whisperx installed.
	Python     string
	BatchSize  int
	ScratchDir string
}

// Engine implements engine.Engine on top of the helper script.
type Engine struct {
	cfg      Config
	resolver Resolver
	runner   command.Runner
	logger   *slog.Logger
}

// New constructs the engine.
func New(cfg Config, resolver Resolver, runner command.Runner, logger *slog.Logger) *Engine {
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 4
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	if runner == nil {
		runner = command.ExecRunner{}
	}
	return &Engine{
		cfg:      cfg,
		resolver: resolver,
		runner:   runner,
		logger:   logging.NewComponentLogger(logger, "whisperx"),
	}
}

// LoadModel validates the cached model for spec and prepares a session.
func (e *Engine) LoadModel(ctx context.Context, spec engine.ModelSpec) (engine.Model, error) {
	resolved, err := e.resolver.Resolve(ctx, spec.Size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrModelLoad, err)
	}
	sess, err := e.newSession("model")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrModelLoad, err)
	}
	e.logger.Info("model ready",
		logging.String("model", resolved.Size),
		logging.String("dir", resolved.Dir),
		logging.String("device", spec.Device),
		logging.String("compute_type", spec.ComputeType),
	)
	return &model{engine: e, session: sess, spec: spec, dir: resolved.Dir}, nil
}

// LoadAligner prepares an alignment session for language.
func (e *Engine) LoadAligner(ctx context.Context, language, device string) (engine.Aligner, error) {
	if strings.TrimSpace(language) == "" || language == types.UnknownLanguage {
		return nil, fmt.Errorf("%w: alignment needs a known language", engine.ErrModelLoad)
	}
	sess, err := e.newSession("align")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrModelLoad, err)
	}
	return &aligner{engine: e, session: sess, language: language, device: device}, nil
}

type session struct {
	dir    string
	script string
	once   sync.Once
	err    error
}

func (e *Engine) newSession(kind string) (*session, error) {
	dir := filepath.Join(e.cfg.ScratchDir, fmt.Sprintf("whisperx-%s-%s", kind, uuid.NewString()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	script := filepath.Join(dir, helperName)
	if err := os.WriteFile(script, helperScript, 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("write helper script: %w", err)
	}
	return &session{dir: dir, script: script}, nil
}

func (s *session) release() error {
	s.once.Do(func() {
		s.err = os.RemoveAll(s.dir)
	})
	return s.err
}

func (e *Engine) runHelper(ctx context.Context, op string, args []string) error {
	start := time.Now()
	res, err := e.runner.Run(ctx, e.cfg.Python, args...)
	if err != nil {
		if res.ExitCode == exitLoadFail {
			return fmt.Errorf("%w: %s", engine.ErrModelLoad, command.Describe(res, err))
		}
		return fmt.Errorf("whisperx %s: %s", op, command.Describe(res, err))
	}
	e.logger.Debug("whisperx helper finished", logging.String("op", op), logging.Duration("elapsed", time.Since(start)))
	return nil
}

type model struct {
	engine  *Engine
	session *session
	spec    engine.ModelSpec
	dir     string
}

func (m *model) Name() string { return m.spec.Size }

func (m *model) Transcribe(ctx context.Context, audioPath string) (engine.Transcript, error) {
	output := filepath.Join(m.session.dir, "transcript.json")
	args := []string{
		m.session.script, "transcribe",
		"--audio", audioPath,
		"--model", m.dir,
		"--device", m.spec.Device,
		"--compute-type", m.spec.ComputeType,
		"--batch-size", strconv.Itoa(m.engine.cfg.BatchSize),
		"--output", output,
	}
	if lang := strings.TrimSpace(m.spec.Language); lang != "" {
		args = append(args, "--language", lang)
	}
	if err := m.engine.runHelper(ctx, "transcribe", args); err != nil {
		return engine.Transcript{}, err
	}

	var payload struct {
		Language string          `json:"language"`
		Segments []types.Segment `json:"segments"`
	}
	if err := readJSON(output, &payload); err != nil {
		return engine.Transcript{}, fmt.Errorf("read transcript: %w", err)
	}
	lang := strings.TrimSpace(payload.Language)
	if lang == "" {
		lang = types.UnknownLanguage
	}
	return engine.Transcript{Segments: payload.Segments, Language: lang}, nil
}

func (m *model) Release() error { return m.session.release() }

type aligner struct {
	engine   *Engine
	session  *session
	language string
	device   string
}

func (a *aligner) Align(ctx context.Context, segments []types.Segment, audioPath string) ([]types.Segment, error) {
	input := filepath.Join(a.session.dir, "segments.json")
	output := filepath.Join(a.session.dir, "aligned.json")
	data, err := json.Marshal(segments)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(input, data, 0o644); err != nil {
		return nil, fmt.Errorf("write segments: %w", err)
	}

	args := []string{
		a.session.script, "align",
		"--audio", audioPath,
		"--segments", input,
		"--language", a.language,
		"--device", a.device,
		"--output", output,
	}
	if err := a.engine.runHelper(ctx, "align", args); err != nil {
		return nil, err
	}

	var payload struct {
		Segments []types.Segment `json:"segments"`
	}
	if err := readJSON(output, &payload); err != nil {
		return nil, fmt.Errorf("read aligned segments: %w", err)
	}
	return payload.Segments, nil
}

func (a *aligner) Release() error { return a.session.release() }

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("empty output")
	}
	return json.Unmarshal(data, v)
}
