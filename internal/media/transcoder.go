package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/embano1/transcribe-worker/internal/command"
	"github.com/embano1/transcribe-worker/internal/logging"
)

// Canonical waveform parameters.
const (
	SampleRate   = 16000
	Channels     = 1
	Codec        = "pcm_s24le"
	CanonicalExt = ".wav"
)

var (
	// ErrConversionTimeout is returned when ffmpeg does not finish in time.
	ErrConversionTimeout = errors.New("conversion timed out")
	// ErrConversionFailed covers non-zero exits and missing output.
	ErrConversionFailed = errors.New("conversion failed")
)

// convertible lists the container/audio extensions that get normalized to
// the canonical waveform. Anything else is handed to the engine unchanged.
var convertible = map[string]struct{}{
	".mov":  {},
	".mp4":  {},
	".avi":  {},
	".mkv":  {},
	".mp3":  {},
	".m4a":  {},
	".webm": {},
	".flac": {},
	".ogg":  {},
	".opus": {},
	".aac":  {},
	".wma":  {},
	".mpeg": {},
	".mpg":  {},
}

// NeedsConversion reports whether name must be transcoded before
// transcription. The match is on extension, case-insensitive.
func NeedsConversion(name string) bool {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(name)))
	if ext == CanonicalExt {
		return false
	}
	_, ok := convertible[ext]
	return ok
}

// Transcoder normalizes media into the canonical waveform with ffmpeg.
type Transcoder struct {
	ffmpegPath string
	outDir     string
	timeout    time.Duration
	runner     command.Runner
	stat       func(string) (os.FileInfo, error)
	logger     *slog.Logger
}

// NewTranscoder constructs a transcoder writing outputs into outDir.
func NewTranscoder(ffmpegPath, outDir string, timeout time.Duration, runner command.Runner, logger *slog.Logger) *Transcoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if outDir == "" {
		outDir = os.TempDir()
	}
	if runner == nil {
		runner = command.ExecRunner{}
	}
	return &Transcoder{
		ffmpegPath: ffmpegPath,
		outDir:     outDir,
		timeout:    timeout,
		runner:     runner,
		stat:       os.Stat,
		logger:     logging.NewComponentLogger(logger, "transcoder"),
	}
}

// NeedsConversion reports whether name must be transcoded.
func (t *Transcoder) NeedsConversion(name string) bool {
	return NeedsConversion(name)
}

// Convert writes a mono 16 kHz PCM copy of input to a new unique path. On
// failure the returned path is still set when ffmpeg may have left a partial
// file behind, so callers can clean it up.
func (t *Transcoder) Convert(ctx context.Context, input string) (string, error) {
	output := filepath.Join(t.outDir, uuid.NewString()+CanonicalExt)

	runCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := time.Now()
	args := BuildFFmpegArgs(input, output)
	res, err := t.runner.Run(runCtx, t.ffmpegPath, args...)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return output, fmt.Errorf("%w after %s", ErrConversionTimeout, t.timeout)
		}
		return output, fmt.Errorf("%w: %s", ErrConversionFailed, command.Describe(res, err))
	}

	info, err := t.stat(output)
	if err != nil {
		return output, fmt.Errorf("%w: ffmpeg completed but output file is missing: %w", ErrConversionFailed, err)
	}
	if info.Size() == 0 {
		return output, fmt.Errorf("%w: ffmpeg produced an empty file", ErrConversionFailed)
	}

	t.logger.Info("media converted",
		logging.String("input", input),
		logging.String("output", output),
		logging.Bytes("size", info.Size()),
		logging.Duration("elapsed", time.Since(start)),
	)
	return output, nil
}

// BuildFFmpegArgs builds CLI args for the canonical mono PCM waveform.
func BuildFFmpegArgs(input, output string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", input,
		"-vn",
		"-ac", strconv.Itoa(Channels),
		"-ar", strconv.Itoa(SampleRate),
		"-acodec", Codec,
		"-loglevel", "error",
		output,
	}
}
