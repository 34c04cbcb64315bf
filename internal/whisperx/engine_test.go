package whisperx

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embano1/transcribe-worker/internal/command"
	"github.com/embano1/transcribe-worker/internal/engine"
	"github.com/embano1/transcribe-worker/internal/models"
	"github.com/embano1/transcribe-worker/internal/types"
)

type stubResolver struct {
	dir string
	err error
}

func (s stubResolver) Resolve(_ context.Context, size string) (models.Model, error) {
	if s.err != nil {
		return models.Model{}, s.err
	}
	return models.Model{Size: size, Dir: s.dir}, nil
}

// helperRunner plays the python helper: it records arguments and writes
// output JSON where the helper would.
type helperRunner struct {
	calls  [][]string
	output string
	result command.Result
	err    error
}

func (r *helperRunner) Run(_ context.Context, name string, args ...string) (command.Result, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	if r.err != nil {
		return r.result, r.err
	}
	if out := flagValue(args, "--output"); out != "" && r.output != "" {
		if err := os.WriteFile(out, []byte(r.output), 0o644); err != nil {
			return command.Result{}, err
		}
	}
	return r.result, nil
}

func flagValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func TestTranscribeParsesHelperOutput(t *testing.T) {
	scratch := t.TempDir()
	runner := &helperRunner{output: `{"language":"de","segments":[{"start":0.0,"end":1.5,"text":" Hallo"}]}`}
	eng := New(Config{Python: "py", BatchSize: 4, ScratchDir: scratch}, stubResolver{dir: "/models/faster-whisper-base"}, runner, nil)

	model, err := eng.LoadModel(context.Background(), engine.ModelSpec{Size: "base", Device: "cpu", ComputeType: "float32"})
	require.NoError(t, err)
	assert.Equal(t, "base", model.Name())

	transcript, err := model.Transcribe(context.Background(), "/tmp/audio.wav")
	require.NoError(t, err)
	assert.Equal(t, "de", transcript.Language)
	require.Len(t, transcript.Segments, 1)
	assert.Equal(t, " Hallo", transcript.Segments[0].Text)
	assert.InDelta(t, 1.5, transcript.Segments[0].End, 1e-9)

	require.Len(t, runner.calls, 1)
	call := runner.calls[0]
	assert.Equal(t, "py", call[0])
	assert.Equal(t, "transcribe", call[2])
	assert.Equal(t, "/models/faster-whisper-base", flagValue(call, "--model"))
	assert.Equal(t, "cpu", flagValue(call, "--device"))
	assert.Equal(t, "4", flagValue(call, "--batch-size"))
	assert.NotContains(t, call, "--language")

	require.NoError(t, model.Release())
	require.NoError(t, model.Release())
	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTranscribeExplicitLanguageAndUnknownDetection(t *testing.T) {
	runner := &helperRunner{output: `{"language":"","segments":[]}`}
	eng := New(Config{ScratchDir: t.TempDir()}, stubResolver{dir: "/m"}, runner, nil)

	model, err := eng.LoadModel(context.Background(), engine.ModelSpec{Size: "tiny", Language: "fr", Device: "cpu"})
	require.NoError(t, err)
	defer model.Release()

	transcript, err := model.Transcribe(context.Background(), "a.wav")
	require.NoError(t, err)
	assert.Equal(t, types.UnknownLanguage, transcript.Language)
	assert.Empty(t, transcript.Segments)
	assert.Equal(t, "fr", flagValue(runner.calls[0], "--language"))
	assert.Equal(t, "python3", runner.calls[0][0])
}

func TestLoadModelResolverFailureIsModelLoad(t *testing.T) {
	eng := New(Config{ScratchDir: t.TempDir()}, stubResolver{err: models.ErrModelNotCached}, &helperRunner{}, nil)
	_, err := eng.LoadModel(context.Background(), engine.ModelSpec{Size: "base"})
	require.ErrorIs(t, err, engine.ErrModelLoad)
	require.ErrorIs(t, err, models.ErrModelNotCached)
}

func TestHelperExitCodes(t *testing.T) {
	cases := []struct {
		name      string
		exitCode  int
		modelLoad bool
	}{
		{name: "load failure", exitCode: 3, modelLoad: true},
		{name: "inference failure", exitCode: 4, modelLoad: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := &helperRunner{
				result: command.Result{ExitCode: tc.exitCode, Stderr: "CUDA out of memory"},
				err:    errors.New("exit status"),
			}
			eng := New(Config{ScratchDir: t.TempDir()}, stubResolver{dir: "/m"}, runner, nil)
			model, err := eng.LoadModel(context.Background(), engine.ModelSpec{Size: "base"})
			require.NoError(t, err)
			defer model.Release()

			_, err = model.Transcribe(context.Background(), "a.wav")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "CUDA out of memory")
			assert.Equal(t, tc.modelLoad, errors.Is(err, engine.ErrModelLoad))
		})
	}
}

func TestAlignRoundTripsSegments(t *testing.T) {
	runner := &helperRunner{output: `{"segments":[{"start":0.1,"end":0.9,"text":"hi","words":[{"word":"hi","start":0.1,"end":0.9,"score":0.97},{"word":"42"}]}]}`}
	eng := New(Config{ScratchDir: t.TempDir()}, nil, runner, nil)

	aligner, err := eng.LoadAligner(context.Background(), "en", "cpu")
	require.NoError(t, err)
	defer aligner.Release()

	in := []types.Segment{{Start: 0, End: 1, Text: "hi"}}
	out, err := aligner.Align(context.Background(), in, "a.wav")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].Words, 2)
	require.NotNil(t, out[0].Words[0].Score)
	assert.InDelta(t, 0.97, *out[0].Words[0].Score, 1e-9)
	assert.Nil(t, out[0].Words[1].Start)

	call := runner.calls[0]
	assert.Equal(t, "align", call[2])
	assert.Equal(t, "en", flagValue(call, "--language"))
	segFile := flagValue(call, "--segments")
	assert.Equal(t, "segments.json", filepath.Base(segFile))
}

func TestLoadAlignerRejectsUnknownLanguage(t *testing.T) {
	eng := New(Config{ScratchDir: t.TempDir()}, nil, &helperRunner{}, nil)
	_, err := eng.LoadAligner(context.Background(), types.UnknownLanguage, "cpu")
	require.ErrorIs(t, err, engine.ErrModelLoad)
}

func TestTranscribeEmptyOutput(t *testing.T) {
	runner := &helperRunner{}
	eng := New(Config{ScratchDir: t.TempDir()}, stubResolver{dir: "/m"}, runner, nil)
	model, err := eng.LoadModel(context.Background(), engine.ModelSpec{Size: "base"})
	require.NoError(t, err)
	defer model.Release()

	_, err = model.Transcribe(context.Background(), "a.wav")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read transcript")
}
