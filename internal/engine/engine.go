// Package engine defines the contract between the job pipeline and the
// speech recognition backends. Backends consume these interfaces; they do
// not reimplement recognition or alignment themselves.
package engine

import (
	"context"
	"errors"

	"github.com/embano1/transcribe-worker/internal/types"
)

// ErrModelLoad marks failures that happened while loading a model, as opposed
// to failures of the inference itself.
var ErrModelLoad = errors.New("model load failed")

// ModelSpec selects the model to load.
type ModelSpec struct {
	Size        string
	Device      string
	ComputeType string
	// Language constrains decoding; empty means auto-detect.
	Language string
}

// Transcript is the raw output of a transcription run.
type Transcript struct {
	Segments []types.Segment
	// Language is the detected language, or types.UnknownLanguage.
	Language string
}

// Engine loads transcription models and alignment models.
type Engine interface {
	LoadModel(ctx context.Context, spec ModelSpec) (Model, error)
	LoadAligner(ctx context.Context, language, device string) (Aligner, error)
}

// Model is a loaded transcription model. Release frees the memory (including
// accelerator memory) held for it and must be safe to call more than once.
type Model interface {
	Name() string
	Transcribe(ctx context.Context, audioPath string) (Transcript, error)
	Release() error
}

// Aligner refines segment timing for one language.
type Aligner interface {
	Align(ctx context.Context, segments []types.Segment, audioPath string) ([]types.Segment, error)
	Release() error
}
