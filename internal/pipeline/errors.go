package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every failed job carries exactly one of them.
var (
	ErrConfiguration     = errors.New("configuration error")
	ErrValidation        = errors.New("validation error")
	ErrFetch             = errors.New("fetch error")
	ErrConversion        = errors.New("conversion error")
	ErrConversionTimeout = errors.New("conversion timeout")
	ErrModelLoad         = errors.New("model load error")
	ErrTranscription     = errors.New("transcription error")

	// ErrAlignment never fails a job; it only shows up in logs.
	ErrAlignment  = errors.New("alignment error")
	ErrUnexpected = errors.New("unexpected error")
)

// StageError records which stage failed, its kind and the caller-facing
// message.
type StageError struct {
	Kind    error
	Stage   string
	Message string
	Err     error
}

func (e *StageError) Error() string {
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *StageError) Unwrap() []error {
	out := []error{e.Kind}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func stageError(kind error, stage string, err error, format string, args ...any) *StageError {
	return &StageError{
		Kind:    kind,
		Stage:   stage,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// KindOf returns the kind of err, or ErrUnexpected when err carries none.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrConfiguration, ErrValidation, ErrFetch, ErrConversionTimeout, ErrConversion,
		ErrModelLoad, ErrTranscription, ErrAlignment,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrUnexpected
}

// causeText is err's message with the leading sentinel text removed, so stage
// messages do not repeat what the prefix already says.
func causeText(err, sentinel error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, sentinel.Error()); ok {
		if rest = strings.TrimLeft(rest, ": "); rest != "" {
			return rest
		}
	}
	return msg
}
