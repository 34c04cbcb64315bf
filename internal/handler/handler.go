// Package handler validates raw job events and hands them to the pipeline.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/text/language"

	"github.com/embano1/transcribe-worker/internal/logging"
	"github.com/embano1/transcribe-worker/internal/types"
)

// MissingBucketMessage is returned for every job while no bucket is configured.
const MissingBucketMessage = "S3_BUCKET_NAME environment variable not set"

var requiredFields = []string{"file_name"}

const inputSchema = `{
  "type": "object",
  "properties": {
    "file_name":  {"type": "string", "minLength": 1},
    "model_size": {"type": "string", "minLength": 1},
    "language":   {"type": "string"},
    "align":      {"type": "boolean"}
  },
  "required": ["file_name"]
}`

// Processor runs a validated job.
type Processor interface {
	Process(ctx context.Context, req types.JobRequest) types.Response
}

// Handler turns job events into responses.
type Handler struct {
	bucket    string
	processor Processor
	schema    *gojsonschema.Schema
	logger    *slog.Logger
}

// New builds a handler. An empty bucket is accepted; each job then fails
// with MissingBucketMessage.
func New(bucket string, processor Processor, logger *slog.Logger) (*Handler, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(inputSchema))
	if err != nil {
		return nil, fmt.Errorf("compile job input schema: %w", err)
	}
	return &Handler{
		bucket:    strings.TrimSpace(bucket),
		processor: processor,
		schema:    schema,
		logger:    logging.NewComponentLogger(logger, "handler"),
	}, nil
}

type envelope struct {
	Input json.RawMessage `json:"input"`
}

// Handle processes one job event of the form {"input": {...}}. It never
// panics and always returns exactly one of a result or an error.
func (h *Handler) Handle(ctx context.Context, event []byte) (resp types.Response) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("handler panic", logging.Any("panic", r))
			resp = types.Failure(fmt.Sprintf("Handler error: %v", r))
		}
	}()

	if h.bucket == "" {
		h.logger.Warn("rejecting job", logging.String(logging.FieldErrorHint, "configuration"))
		return types.Failure(MissingBucketMessage)
	}

	req, err := h.decode(event)
	if err != nil {
		h.logger.Warn("invalid job", logging.Error(err))
		var verr *validationError
		if errors.As(err, &verr) {
			return types.Failure(verr.Error())
		}
		return types.Failure(fmt.Sprintf("Handler error: %v", err))
	}
	return h.processor.Process(ctx, req)
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func (h *Handler) decode(event []byte) (types.JobRequest, error) {
	var env envelope
	if err := json.Unmarshal(event, &env); err != nil {
		return types.JobRequest{}, fmt.Errorf("malformed job: %w", err)
	}
	var input map[string]any
	if len(env.Input) == 0 || string(env.Input) == "null" {
		return types.JobRequest{}, errors.New("job has no input")
	}
	if err := json.Unmarshal(env.Input, &input); err != nil {
		return types.JobRequest{}, fmt.Errorf("job input must be an object: %w", err)
	}

	var missing []string
	for _, field := range requiredFields {
		if isBlank(input[field]) {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return types.JobRequest{}, &validationError{msg: "Missing required parameters: " + strings.Join(missing, ", ")}
	}

	result, err := h.schema.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return types.JobRequest{}, fmt.Errorf("validate job input: %w", err)
	}
	if !result.Valid() {
		problems := make([]string, len(result.Errors()))
		for i, e := range result.Errors() {
			problems[i] = e.String()
		}
		return types.JobRequest{}, &validationError{msg: "Invalid job input: " + strings.Join(problems, "; ")}
	}

	var req types.JobRequest
	if err := json.Unmarshal(env.Input, &req); err != nil {
		return types.JobRequest{}, fmt.Errorf("decode job input: %w", err)
	}
	return applyDefaults(req)
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func applyDefaults(req types.JobRequest) (types.JobRequest, error) {
	req.FileName = strings.TrimSpace(req.FileName)
	req.ModelSize = strings.TrimSpace(req.ModelSize)
	if req.ModelSize == "" {
		req.ModelSize = types.DefaultModelSize
	}
	if types.IsAutoLanguage(req.Language) {
		req.Language = types.AutoDetectLanguage
		return req, nil
	}
	req.Language = strings.TrimSpace(req.Language)
	if _, err := language.Parse(req.Language); err != nil {
		return types.JobRequest{}, &validationError{msg: fmt.Sprintf("Invalid job input: language %q is not a valid language code", req.Language)}
	}
	return req, nil
}
