package types

import (
	"encoding/json"
	"errors"
	"strings"
)

const (
	// AutoDetectLanguage is the request sentinel for "let the engine decide".
	AutoDetectLanguage = "-"
	// UnknownLanguage is reported when the engine could not detect a language.
	UnknownLanguage = "unknown"
	// DefaultModelSize is used when the request does not name a model.
	DefaultModelSize = "large-v3"
)

// JobRequest is the validated job input handed to the pipeline.
type JobRequest struct {
	FileName  string `json:"file_name"`
	ModelSize string `json:"model_size"`
	Language  string `json:"language"`
	Align     bool   `json:"align"`
}

// AutoDetect reports whether the request leaves language detection to the
// engine. The sentinel, an absent value and "auto" are all treated the same.
func (r JobRequest) AutoDetect() bool {
	return IsAutoLanguage(r.Language)
}

// IsAutoLanguage reports whether lang is one of the auto-detect spellings.
func IsAutoLanguage(lang string) bool {
	lang = strings.TrimSpace(lang)
	return lang == "" || lang == AutoDetectLanguage || strings.EqualFold(lang, "auto")
}

// Response carries exactly one of a TranscriptionResult or an ErrorResult.
type Response struct {
	Result *TranscriptionResult
	Err    *ErrorResult
}

// Success wraps a result.
func Success(result TranscriptionResult) Response {
	return Response{Result: &result}
}

// Failure wraps an error message.
func Failure(message string) Response {
	return Response{Err: &ErrorResult{Error: message}}
}

// Failed reports whether the response is an ErrorResult.
func (r Response) Failed() bool {
	return r.Err != nil || r.Result == nil
}

// ErrorMessage returns the error text, or "" for a successful response.
func (r Response) ErrorMessage() string {
	if r.Err != nil {
		return r.Err.Error
	}
	if r.Result == nil {
		return "empty response"
	}
	return ""
}

// MarshalJSON emits either the result fields or {"error": ...}, never both.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Err != nil || r.Result == nil {
		return json.Marshal(ErrorResult{Error: r.ErrorMessage()})
	}
	return json.Marshal(r.Result)
}

// UnmarshalJSON decodes either shape; an "error" key wins.
func (r *Response) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if raw, ok := probe["error"]; ok {
		var msg string
		if err := json.Unmarshal(raw, &msg); err != nil {
			return err
		}
		*r = Failure(msg)
		return nil
	}
	if _, ok := probe["text"]; !ok {
		return errors.New("response has neither error nor text")
	}
	var result TranscriptionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return err
	}
	*r = Success(result)
	return nil
}
