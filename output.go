package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/embano1/transcribe-worker/internal/logging"
	"github.com/embano1/transcribe-worker/internal/models"
	"github.com/embano1/transcribe-worker/internal/types"
)

func buildEvent(fileName, model, language string, align bool) ([]byte, error) {
	input := map[string]any{"file_name": fileName, "align": align}
	if model != "" {
		input["model_size"] = model
	}
	if language != "" {
		input["language"] = language
	}
	return json.Marshal(map[string]any{"input": input})
}

// printResponse writes resp as indented JSON, or as a summary plus segment
// table. "auto" picks the table on a terminal.
func printResponse(w io.Writer, resp types.Response, format string) error {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" || format == "auto" {
		format = "json"
		if logging.IsTerminal(w) {
			format = "table"
		}
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	case "table":
		if resp.Failed() {
			_, err := fmt.Fprintf(w, "Error: %s\n", resp.ErrorMessage())
			return err
		}
		_, err := fmt.Fprintln(w, renderResult(*resp.Result))
		return err
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

func renderResult(res types.TranscriptionResult) string {
	return summaryTable(res) + "\n" + segmentTable(res.Segments)
}

func formatTimestamp(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Millisecond)
	h := int(d / time.Hour)
	d -= time.Duration(h) * time.Hour
	m := int(d / time.Minute)
	d -= time.Duration(m) * time.Minute
	s := int(d / time.Second)
	ms := int((d - time.Duration(s)*time.Second) / time.Millisecond)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

func renderModels(provider *models.Provider) (string, error) {
	var rows []modelRow
	for _, size := range models.Sizes() {
		opt, _ := models.Lookup(size)
		missing, err := provider.Missing(size)
		if err != nil {
			return "", err
		}
		state := "cached"
		if len(missing) == len(opt.Files) {
			state = "-"
		} else if len(missing) > 0 {
			state = fmt.Sprintf("partial (%d missing)", len(missing))
		}
		rows = append(rows, modelRow{size: size, repo: opt.Repo, download: opt.SizeLabel, cache: state})
	}
	return modelTable(rows), nil
}
