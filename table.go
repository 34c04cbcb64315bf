package main

import (
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/embano1/transcribe-worker/internal/types"
)

const segmentTextWidth = 80

func newTable(headers ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row(headers))
	return tw
}

// summaryTable is a single row describing how the job ran.
func summaryTable(res types.TranscriptionResult) string {
	detected := "n/a"
	if res.DetectedLanguage != nil {
		detected = *res.DetectedLanguage
	}
	tw := newTable("File", "Model", "Device", "Compute", "Language", "Detected")
	tw.AppendRow(table.Row{res.ProcessedFile, res.ModelUsed, res.DeviceUsed, res.ComputeProfile, res.UsedLanguage, detected})
	return tw.Render()
}

// segmentTable lists segments with their timestamps; long text wraps.
func segmentTable(segments []types.Segment) string {
	tw := newTable("Start", "End", "Words", "Text")
	for _, seg := range segments {
		tw.AppendRow(table.Row{
			formatTimestamp(seg.Start),
			formatTimestamp(seg.End),
			strconv.Itoa(len(seg.Words)),
			strings.TrimSpace(seg.Text),
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 4, WidthMax: segmentTextWidth},
	})
	return tw.Render()
}

type modelRow struct {
	size, repo, download, cache string
}

func modelTable(rows []modelRow) string {
	tw := newTable("Size", "Repository", "Download", "Cache")
	for _, r := range rows {
		tw.AppendRow(table.Row{r.size, r.repo, r.download, r.cache})
	}
	return tw.Render()
}
