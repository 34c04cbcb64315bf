package formatting

import (
	"strconv"
	"strings"

	"github.com/embano1/transcribe-worker/internal/types"
)

// maxSegmentGap splits a segment when the pause between two words exceeds it,
// even without sentence punctuation.
const maxSegmentGap = 1.5

// JoinSegmentText joins the segments' text with single spaces.
func JoinSegmentText(segments []types.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// SegmentsFromItems groups Amazon Transcribe items into sentence segments
// with word timings. Punctuation attaches to the preceding word; a sentence
// terminator or a long pause closes the segment.
func SegmentsFromItems(items []types.Item) []types.Segment {
	var (
		segments []types.Segment
		current  *types.Segment
		text     strings.Builder
	)

	flush := func() {
		if current == nil {
			return
		}
		current.Text = text.String()
		segments = append(segments, *current)
		current = nil
		text.Reset()
	}

	for _, item := range items {
		if len(item.Alternatives) == 0 {
			continue
		}
		content := item.Alternatives[0].Content

		switch item.Type {
		case "punctuation":
			if current == nil {
				continue
			}
			text.WriteString(content)
			if isTerminator(content) {
				flush()
			}
		case "pronunciation":
			start, okStart := parseSeconds(item.StartTime)
			end, okEnd := parseSeconds(item.EndTime)
			if current != nil && okStart && start-current.End > maxSegmentGap {
				flush()
			}
			if current == nil {
				current = &types.Segment{Start: start, End: end}
			} else {
				text.WriteString(" ")
			}
			text.WriteString(content)

			word := types.Word{Word: content}
			if okStart {
				word.Start = &start
			}
			if okEnd {
				word.End = &end
				current.End = end
			}
			if score, err := strconv.ParseFloat(item.Alternatives[0].Confidence, 64); err == nil {
				word.Score = &score
			}
			current.Words = append(current.Words, word)
		}
	}
	flush()
	return segments
}

func isTerminator(s string) bool {
	return s == "." || s == "?" || s == "!"
}

func parseSeconds(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
