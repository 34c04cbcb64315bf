package formatting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embano1/transcribe-worker/internal/types"
)

func word(content, start, end, conf string) types.Item {
	return types.Item{
		Type:         "pronunciation",
		StartTime:    start,
		EndTime:      end,
		Alternatives: []types.Alternative{{Content: content, Confidence: conf}},
	}
}

func punct(content string) types.Item {
	return types.Item{Type: "punctuation", Alternatives: []types.Alternative{{Content: content, Confidence: "0.0"}}}
}

func TestJoinSegmentText(t *testing.T) {
	segments := []types.Segment{
		{Text: " Hello there."},
		{Text: "   "},
		{Text: " General Kenobi. "},
	}
	assert.Equal(t, "Hello there. General Kenobi.", JoinSegmentText(segments))
	assert.Equal(t, "", JoinSegmentText(nil))
}

func TestSegmentsFromItemsSplitsSentences(t *testing.T) {
	items := []types.Item{
		word("Hello", "0.10", "0.50", "0.99"),
		word("world", "0.60", "1.00", "0.95"),
		punct("."),
		word("Next", "1.20", "1.50", "0.90"),
		punct(","),
		word("one", "1.60", "1.90", "0.80"),
		punct("?"),
	}

	segments := SegmentsFromItems(items)
	require.Len(t, segments, 2)

	assert.Equal(t, "Hello world.", segments[0].Text)
	assert.InDelta(t, 0.10, segments[0].Start, 1e-9)
	assert.InDelta(t, 1.00, segments[0].End, 1e-9)
	require.Len(t, segments[0].Words, 2)
	require.NotNil(t, segments[0].Words[1].Score)
	assert.InDelta(t, 0.95, *segments[0].Words[1].Score, 1e-9)

	assert.Equal(t, "Next, one?", segments[1].Text)
	assert.InDelta(t, 1.90, segments[1].End, 1e-9)
}

func TestSegmentsFromItemsSplitsOnPause(t *testing.T) {
	items := []types.Item{
		word("first", "0.0", "0.4", "1.0"),
		word("second", "5.0", "5.4", "1.0"),
	}
	segments := SegmentsFromItems(items)
	require.Len(t, segments, 2)
	assert.Equal(t, "first", segments[0].Text)
	assert.Equal(t, "second", segments[1].Text)
}

func TestSegmentsFromItemsToleratesMissingTimes(t *testing.T) {
	items := []types.Item{
		punct("."),
		word("odd", "", "", "x"),
	}
	segments := SegmentsFromItems(items)
	require.Len(t, segments, 1)
	require.Len(t, segments[0].Words, 1)
	assert.Nil(t, segments[0].Words[0].Start)
	assert.Nil(t, segments[0].Words[0].Score)
}
