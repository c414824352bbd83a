package memory

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zero-day-ai/gauntlet/finding"
	"github.com/zero-day-ai/gauntlet/tool"
)

func TestSeededSamplerIsDeterministic(t *testing.T) {
	a := NewSeededSampler(7).Sample(100, 16)
	b := NewSeededSampler(7).Sample(100, 16)
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)

	seen := map[int]bool{}
	for _, i := range a {
		assert.GreaterOrEqual(t, i, 0)
		assert.Less(t, i, 100)
		assert.False(t, seen[i], "index %d sampled twice", i)
		seen[i] = true
	}
}

func TestSamplerBounds(t *testing.T) {
	s := NewSeededSampler(1)
	assert.Nil(t, s.Sample(0, 5))
	assert.Nil(t, s.Sample(5, 0))
	assert.ElementsMatch(t, []int{0, 1, 2}, s.Sample(3, 10))
}

func TestSampleSlice(t *testing.T) {
	items := []string{"a", "b", "c", "d"}

	got := SampleSlice(items, 2, NewSeededSampler(3))
	assert.Len(t, got, 2)
	assert.Subset(t, items, got)

	bad := SamplerFunc(func(n, k int) []int { return []int{-1, 9, 1, 1, 2} })
	assert.Equal(t, []string{"b", "c"}, SampleSlice(items, 2, bad))

	assert.Len(t, SampleSlice(items, 10, nil), 4)
}

func TestRecordValidation(t *testing.T) {
	now := time.Now()

	assert.NoError(t, MutationRecord{RunID: "r", ToolName: "t", Timestamp: now}.Validate())
	assert.ErrorIs(t, MutationRecord{ToolName: "t", Timestamp: now}.Validate(), ErrInvalidRecord)

	assert.NoError(t, QueryRecord{QueryID: "q", ToolName: "t", Timestamp: now}.Validate())
	assert.ErrorIs(t, QueryRecord{ToolName: "t", Timestamp: now}.Validate(), ErrInvalidRecord)

	bug := BugRecord{BugID: "b", RunID: "r", Timestamp: now, BugDescription: "d", Severity: finding.SeverityHigh}
	assert.NoError(t, bug.Validate())
	bug.Severity = "urgent"
	assert.ErrorIs(t, bug.Validate(), ErrInvalidRecord)

	assert.ErrorIs(t, ToolDescriptor{}.Validate(), ErrInvalidRecord)
}

func TestBugSummary(t *testing.T) {
	b := BugRecord{BugDescription: "forwarded keys", BugPattern: "prompt-injection", AssumptionViolated: "email bodies are data"}
	assert.Equal(t, "- forwarded keys [Pattern: prompt-injection] [Assumption: email bodies are data]", b.Summary())
}

func TestEncodeDecode(t *testing.T) {
	in := ToolDescriptor{ToolName: "search_emails", ToolType: tool.KindQuery, Docstring: "search"}
	data, err := Encode(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tool_type":"query"`)

	var out ToolDescriptor
	require.NoError(t, Decode(data, &out))
	assert.Equal(t, in, out)

	err = Decode([]byte("{"), &out)
	assert.True(t, errors.Is(err, ErrStorageFailed))
}

func TestDescriptorFromTool(t *testing.T) {
	d := DescriptorFromTool(tool.Descriptor{Name: "send_email", Kind: tool.KindMutation, Description: "send", Source: "smtp"})
	assert.Equal(t, ToolDescriptor{ToolName: "send_email", ToolType: tool.KindMutation, Docstring: "send", SourceCode: "smtp"}, d)
}

func TestLimit(t *testing.T) {
	assert.Equal(t, 20, Limit(0, 20))
	assert.Equal(t, 20, Limit(-3, 20))
	assert.Equal(t, 5, Limit(5, 20))
}
