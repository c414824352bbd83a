package memory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zero-day-ai/gauntlet/finding"
	"github.com/zero-day-ai/gauntlet/tool"
)

// MutationRecord is a short-term memory entry: one tool call whose result
// was rewritten before the agent under test saw it.
type MutationRecord struct {
	RunID               string    `json:"run_id"`
	Timestamp           time.Time `json:"timestamp"`
	ToolName            string    `json:"tool_name"`
	CallDescription     string    `json:"query"`
	OriginalResult      string    `json:"original_result"`
	MutatedResult       string    `json:"mutated_result"`
	MutationDescription string    `json:"mutation_description"`
	HypothesisID        string    `json:"hypothesis_id"`
}

// Validate checks the fields every backend relies on.
func (r MutationRecord) Validate() error {
	if r.RunID == "" {
		return fmt.Errorf("%w: mutation record run_id is required", ErrInvalidRecord)
	}
	if r.ToolName == "" {
		return fmt.Errorf("%w: mutation record tool_name is required", ErrInvalidRecord)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: mutation record timestamp is required", ErrInvalidRecord)
	}
	return nil
}

// QueryRecord is a long-term memory entry written for every intercepted call,
// mutated or not. Result holds what the agent under test actually received.
type QueryRecord struct {
	QueryID          string    `json:"query_id"`
	Timestamp        time.Time `json:"timestamp"`
	RunID            string    `json:"run_id"`
	ToolName         string    `json:"tool_name"`
	QueryDescription string    `json:"query_description"`
	QueryParams      string    `json:"query_params"`
	Result           string    `json:"result"`
	WasMutated       bool      `json:"was_mutated"`
	MutationApplied  string    `json:"mutation_applied"`
}

// Validate checks the fields every backend relies on.
func (r QueryRecord) Validate() error {
	if r.QueryID == "" {
		return fmt.Errorf("%w: query record query_id is required", ErrInvalidRecord)
	}
	if r.ToolName == "" {
		return fmt.Errorf("%w: query record tool_name is required", ErrInvalidRecord)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: query record timestamp is required", ErrInvalidRecord)
	}
	return nil
}

// BugRecord is a confirmed finding. It is created only through the explicit
// bug-recording invocation and is the only cross-run ground truth used for
// novelty.
type BugRecord struct {
	BugID              string           `json:"bug_id"`
	Timestamp          time.Time        `json:"timestamp"`
	RunID              string           `json:"run_id"`
	Hypothesis         string           `json:"hypothesis"`
	BugDescription     string           `json:"bug_description"`
	BugPattern         string           `json:"bug_pattern"`
	AssumptionViolated string           `json:"assumption_violated"`
	ToolsInvolved      []string         `json:"tools_involved"`
	Severity           finding.Severity `json:"severity"`
	Embedding          []float32        `json:"embedding,omitempty"`
}

// Validate checks that every field the bug-recording action requires is set.
func (r BugRecord) Validate() error {
	switch {
	case r.BugID == "":
		return fmt.Errorf("%w: bug record bug_id is required", ErrInvalidRecord)
	case r.RunID == "":
		return fmt.Errorf("%w: bug record run_id is required", ErrInvalidRecord)
	case r.Timestamp.IsZero():
		return fmt.Errorf("%w: bug record timestamp is required", ErrInvalidRecord)
	case r.BugDescription == "":
		return fmt.Errorf("%w: bug record bug_description is required", ErrInvalidRecord)
	case !r.Severity.IsValid():
		return fmt.Errorf("%w: bug record severity %q is invalid", ErrInvalidRecord, r.Severity)
	}
	return nil
}

// Summary renders the one-line form used when bugs are shown to the oracle.
func (r BugRecord) Summary() string {
	return fmt.Sprintf("- %s [Pattern: %s] [Assumption: %s]", r.BugDescription, r.BugPattern, r.AssumptionViolated)
}

// ToolDescriptor mirrors a registered tool in long-term memory.
type ToolDescriptor struct {
	ToolName   string    `json:"tool_name"`
	ToolType   tool.Kind `json:"tool_type"`
	Docstring  string    `json:"docstring"`
	SourceCode string    `json:"source_code"`
}

// DescriptorFromTool converts a registry descriptor into its memory record.
func DescriptorFromTool(d tool.Descriptor) ToolDescriptor {
	return ToolDescriptor{
		ToolName:   d.Name,
		ToolType:   d.Kind,
		Docstring:  d.Description,
		SourceCode: d.Source,
	}
}

// Validate checks that the descriptor is keyed.
func (d ToolDescriptor) Validate() error {
	if d.ToolName == "" {
		return fmt.Errorf("%w: tool descriptor tool_name is required", ErrInvalidRecord)
	}
	return nil
}

// Encode marshals a record to JSON. Backends that store opaque blobs use it
// so every backend agrees on the wire form.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrInvalidRecord, err)
	}
	return data, nil
}

// Decode unmarshals a record produced by Encode.
func Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrStorageFailed, err)
	}
	return nil
}
