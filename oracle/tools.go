package oracle

import (
	"encoding/json"
	"fmt"
)

// ToolDef defines a tool the oracle can invoke.
type ToolDef struct {
	// Name is the unique identifier for this tool.
	Name string

	// Description explains what the tool does and when to use it.
	Description string

	// Parameters is a JSON Schema describing the tool's input parameters.
	Parameters map[string]any
}

// Validate checks if the tool definition is valid.
func (t *ToolDef) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if t.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if t.Parameters == nil {
		return fmt.Errorf("tool parameters cannot be nil")
	}
	return nil
}

// ToolCall is one structured tool invocation made by the oracle.
type ToolCall struct {
	// ID matches tool results back to the call. May be empty for oracles
	// that do not assign ids.
	ID string

	// Name is the name of the invoked tool.
	Name string

	// Arguments contains the tool parameters as a JSON string.
	Arguments string

	// Executed reports whether the oracle already ran the tool server-side.
	// Unexecuted calls are requests the caller is expected to carry out.
	Executed bool

	// Result holds the tool output or error reported by the oracle.
	Result string
}

// ParseArguments parses the tool call arguments into v.
func (c *ToolCall) ParseArguments(v any) error {
	if c.Arguments == "" {
		return fmt.Errorf("no arguments to parse")
	}
	return json.Unmarshal([]byte(c.Arguments), v)
}

// Validate checks that the call names a tool and carries JSON arguments.
func (c *ToolCall) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("tool call name cannot be empty")
	}
	if c.Arguments == "" {
		return nil
	}
	var temp any
	if err := json.Unmarshal([]byte(c.Arguments), &temp); err != nil {
		return fmt.Errorf("invalid JSON in arguments: %w", err)
	}
	return nil
}
