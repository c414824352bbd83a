package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

// Kind classifies a tool as read-only or side-effecting.
type Kind string

const (
	// KindQuery marks a read-only tool.
	KindQuery Kind = "query"

	// KindMutation marks a tool with side effects.
	KindMutation Kind = "mutation"
)

// IsValid returns true if the kind is one of the defined constants.
func (k Kind) IsValid() bool {
	switch k {
	case KindQuery, KindMutation:
		return true
	default:
		return false
	}
}

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// ParseKind parses a string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.IsValid() {
		return "", fmt.Errorf("invalid tool kind: %s", s)
	}
	return k, nil
}

// Tool describes an instrumented function. Tools are registered once at
// startup and never change afterwards.
type Tool struct {
	// Name is the unique key of the tool.
	Name string `json:"name"`

	// Kind is either KindQuery or KindMutation.
	Kind Kind `json:"kind"`

	// Description is the human-readable docstring shown to the oracle.
	Description string `json:"description"`

	// Source is a human-readable summary of how the tool is implemented.
	Source string `json:"source,omitempty"`
}

// Validate checks that the tool has a name and a valid kind.
func (t Tool) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if !t.Kind.IsValid() {
		return fmt.Errorf("tool %s: invalid kind %q", t.Name, t.Kind)
	}
	return nil
}

// Args holds the arguments of a single tool call.
type Args map[string]any

// Func is the signature of every instrumented tool. The returned string is
// the tool's result exactly as the agent under test sees it.
type Func func(ctx context.Context, args Args) (string, error)

// String returns the argument value for key rendered with fmt, or "" when the
// key is absent.
func (a Args) String(key string) string {
	v, ok := a[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Stringified returns a copy of the arguments with every value rendered as a
// string, which is how arguments appear in prompts and memory records.
func (a Args) Stringified() map[string]string {
	out := make(map[string]string, len(a))
	for k := range a {
		out[k] = a.String(k)
	}
	return out
}

// Describe renders the call description used in prompts and records:
// {"args":{"k":"v",...}} with values stringified. encoding/json sorts map
// keys, so the output is stable for equal arguments.
func (a Args) Describe() string {
	data, err := json.Marshal(struct {
		Args map[string]string `json:"args"`
	}{Args: a.Stringified()})
	if err != nil {
		return `{"args":{}}`
	}
	return string(data)
}
