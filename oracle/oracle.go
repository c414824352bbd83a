package oracle

import (
	"context"
	"errors"
	"fmt"
)

// ErrTransport is returned when the oracle cannot be reached or answers with
// a non-success status. It is never retried.
var ErrTransport = errors.New("oracle: transport failure")

// Oracle is the external reasoning service consulted for every decision.
//
// Converse sends one message. An empty ConversationID starts a new
// conversation; the reply always names the conversation it belongs to so the
// caller can continue it.
type Oracle interface {
	Converse(ctx context.Context, req Request) (*Reply, error)
}

// Func adapts a function to the Oracle interface.
type Func func(ctx context.Context, req Request) (*Reply, error)

// Converse calls f(ctx, req).
func (f Func) Converse(ctx context.Context, req Request) (*Reply, error) {
	return f(ctx, req)
}

// Request is one message sent to the oracle.
type Request struct {
	// Message is the natural-language prompt.
	Message string `json:"input"`

	// AgentID selects the oracle persona.
	AgentID string `json:"agent_id"`

	// ConversationID continues an earlier conversation. Empty starts a new one.
	ConversationID string `json:"conversation_id,omitempty"`
}

// Validate checks that the request carries a message and an agent id.
func (r Request) Validate() error {
	if r.Message == "" {
		return fmt.Errorf("oracle: request message cannot be empty")
	}
	if r.AgentID == "" {
		return fmt.Errorf("oracle: request agent id cannot be empty")
	}
	return nil
}

// Reply is the oracle's answer.
type Reply struct {
	// Message is the final natural-language response.
	Message string

	// ConversationID is the continuation id for follow-up messages.
	ConversationID string

	// ToolCalls lists the structured tool invocations the oracle made while
	// producing the reply, in order.
	ToolCalls []ToolCall
}

// Calls returns the tool calls with the given name, in order.
func (r *Reply) Calls(name string) []ToolCall {
	if r == nil {
		return nil
	}
	var out []ToolCall
	for _, c := range r.ToolCalls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Completer produces a single free-text completion with no conversation
// state. The hypothesis generation tool uses it.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

// Complete calls f(ctx, prompt).
func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// EmbedderFunc adapts a function to the Embedder interface.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

// Embed calls f(ctx, text).
func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}
