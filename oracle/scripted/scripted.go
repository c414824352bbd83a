// Package scripted provides a deterministic oracle for tests and offline
// demos.
package scripted

import (
	"context"
	"fmt"
	"sync"

	"github.com/zero-day-ai/gauntlet/oracle"
)

// Response configures one oracle turn.
type Response struct {
	Message   string
	ToolCalls []oracle.ToolCall
	Err       error

	// ConversationID overrides the id the oracle would assign.
	ConversationID string
}

// Handler computes a response from the request.
type Handler func(ctx context.Context, req oracle.Request) Response

// Oracle replays queued responses in order, or defers to a Handler once the
// queue is empty. It records every request. Safe for concurrent use.
type Oracle struct {
	mu        sync.Mutex
	index     int
	responses []Response
	handler   Handler
	requests  []oracle.Request
	convs     int
}

var _ oracle.Oracle = (*Oracle)(nil)

// New returns an oracle that answers with responses in order.
func New(responses ...Response) *Oracle {
	cloned := make([]Response, len(responses))
	copy(cloned, responses)
	return &Oracle{responses: cloned}
}

// NewHandler returns an oracle that answers every request with h.
func NewHandler(h Handler) *Oracle {
	return &Oracle{handler: h}
}

// Push appends responses to the queue.
func (o *Oracle) Push(responses ...Response) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.responses = append(o.responses, responses...)
}

// Converse records req and returns the next scripted response. A request
// without a conversation id starts a new conversation "conv-N".
func (o *Oracle) Converse(ctx context.Context, req oracle.Request) (*oracle.Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.requests = append(o.requests, req)
	var (
		current Response
		ok      bool
	)
	if o.index < len(o.responses) {
		current = o.responses[o.index]
		o.index++
		ok = true
	}
	handler := o.handler
	step := len(o.requests)
	convID := req.ConversationID
	if convID == "" {
		o.convs++
		convID = fmt.Sprintf("conv-%d", o.convs)
	}
	o.mu.Unlock()

	if !ok {
		if handler == nil {
			return nil, fmt.Errorf("%w: script exhausted at step %d", oracle.ErrTransport, step)
		}
		current = handler(ctx, req)
	}
	if current.Err != nil {
		return nil, current.Err
	}
	if current.ConversationID != "" {
		convID = current.ConversationID
	}

	calls := make([]oracle.ToolCall, len(current.ToolCalls))
	copy(calls, current.ToolCalls)
	return &oracle.Reply{
		Message:        current.Message,
		ConversationID: convID,
		ToolCalls:      calls,
	}, nil
}

// Requests returns a copy of every request received so far.
func (o *Oracle) Requests() []oracle.Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]oracle.Request, len(o.requests))
	copy(out, o.requests)
	return out
}

// Remaining reports how many queued responses have not been used.
func (o *Oracle) Remaining() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.responses) - o.index
}
