// Package kibana implements oracle.Oracle on the Kibana Agent Builder
// converse API.
//
// The Agent Builder agent runs the memory tools server-side. A tool call is
// reported as executed unless its step results carry an error, in which case
// the caller may run it locally.
package kibana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zero-day-ai/gauntlet/oracle"
)

// ConversePath is the converse endpoint relative to the Kibana URL.
const ConversePath = "/api/agent_builder/converse"

// Options configures the client.
type Options struct {
	// BaseURL is the Kibana URL, e.g. "https://my-deployment.kb.us-east-1.aws.elastic.cloud".
	BaseURL string

	// APIKey is sent as "Authorization: ApiKey <key>".
	APIKey string

	// Timeout bounds one converse round trip. Agent runs that call several
	// tools take a while, so the default is generous.
	Timeout time.Duration

	// HTTPClient overrides the default client. Timeout is ignored when set.
	HTTPClient *http.Client

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Client talks to the converse API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

var _ oracle.Oracle = (*Client)(nil)

// New returns a Client for opts.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("kibana: base URL is required")
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Minute
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		client:  httpClient,
		logger:  logger,
	}, nil
}

type converseResponse struct {
	ConversationID string `json:"conversation_id"`
	Response       struct {
		Message string `json:"message"`
	} `json:"response"`
	Steps []step `json:"steps"`
}

type step struct {
	Type       string          `json:"type"`
	ToolCallID string          `json:"tool_call_id"`
	ToolID     string          `json:"tool_id"`
	Params     json.RawMessage `json:"params"`
	Results    json.RawMessage `json:"results"`
}

// Converse posts req to the converse endpoint.
func (c *Client) Converse(ctx context.Context, req oracle.Request) (*oracle.Reply, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal converse request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ConversePath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("kbn-xsrf", "true")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "ApiKey "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", oracle.ErrTransport, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("failed to close resource", "resource", "converse HTTP response", "error", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", oracle.ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: converse returned status %d: %s", oracle.ErrTransport, resp.StatusCode, truncate(string(body), 256))
	}

	var out converseResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", oracle.ErrTransport, err)
	}

	reply := &oracle.Reply{
		Message:        out.Response.Message,
		ConversationID: out.ConversationID,
	}
	for _, s := range out.Steps {
		if s.Type != "tool_call" {
			continue
		}
		reply.ToolCalls = append(reply.ToolCalls, oracle.ToolCall{
			ID:        s.ToolCallID,
			Name:      s.ToolID,
			Arguments: string(s.Params),
			Executed:  !failed(s.Results),
			Result:    string(s.Results),
		})
	}

	c.logger.Debug("oracle converse",
		"agent_id", req.AgentID,
		"conversation_id", reply.ConversationID,
		"tool_calls", len(reply.ToolCalls),
		"duration", time.Since(start))
	return reply, nil
}

type stepResult struct {
	Type  string          `json:"type"`
	Error json.RawMessage `json:"error"`
}

// failed reports whether step results describe a tool error. Results are a
// list of typed entries; a bare object is accepted too.
func failed(raw json.RawMessage) bool {
	if len(bytes.TrimSpace(raw)) == 0 {
		return false
	}
	var list []stepResult
	if err := json.Unmarshal(raw, &list); err != nil {
		var one stepResult
		if err := json.Unmarshal(raw, &one); err != nil {
			return false
		}
		list = []stepResult{one}
	}
	for _, r := range list {
		if r.Type == "error" || (len(r.Error) > 0 && string(r.Error) != "null") {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
