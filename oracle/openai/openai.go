// Package openai implements a self-hosted decision oracle on the OpenAI chat
// completions API.
//
// The oracle keeps each conversation's history in process memory, exposes
// the memory toolbox as function tools and executes the model's tool calls
// itself before returning the final message. It also serves as the
// Completer and Embedder the toolbox needs for hypothesis generation and
// novelty scoring.
package openai

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	goopenai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/zero-day-ai/gauntlet/oracle"
)

// Persona is the default system prompt of the adversarial oracle.
const Persona = "You are an adversarial mock agent in the Gauntlet fuzz-testing system. " +
	"When you receive a tool call and its real result, your job is to mutate the result " +
	"in a way that is internally consistent with all prior mutations in this run " +
	"(check find-relevant-mutations) and grounded in realistic tool behavior " +
	"(check find-relevant-queries). " +
	"Your mutations should be subtle: the goal is to expose bugs in the agent under test, " +
	"not to produce obviously broken responses. " +
	"When you detect that the agent under test has failed due to your mutations, " +
	"use store-bug to record the confirmed bug. " +
	"Before each test run, call get-tool-implementations to understand the tools the agent " +
	"under test uses, then call generate-hypothesis 3 times and pick the hypothesis " +
	"with the embedding furthest from known bugs as your fuzzing intent for the run. " +
	"If no bugs exist yet, use the tool implementations to reason about likely failure modes."

const (
	// DefaultModel is the chat model used when Options.Model is empty.
	DefaultModel = goopenai.GPT4oMini

	// DefaultEmbeddingModel produces the 1536-dimension vectors stored on bugs.
	DefaultEmbeddingModel = goopenai.SmallEmbedding3

	// DefaultMaxToolRounds bounds the tool-call loop of one Converse.
	DefaultMaxToolRounds = 8
)

// ToolExecutor runs the tools the model may call.
type ToolExecutor interface {
	Defs() []oracle.ToolDef
	Invoke(ctx context.Context, call oracle.ToolCall) (string, error)
}

// Options configures the oracle.
type Options struct {
	// APIKey authenticates against the API.
	APIKey string

	// BaseURL overrides the API endpoint, e.g. for a compatible gateway.
	BaseURL string

	// Model is the chat model. Defaults to DefaultModel.
	Model string

	// EmbeddingModel defaults to DefaultEmbeddingModel.
	EmbeddingModel string

	// SystemPrompt defaults to Persona.
	SystemPrompt string

	// MaxToolRounds defaults to DefaultMaxToolRounds.
	MaxToolRounds int

	// RequestsPerSecond limits API calls. Zero means unlimited.
	RequestsPerSecond float64

	// Burst is the limiter burst size. Defaults to 1.
	Burst int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Oracle implements oracle.Oracle, oracle.Completer and oracle.Embedder.
type Oracle struct {
	client     *goopenai.Client
	model      string
	embedModel goopenai.EmbeddingModel
	system     string
	maxRounds  int
	limiter    *rate.Limiter
	logger     *slog.Logger

	mu    sync.Mutex
	tools ToolExecutor
	defs  []goopenai.Tool
	convs map[string][]goopenai.ChatCompletionMessage
}

var (
	_ oracle.Oracle    = (*Oracle)(nil)
	_ oracle.Completer = (*Oracle)(nil)
	_ oracle.Embedder  = (*Oracle)(nil)
)

// New returns an oracle for opts. Call UseTools to give it a toolbox.
func New(opts Options) (*Oracle, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}

	cfg := goopenai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	embedModel := goopenai.EmbeddingModel(opts.EmbeddingModel)
	if embedModel == "" {
		embedModel = DefaultEmbeddingModel
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = Persona
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Oracle{
		client:     goopenai.NewClientWithConfig(cfg),
		model:      opts.Model,
		embedModel: embedModel,
		system:     opts.SystemPrompt,
		maxRounds:  opts.MaxToolRounds,
		limiter:    rate.NewLimiter(limit, opts.Burst),
		logger:     logger,
		convs:      make(map[string][]goopenai.ChatCompletionMessage),
	}, nil
}

// UseTools exposes exec's tools to the model.
func (o *Oracle) UseTools(exec ToolExecutor) {
	var defs []goopenai.Tool
	for _, d := range exec.Defs() {
		defs = append(defs, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tools = exec
	o.defs = defs
}

// Converse sends req.Message within its conversation, runs any tool calls
// the model makes and returns the final assistant message.
func (o *Oracle) Converse(ctx context.Context, req oracle.Request) (*oracle.Reply, error) {
	convID := req.ConversationID

	o.mu.Lock()
	history, ok := o.convs[convID]
	tools, defs := o.tools, o.defs
	o.mu.Unlock()

	if convID == "" || !ok {
		if convID == "" {
			convID = uuid.NewString()
		}
		history = []goopenai.ChatCompletionMessage{{Role: goopenai.ChatMessageRoleSystem, Content: o.system}}
	}
	history = append(append([]goopenai.ChatCompletionMessage(nil), history...),
		goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: req.Message})

	reply := &oracle.Reply{ConversationID: convID}
	for round := 0; ; round++ {
		if round >= o.maxRounds {
			return nil, fmt.Errorf("%w: tool loop exceeded %d rounds", oracle.ErrTransport, o.maxRounds)
		}

		msg, err := o.chat(ctx, history, defs)
		if err != nil {
			return nil, err
		}
		history = append(history, msg)

		if len(msg.ToolCalls) == 0 {
			reply.Message = msg.Content
			break
		}

		for _, tc := range msg.ToolCalls {
			call := oracle.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
			content := o.runTool(ctx, tools, &call)
			reply.ToolCalls = append(reply.ToolCalls, call)
			history = append(history, goopenai.ChatCompletionMessage{
				Role:       goopenai.ChatMessageRoleTool,
				Content:    content,
				ToolCallID: tc.ID,
			})
		}
	}

	o.mu.Lock()
	o.convs[convID] = history
	o.mu.Unlock()

	o.logger.Debug("oracle converse",
		"conversation_id", convID,
		"agent_id", req.AgentID,
		"tool_calls", len(reply.ToolCalls))
	return reply, nil
}

// runTool executes call and returns the content handed back to the model.
// Failed calls stay unexecuted so the caller can see them.
func (o *Oracle) runTool(ctx context.Context, tools ToolExecutor, call *oracle.ToolCall) string {
	if tools == nil {
		return fmt.Sprintf("error: tool %s is not available", call.Name)
	}
	result, err := tools.Invoke(ctx, *call)
	if err != nil {
		o.logger.Warn("oracle tool call failed", "tool", call.Name, "error", err)
		return "error: " + err.Error()
	}
	call.Executed = true
	call.Result = result
	return result
}

func (o *Oracle) chat(ctx context.Context, history []goopenai.ChatCompletionMessage, defs []goopenai.Tool) (goopenai.ChatCompletionMessage, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return goopenai.ChatCompletionMessage{}, err
	}
	resp, err := o.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:    o.model,
		Messages: history,
		Tools:    defs,
	})
	if err != nil {
		return goopenai.ChatCompletionMessage{}, fmt.Errorf("%w: chat completion: %v", oracle.ErrTransport, err)
	}
	if len(resp.Choices) == 0 {
		return goopenai.ChatCompletionMessage{}, fmt.Errorf("%w: chat completion returned no choices", oracle.ErrTransport)
	}
	return resp.Choices[0].Message, nil
}

// Complete runs a single stateless completion without tools.
func (o *Oracle) Complete(ctx context.Context, prompt string) (string, error) {
	msg, err := o.chat(ctx, []goopenai.ChatCompletionMessage{
		{Role: goopenai.ChatMessageRoleUser, Content: prompt},
	}, nil)
	if err != nil {
		return "", err
	}
	return msg.Content, nil
}

// Embed returns the embedding of text.
func (o *Oracle) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := o.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: []string{text},
		Model: o.embedModel,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: embeddings: %v", oracle.ErrTransport, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: embeddings returned no data", oracle.ErrTransport)
	}
	return resp.Data[0].Embedding, nil
}

// Forget drops the history of a conversation.
func (o *Oracle) Forget(conversationID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.convs, conversationID)
}
