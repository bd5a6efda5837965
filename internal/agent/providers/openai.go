package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/relaypoint/crmagent/internal/agent"
	"github.com/relaypoint/crmagent/pkg/models"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// OpenAIProvider implements agent.LLMProvider against any OpenAI-compatible
// chat completions API. Groq is served by the same implementation with a
// different base URL.
type OpenAIProvider struct {
	client       *openai.Client
	name         string
	defaultModel string
	models       []agent.Model
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	// APIKey authenticates against the API (required).
	APIKey string

	// BaseURL overrides the default endpoint. Used for Groq and for
	// OpenAI-compatible proxies.
	BaseURL string

	// DefaultModel is used when the request does not name a model.
	DefaultModel string
}

// NewOpenAIProvider creates a provider against the OpenAI API.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.DefaultModel == "" {
		config.DefaultModel = openai.GPT4o
	}
	p, err := newOpenAICompatible("openai", config)
	if err != nil {
		return nil, err
	}
	p.models = []agent.Model{
		{ID: openai.GPT4o, Name: "GPT-4o", ContextSize: 128000},
		{ID: openai.GPT4oMini, Name: "GPT-4o Mini", ContextSize: 128000},
		{ID: openai.GPT4Turbo, Name: "GPT-4 Turbo", ContextSize: 128000},
	}
	return p, nil
}

// NewGroqProvider creates a provider against Groq's OpenAI-compatible API.
func NewGroqProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.BaseURL == "" {
		config.BaseURL = groqBaseURL
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "llama-3.3-70b-versatile"
	}
	p, err := newOpenAICompatible("groq", config)
	if err != nil {
		return nil, err
	}
	p.models = []agent.Model{
		{ID: "llama-3.3-70b-versatile", Name: "Llama 3.3 70B", ContextSize: 131072},
		{ID: "llama-3.1-8b-instant", Name: "Llama 3.1 8B", ContextSize: 131072},
	}
	return p, nil
}

func newOpenAICompatible(name string, config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%s: API key is required", name)
	}
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		name:         name,
		defaultModel: config.DefaultModel,
	}, nil
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Models() []agent.Model { return p.models }

func (p *OpenAIProvider) SupportsTools() bool { return true }

// Complete sends the request and streams the response. Tool call arguments
// arrive fragmented across delta chunks and are accumulated by index before
// emission.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	oreq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: p.convertMessages(req),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		oreq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		oreq.Temperature = *req.Temperature
	}
	if len(req.Tools) > 0 {
		oreq.Tools = convertOpenAITools(req.Tools)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, oreq)
	if err != nil {
		return nil, Classify(p.name, model, openAIStatus(err), err)
	}

	chunks := make(chan *agent.CompletionChunk, 16)
	go func() {
		defer close(chunks)
		defer stream.Close()
		p.processStream(ctx, stream, chunks, model)
	}()
	return chunks, nil
}

func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk, model string) {
	// Tool calls stream as fragments keyed by index; the id and name arrive
	// first, argument JSON trickles in afterwards.
	pending := map[int]*models.ToolCall{}
	argBuffers := map[int]string{}
	var order []int
	var inputTokens, outputTokens int

	flush := func() {
		for _, idx := range order {
			tc := pending[idx]
			if tc == nil {
				continue
			}
			tc.Input = json.RawMessage(argBuffers[idx])
			if len(tc.Input) == 0 {
				tc.Input = json.RawMessage("{}")
			}
			select {
			case chunks <- &agent.CompletionChunk{ToolCall: tc}:
			case <-ctx.Done():
				return
			}
			delete(pending, idx)
			delete(argBuffers, idx)
		}
		order = order[:0]
	}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			flush()
			chunks <- &agent.CompletionChunk{
				Done:         true,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			}
			return
		}
		if err != nil {
			chunks <- &agent.CompletionChunk{Error: Classify(p.name, model, openAIStatus(err), err)}
			return
		}

		if resp.Usage != nil {
			inputTokens = resp.Usage.PromptTokens
			outputTokens = resp.Usage.CompletionTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			select {
			case chunks <- &agent.CompletionChunk{Text: choice.Delta.Content}:
			case <-ctx.Done():
				return
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			if pending[idx] == nil {
				pending[idx] = &models.ToolCall{}
				order = append(order, idx)
			}
			if tc.ID != "" {
				pending[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				pending[idx].Name = tc.Function.Name
			}
			argBuffers[idx] += tc.Function.Arguments
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			flush()
		}
	}
}

// convertMessages maps the internal transcript to OpenAI chat messages. The
// system prompt travels as the first message; internal role "ai" maps to
// "assistant".
func (p *OpenAIProvider) convertMessages(req *agent.CompletionRequest) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case models.RoleAssistant:
			m := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			out = append(out, m)
		case models.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				Name:       msg.Name,
				ToolCallID: msg.ToolCallID,
			})
		case models.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})
		default:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}
	return out
}

func convertOpenAITools(specs []agent.ToolSpec) []openai.Tool {
	tools := make([]openai.Tool, 0, len(specs))
	for _, spec := range specs {
		var params map[string]any
		if err := json.Unmarshal(spec.Schema, &params); err != nil || params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}

func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
