// Package aiopenai adapts the OpenAI chat completions API, and any
// OpenAI-compatible server such as vLLM, to llm.Client.
package aiopenai

import (
	"context"
	"os"
	"strings"

	"github.com/Abraxas-365/rollout/pkg/ai/llm"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIProvider implements llm.Client for OpenAI
type OpenAIProvider struct {
	client openai.Client
	apiKey string
	model  string
}

// Option configures an OpenAIProvider.
type Option func(*providerConfig)

type providerConfig struct {
	baseURL     string
	model       string
	requestOpts []option.RequestOption
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(c *providerConfig) { c.baseURL = url }
}

// WithDefaultModel is used when a call does not name a model.
func WithDefaultModel(model string) Option {
	return func(c *providerConfig) { c.model = model }
}

// WithRequestOptions passes raw SDK options through.
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(c *providerConfig) { c.requestOpts = append(c.requestOpts, opts...) }
}

// NewOpenAIProvider creates a new OpenAI provider. Retries are disabled in
// the SDK; the agent loop owns the retry policy.
func NewOpenAIProvider(apiKey string, opts ...Option) *OpenAIProvider {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	cfg := &providerConfig{model: "gpt-4o"}
	for _, opt := range opts {
		opt(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	reqOpts = append(reqOpts, cfg.requestOpts...)

	return &OpenAIProvider{
		client: openai.NewClient(reqOpts...),
		apiKey: apiKey,
		model:  cfg.model,
	}
}

func (p *OpenAIProvider) defaultChatOptions() *llm.ChatOptions {
	options := llm.DefaultOptions()
	options.Model = p.model
	return options
}

// ============================================================================
// Chat Implementation
// ============================================================================

// Chat implements llm.Client
func (p *OpenAIProvider) Chat(ctx context.Context, messages []llm.Message, opts ...llm.Option) (llm.Response, error) {
	if p.apiKey == "" {
		return llm.Response{}, errorRegistry.New(ErrMissingAPIKey)
	}
	if len(messages) == 0 {
		return llm.Response{}, errorRegistry.New(ErrEmptyMessages)
	}

	options := llm.Apply(p.defaultChatOptions(), opts...)

	openAIMessages := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for i, msg := range messages {
		openAIMsg, ok := convertToOpenAIMessage(msg)
		if !ok {
			return llm.Response{}, errorRegistry.New(ErrInvalidMessage).
				WithDetail("message_index", i).
				WithDetail("role", msg.Role)
		}
		openAIMessages = append(openAIMessages, openAIMsg)
	}

	params := openai.ChatCompletionNewParams{
		Messages: openAIMessages,
		Model:    options.Model,
	}

	if options.Temperature != 0 {
		params.Temperature = openai.Float(float64(options.Temperature))
	}
	if options.TopP != 0 {
		params.TopP = openai.Float(float64(options.TopP))
	}
	if options.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(options.MaxTokens))
	}
	if len(options.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{
			OfStringArray: options.Stop,
		}
	}
	if options.Seed != 0 {
		params.Seed = openai.Int(options.Seed)
	}
	if options.User != "" {
		params.User = openai.String(options.User)
	}
	if options.TopLogprobs > 0 {
		params.Logprobs = openai.Bool(true)
		params.TopLogprobs = openai.Int(int64(options.TopLogprobs))
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.Response{}, ParseOpenAIError(err)
	}

	return convertFromOpenAIResponse(completion, options.Model)
}

// ============================================================================
// Conversion Helpers
// ============================================================================

func convertToOpenAIMessage(msg llm.Message) (openai.ChatCompletionMessageParamUnion, bool) {
	switch msg.Role {
	case llm.RoleSystem:
		return openai.SystemMessage(msg.Content), true
	case llm.RoleUser:
		return openai.UserMessage(msg.Content), true
	case llm.RoleAssistant:
		return openai.AssistantMessage(msg.Content), true
	default:
		return openai.ChatCompletionMessageParamUnion{}, false
	}
}

func convertFromOpenAIResponse(resp *openai.ChatCompletion, model string) (llm.Response, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return llm.Response{}, llm.NewEmptyResponseError(model)
	}

	choice := resp.Choices[0]
	if strings.TrimSpace(choice.Message.Content) == "" {
		return llm.Response{}, llm.NewEmptyResponseError(model).
			WithDetail("finish_reason", choice.FinishReason)
	}

	response := llm.Response{
		Message:      llm.NewAssistantMessage(choice.Message.Content),
		FinishReason: choice.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}

	if n := len(choice.Logprobs.Content); n > 0 {
		response.Logprobs = make([]llm.TokenLogprob, 0, n)
		for _, tok := range choice.Logprobs.Content {
			entry := llm.TokenLogprob{
				Token:   tok.Token,
				Logprob: tok.Logprob,
			}
			if len(tok.TopLogprobs) > 0 {
				entry.TopLogprobs = make([]llm.TopLogprob, 0, len(tok.TopLogprobs))
				for _, alt := range tok.TopLogprobs {
					entry.TopLogprobs = append(entry.TopLogprobs, llm.TopLogprob{
						Token:   alt.Token,
						Logprob: alt.Logprob,
					})
				}
			}
			response.Logprobs = append(response.Logprobs, entry)
		}
	}

	return response, nil
}
