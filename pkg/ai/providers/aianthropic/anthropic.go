// Package aianthropic adapts the Anthropic Messages API to llm.Client.
// The API reports no token log probabilities, so uncertainty scores are
// unavailable for trajectories sampled through it.
package aianthropic

import (
	"context"
	"os"
	"strings"

	"github.com/Abraxas-365/rollout/pkg/ai/llm"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements llm.Client for Anthropic Claude
type AnthropicProvider struct {
	client anthropic.Client
	apiKey string
	model  string
}

// NewAnthropicProvider creates a new Anthropic provider. An empty model
// falls back to a current Sonnet release.
func NewAnthropicProvider(apiKey, model string, opts ...option.RequestOption) *AnthropicProvider {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	options := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)

	return &AnthropicProvider{
		client: anthropic.NewClient(options...),
		apiKey: apiKey,
		model:  model,
	}
}

func (p *AnthropicProvider) defaultChatOptions() *llm.ChatOptions {
	options := llm.DefaultOptions()
	options.Model = p.model
	return options
}

// ============================================================================
// Chat Implementation
// ============================================================================

// Chat implements llm.Client. TopLogprobs and Seed are ignored.
func (p *AnthropicProvider) Chat(ctx context.Context, messages []llm.Message, opts ...llm.Option) (llm.Response, error) {
	if p.apiKey == "" {
		return llm.Response{}, errorRegistry.New(ErrMissingAPIKey)
	}
	if len(messages) == 0 {
		return llm.Response{}, errorRegistry.New(ErrEmptyMessages)
	}

	options := llm.Apply(p.defaultChatOptions(), opts...)

	systemBlocks, rest := extractSystemPrompt(messages)
	anthropicMsgs, err := convertMessages(rest)
	if err != nil {
		return llm.Response{}, err
	}

	maxTokens := int64(4096)
	if options.MaxTokens > 0 {
		maxTokens = int64(options.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(options.Model),
		MaxTokens: maxTokens,
		Messages:  anthropicMsgs,
	}
	if len(systemBlocks) > 0 {
		params.System = systemBlocks
	}
	if options.Temperature != 0 {
		params.Temperature = anthropic.Float(float64(options.Temperature))
	}
	if options.TopP != 0 {
		params.TopP = anthropic.Float(float64(options.TopP))
	}
	if len(options.Stop) > 0 {
		params.StopSequences = options.Stop
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return llm.Response{}, ParseAnthropicError(err)
	}

	return convertFromAnthropicResponse(message, options.Model)
}

// ============================================================================
// Helper Functions
// ============================================================================

// extractSystemPrompt separates system messages into TextBlockParams
func extractSystemPrompt(messages []llm.Message) ([]anthropic.TextBlockParam, []llm.Message) {
	var system []anthropic.TextBlockParam
	var rest []llm.Message

	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		} else {
			rest = append(rest, msg)
		}
	}

	return system, rest
}

// convertMessages converts messages to MessageParams. The API requires
// alternating roles, so consecutive turns of one role share a message.
func convertMessages(messages []llm.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	var blocks []anthropic.ContentBlockParamUnion
	role := ""

	flush := func() {
		if len(blocks) == 0 {
			return
		}
		if role == llm.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		} else {
			result = append(result, anthropic.NewUserMessage(blocks...))
		}
		blocks = nil
	}

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleUser, llm.RoleAssistant:
		default:
			return nil, errorRegistry.New(ErrUnsupportedRole).
				WithDetail("role", msg.Role)
		}
		if msg.Role != role {
			flush()
			role = msg.Role
		}
		blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
	}
	flush()

	return result, nil
}

func convertFromAnthropicResponse(msg *anthropic.Message, model string) (llm.Response, error) {
	if msg == nil {
		return llm.Response{}, llm.NewEmptyResponseError(model)
	}

	var content strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(content.String()) == "" {
		return llm.Response{}, llm.NewEmptyResponseError(model).
			WithDetail("stop_reason", string(msg.StopReason))
	}

	return llm.Response{
		Message:      llm.NewAssistantMessage(content.String()),
		FinishReason: string(msg.StopReason),
		Usage: llm.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens) + int(msg.Usage.OutputTokens),
		},
	}, nil
}
