package llm

import "context"

// Client is the model invocation service.
type Client interface {
	Chat(ctx context.Context, messages []Message, opts ...Option) (Response, error)
}

// Response is one generation.
type Response struct {
	Message      Message        `json:"message"`
	Usage        Usage          `json:"usage"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Logprobs     []TokenLogprob `json:"logprobs,omitempty"`
}

// TokenLogprob is one emitted token with its log probability and the
// provider's top alternatives at that position.
type TokenLogprob struct {
	Token       string       `json:"token"`
	Logprob     float64      `json:"logprob"`
	TopLogprobs []TopLogprob `json:"top_logprobs,omitempty"`
}

// TopLogprob is one alternative at a token position.
type TopLogprob struct {
	Token   string  `json:"token"`
	Logprob float64 `json:"logprob"`
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, messages []Message, opts ...Option) (Response, error)

// Chat implements Client.
func (f ClientFunc) Chat(ctx context.Context, messages []Message, opts ...Option) (Response, error) {
	return f(ctx, messages, opts...)
}
