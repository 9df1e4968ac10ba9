package llm

// ChatOptions holds generation parameters.
type ChatOptions struct {
	Model       string
	Temperature float32
	TopP        float32
	MaxTokens   int
	Stop        []string
	Seed        int64
	User        string

	// TopLogprobs requests per-token alternatives. 0 disables logprobs.
	TopLogprobs int
}

// Option is a functional option for ChatOptions.
type Option func(*ChatOptions)

// DefaultOptions returns provider-neutral defaults.
func DefaultOptions() *ChatOptions {
	return &ChatOptions{
		Temperature: 0.7,
		TopP:        0.95,
	}
}

// Apply builds ChatOptions from defaults and opts.
func Apply(base *ChatOptions, opts ...Option) *ChatOptions {
	if base == nil {
		base = DefaultOptions()
	}
	for _, opt := range opts {
		opt(base)
	}
	return base
}

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(o *ChatOptions) {
		o.Model = model
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) Option {
	return func(o *ChatOptions) {
		o.Temperature = t
	}
}

// WithTopP sets nucleus sampling.
func WithTopP(p float32) Option {
	return func(o *ChatOptions) {
		o.TopP = p
	}
}

// WithMaxTokens bounds the completion length.
func WithMaxTokens(n int) Option {
	return func(o *ChatOptions) {
		o.MaxTokens = n
	}
}

// WithStop sets stop sequences.
func WithStop(stop ...string) Option {
	return func(o *ChatOptions) {
		o.Stop = append([]string(nil), stop...)
	}
}

// WithSeed sets the sampling seed.
func WithSeed(seed int64) Option {
	return func(o *ChatOptions) {
		o.Seed = seed
	}
}

// WithUser tags the request with an end-user identifier.
func WithUser(user string) Option {
	return func(o *ChatOptions) {
		o.User = user
	}
}

// WithTopLogprobs requests n alternatives per emitted token.
func WithTopLogprobs(n int) Option {
	return func(o *ChatOptions) {
		o.TopLogprobs = n
	}
}
