package aiopenai

import (
	"context"
	"errors"
	"net/http"

	"github.com/Abraxas-365/rollout/pkg/ai/llm"
	"github.com/Abraxas-365/rollout/pkg/errx"
	"github.com/openai/openai-go/v3"
)

var (
	// Error registry for OpenAI provider
	errorRegistry = errx.NewRegistry("OPENAI")

	// Input Validation Errors
	ErrMissingAPIKey  = errorRegistry.Register("MISSING_API_KEY", errx.TypeValidation, "OpenAI API key is not configured")
	ErrEmptyMessages  = errorRegistry.Register("EMPTY_MESSAGES", errx.TypeValidation, "Messages array cannot be empty")
	ErrInvalidMessage = errorRegistry.Register("INVALID_MESSAGE", errx.TypeValidation, "Message has an unsupported role")
)

// ParseOpenAIError classifies an SDK error for the agent's retry policy.
// Rate limits, server errors and network failures are transport failures;
// any other API status is a rejection. Context errors pass through.
func ParseOpenAIError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		var wrapped *errx.Error
		if retryableStatus(status) {
			wrapped = llm.NewTransportError(err)
		} else {
			wrapped = llm.NewRejectedError(err)
		}
		wrapped = wrapped.WithDetail("provider", "openai").WithDetail("status", status)
		if apiErr.Code != "" {
			wrapped = wrapped.WithDetail("code", apiErr.Code)
		}
		return wrapped
	}

	return llm.NewTransportError(err).WithDetail("provider", "openai")
}

func retryableStatus(status int) bool {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}
