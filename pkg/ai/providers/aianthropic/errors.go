package aianthropic

import (
	"context"
	"errors"
	"net/http"

	"github.com/Abraxas-365/rollout/pkg/ai/llm"
	"github.com/Abraxas-365/rollout/pkg/errx"
	"github.com/anthropics/anthropic-sdk-go"
)

var (
	// Error registry for Anthropic provider
	errorRegistry = errx.NewRegistry("ANTHROPIC")

	ErrMissingAPIKey   = errorRegistry.Register("MISSING_API_KEY", errx.TypeValidation, "Anthropic API key is not configured")
	ErrEmptyMessages   = errorRegistry.Register("EMPTY_MESSAGES", errx.TypeValidation, "Messages array cannot be empty")
	ErrUnsupportedRole = errorRegistry.Register("UNSUPPORTED_ROLE", errx.TypeValidation, "Message role not supported by Anthropic")
)

// ParseAnthropicError classifies an SDK error. Overload, rate limit and
// server errors are transport failures, other statuses are rejections.
func ParseAnthropicError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		var wrapped *errx.Error
		if status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500 {
			wrapped = llm.NewTransportError(err)
		} else {
			wrapped = llm.NewRejectedError(err)
		}
		return wrapped.WithDetail("provider", "anthropic").WithDetail("status", status)
	}

	return llm.NewTransportError(err).WithDetail("provider", "anthropic")
}
