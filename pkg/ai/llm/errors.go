package llm

import (
	"context"
	"errors"
	"net"

	"github.com/Abraxas-365/rollout/pkg/errx"
)

var llmErrors = errx.NewRegistry("LLM")

var (
	ErrTransport     = llmErrors.Register("TRANSPORT", errx.TypeTransient, "Model service unreachable or timed out")
	ErrRejected      = llmErrors.Register("REJECTED", errx.TypeExternal, "Model service rejected the request")
	ErrEmptyResponse = llmErrors.Register("EMPTY_RESPONSE", errx.TypeTransient, "Model service returned an empty response")
)

// Failure is the kind of a model-call failure.
type Failure string

const (
	FailureNone      Failure = ""
	FailureTransport Failure = "transport"
	FailureRejected  Failure = "rejected"
	FailureEmpty     Failure = "empty"
)

// Classify maps a model-call error onto its failure kind.
func Classify(err error) Failure {
	if err == nil {
		return FailureNone
	}
	if errx.HasCode(err, ErrEmptyResponse) {
		return FailureEmpty
	}
	if errx.IsTransient(err) {
		return FailureTransport
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTransport
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureTransport
	}
	return FailureRejected
}

// IsRetryable reports whether a model-call error may succeed on retry.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case FailureTransport, FailureEmpty:
		return true
	default:
		return false
	}
}

// NewEmptyResponseError builds an ErrEmptyResponse error.
func NewEmptyResponseError(model string) *errx.Error {
	return llmErrors.New(ErrEmptyResponse).WithDetail("model", model)
}

// NewTransportError wraps a network or timeout failure.
func NewTransportError(cause error) *errx.Error {
	return llmErrors.NewWithCause(ErrTransport, cause)
}

// NewRejectedError wraps a provider-side rejection.
func NewRejectedError(cause error) *errx.Error {
	return llmErrors.NewWithCause(ErrRejected, cause)
}
