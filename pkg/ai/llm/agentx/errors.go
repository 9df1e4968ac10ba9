package agentx

import "github.com/Abraxas-365/rollout/pkg/errx"

var agentErrors = errx.NewRegistry("AGENTX")

var (
	ErrInvalidTask = agentErrors.Register("INVALID_TASK", errx.TypeValidation, "Task has no question")
	ErrModelCall   = agentErrors.Register("MODEL_CALL", errx.TypeExternal, "Model call failed")
)
