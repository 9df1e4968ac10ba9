package toolx

import "github.com/Abraxas-365/rollout/pkg/errx"

var toolErrors = errx.NewRegistry("TOOLX")

var (
	ErrInvalidSpec   = toolErrors.Register("INVALID_SPEC", errx.TypeValidation, "Invalid tool definition")
	ErrDuplicateTool = toolErrors.Register("DUPLICATE_TOOL", errx.TypeConflict, "Tool name registered twice")
	ErrEndpoint      = toolErrors.Register("ENDPOINT", errx.TypeExternal, "Tool endpoint returned an error")
	ErrEndpointSpec  = toolErrors.Register("ENDPOINT_SPEC", errx.TypeValidation, "Malformed tool endpoint definition")
)
