package memoryx

import "github.com/Abraxas-365/rollout/pkg/errx"

var memoryErrors = errx.NewRegistry("MEMORYX")

var (
	ErrStepOrder      = memoryErrors.Register("STEP_ORDER", errx.TypeValidation, "Step must start after the current max turn")
	ErrInvalidRange   = memoryErrors.Register("INVALID_RANGE", errx.TypeValidation, "Range end precedes its start")
	ErrEmptyFoldRange = memoryErrors.Register("EMPTY_FOLD_RANGE", errx.TypeValidation, "No steps start inside the fold range")
	ErrFoldSplitsStep = memoryErrors.Register("FOLD_SPLITS_STEP", errx.TypeValidation, "Fold range cuts through an existing step")
	ErrDigestFailed   = memoryErrors.Register("DIGEST_FAILED", errx.TypeExternal, "Could not produce a compaction digest")
	ErrTokenizer      = memoryErrors.Register("TOKENIZER", errx.TypeValidation, "Unknown or unloadable tokenizer")
)
