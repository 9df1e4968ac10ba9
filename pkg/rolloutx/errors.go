package rolloutx

import "github.com/Abraxas-365/rollout/pkg/errx"

var rolloutErrors = errx.NewRegistry("ROLLOUTX")

var (
	ErrConfig   = rolloutErrors.Register("CONFIG", errx.TypeValidation, "Engine is missing a collaborator")
	ErrStalled  = rolloutErrors.Register("STALLED", errx.TypeTransient, "No rollout completed within the idle window")
	ErrSubmit   = rolloutErrors.Register("SUBMIT", errx.TypeInternal, "Failed to submit rollout task")
	ErrBranch   = rolloutErrors.Register("BRANCH", errx.TypeInternal, "Failed to schedule branch round")
	ErrDataset  = rolloutErrors.Register("DATASET", errx.TypeValidation, "Dataset could not be read")
	ErrNoInputs = rolloutErrors.Register("NO_INPUTS", errx.TypeValidation, "Dataset holds no questions")
)
