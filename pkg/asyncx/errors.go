package asyncx

import "github.com/Abraxas-365/rollout/pkg/errx"

var asyncxErrors = errx.NewRegistry("ASYNCX")

var (
	ErrRetryExhausted    = asyncxErrors.Register("RETRY_EXHAUSTED", errx.TypeExternal, "All retry attempts failed")
	ErrTaskPanic         = asyncxErrors.Register("TASK_PANIC", errx.TypeInternal, "Task panicked")
	ErrSupervisorClosed  = asyncxErrors.Register("SUPERVISOR_CLOSED", errx.TypeConflict, "Supervisor no longer accepts tasks")
	ErrSupervisorStopped = asyncxErrors.Register("SUPERVISOR_STOPPED", errx.TypeConflict, "Supervisor was stopped")
)
