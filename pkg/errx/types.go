package errx

// Type is the category of an error. Callers branch on the type, never on
// the message.
type Type string

const (
	// TypeInternal is an invariant violation or programming error.
	TypeInternal   Type = "INTERNAL"
	TypeValidation Type = "VALIDATION"
	TypeNotFound   Type = "NOT_FOUND"
	// TypeConflict covers state conflicts such as writing to a closed sink.
	TypeConflict Type = "CONFLICT"
	// TypeExternal is a collaborator failure that will not improve on retry.
	TypeExternal Type = "EXTERNAL"
	// TypeTransient is a collaborator failure that may succeed on retry:
	// network errors, timeouts, rate limits and 5xx responses.
	TypeTransient Type = "TRANSIENT"
	// TypeBudget is an exhausted or unsatisfiable rollout or token budget.
	TypeBudget Type = "BUDGET"
)

func (t Type) String() string {
	return string(t)
}

// IsTransient reports whether any *Error in err's chain has a retryable type.
func IsTransient(err error) bool {
	return IsType(err, TypeTransient)
}
