package errx

import (
	"fmt"
	"sync"
)

// ErrorCode is a registered code. Errors built from it carry the prefixed
// Code, so HasCode and errors.Is match across wrapping.
type ErrorCode struct {
	Code    string
	Type    Type
	Message string
}

// Registry owns the codes of one package. Each package keeps a single
// registry in a package-level var and registers its codes at init.
type Registry struct {
	prefix string
	mu     sync.Mutex
	codes  map[string]struct{}
}

// NewRegistry creates a registry whose codes are prefixed with prefix.
func NewRegistry(prefix string) *Registry {
	return &Registry{prefix: prefix, codes: make(map[string]struct{})}
}

// Register defines a new code. Registering the same code twice panics,
// since both call sites would produce indistinguishable errors.
func (r *Registry) Register(code string, errType Type, message string) *ErrorCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.codes[code]; dup {
		panic(fmt.Sprintf("errx: %s_%s registered twice", r.prefix, code))
	}
	r.codes[code] = struct{}{}
	return &ErrorCode{Code: r.prefix + "_" + code, Type: errType, Message: message}
}

// New builds an error carrying code's default message.
func (r *Registry) New(code *ErrorCode) *Error {
	return build(code, code.Message, nil)
}

// NewWithMessage builds an error with message in place of the default.
func (r *Registry) NewWithMessage(code *ErrorCode, message string) *Error {
	return build(code, message, nil)
}

// NewWithCause builds an error wrapping cause.
func (r *Registry) NewWithCause(code *ErrorCode, cause error) *Error {
	return build(code, code.Message, cause)
}

func build(code *ErrorCode, message string, cause error) *Error {
	return &Error{Code: code.Code, Message: message, Type: code.Type, Err: cause}
}
