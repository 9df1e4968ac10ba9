package errx

import (
	"errors"
	"fmt"
)

// Error is a coded error with structured details. Details are for logs and
// HTTP responses; Error() prints only code, message and cause.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Type    Type                   `json:"type"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two *Error values by code so sentinel comparisons work
// through wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithDetail sets one detail and returns e for chaining.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithDetails merges details into e.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	for k, v := range details {
		e.WithDetail(k, v)
	}
	return e
}

// As is errors.As, re-exported so callers need a single import.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsType reports whether any *Error in err's chain has type t.
func IsType(err error, t Type) bool {
	return walk(err, func(e *Error) bool { return e.Type == t })
}

// HasCode reports whether any *Error in err's chain was built from code.
func HasCode(err error, code *ErrorCode) bool {
	if code == nil {
		return false
	}
	return walk(err, func(e *Error) bool { return e.Code == code.Code })
}

// walk visits every *Error in err's chain, including ones wrapped by
// fmt.Errorf between them, until match returns true.
func walk(err error, match func(*Error) bool) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if match(e) {
			return true
		}
		err = e.Err
	}
	return false
}
