package domain

import (
	"errors"
	"fmt"
)

// Error kinds raised while constructing an invocation. None of them is
// retried: retries only apply to backend-side execution of a submitted task.
var (
	// ErrUsage: the API was used in an unsupported way.
	ErrUsage = errors.New("usage error")
	// ErrArgumentBinding: call arguments do not fit the function signature.
	ErrArgumentBinding = errors.New("argument binding error")
	// ErrValidation: a resolved value is out of bounds.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration: the execution context forbids the operation.
	ErrConfiguration = errors.New("configuration error")
)

// Error carries an error kind plus a human-readable message.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is matches the error kind sentinel.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Usagef(format string, args ...any) error {
	return &Error{Kind: ErrUsage, Msg: fmt.Sprintf(format, args...)}
}

func Bindingf(format string, args ...any) error {
	return &Error{Kind: ErrArgumentBinding, Msg: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

func Configurationf(format string, args ...any) error {
	return &Error{Kind: ErrConfiguration, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind sentinel of err, or nil when err is not one of the
// construction-time kinds.
func KindOf(err error) error {
	for _, kind := range []error{ErrUsage, ErrArgumentBinding, ErrValidation, ErrConfiguration} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// KindName returns a short label for metrics and logs.
func KindName(err error) string {
	switch KindOf(err) {
	case ErrUsage:
		return "usage"
	case ErrArgumentBinding:
		return "argument_binding"
	case ErrValidation:
		return "validation"
	case ErrConfiguration:
		return "configuration"
	}
	return "other"
}
