package plan

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	errDefinition         = fmt.Errorf("DefinitionError")
	errBinding            = fmt.Errorf("BindingError")
	errPoolExhausted      = fmt.Errorf("PoolExhaustedError")
	errIncompatibleChange = fmt.Errorf("IncompatibleChangeError")
)

// DefinitionError creates a new definition error with a given error message.
// It signals malformed or self-inconsistent input and is always raised
// before any allocation is attempted.
func DefinitionError(format string, args ...interface{}) error {
	return errors.Wrapf(errDefinition, format, args...)
}

// IsDefinitionError checks if an error is a definition error.
func IsDefinitionError(e error) bool {
	return errors.Cause(e) == errDefinition
}

// BindingError creates a new binding error with a given error message.
// It signals a slot label that cannot be resolved to a pool or prior slot.
func BindingError(format string, args ...interface{}) error {
	return errors.Wrapf(errBinding, format, args...)
}

// IsBindingError checks if an error is a binding error.
func IsBindingError(e error) bool {
	return errors.Cause(e) == errBinding
}

// PoolExhaustedError creates a new pool exhausted error with a given error
// message. Retrying a deterministic computation with unchanged input cannot
// succeed, so this error is terminal.
func PoolExhaustedError(format string, args ...interface{}) error {
	return errors.Wrapf(errPoolExhausted, format, args...)
}

// IsPoolExhaustedError checks if an error is a pool exhausted error.
func IsPoolExhaustedError(e error) bool {
	return errors.Cause(e) == errPoolExhausted
}

// IncompatibleChangeError creates a new incompatible change error with a
// given error message. It is raised when an incremental run detects that a
// previously allocated slot changed or disappeared.
func IncompatibleChangeError(format string, args ...interface{}) error {
	return errors.Wrapf(errIncompatibleChange, format, args...)
}

// IsIncompatibleChangeError checks if an error is an incompatible change error.
func IsIncompatibleChangeError(e error) bool {
	return errors.Cause(e) == errIncompatibleChange
}
