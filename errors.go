package lattice

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors for the access-control and limit taxonomy.
// Typed errors below all match their sentinel via errors.Is.
var (
	// ErrAccessDenied is returned when an operation-level or item-level
	// access rule denies the operation.
	ErrAccessDenied = errors.New("lattice: access denied")

	// ErrUserInput is returned for malformed filter, order-by or
	// unique-where inputs.
	ErrUserInput = errors.New("lattice: invalid user input")

	// ErrLimitsExceeded is returned when a result-size limit is violated.
	ErrLimitsExceeded = errors.New("lattice: limits exceeded")

	// ErrValidationFailed is returned when validation hooks report one
	// or more errors on a write.
	ErrValidationFailed = errors.New("lattice: validation failed")

	// ErrContract is returned when a schema definition violates an
	// engine contract. It indicates a defect in the schema, not bad
	// user input.
	ErrContract = errors.New("lattice: schema contract violation")
)

// AccessDeniedError indicates that an access rule denied the operation.
// For single-item writes and reads by unique key it is deliberately
// indistinguishable from the target not existing, to prevent existence
// probing.
type AccessDeniedError struct {
	entity string
	op     Op
	field  string
	gate   string
}

// Error returns the error string.
func (e *AccessDeniedError) Error() string {
	if e.field != "" {
		return fmt.Sprintf("lattice: you do not have access to perform %q on field %q of entity %q", e.gate, e.field, e.entity)
	}
	return fmt.Sprintf("lattice: you cannot perform the %q operation on entity %q", e.op, e.entity)
}

// Is reports whether the target error matches AccessDeniedError.
func (e *AccessDeniedError) Is(err error) bool {
	return err == ErrAccessDenied
}

// Entity returns the entity the operation was denied on.
func (e *AccessDeniedError) Entity() string { return e.entity }

// Op returns the denied operation kind.
func (e *AccessDeniedError) Op() Op { return e.op }

// NewAccessDeniedError returns a new AccessDeniedError for the given
// entity and operation.
func NewAccessDeniedError(entity string, op Op) *AccessDeniedError {
	return &AccessDeniedError{entity: entity, op: op}
}

// Field returns the field the access was denied on, if the denial came
// from a per-field filter or order-by gate.
func (e *AccessDeniedError) Field() string { return e.field }

// NewFieldAccessDeniedError returns an AccessDeniedError for a per-field
// filter or order-by authorization failure. gate is "filter" or
// "orderBy".
func NewFieldAccessDeniedError(entity, field, gate string) *AccessDeniedError {
	return &AccessDeniedError{entity: entity, field: field, gate: gate}
}

// IsAccessDenied returns true if the error is an AccessDeniedError.
func IsAccessDenied(err error) bool {
	if err == nil {
		return false
	}
	var e *AccessDeniedError
	return errors.As(err, &e) || errors.Is(err, ErrAccessDenied)
}

// UserInputError indicates a malformed input shape: an unknown field, a
// wrong key count in a unique-where or order-by element, or a null order
// direction. It is always surfaced, never silently coerced.
type UserInputError struct {
	msg string
}

// Error returns the error string.
func (e *UserInputError) Error() string {
	return fmt.Sprintf("lattice: %s", e.msg)
}

// Is reports whether the target error matches UserInputError.
func (e *UserInputError) Is(err error) bool {
	return err == ErrUserInput
}

// NewUserInputError returns a new UserInputError with the given message.
func NewUserInputError(format string, a ...any) *UserInputError {
	return &UserInputError{msg: fmt.Sprintf(format, a...)}
}

// IsUserInput returns true if the error is a UserInputError.
func IsUserInput(err error) bool {
	if err == nil {
		return false
	}
	var e *UserInputError
	return errors.As(err, &e) || errors.Is(err, ErrUserInput)
}

// Limit kinds carried by LimitsExceededError.
const (
	// LimitMaxResults is the per-call limit configured on an entity.
	LimitMaxResults = "maxResults"
	// LimitMaxTotalResults is the cumulative per-request limit.
	LimitMaxTotalResults = "maxTotalResults"
)

// LimitsExceededError indicates that a result-size limit was violated.
// It aborts the whole operation; no partial page is returned.
type LimitsExceededError struct {
	entity string
	kind   string
	limit  int
}

// Error returns the error string.
func (e *LimitsExceededError) Error() string {
	return fmt.Sprintf("lattice: your request exceeded the %s limit of %d on entity %q", e.kind, e.limit, e.entity)
}

// Is reports whether the target error matches LimitsExceededError.
func (e *LimitsExceededError) Is(err error) bool {
	return err == ErrLimitsExceeded
}

// Entity returns the entity whose query violated the limit.
func (e *LimitsExceededError) Entity() string { return e.entity }

// Kind returns which limit was violated: LimitMaxResults or
// LimitMaxTotalResults.
func (e *LimitsExceededError) Kind() string { return e.kind }

// Limit returns the configured limit value.
func (e *LimitsExceededError) Limit() int { return e.limit }

// NewLimitsExceededError returns a new LimitsExceededError.
func NewLimitsExceededError(entity, kind string, limit int) *LimitsExceededError {
	return &LimitsExceededError{entity: entity, kind: kind, limit: limit}
}

// IsLimitsExceeded returns true if the error is a LimitsExceededError.
func IsLimitsExceeded(err error) bool {
	if err == nil {
		return false
	}
	var e *LimitsExceededError
	return errors.As(err, &e) || errors.Is(err, ErrLimitsExceeded)
}

// ValidationError carries every error reported by validation hooks for a
// single write. All hook errors are collected before the write is
// aborted, so callers see the complete set, not just the first.
type ValidationError struct {
	entity string
	op     Op
	errs   []error
}

// Error returns the error string.
func (e *ValidationError) Error() string {
	if len(e.errs) == 1 {
		return fmt.Sprintf("lattice: %s %s failed validation: %v", e.op, e.entity, e.errs[0])
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "lattice: %s %s failed validation:", e.op, e.entity)
	for i, err := range e.errs {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Is reports whether the target error matches ValidationError.
func (e *ValidationError) Is(err error) bool {
	return err == ErrValidationFailed
}

// Unwrap returns the collected hook errors.
func (e *ValidationError) Unwrap() []error { return e.errs }

// Entity returns the entity the write was performed on.
func (e *ValidationError) Entity() string { return e.entity }

// Errors returns the collected hook errors.
func (e *ValidationError) Errors() []error { return e.errs }

// NewValidationError returns a ValidationError if errs contains at least
// one non-nil error, and nil otherwise.
func NewValidationError(entity string, op Op, errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	return &ValidationError{entity: entity, op: op, errs: filtered}
}

// IsValidation returns true if the error is a ValidationError.
func IsValidation(err error) bool {
	if err == nil {
		return false
	}
	var e *ValidationError
	return errors.As(err, &e) || errors.Is(err, ErrValidationFailed)
}

// ContractError indicates that a schema definition broke an engine
// contract, for example an order-by input resolver for a multi-column
// field returning more than one key. It fails loudly rather than
// silently dropping data.
type ContractError struct {
	msg string
}

// Error returns the error string.
func (e *ContractError) Error() string {
	return fmt.Sprintf("lattice: %s", e.msg)
}

// Is reports whether the target error matches ContractError.
func (e *ContractError) Is(err error) bool {
	return err == ErrContract
}

// NewContractError returns a new ContractError with the given message.
func NewContractError(format string, a ...any) *ContractError {
	return &ContractError{msg: fmt.Sprintf(format, a...)}
}

// IsContract returns true if the error is a ContractError.
func IsContract(err error) bool {
	if err == nil {
		return false
	}
	var e *ContractError
	return errors.As(err, &e) || errors.Is(err, ErrContract)
}
