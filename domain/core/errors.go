package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Not found errors
	ErrNotFound      = errors.New("resource not found")
	ErrStudyNotFound = fmt.Errorf("%w: study", ErrNotFound)

	// Configuration errors
	ErrUnsupportedShape  = errors.New("unsupported shape family")
	ErrMissingParameter  = errors.New("missing shape parameter")
	ErrMalformedChannel  = errors.New("malformed channel")
	ErrComponentMismatch = errors.New("components and yields differ in length")
	ErrInvalidRegion     = errors.New("invalid region layout")

	// Statistical errors
	ErrDegenerateShape  = errors.New("shape does not normalize over the full range")
	ErrSamplingFailure  = errors.New("sampling failure")
	ErrFitFailed        = errors.New("fit failed")
	ErrInsufficientData = errors.New("insufficient data for fit")

	// Determinism errors
	ErrSeedMismatch = errors.New("seed mismatch")
	ErrHashMismatch = errors.New("hash mismatch")
)

// Error constructors with context
func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

func NewValidationError(field string, reason string) error {
	return fmt.Errorf("validation failed for %s: %s", field, reason)
}

// UnsupportedShapeError names the family that no builder exists for.
type UnsupportedShapeError struct {
	Family string
}

func (e *UnsupportedShapeError) Error() string {
	return fmt.Sprintf("%v: %q", ErrUnsupportedShape, e.Family)
}

func (e *UnsupportedShapeError) Unwrap() error { return ErrUnsupportedShape }

func NewMissingParameterError(family, role string) error {
	return fmt.Errorf("%w: family %s requires %q", ErrMissingParameter, family, role)
}

func NewSamplingError(reason string) error {
	return fmt.Errorf("%w: %s", ErrSamplingFailure, reason)
}

// Error checking helpers
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConfigurationError reports errors that must abort a study before any trial runs.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrUnsupportedShape) ||
		errors.Is(err, ErrMissingParameter) ||
		errors.Is(err, ErrMalformedChannel) ||
		errors.Is(err, ErrComponentMismatch) ||
		errors.Is(err, ErrInvalidRegion) ||
		errors.Is(err, ErrDegenerateShape)
}

func IsDeterminismError(err error) bool {
	return errors.Is(err, ErrSeedMismatch) ||
		errors.Is(err, ErrHashMismatch)
}
