package aiguard

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned for malformed or disallowed requests. Not retryable.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrStoreUnavailable is returned when storage fails. Callers must fail closed.
	ErrStoreUnavailable = errors.New("storage unavailable")

	// ErrUnknownFeature is returned for features without a policy
	ErrUnknownFeature = fmt.Errorf("%w: unknown feature", ErrInvalidRequest)

	// ErrRestrictionNotFound is returned when a restriction does not exist
	ErrRestrictionNotFound = errors.New("restriction not found")

	// ErrAppealNotFound is returned when an appeal does not exist
	ErrAppealNotFound = errors.New("appeal not found")

	// ErrViolationNotFound is returned when a violation does not exist
	ErrViolationNotFound = errors.New("violation not found")

	// ErrDuplicateAppeal is returned by storage when a pending appeal already
	// exists for the restriction
	ErrDuplicateAppeal = fmt.Errorf("%w: restriction already has a pending appeal", ErrInvalidRequest)

	// ErrAppealNotPending is returned by storage when resolving a decided appeal
	ErrAppealNotPending = fmt.Errorf("%w: appeal is not pending", ErrInvalidRequest)

	// ErrInvalidConfig is returned by Config.Validate
	ErrInvalidConfig = errors.New("invalid config")
)

// isDomainError reports whether err carries business meaning rather than a storage failure
func isDomainError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrRestrictionNotFound) ||
		errors.Is(err, ErrAppealNotFound) ||
		errors.Is(err, ErrViolationNotFound) ||
		errors.Is(err, ErrStoreUnavailable)
}

// storeError classifies a storage error. Anything that is not a domain error
// is reported as ErrStoreUnavailable while keeping the original cause.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
