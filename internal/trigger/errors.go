package trigger

import "errors"

var (
	// ErrInvalidArgument flags bad or missing arguments, rejected before
	// any side effect.
	ErrInvalidArgument = errors.New("trigger: invalid argument")

	ErrNotFound = errors.New("trigger: not found")

	// ErrDuplicateName is returned when a trigger name is already taken
	// within the scope.
	ErrDuplicateName = errors.New("trigger: name already in use within scope")

	ErrSameStartEnd   = errors.New("trigger: start and end times are equal")
	ErrEndBeforeStart = errors.New("trigger: end time precedes start time")

	// ErrUnknownProperty is returned when a supplied property name is not
	// declared by the referenced trigger definition.
	ErrUnknownProperty = errors.New("trigger: property not declared by definition")

	// ErrPropertyTypeMismatch is returned when a supplied property's type
	// differs from the declared one.
	ErrPropertyTypeMismatch = errors.New("trigger: property type mismatch")
)
