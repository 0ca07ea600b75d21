package message

import "errors"

// Sentinel errors for message construction.
var (
	// ErrEmptyPropertyKey indicates a property key that is empty after trimming.
	ErrEmptyPropertyKey = errors.New("message: property key is empty")

	// ErrReservedProperty indicates an attempt to set a system property
	// through the application property bag.
	ErrReservedProperty = errors.New("message: reserved property")
)
