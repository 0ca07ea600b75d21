package deviceio

import "errors"

// Sentinel errors for client operations.
var (
	// ErrNilCoordinator indicates NewClient was called without a coordinator.
	ErrNilCoordinator = errors.New("deviceio: nil coordinator")

	// ErrClientClosed indicates an operation on a closed client.
	ErrClientClosed = errors.New("deviceio: client closed")
)
