package ledger

import "errors"

// ErrNotFound is returned when no delivery exists for a message id.
var ErrNotFound = errors.New("ledger: delivery not found")
