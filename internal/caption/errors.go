package caption

import "errors"

// ErrNotFound is returned by lookups for ids that are not in the buffer.
var ErrNotFound = errors.New("segment not found")
