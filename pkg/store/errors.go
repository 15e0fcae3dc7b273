package store

import (
	"errors"
	"fmt"
)

// ErrNotFound reports a key the caller assumed to exist. It is a domain
// condition, often a legitimate "not yet" state, and is handled per call
// site rather than retried.
var ErrNotFound = errors.New("store: key not found")

// ErrLockMismatch reports a lock release whose stored token differs from
// the holder's token. It indicates a correctness bug (stolen or
// double-released lock) and must never be silently ignored.
var ErrLockMismatch = errors.New("store: lock token mismatch")

// ProtocolError reports a store response of an unexpected shape. Treated as
// a bug, never retried.
type ProtocolError struct {
	Op     string
	Key    string
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("store: protocol error in %s on %q: %s", e.Op, e.Key, e.Detail)
}
