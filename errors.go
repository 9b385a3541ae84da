package docledger

import (
	"fmt"
	"time"
)

// UnknownLockHolder is reported when the current lock holder cannot be read.
const UnknownLockHolder = "UNKNOWN"

// RepositoryError wraps a failure to inspect, create, adjust or drop a collection.
type RepositoryError struct {
	Op         string
	Collection string
	Err        error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// LockError wraps a transport failure of the lock service.
type LockError struct {
	Op  string
	Err error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("change log lock %s: %v", e.Op, e.Err)
}

func (e *LockError) Unwrap() error {
	return e.Err
}

// LedgerError wraps a transport failure of the ledger service.
type LedgerError struct {
	Op  string
	Err error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// LockTimeoutError is returned when the lock could not be acquired within the
// wait budget.
type LockTimeoutError struct {
	// LockedBy is the identity of the current holder, or UnknownLockHolder.
	LockedBy string

	// GrantedAt is when the holder acquired the lock. Zero if unknown.
	GrantedAt time.Time

	// Waited is the wait budget that was exhausted.
	Waited time.Duration

	// RetryAfter is the poll interval used while waiting.
	RetryAfter time.Duration
}

func (e *LockTimeoutError) Error() string {
	holder := e.LockedBy
	if holder == "" {
		holder = UnknownLockHolder
	}
	if !e.GrantedAt.IsZero() {
		holder = fmt.Sprintf("%s since %s", holder, e.GrantedAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("could not acquire change log lock after %s (polled every %s): currently locked by %s",
		e.Waited, e.RetryAfter, holder)
}
