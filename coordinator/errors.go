package coordinator

import (
	"errors"
	"fmt"

	"github.com/getpup/docledger"
)

var (
	// ErrNoRollback is returned when a change set to roll back has no
	// rollback changes.
	ErrNoRollback = errors.New("change set has no rollback")

	// ErrUnknownChangeSet is returned when the ledger references a change set
	// that is missing from the change log.
	ErrUnknownChangeSet = errors.New("change set not found in change log")

	// ErrTagNotFound is returned when rolling back to a tag that no ledger
	// entry carries.
	ErrTagNotFound = errors.New("tag not found in ledger")
)

// ChecksumMismatchError is returned when an executed change set was modified
// and is not marked runOnChange.
type ChecksumMismatchError struct {
	ChangeSet string
	Stored    docledger.CheckSum
	Current   docledger.CheckSum
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("change set %s has changed since it ran: stored checksum %s, current checksum %s",
		e.ChangeSet, e.Stored, e.Current)
}
