package store

import "errors"

var (
	// ErrConflict indicates a document with the same id already exists.
	// For the lock collection this is the signal that another process holds the lock.
	ErrConflict = errors.New("document already exists")

	// ErrEntryNotFound indicates the ledger has no entry with the requested id.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrCollectionNotFound indicates the collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")
)
