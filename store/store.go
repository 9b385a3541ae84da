package store

import (
	"context"

	"github.com/getpup/docledger"
)

// Visibility controls when a write becomes visible to subsequent reads.
type Visibility int

const (
	// VisibilityDefault lets the store publish the write on its own schedule.
	VisibilityDefault Visibility = iota

	// VisibilityImmediate blocks the write until subsequent reads observe it.
	// OpenSearch implements this with refresh=wait_for.
	VisibilityImmediate
)

// String returns the name of the visibility level.
func (v Visibility) String() string {
	switch v {
	case VisibilityImmediate:
		return "immediate"
	default:
		return "default"
	}
}

// RepositoryAdapter manages the physical collections used by the services.
// Implementations must be safe for concurrent use.
type RepositoryAdapter interface {
	// Exists reports whether the collection exists.
	// A missing collection is not an error.
	Exists(ctx context.Context, collection string) (bool, error)

	// Create creates an empty collection.
	// Callers check Exists first.
	Create(ctx context.Context, collection string) error

	// ApplySchema declares the field types of the collection.
	// Must be idempotent: it runs on every process start.
	ApplySchema(ctx context.Context, collection string, fields []docledger.FieldSpec) error

	// Drop deletes the collection and everything in it.
	Drop(ctx context.Context, collection string) error
}

// LockStore persists the singleton lock record.
type LockStore interface {
	RepositoryAdapter

	// CreateLock creates the lock record.
	// Returns ErrConflict if a record with the same id already exists.
	// Never overwrites.
	CreateLock(ctx context.Context, collection string, record docledger.LockRecord, visibility Visibility) error

	// DeleteLock deletes the lock record by id.
	// Deleting a missing record is not an error.
	DeleteLock(ctx context.Context, collection string, id string, visibility Visibility) error

	// QueryLocks returns the lock records in the collection (0 or 1).
	QueryLocks(ctx context.Context, collection string) ([]docledger.LockRecord, error)
}

// LedgerStore persists ledger entries.
type LedgerStore interface {
	RepositoryAdapter

	// MaxOrderExecuted returns the maximum orderExecuted value.
	// ok is false when the ledger is empty.
	MaxOrderExecuted(ctx context.Context, collection string) (value float64, ok bool, err error)

	// PutEntry writes the entry under entry.ID, overwriting any existing entry.
	PutEntry(ctx context.Context, collection string, entry docledger.LedgerEntry, visibility Visibility) error

	// GetEntry returns the entry with the given id.
	// Returns ErrEntryNotFound if it does not exist.
	GetEntry(ctx context.Context, collection string, id string) (docledger.LedgerEntry, error)

	// DeleteEntry deletes the entry with the given id.
	// Deleting a missing entry is not an error.
	DeleteEntry(ctx context.Context, collection string, id string, visibility Visibility) error

	// UpdateCheckSum replaces only the checksum field of an existing entry.
	// Returns ErrEntryNotFound if it does not exist.
	UpdateCheckSum(ctx context.Context, collection string, id string, checksum *docledger.CheckSum, visibility Visibility) error

	// ClearCheckSums nulls the checksum of every entry in a single request.
	ClearCheckSums(ctx context.Context, collection string, visibility Visibility) error

	// CountTag returns the number of entries whose tag equals tag.
	CountTag(ctx context.Context, collection string, tag string) (int64, error)

	// ListEntries returns all entries in no particular order.
	ListEntries(ctx context.Context, collection string) ([]docledger.LedgerEntry, error)

	// LatestEntryID returns the id of the entry with the greatest executedAt.
	// ok is false when the ledger is empty.
	LatestEntryID(ctx context.Context, collection string) (id string, ok bool, err error)

	// SetTag sets the tag field of the entry with the given id.
	// Returns ErrEntryNotFound if it does not exist.
	SetTag(ctx context.Context, collection string, id string, tag string, visibility Visibility) error
}

// Store is a backend that serves both the lock and the ledger collections.
type Store interface {
	LockStore
	LedgerStore
}
