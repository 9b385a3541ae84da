package store

import (
	"context"
	"sync"

	"github.com/getpup/docledger"
)

// MockStore is a configurable mock implementation of Store for use in tests.
// It allows setting up return values, tracking method calls, and injecting
// errors for testing error paths.
type MockStore struct {
	mu sync.RWMutex

	ExistsFunc           func(ctx context.Context, collection string) (bool, error)
	CreateFunc           func(ctx context.Context, collection string) error
	ApplySchemaFunc      func(ctx context.Context, collection string, fields []docledger.FieldSpec) error
	DropFunc             func(ctx context.Context, collection string) error
	CreateLockFunc       func(ctx context.Context, collection string, record docledger.LockRecord, visibility Visibility) error
	DeleteLockFunc       func(ctx context.Context, collection string, id string, visibility Visibility) error
	QueryLocksFunc       func(ctx context.Context, collection string) ([]docledger.LockRecord, error)
	MaxOrderExecutedFunc func(ctx context.Context, collection string) (float64, bool, error)
	PutEntryFunc         func(ctx context.Context, collection string, entry docledger.LedgerEntry, visibility Visibility) error
	GetEntryFunc         func(ctx context.Context, collection string, id string) (docledger.LedgerEntry, error)
	DeleteEntryFunc      func(ctx context.Context, collection string, id string, visibility Visibility) error
	UpdateCheckSumFunc   func(ctx context.Context, collection string, id string, checksum *docledger.CheckSum, visibility Visibility) error
	ClearCheckSumsFunc   func(ctx context.Context, collection string, visibility Visibility) error
	CountTagFunc         func(ctx context.Context, collection string, tag string) (int64, error)
	ListEntriesFunc      func(ctx context.Context, collection string) ([]docledger.LedgerEntry, error)
	LatestEntryIDFunc    func(ctx context.Context, collection string) (string, bool, error)
	SetTagFunc           func(ctx context.Context, collection string, id string, tag string, visibility Visibility) error

	// Call tracking
	ExistsCalls           []CollectionCall
	CreateCalls           []CollectionCall
	ApplySchemaCalls      []ApplySchemaCall
	DropCalls             []CollectionCall
	CreateLockCalls       []CreateLockCall
	DeleteLockCalls       []DocumentCall
	QueryLocksCalls       []CollectionCall
	MaxOrderExecutedCalls []CollectionCall
	PutEntryCalls         []PutEntryCall
	GetEntryCalls         []DocumentCall
	DeleteEntryCalls      []DocumentCall
	UpdateCheckSumCalls   []UpdateCheckSumCall
	ClearCheckSumsCalls   []DocumentCall
	CountTagCalls         []CountTagCall
	ListEntriesCalls      []CollectionCall
	LatestEntryIDCalls    []CollectionCall
	SetTagCalls           []SetTagCall
}

// Call tracking structs
type CollectionCall struct {
	Collection string
}

type ApplySchemaCall struct {
	Collection string
	Fields     []docledger.FieldSpec
}

type CreateLockCall struct {
	Collection string
	Record     docledger.LockRecord
	Visibility Visibility
}

type DocumentCall struct {
	Collection string
	ID         string
	Visibility Visibility
}

type PutEntryCall struct {
	Collection string
	Entry      docledger.LedgerEntry
	Visibility Visibility
}

type UpdateCheckSumCall struct {
	Collection string
	ID         string
	CheckSum   *docledger.CheckSum
	Visibility Visibility
}

type CountTagCall struct {
	Collection string
	Tag        string
}

type SetTagCall struct {
	Collection string
	ID         string
	Tag        string
	Visibility Visibility
}

// Compile-time check that MockStore implements Store.
var _ Store = (*MockStore)(nil)

// NewMockStore creates a new mock store.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// Exists implements RepositoryAdapter.
// Defaults to reporting a missing collection.
func (m *MockStore) Exists(ctx context.Context, collection string) (bool, error) {
	m.mu.Lock()
	m.ExistsCalls = append(m.ExistsCalls, CollectionCall{Collection: collection})
	m.mu.Unlock()

	if m.ExistsFunc != nil {
		return m.ExistsFunc(ctx, collection)
	}

	return false, nil
}

// Create implements RepositoryAdapter.
func (m *MockStore) Create(ctx context.Context, collection string) error {
	m.mu.Lock()
	m.CreateCalls = append(m.CreateCalls, CollectionCall{Collection: collection})
	m.mu.Unlock()

	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, collection)
	}

	return nil
}

// ApplySchema implements RepositoryAdapter.
func (m *MockStore) ApplySchema(ctx context.Context, collection string, fields []docledger.FieldSpec) error {
	m.mu.Lock()
	m.ApplySchemaCalls = append(m.ApplySchemaCalls, ApplySchemaCall{Collection: collection, Fields: fields})
	m.mu.Unlock()

	if m.ApplySchemaFunc != nil {
		return m.ApplySchemaFunc(ctx, collection, fields)
	}

	return nil
}

// Drop implements RepositoryAdapter.
func (m *MockStore) Drop(ctx context.Context, collection string) error {
	m.mu.Lock()
	m.DropCalls = append(m.DropCalls, CollectionCall{Collection: collection})
	m.mu.Unlock()

	if m.DropFunc != nil {
		return m.DropFunc(ctx, collection)
	}

	return nil
}

// CreateLock implements LockStore.
func (m *MockStore) CreateLock(ctx context.Context, collection string, record docledger.LockRecord, visibility Visibility) error {
	m.mu.Lock()
	m.CreateLockCalls = append(m.CreateLockCalls, CreateLockCall{
		Collection: collection,
		Record:     record,
		Visibility: visibility,
	})
	m.mu.Unlock()

	if m.CreateLockFunc != nil {
		return m.CreateLockFunc(ctx, collection, record, visibility)
	}

	return nil
}

// DeleteLock implements LockStore.
func (m *MockStore) DeleteLock(ctx context.Context, collection string, id string, visibility Visibility) error {
	m.mu.Lock()
	m.DeleteLockCalls = append(m.DeleteLockCalls, DocumentCall{Collection: collection, ID: id, Visibility: visibility})
	m.mu.Unlock()

	if m.DeleteLockFunc != nil {
		return m.DeleteLockFunc(ctx, collection, id, visibility)
	}

	return nil
}

// QueryLocks implements LockStore.
func (m *MockStore) QueryLocks(ctx context.Context, collection string) ([]docledger.LockRecord, error) {
	m.mu.Lock()
	m.QueryLocksCalls = append(m.QueryLocksCalls, CollectionCall{Collection: collection})
	m.mu.Unlock()

	if m.QueryLocksFunc != nil {
		return m.QueryLocksFunc(ctx, collection)
	}

	return nil, nil
}

// MaxOrderExecuted implements LedgerStore.
// Defaults to an empty ledger.
func (m *MockStore) MaxOrderExecuted(ctx context.Context, collection string) (float64, bool, error) {
	m.mu.Lock()
	m.MaxOrderExecutedCalls = append(m.MaxOrderExecutedCalls, CollectionCall{Collection: collection})
	m.mu.Unlock()

	if m.MaxOrderExecutedFunc != nil {
		return m.MaxOrderExecutedFunc(ctx, collection)
	}

	return 0, false, nil
}

// PutEntry implements LedgerStore.
func (m *MockStore) PutEntry(ctx context.Context, collection string, entry docledger.LedgerEntry, visibility Visibility) error {
	m.mu.Lock()
	m.PutEntryCalls = append(m.PutEntryCalls, PutEntryCall{Collection: collection, Entry: entry, Visibility: visibility})
	m.mu.Unlock()

	if m.PutEntryFunc != nil {
		return m.PutEntryFunc(ctx, collection, entry, visibility)
	}

	return nil
}

// GetEntry implements LedgerStore.
func (m *MockStore) GetEntry(ctx context.Context, collection string, id string) (docledger.LedgerEntry, error) {
	m.mu.Lock()
	m.GetEntryCalls = append(m.GetEntryCalls, DocumentCall{Collection: collection, ID: id})
	m.mu.Unlock()

	if m.GetEntryFunc != nil {
		return m.GetEntryFunc(ctx, collection, id)
	}

	return docledger.LedgerEntry{}, ErrEntryNotFound
}

// DeleteEntry implements LedgerStore.
func (m *MockStore) DeleteEntry(ctx context.Context, collection string, id string, visibility Visibility) error {
	m.mu.Lock()
	m.DeleteEntryCalls = append(m.DeleteEntryCalls, DocumentCall{Collection: collection, ID: id, Visibility: visibility})
	m.mu.Unlock()

	if m.DeleteEntryFunc != nil {
		return m.DeleteEntryFunc(ctx, collection, id, visibility)
	}

	return nil
}

// UpdateCheckSum implements LedgerStore.
func (m *MockStore) UpdateCheckSum(ctx context.Context, collection string, id string, checksum *docledger.CheckSum, visibility Visibility) error {
	m.mu.Lock()
	m.UpdateCheckSumCalls = append(m.UpdateCheckSumCalls, UpdateCheckSumCall{
		Collection: collection,
		ID:         id,
		CheckSum:   checksum,
		Visibility: visibility,
	})
	m.mu.Unlock()

	if m.UpdateCheckSumFunc != nil {
		return m.UpdateCheckSumFunc(ctx, collection, id, checksum, visibility)
	}

	return nil
}

// ClearCheckSums implements LedgerStore.
func (m *MockStore) ClearCheckSums(ctx context.Context, collection string, visibility Visibility) error {
	m.mu.Lock()
	m.ClearCheckSumsCalls = append(m.ClearCheckSumsCalls, DocumentCall{Collection: collection, Visibility: visibility})
	m.mu.Unlock()

	if m.ClearCheckSumsFunc != nil {
		return m.ClearCheckSumsFunc(ctx, collection, visibility)
	}

	return nil
}

// CountTag implements LedgerStore.
func (m *MockStore) CountTag(ctx context.Context, collection string, tag string) (int64, error) {
	m.mu.Lock()
	m.CountTagCalls = append(m.CountTagCalls, CountTagCall{Collection: collection, Tag: tag})
	m.mu.Unlock()

	if m.CountTagFunc != nil {
		return m.CountTagFunc(ctx, collection, tag)
	}

	return 0, nil
}

// ListEntries implements LedgerStore.
func (m *MockStore) ListEntries(ctx context.Context, collection string) ([]docledger.LedgerEntry, error) {
	m.mu.Lock()
	m.ListEntriesCalls = append(m.ListEntriesCalls, CollectionCall{Collection: collection})
	m.mu.Unlock()

	if m.ListEntriesFunc != nil {
		return m.ListEntriesFunc(ctx, collection)
	}

	return nil, nil
}

// LatestEntryID implements LedgerStore.
// Defaults to an empty ledger.
func (m *MockStore) LatestEntryID(ctx context.Context, collection string) (string, bool, error) {
	m.mu.Lock()
	m.LatestEntryIDCalls = append(m.LatestEntryIDCalls, CollectionCall{Collection: collection})
	m.mu.Unlock()

	if m.LatestEntryIDFunc != nil {
		return m.LatestEntryIDFunc(ctx, collection)
	}

	return "", false, nil
}

// SetTag implements LedgerStore.
func (m *MockStore) SetTag(ctx context.Context, collection string, id string, tag string, visibility Visibility) error {
	m.mu.Lock()
	m.SetTagCalls = append(m.SetTagCalls, SetTagCall{Collection: collection, ID: id, Tag: tag, Visibility: visibility})
	m.mu.Unlock()

	if m.SetTagFunc != nil {
		return m.SetTagFunc(ctx, collection, id, tag, visibility)
	}

	return nil
}

// CallCount returns the number of calls recorded for the named method.
func (m *MockStore) CallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch method {
	case "Exists":
		return len(m.ExistsCalls)
	case "Create":
		return len(m.CreateCalls)
	case "ApplySchema":
		return len(m.ApplySchemaCalls)
	case "Drop":
		return len(m.DropCalls)
	case "CreateLock":
		return len(m.CreateLockCalls)
	case "DeleteLock":
		return len(m.DeleteLockCalls)
	case "QueryLocks":
		return len(m.QueryLocksCalls)
	case "MaxOrderExecuted":
		return len(m.MaxOrderExecutedCalls)
	case "PutEntry":
		return len(m.PutEntryCalls)
	case "GetEntry":
		return len(m.GetEntryCalls)
	case "DeleteEntry":
		return len(m.DeleteEntryCalls)
	case "UpdateCheckSum":
		return len(m.UpdateCheckSumCalls)
	case "ClearCheckSums":
		return len(m.ClearCheckSumsCalls)
	case "CountTag":
		return len(m.CountTagCalls)
	case "ListEntries":
		return len(m.ListEntriesCalls)
	case "LatestEntryID":
		return len(m.LatestEntryIDCalls)
	case "SetTag":
		return len(m.SetTagCalls)
	default:
		return 0
	}
}

// Reset clears the call history.
func (m *MockStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ExistsCalls = nil
	m.CreateCalls = nil
	m.ApplySchemaCalls = nil
	m.DropCalls = nil
	m.CreateLockCalls = nil
	m.DeleteLockCalls = nil
	m.QueryLocksCalls = nil
	m.MaxOrderExecutedCalls = nil
	m.PutEntryCalls = nil
	m.GetEntryCalls = nil
	m.DeleteEntryCalls = nil
	m.UpdateCheckSumCalls = nil
	m.ClearCheckSumsCalls = nil
	m.CountTagCalls = nil
	m.ListEntriesCalls = nil
	m.LatestEntryIDCalls = nil
	m.SetTagCalls = nil
}
