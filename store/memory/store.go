package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/getpup/docledger"
	"github.com/getpup/docledger/store"
)

// collection holds JSON encoded documents keyed by id.
type collection struct {
	fields []docledger.FieldSpec
	docs   map[string][]byte
}

// Store is an in-memory implementation of store.Store.
// It provides thread-safe access using a sync.RWMutex. Documents are stored
// encoded so callers never share memory with the store, and every write is
// immediately visible regardless of the requested visibility.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// New creates a new in-memory store with no collections.
func New() *Store {
	return &Store{
		collections: make(map[string]*collection),
	}
}

// Exists reports whether the collection exists.
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.collections[name]
	return ok, nil
}

// Create creates an empty collection. Creating an existing collection fails,
// matching document stores that reject duplicate index creation.
func (s *Store) Create(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[name]; ok {
		return fmt.Errorf("collection %q already exists", name)
	}
	s.collections[name] = &collection{docs: make(map[string][]byte)}
	return nil
}

// ApplySchema records the field declarations of the collection.
func (s *Store) ApplySchema(ctx context.Context, name string, fields []docledger.FieldSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.get(name)
	if err != nil {
		return err
	}
	c.fields = append([]docledger.FieldSpec(nil), fields...)
	return nil
}

// Schema returns the fields last applied to the collection.
func (s *Store) Schema(name string) []docledger.FieldSpec {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.collections[name]; ok && c.fields != nil {
		return append([]docledger.FieldSpec(nil), c.fields...)
	}
	return nil
}

// Drop deletes the collection.
func (s *Store) Drop(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[name]; !ok {
		return fmt.Errorf("failed to drop %q: %w", name, store.ErrCollectionNotFound)
	}
	delete(s.collections, name)
	return nil
}

// CreateLock stores the lock record unless one with the same id exists.
func (s *Store) CreateLock(ctx context.Context, name string, record docledger.LockRecord, _ store.Visibility) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.get(name)
	if err != nil {
		return err
	}
	if _, ok := c.docs[record.ID]; ok {
		return store.ErrConflict
	}
	return put(c, record.ID, record)
}

// DeleteLock removes the lock record. Missing records are ignored.
func (s *Store) DeleteLock(ctx context.Context, name string, id string, _ store.Visibility) error {
	return s.deleteDoc(name, id)
}

// QueryLocks returns every lock record in the collection.
func (s *Store) QueryLocks(ctx context.Context, name string) ([]docledger.LockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.get(name)
	if err != nil {
		return nil, err
	}

	locks := make([]docledger.LockRecord, 0, len(c.docs))
	for _, raw := range c.docs {
		var rec docledger.LockRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode lock record: %w", err)
		}
		locks = append(locks, rec)
	}
	return locks, nil
}

// MaxOrderExecuted returns the highest orderExecuted in the ledger.
func (s *Store) MaxOrderExecuted(ctx context.Context, name string) (float64, bool, error) {
	entries, err := s.ListEntries(ctx, name)
	if err != nil {
		return 0, false, err
	}
	if len(entries) == 0 {
		return 0, false, nil
	}

	max := entries[0].OrderExecuted
	for _, e := range entries[1:] {
		if e.OrderExecuted > max {
			max = e.OrderExecuted
		}
	}
	return float64(max), true, nil
}

// PutEntry writes the entry, overwriting any entry with the same id.
func (s *Store) PutEntry(ctx context.Context, name string, entry docledger.LedgerEntry, _ store.Visibility) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.get(name)
	if err != nil {
		return err
	}
	return put(c, entry.ID, entry)
}

// GetEntry returns the entry with the given id.
func (s *Store) GetEntry(ctx context.Context, name string, id string) (docledger.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.get(name)
	if err != nil {
		return docledger.LedgerEntry{}, err
	}
	return getEntry(c, id)
}

// DeleteEntry removes the entry. Missing entries are ignored.
func (s *Store) DeleteEntry(ctx context.Context, name string, id string, _ store.Visibility) error {
	return s.deleteDoc(name, id)
}

// UpdateCheckSum replaces the checksum of an existing entry.
func (s *Store) UpdateCheckSum(ctx context.Context, name string, id string, checksum *docledger.CheckSum, _ store.Visibility) error {
	return s.update(name, id, func(e *docledger.LedgerEntry) {
		if checksum == nil {
			e.CheckSum = nil
			return
		}
		cs := *checksum
		e.CheckSum = &cs
	})
}

// ClearCheckSums nulls the checksum of every entry.
func (s *Store) ClearCheckSums(ctx context.Context, name string, _ store.Visibility) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.get(name)
	if err != nil {
		return err
	}
	for id := range c.docs {
		entry, err := getEntry(c, id)
		if err != nil {
			return err
		}
		entry.CheckSum = nil
		if err := put(c, id, entry); err != nil {
			return err
		}
	}
	return nil
}

// CountTag counts entries whose tag equals tag.
func (s *Store) CountTag(ctx context.Context, name string, tag string) (int64, error) {
	entries, err := s.ListEntries(ctx, name)
	if err != nil {
		return 0, err
	}

	var n int64
	for _, e := range entries {
		if e.Tag == tag {
			n++
		}
	}
	return n, nil
}

// ListEntries returns every entry in the ledger in no particular order.
func (s *Store) ListEntries(ctx context.Context, name string) ([]docledger.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.get(name)
	if err != nil {
		return nil, err
	}

	entries := make([]docledger.LedgerEntry, 0, len(c.docs))
	for id := range c.docs {
		entry, err := getEntry(c, id)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// LatestEntryID returns the id of the most recently executed entry.
func (s *Store) LatestEntryID(ctx context.Context, name string) (string, bool, error) {
	entries, err := s.ListEntries(ctx, name)
	if err != nil {
		return "", false, err
	}
	if len(entries) == 0 {
		return "", false, nil
	}

	latest := entries[0]
	for _, e := range entries[1:] {
		if e.ExecutedAt.After(latest.ExecutedAt) ||
			(e.ExecutedAt.Equal(latest.ExecutedAt) && e.OrderExecuted > latest.OrderExecuted) {
			latest = e
		}
	}
	return latest.ID, true, nil
}

// SetTag sets the tag of an existing entry.
func (s *Store) SetTag(ctx context.Context, name string, id string, tag string, _ store.Visibility) error {
	return s.update(name, id, func(e *docledger.LedgerEntry) {
		e.Tag = tag
	})
}

// get returns the named collection. Callers must hold s.mu.
func (s *Store) get(name string) (*collection, error) {
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, store.ErrCollectionNotFound)
	}
	return c, nil
}

func (s *Store) deleteDoc(name string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.get(name)
	if err != nil {
		return err
	}
	delete(c.docs, id)
	return nil
}

func (s *Store) update(name string, id string, fn func(*docledger.LedgerEntry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.get(name)
	if err != nil {
		return err
	}
	entry, err := getEntry(c, id)
	if err != nil {
		return err
	}
	fn(&entry)
	return put(c, id, entry)
}

func put(c *collection, id string, doc interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", id, err)
	}
	c.docs[id] = raw
	return nil
}

func getEntry(c *collection, id string) (docledger.LedgerEntry, error) {
	raw, ok := c.docs[id]
	if !ok {
		return docledger.LedgerEntry{}, store.ErrEntryNotFound
	}
	var entry docledger.LedgerEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return docledger.LedgerEntry{}, fmt.Errorf("failed to decode ledger entry %s: %w", id, err)
	}
	return entry, nil
}
