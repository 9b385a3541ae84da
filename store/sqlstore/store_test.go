package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/getpup/docledger"
	"github.com/getpup/docledger/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const (
	ledgerTable = "databasechangelog"
	lockTable   = "databasechangeloglock"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()

	db, err := Open(SQLite, "file:"+filepath.Join(t.TempDir(), "ledger.db")+"?_busy_timeout=5000")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	return New(Config{DB: db, Dialect: SQLite})
}

func newInitializedStore(t *testing.T) *Store {
	t.Helper()
	s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, ledgerTable))
	require.NoError(t, s.ApplySchema(ctx, ledgerTable, docledger.LedgerEntrySchema))
	require.NoError(t, s.Create(ctx, lockTable))
	require.NoError(t, s.ApplySchema(ctx, lockTable, docledger.LockRecordSchema))
	return s
}

func sampleEntry(id string, order int, executedAt time.Time) docledger.LedgerEntry {
	return docledger.LedgerEntry{
		ID:                  id,
		ChangeLogPath:       "changelog/main.yaml",
		StoredChangeLogPath: "main.yaml",
		Author:              "alice",
		CheckSum:            &docledger.CheckSum{Version: 9, Hash: "abc" + id},
		ExecutedAt:          executedAt.UTC(),
		ExecType:            docledger.ExecTypeExecuted,
		Description:         "create index",
		Comments:            "first",
		OrderExecuted:       order,
		ContextExpression:   docledger.ParseContextExpression("dev, test"),
		Labels:              "core",
		DeploymentID:        "dep-1",
		ToolVersion:         "docledger",
	}
}

func TestNew_DefaultsToPostgres(t *testing.T) {
	s := New(Config{})
	assert.Equal(t, "postgres", s.dialect.Name)
}

func TestExistsCreateDrop(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	exists, err := s.Exists(ctx, ledgerTable)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.Create(ctx, ledgerTable))

	exists, err = s.Exists(ctx, ledgerTable)
	require.NoError(t, err)
	assert.True(t, exists)

	assert.Error(t, s.Create(ctx, ledgerTable))

	require.NoError(t, s.Drop(ctx, ledgerTable))
	err = s.Drop(ctx, ledgerTable)
	assert.ErrorIs(t, err, store.ErrCollectionNotFound)
}

func TestInvalidCollectionName(t *testing.T) {
	s := newSQLiteStore(t)

	_, err := s.Exists(context.Background(), "bad;name")
	assert.Error(t, err)

	err = s.Create(context.Background(), "1table")
	assert.Error(t, err)
}

func TestApplySchema_AddsMissingColumnsOnly(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, ledgerTable))

	require.NoError(t, s.ApplySchema(ctx, ledgerTable, docledger.LedgerEntrySchema))
	require.NoError(t, s.ApplySchema(ctx, ledgerTable, docledger.LedgerEntrySchema), "second apply must be a no-op")

	cols, err := s.columns(ctx, ledgerTable)
	require.NoError(t, err)
	assert.True(t, cols["checksum_version"])
	assert.True(t, cols["context_expression_contexts"])
	assert.True(t, cols["order_executed"])
	assert.Len(t, cols, len(ledgerColumns))

	err = s.ApplySchema(ctx, "missing", docledger.LockRecordSchema)
	assert.ErrorIs(t, err, store.ErrCollectionNotFound)
}

func TestCreateLock_Conflict(t *testing.T) {
	s := newInitializedStore(t)
	ctx := context.Background()
	granted := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateLock(ctx, lockTable, docledger.LockRecord{
		ID: docledger.LockRecordID, GrantedAt: granted, LockedBy: "host-a (10.0.0.1)",
	}, store.VisibilityImmediate))

	err := s.CreateLock(ctx, lockTable, docledger.LockRecord{ID: docledger.LockRecordID, LockedBy: "host-b"}, store.VisibilityImmediate)
	assert.ErrorIs(t, err, store.ErrConflict)

	locks, err := s.QueryLocks(ctx, lockTable)
	require.NoError(t, err)
	require.Len(t, locks, 1)
	assert.Equal(t, "host-a (10.0.0.1)", locks[0].LockedBy)
	assert.True(t, granted.Equal(locks[0].GrantedAt))
}

func TestCreateLock_ConcurrentSingleWinner(t *testing.T) {
	s := newInitializedStore(t)
	ctx := context.Background()

	const callers = 8
	results := make([]error, callers)
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		i := i
		g.Go(func() error {
			results[i] = s.CreateLock(ctx, lockTable, docledger.LockRecord{
				ID: docledger.LockRecordID, GrantedAt: time.Now().UTC(), LockedBy: "caller",
			}, store.VisibilityImmediate)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
			continue
		}
		assert.ErrorIs(t, err, store.ErrConflict)
	}
	assert.Equal(t, 1, winners)
}

func TestDeleteLock(t *testing.T) {
	s := newInitializedStore(t)
	ctx := context.Background()

	require.NoError(t, s.DeleteLock(ctx, lockTable, docledger.LockRecordID, store.VisibilityImmediate))
	require.NoError(t, s.CreateLock(ctx, lockTable, docledger.LockRecord{ID: docledger.LockRecordID, GrantedAt: time.Now()}, store.VisibilityImmediate))
	require.NoError(t, s.DeleteLock(ctx, lockTable, docledger.LockRecordID, store.VisibilityImmediate))

	locks, err := s.QueryLocks(ctx, lockTable)
	require.NoError(t, err)
	assert.Empty(t, locks)
}

func TestQueryLocks_MissingTable(t *testing.T) {
	s := newSQLiteStore(t)

	_, err := s.QueryLocks(context.Background(), lockTable)
	assert.ErrorIs(t, err, store.ErrCollectionNotFound)
}

func TestPutAndGetEntry_RoundTripsAllFields(t *testing.T) {
	s := newInitializedStore(t)
	ctx := context.Background()
	executed := time.Date(2024, 3, 1, 12, 30, 15, 123456000, time.UTC)

	want := sampleEntry("main.yaml::1::alice", 4, executed)
	want.Tag = "v1"
	require.NoError(t, s.PutEntry(ctx, ledgerTable, want, store.VisibilityImmediate))

	got, err := s.GetEntry(ctx, ledgerTable, want.ID)
	require.NoError(t, err)
	assert.True(t, want.ExecutedAt.Equal(got.ExecutedAt))
	got.ExecutedAt = want.ExecutedAt
	assert.Equal(t, want, got)
}

func TestPutEntry_NilChecksumAndOverwrite(t *testing.T) {
	s := newInitializedStore(t)
	ctx := context.Background()
	now := time.Now()

	e := sampleEntry("a", 1, now)
	e.CheckSum = nil
	require.NoError(t, s.PutEntry(ctx, ledgerTable, e, store.VisibilityImmediate))

	got, err := s.GetEntry(ctx, ledgerTable, "a")
	require.NoError(t, err)
	assert.Nil(t, got.CheckSum)

	e.ExecType = docledger.ExecTypeReran
	e.CheckSum = &docledger.CheckSum{Version: 8, Hash: "x"}
	require.NoError(t, s.PutEntry(ctx, ledgerTable, e, store.VisibilityImmediate))

	got, err = s.GetEntry(ctx, ledgerTable, "a")
	require.NoError(t, err)
	assert.Equal(t, docledger.ExecTypeReran, got.ExecType)
	require.NotNil(t, got.CheckSum)
	assert.Equal(t, "x", got.CheckSum.Hash)

	entries, err := s.ListEntries(ctx, ledgerTable)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestGetEntry_NotFound(t *testing.T) {
	s := newInitializedStore(t)

	_, err := s.GetEntry(context.Background(), ledgerTable, "missing")
	assert.ErrorIs(t, err, store.ErrEntryNotFound)
}

func TestMaxOrderExecuted(t *testing.T) {
	s := newInitializedStore(t)
	ctx := context.Background()

	_, ok, err := s.MaxOrderExecuted(ctx, ledgerTable)
	require.NoError(t, err)
	assert.False(t, ok)

	for i, order := range []int{5, 9, 3} {
		require.NoError(t, s.PutEntry(ctx, ledgerTable, sampleEntry(string(rune('a'+i)), order, time.Now()), store.VisibilityImmediate))
	}

	max, ok, err := s.MaxOrderExecuted(ctx, ledgerTable)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, float64(9), max)
}

func TestUpdateCheckSum(t *testing.T) {
	s := newInitializedStore(t)
	ctx := context.Background()

	e := sampleEntry("a", 7, time.Now())
	e.Tag = "v1"
	require.NoError(t, s.PutEntry(ctx, ledgerTable, e, store.VisibilityImmediate))

	require.NoError(t, s.UpdateCheckSum(ctx, ledgerTable, "a", &docledger.CheckSum{Version: 8, Hash: "new"}, store.VisibilityImmediate))
	require.NoError(t, s.UpdateCheckSum(ctx, ledgerTable, "a", &docledger.CheckSum{Version: 8, Hash: "new"}, store.VisibilityImmediate),
		"an unchanged update is not a missing row")

	got, err := s.GetEntry(ctx, ledgerTable, "a")
	require.NoError(t, err)
	require.NotNil(t, got.CheckSum)
	assert.Equal(t, docledger.CheckSum{Version: 8, Hash: "new"}, *got.CheckSum)
	assert.Equal(t, "v1", got.Tag)
	assert.Equal(t, 7, got.OrderExecuted)

	err = s.UpdateCheckSum(ctx, ledgerTable, "missing", &docledger.CheckSum{Version: 9, Hash: "h"}, store.VisibilityImmediate)
	assert.ErrorIs(t, err, store.ErrEntryNotFound)
}

func TestClearCheckSums(t *testing.T) {
	s := newInitializedStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		require.NoError(t, s.PutEntry(ctx, ledgerTable, sampleEntry(id, 1, time.Now()), store.VisibilityImmediate))
	}
	require.NoError(t, s.ClearCheckSums(ctx, ledgerTable, store.VisibilityImmediate))

	entries, err := s.ListEntries(ctx, ledgerTable)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Nil(t, e.CheckSum)
		assert.Equal(t, "alice", e.Author)
	}
}

func TestTags(t *testing.T) {
	s := newInitializedStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutEntry(ctx, ledgerTable, sampleEntry("a", 1, time.Now()), store.VisibilityImmediate))

	n, err := s.CountTag(ctx, ledgerTable, "release-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	require.NoError(t, s.SetTag(ctx, ledgerTable, "a", "release-1", store.VisibilityImmediate))

	n, err = s.CountTag(ctx, ledgerTable, "release-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	err = s.SetTag(ctx, ledgerTable, "missing", "release-1", store.VisibilityImmediate)
	assert.ErrorIs(t, err, store.ErrEntryNotFound)
}

func TestLatestEntryID_TieGoesToHigherOrder(t *testing.T) {
	s := newInitializedStore(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, e := range []docledger.LedgerEntry{sampleEntry("b", 2, at), sampleEntry("c", 3, at), sampleEntry("a", 1, at)} {
		require.NoError(t, s.PutEntry(ctx, ledgerTable, e, store.VisibilityImmediate))
	}

	id, ok, err := s.LatestEntryID(ctx, ledgerTable)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "c", id)
}

func TestLatestEntryIDAndDelete(t *testing.T) {
	s := newInitializedStore(t)
	ctx := context.Background()
	now := time.Now()

	_, ok, err := s.LatestEntryID(ctx, ledgerTable)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutEntry(ctx, ledgerTable, sampleEntry("old", 3, now.Add(-time.Hour)), store.VisibilityImmediate))
	require.NoError(t, s.PutEntry(ctx, ledgerTable, sampleEntry("new", 1, now), store.VisibilityImmediate))

	id, ok, err := s.LatestEntryID(ctx, ledgerTable)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "new", id)

	require.NoError(t, s.DeleteEntry(ctx, ledgerTable, "new", store.VisibilityImmediate))
	require.NoError(t, s.DeleteEntry(ctx, ledgerTable, "new", store.VisibilityImmediate))

	id, _, err = s.LatestEntryID(ctx, ledgerTable)
	require.NoError(t, err)
	assert.Equal(t, "old", id)
}
