//go:build integration

package migrations_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/getpup/docledger"
	"github.com/getpup/docledger/pkg/migrations"
	"github.com/getpup/docledger/store"
	"github.com/getpup/docledger/store/sqlstore"
)

func applyAndExercise(t *testing.T, dialect sqlstore.Dialect, dsn string) {
	t.Helper()
	ctx := context.Background()

	config := migrations.Config{
		OutputFolder:   t.TempDir(),
		OutputFilename: dialect.Name + "_integration.sql",
		LedgerTable:    "docledger_it",
		LockTable:      "docledger_itlock",
	}

	db, err := sqlstore.Open(dialect, dsn)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	s := sqlstore.New(sqlstore.Config{DB: db, Dialect: dialect})
	for _, table := range []string{config.LedgerTable, config.LockTable} {
		if exists, _ := s.Exists(ctx, table); exists {
			if err := s.Drop(ctx, table); err != nil {
				t.Fatalf("Failed to drop leftover table %s: %v", table, err)
			}
		}
	}
	defer func() {
		_ = s.Drop(ctx, config.LedgerTable)
		_ = s.Drop(ctx, config.LockTable)
	}()

	for _, stmt := range migrations.Statements(migrations.GenerateSQL(dialect, &config)) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("Failed to execute %q: %v", stmt, err)
		}
	}

	if err := s.ApplySchema(ctx, config.LedgerTable, docledger.LedgerEntrySchema); err != nil {
		t.Fatalf("ApplySchema failed: %v", err)
	}

	lock := docledger.LockRecord{ID: docledger.LockRecordID, GrantedAt: time.Now().UTC(), LockedBy: "integration"}
	if err := s.CreateLock(ctx, config.LockTable, lock, store.VisibilityImmediate); err != nil {
		t.Fatalf("CreateLock failed: %v", err)
	}
	if err := s.CreateLock(ctx, config.LockTable, lock, store.VisibilityImmediate); err != store.ErrConflict {
		t.Errorf("Expected ErrConflict, got %v", err)
	}

	entry := docledger.LedgerEntry{
		ID:            "main.yaml::1::alice",
		Author:        "alice",
		CheckSum:      &docledger.CheckSum{Version: 9, Hash: "abc"},
		ExecutedAt:    time.Now().UTC().Truncate(time.Microsecond),
		ExecType:      docledger.ExecTypeExecuted,
		OrderExecuted: 1,
	}
	if err := s.PutEntry(ctx, config.LedgerTable, entry, store.VisibilityImmediate); err != nil {
		t.Fatalf("PutEntry failed: %v", err)
	}
	got, err := s.GetEntry(ctx, config.LedgerTable, entry.ID)
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	if !got.ExecutedAt.Equal(entry.ExecutedAt) || got.CheckSum == nil || got.CheckSum.Hash != "abc" {
		t.Errorf("Entry did not round trip: %+v", got)
	}
}

func TestIntegrationPostgres(t *testing.T) {
	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		t.Skip("POSTGRES_URL not set, skipping PostgreSQL integration test")
	}
	applyAndExercise(t, sqlstore.Postgres, dbURL)
}

func TestIntegrationMySQL(t *testing.T) {
	dbURL := os.Getenv("MYSQL_URL")
	if dbURL == "" {
		t.Skip("MYSQL_URL not set, skipping MySQL integration test")
	}
	applyAndExercise(t, sqlstore.MySQL, dbURL+"?parseTime=true")
}
