// Package sqlstore implements store.Store on SQL databases.
//
// Each collection is a table with one column per leaf field of its schema.
// Object fields are flattened into parent_child columns and repeated fields
// are stored as JSON text.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/getpup/docledger"
	"github.com/getpup/docledger/store"
	"github.com/getpup/pupsourcing/es"
)

var (
	lockColumns   = Columns(docledger.LockRecordSchema)
	ledgerColumns = Columns(docledger.LedgerEntrySchema)
)

// Config configures the SQL store.
type Config struct {
	// DB is the database handle. Required.
	DB *sql.DB

	// Dialect selects the SQL flavour. Default: Postgres.
	Dialect Dialect

	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger
}

// Store is a SQL implementation of store.Store.
// All writes are visible to subsequent reads once they return, so the
// requested visibility is ignored.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  es.Logger
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// New creates a new SQL store.
func New(cfg Config) *Store {
	if cfg.Dialect.Name == "" {
		cfg.Dialect = Postgres
	}
	return &Store{
		db:      cfg.DB,
		dialect: cfg.Dialect,
		logger:  cfg.Logger,
	}
}

// Open opens a database handle for the dialect.
func Open(dialect Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(dialect.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect.Name, err)
	}
	return db, nil
}

// Exists reports whether the collection table exists.
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	if err := ValidateIdentifier(name, "collection"); err != nil {
		return false, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, s.dialect.existsQuery, name).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", name, err)
	}
	return n > 0, nil
}

// Create creates the collection table with its id primary key.
func (s *Store) Create(ctx context.Context, name string) error {
	if err := ValidateIdentifier(name, "collection"); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.CreateTableSQL(name)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", name, err)
	}
	if s.logger != nil {
		s.logger.Info(ctx, "created table", "table", name, "dialect", s.dialect.Name)
	}
	return nil
}

// ApplySchema adds the columns of fields that the table does not have yet.
// Existing columns are never altered.
func (s *Store) ApplySchema(ctx context.Context, name string, fields []docledger.FieldSpec) error {
	existing, err := s.columns(ctx, name)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return fmt.Errorf("table %s: %w", name, store.ErrCollectionNotFound)
	}

	for _, c := range Columns(fields) {
		if existing[c.Name] {
			continue
		}
		if _, err := s.db.ExecContext(ctx, s.dialect.AddColumnSQL(name, c)); err != nil {
			return fmt.Errorf("failed to add column %s to %s: %w", c.Name, name, err)
		}
		if s.logger != nil {
			s.logger.Debug(ctx, "added column", "table", name, "column", c.Name)
		}
	}
	return nil
}

// Drop drops the collection table.
func (s *Store) Drop(ctx context.Context, name string) error {
	exists, err := s.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("failed to drop %s: %w", name, store.ErrCollectionNotFound)
	}
	if _, err := s.db.ExecContext(ctx, "DROP TABLE "+s.dialect.Quote(name)); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", name, err)
	}
	return nil
}

// CreateLock inserts the lock row. The primary key makes the insert fail for
// every caller but one.
func (s *Store) CreateLock(ctx context.Context, name string, record docledger.LockRecord, _ store.Visibility) error {
	if err := ValidateIdentifier(name, "collection"); err != nil {
		return err
	}
	args, err := encodeRow(lockColumns, record)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.dialect.insertSQL(name, lockColumns), args...)
	if err != nil {
		if s.dialect.uniqueViolate(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("failed to insert lock record: %w", err)
	}
	return nil
}

// DeleteLock deletes the lock row. A missing row is not an error.
func (s *Store) DeleteLock(ctx context.Context, name string, id string, _ store.Visibility) error {
	return s.deleteRow(ctx, name, id)
}

// QueryLocks returns the lock rows.
func (s *Store) QueryLocks(ctx context.Context, name string) ([]docledger.LockRecord, error) {
	var locks []docledger.LockRecord
	err := s.selectRows(ctx, name, lockColumns, "", nil, func(values []interface{}) error {
		var rec docledger.LockRecord
		if err := decodeRow(lockColumns, values, &rec); err != nil {
			return err
		}
		locks = append(locks, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return locks, nil
}

// MaxOrderExecuted returns MAX(order_executed).
func (s *Store) MaxOrderExecuted(ctx context.Context, name string) (float64, bool, error) {
	if err := ValidateIdentifier(name, "collection"); err != nil {
		return 0, false, err
	}
	query := fmt.Sprintf("SELECT MAX(%s) FROM %s",
		s.dialect.Quote(ColumnName(docledger.FieldOrderExecuted)), s.dialect.Quote(name))

	var max sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, query).Scan(&max); err != nil {
		return 0, false, fmt.Errorf("failed to query max order executed: %w", err)
	}
	if !max.Valid {
		return 0, false, nil
	}
	return max.Float64, true, nil
}

// PutEntry upserts the entry row.
func (s *Store) PutEntry(ctx context.Context, name string, entry docledger.LedgerEntry, _ store.Visibility) error {
	if err := ValidateIdentifier(name, "collection"); err != nil {
		return err
	}
	args, err := encodeRow(ledgerColumns, entry)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.upsertSQL(name, ledgerColumns), args...); err != nil {
		return fmt.Errorf("failed to write ledger entry %s: %w", entry.ID, err)
	}
	return nil
}

// GetEntry returns the entry row with the given id.
func (s *Store) GetEntry(ctx context.Context, name string, id string) (docledger.LedgerEntry, error) {
	var (
		entry docledger.LedgerEntry
		found bool
	)
	where := s.dialect.Quote(docledger.FieldID) + " = " + s.dialect.placeholder(1)
	err := s.selectRows(ctx, name, ledgerColumns, where, []interface{}{id}, func(values []interface{}) error {
		found = true
		return decodeRow(ledgerColumns, values, &entry)
	})
	if err != nil {
		return docledger.LedgerEntry{}, err
	}
	if !found {
		return docledger.LedgerEntry{}, store.ErrEntryNotFound
	}
	return entry, nil
}

// DeleteEntry deletes the entry row. A missing row is not an error.
func (s *Store) DeleteEntry(ctx context.Context, name string, id string, _ store.Visibility) error {
	return s.deleteRow(ctx, name, id)
}

// UpdateCheckSum sets the checksum columns of one entry.
func (s *Store) UpdateCheckSum(ctx context.Context, name string, id string, checksum *docledger.CheckSum, _ store.Visibility) error {
	var version, hash interface{}
	if checksum != nil {
		version, hash = int64(checksum.Version), checksum.Hash
	}
	return s.updateRow(ctx, name, id, map[string]interface{}{
		ColumnName(docledger.FieldCheckSum, docledger.FieldCheckSumVersion): version,
		ColumnName(docledger.FieldCheckSum, docledger.FieldCheckSumHash):    hash,
	})
}

// ClearCheckSums nulls the checksum columns of every row in one statement.
func (s *Store) ClearCheckSums(ctx context.Context, name string, _ store.Visibility) error {
	if err := ValidateIdentifier(name, "collection"); err != nil {
		return err
	}
	query := fmt.Sprintf("UPDATE %s SET %s = NULL, %s = NULL",
		s.dialect.Quote(name),
		s.dialect.Quote(ColumnName(docledger.FieldCheckSum, docledger.FieldCheckSumVersion)),
		s.dialect.Quote(ColumnName(docledger.FieldCheckSum, docledger.FieldCheckSumHash)))
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to clear checksums: %w", err)
	}
	return nil
}

// CountTag counts rows whose tag equals tag.
func (s *Store) CountTag(ctx context.Context, name string, tag string) (int64, error) {
	if err := ValidateIdentifier(name, "collection"); err != nil {
		return 0, err
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s",
		s.dialect.Quote(name), s.dialect.Quote(ColumnName(docledger.FieldTag)), s.dialect.placeholder(1))

	var n int64
	if err := s.db.QueryRowContext(ctx, query, tag).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tag %s: %w", tag, err)
	}
	return n, nil
}

// ListEntries returns every entry row.
func (s *Store) ListEntries(ctx context.Context, name string) ([]docledger.LedgerEntry, error) {
	var entries []docledger.LedgerEntry
	err := s.selectRows(ctx, name, ledgerColumns, "", nil, func(values []interface{}) error {
		var entry docledger.LedgerEntry
		if err := decodeRow(ledgerColumns, values, &entry); err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// LatestEntryID returns the id of the row with the greatest executed_at,
// breaking ties on order_executed.
func (s *Store) LatestEntryID(ctx context.Context, name string) (string, bool, error) {
	if err := ValidateIdentifier(name, "collection"); err != nil {
		return "", false, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s DESC, %s DESC LIMIT 1",
		s.dialect.Quote(docledger.FieldID), s.dialect.Quote(name),
		s.dialect.Quote(ColumnName(docledger.FieldExecutedAt)),
		s.dialect.Quote(ColumnName(docledger.FieldOrderExecuted)))

	var id string
	err := s.db.QueryRowContext(ctx, query).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query latest entry: %w", err)
	}
	return id, true, nil
}

// SetTag sets the tag column of one entry.
func (s *Store) SetTag(ctx context.Context, name string, id string, tag string, _ store.Visibility) error {
	return s.updateRow(ctx, name, id, map[string]interface{}{
		ColumnName(docledger.FieldTag): tag,
	})
}

// columns returns the column names of the table. Empty when the table does
// not exist.
func (s *Store) columns(ctx context.Context, name string) (map[string]bool, error) {
	if err := ValidateIdentifier(name, "collection"); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.columnsQuery, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns of %s: %w", name, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, fmt.Errorf("failed to scan column name: %w", err)
		}
		cols[strings.ToLower(col)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list columns of %s: %w", name, err)
	}
	return cols, nil
}

func (s *Store) selectRows(ctx context.Context, name string, cols []Column, where string, args []interface{}, fn func([]interface{}) error) error {
	if err := ValidateIdentifier(name, "collection"); err != nil {
		return err
	}
	query := fmt.Sprintf("SELECT %s FROM %s", s.dialect.columnList(cols), s.dialect.Quote(name))
	if where != "" {
		query += " WHERE " + where
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return s.queryError(ctx, name, err)
	}
	defer rows.Close()

	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("failed to scan row of %s: %w", name, err)
		}
		if err := fn(values); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read rows of %s: %w", name, err)
	}
	return nil
}

// queryError maps a failed query on a missing table to ErrCollectionNotFound.
func (s *Store) queryError(ctx context.Context, name string, err error) error {
	if exists, existsErr := s.Exists(ctx, name); existsErr == nil && !exists {
		return fmt.Errorf("table %s: %w", name, store.ErrCollectionNotFound)
	}
	return fmt.Errorf("failed to query %s: %w", name, err)
}

func (s *Store) deleteRow(ctx context.Context, name string, id string) error {
	if err := ValidateIdentifier(name, "collection"); err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		s.dialect.Quote(name), s.dialect.Quote(docledger.FieldID), s.dialect.placeholder(1))
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete %s from %s: %w", id, name, err)
	}
	return nil
}

// updateRow sets the given columns of one row and returns ErrEntryNotFound
// when the row does not exist.
func (s *Store) updateRow(ctx context.Context, name string, id string, set map[string]interface{}) error {
	if err := ValidateIdentifier(name, "collection"); err != nil {
		return err
	}

	names := make([]string, 0, len(set))
	for col := range set {
		names = append(names, col)
	}
	sort.Strings(names)

	assignments := make([]string, len(names))
	args := make([]interface{}, 0, len(names)+1)
	for i, col := range names {
		assignments[i] = s.dialect.Quote(col) + " = " + s.dialect.placeholder(i+1)
		args = append(args, set[col])
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		s.dialect.Quote(name), strings.Join(assignments, ", "),
		s.dialect.Quote(docledger.FieldID), s.dialect.placeholder(len(names)+1))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s in %s: %w", id, name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update %s in %s: %w", id, name, err)
	}
	if n > 0 {
		return nil
	}

	// MySQL reports changed rows, not matched rows.
	var count int
	query = fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s",
		s.dialect.Quote(name), s.dialect.Quote(docledger.FieldID), s.dialect.placeholder(1))
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&count); err != nil {
		return fmt.Errorf("failed to check %s in %s: %w", id, name, err)
	}
	if count == 0 {
		return store.ErrEntryNotFound
	}
	return nil
}
