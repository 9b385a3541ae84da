package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/getpup/docledger"
	"github.com/getpup/docledger/store/sqlstore"
)

// validateConfig validates all configuration values to prevent SQL injection.
func validateConfig(config *Config) error {
	if err := sqlstore.ValidateIdentifier(config.LedgerTable, "LedgerTable"); err != nil {
		return err
	}
	if err := sqlstore.ValidateIdentifier(config.LockTable, "LockTable"); err != nil {
		return err
	}
	if config.LedgerTable == config.LockTable {
		return fmt.Errorf("LedgerTable and LockTable must differ (got: %s)", config.LedgerTable)
	}
	return nil
}

// Config configures migration generation for the ledger and lock tables.
type Config struct {
	// OutputFolder is the directory where the migration file will be written
	OutputFolder string

	// OutputFilename is the name of the migration file
	OutputFilename string

	// LedgerTable is the name of the change set ledger table
	LedgerTable string

	// LockTable is the name of the change log lock table
	LockTable string
}

// DefaultConfig returns the default configuration, with table names derived
// from docledger.DefaultBaseName.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	ledger, lock := docledger.CollectionNames(docledger.DefaultBaseName)
	return Config{
		OutputFolder:   "migrations",
		OutputFilename: fmt.Sprintf("%s_init_docledger.sql", timestamp),
		LedgerTable:    ledger,
		LockTable:      lock,
	}
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error {
	return Generate(sqlstore.Postgres, config)
}

// GenerateMySQL generates a MySQL/MariaDB migration file.
func GenerateMySQL(config *Config) error {
	return Generate(sqlstore.MySQL, config)
}

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error {
	return Generate(sqlstore.SQLite, config)
}

// Generate writes the migration file for the dialect.
func Generate(dialect sqlstore.Dialect, config *Config) error {
	// Validate configuration to prevent SQL injection
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	sql := GenerateSQL(dialect, config)

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(sql), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}

	return nil
}

// GenerateSQL returns the migration script for the dialect.
// Statements are separated by semicolons at the end of a line.
func GenerateSQL(dialect sqlstore.Dialect, config *Config) string {
	var b strings.Builder

	fmt.Fprintf(&b, "-- docledger ledger and lock tables\n")
	fmt.Fprintf(&b, "-- Generated: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "-- Database: %s\n\n", dialect.Name)

	b.WriteString("-- Lock table holds at most one row. Inserting the row with id '1' acquires\n")
	b.WriteString("-- the lock; the primary key rejects a second insert.\n")
	b.WriteString(dialect.CreateTableIfNotExistsSQL(config.LockTable, sqlstore.Columns(docledger.LockRecordSchema)))
	b.WriteString(";\n\n")

	b.WriteString("-- Ledger table records one row per executed change set.\n")
	b.WriteString(dialect.CreateTableIfNotExistsSQL(config.LedgerTable, sqlstore.Columns(docledger.LedgerEntrySchema)))
	b.WriteString(";\n\n")

	// MySQL has no CREATE INDEX IF NOT EXISTS.
	ifNotExists := "IF NOT EXISTS "
	if dialect.Name == sqlstore.MySQL.Name {
		ifNotExists = ""
	}

	b.WriteString("-- Index for latest entry lookups\n")
	fmt.Fprintf(&b, "CREATE INDEX %s%s ON %s (%s);\n\n",
		ifNotExists,
		dialect.Quote("idx_"+config.LedgerTable+"_executed_at"),
		dialect.Quote(config.LedgerTable),
		dialect.Quote(sqlstore.ColumnName(docledger.FieldExecutedAt)))

	b.WriteString("-- Index for tag counts\n")
	fmt.Fprintf(&b, "CREATE INDEX %s%s ON %s (%s);\n",
		ifNotExists,
		dialect.Quote("idx_"+config.LedgerTable+"_tag"),
		dialect.Quote(config.LedgerTable),
		dialect.Quote(sqlstore.ColumnName(docledger.FieldTag)))

	return b.String()
}

// Statements splits a generated script into individual statements, dropping
// comment lines.
func Statements(script string) []string {
	var (
		stmts []string
		cur   strings.Builder
	)
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		cur.WriteString(line)
		cur.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			stmts = append(stmts, strings.TrimSuffix(strings.TrimSpace(cur.String()), ";"))
			cur.Reset()
		}
	}
	if rest := strings.TrimSpace(cur.String()); rest != "" {
		stmts = append(stmts, rest)
	}
	return stmts
}
