package sqlstore

import (
	"testing"

	"github.com/getpup/docledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumns_FlattensObjects(t *testing.T) {
	cols := Columns(docledger.LedgerEntrySchema)

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	assert.Equal(t, []string{
		"id", "change_log_path", "stored_change_log_path", "author",
		"checksum_version", "checksum_hash", "executed_at", "tag", "exec_type",
		"description", "comments", "order_executed",
		"context_expression_contexts", "context_expression_original_string",
		"labels", "deployment_id", "tool_version",
	}, names)

	assert.Equal(t, []string{"checksum", "version"}, cols[4].Path)
	assert.True(t, cols[12].Repeated)
}

func TestDialectFor(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"postgres", "postgres"},
		{"PostgreSQL", "postgres"},
		{"mysql", "mysql"},
		{"mariadb", "mysql"},
		{"sqlite3", "sqlite"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := DialectFor(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Name)
		})
	}

	_, err := DialectFor("oracle")
	assert.Error(t, err)
}

func TestValidateIdentifier(t *testing.T) {
	assert.NoError(t, ValidateIdentifier("databasechangelog", "table"))
	assert.NoError(t, ValidateIdentifier("ledger_v2", "table"))
	assert.Error(t, ValidateIdentifier("", "table"))
	assert.Error(t, ValidateIdentifier("2ledger", "table"))
	assert.Error(t, ValidateIdentifier("ledger; DROP TABLE x", "table"))
}

func TestColumnTypes(t *testing.T) {
	hash := Column{Name: "checksum_hash", Type: docledger.FieldKeyword}
	executed := Column{Name: "executed_at", Type: docledger.FieldDate}
	contexts := Column{Name: "context_expression_contexts", Type: docledger.FieldKeyword, Repeated: true}

	assert.Equal(t, "TEXT", Postgres.ColumnType(hash))
	assert.Equal(t, "TIMESTAMPTZ", Postgres.ColumnType(executed))
	assert.Equal(t, "VARCHAR(512)", MySQL.ColumnType(hash))
	assert.Equal(t, "DATETIME(6)", MySQL.ColumnType(executed))
	assert.Equal(t, "TEXT", MySQL.ColumnType(contexts))
	assert.Equal(t, "TIMESTAMP", SQLite.ColumnType(executed))
}

func TestUpsertSQL(t *testing.T) {
	cols := Columns(docledger.LockRecordSchema)

	assert.Equal(t,
		`INSERT INTO "locks" ("id", "granted_at", "locked_by") VALUES ($1, $2, $3) ON CONFLICT ("id") DO UPDATE SET "granted_at" = excluded."granted_at", "locked_by" = excluded."locked_by"`,
		Postgres.upsertSQL("locks", cols))

	assert.Equal(t,
		"INSERT INTO `locks` (`id`, `granted_at`, `locked_by`) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE `granted_at` = VALUES(`granted_at`), `locked_by` = VALUES(`locked_by`)",
		MySQL.upsertSQL("locks", cols))
}

func TestCreateTableSQL(t *testing.T) {
	assert.Equal(t, `CREATE TABLE "locks" ("id" TEXT PRIMARY KEY)`, Postgres.CreateTableSQL("locks"))
	assert.Contains(t, MySQL.CreateTableSQL("locks"), "ENGINE=InnoDB")

	ddl := Postgres.CreateTableIfNotExistsSQL("locks", Columns(docledger.LockRecordSchema))
	assert.Contains(t, ddl, `CREATE TABLE IF NOT EXISTS "locks"`)
	assert.Contains(t, ddl, `"id" TEXT PRIMARY KEY,`)
	assert.Contains(t, ddl, `"granted_at" TIMESTAMPTZ,`)
	assert.Contains(t, ddl, `"locked_by" TEXT`)
}
