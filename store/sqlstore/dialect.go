package sqlstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/getpup/docledger"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Dialect captures the SQL differences between the supported databases.
type Dialect struct {
	// Name is postgres, mysql or sqlite.
	Name string

	// DriverName is the database/sql driver name.
	DriverName string

	placeholder   func(n int) string
	quote         func(ident string) string
	keywordType   string
	textType      string
	dateType      string
	integerType   string
	tableSuffix   string
	existsQuery   string
	columnsQuery  string
	upsertClause  func(d Dialect, cols []Column) string
	uniqueViolate func(err error) bool
}

var (
	// Postgres targets PostgreSQL through github.com/lib/pq.
	Postgres = Dialect{
		Name:         "postgres",
		DriverName:   "postgres",
		placeholder:  func(n int) string { return fmt.Sprintf("$%d", n) },
		quote:        func(ident string) string { return `"` + ident + `"` },
		keywordType:  "TEXT",
		textType:     "TEXT",
		dateType:     "TIMESTAMPTZ",
		integerType:  "INTEGER",
		existsQuery:  `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1`,
		columnsQuery: `SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1`,
		upsertClause: onConflictUpdate,
		uniqueViolate: func(err error) bool {
			var pqErr *pq.Error
			return errors.As(err, &pqErr) && pqErr.Code == "23505"
		},
	}

	// MySQL targets MySQL and MariaDB through github.com/go-sql-driver/mysql.
	// DSNs should set parseTime=true.
	MySQL = Dialect{
		Name:         "mysql",
		DriverName:   "mysql",
		placeholder:  func(int) string { return "?" },
		quote:        func(ident string) string { return "`" + ident + "`" },
		keywordType:  "VARCHAR(512)",
		textType:     "TEXT",
		dateType:     "DATETIME(6)",
		integerType:  "INT",
		tableSuffix:  " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci",
		existsQuery:  "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?",
		columnsQuery: "SELECT column_name FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ?",
		upsertClause: onDuplicateKeyUpdate,
		uniqueViolate: func(err error) bool {
			var myErr *mysql.MySQLError
			return errors.As(err, &myErr) && myErr.Number == 1062
		},
	}

	// SQLite targets SQLite through github.com/mattn/go-sqlite3.
	SQLite = Dialect{
		Name:         "sqlite",
		DriverName:   "sqlite3",
		placeholder:  func(int) string { return "?" },
		quote:        func(ident string) string { return `"` + ident + `"` },
		keywordType:  "TEXT",
		textType:     "TEXT",
		dateType:     "TIMESTAMP",
		integerType:  "INTEGER",
		existsQuery:  `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`,
		columnsQuery: `SELECT name FROM pragma_table_info(?)`,
		upsertClause: onConflictUpdate,
		uniqueViolate: func(err error) bool {
			var sqErr sqlite3.Error
			return errors.As(err, &sqErr) &&
				(sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || sqErr.ExtendedCode == sqlite3.ErrConstraintUnique)
		},
	}
)

// DialectFor returns the dialect with the given name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported dialect %q: supported dialects are postgres, mysql, sqlite", name)
	}
}

// Quote quotes an identifier.
func (d Dialect) Quote(ident string) string {
	return d.quote(ident)
}

// ColumnType returns the SQL type of a column.
func (d Dialect) ColumnType(c Column) string {
	if c.Repeated {
		return d.textType
	}
	switch c.Type {
	case docledger.FieldKeyword:
		return d.keywordType
	case docledger.FieldDate:
		return d.dateType
	case docledger.FieldInteger:
		return d.integerType
	default:
		return d.textType
	}
}

// CreateTableSQL returns the statement that creates an empty collection
// table with only the id primary key. Remaining columns are added by
// AddColumnSQL.
func (d Dialect) CreateTableSQL(table string) string {
	return fmt.Sprintf("CREATE TABLE %s (%s %s PRIMARY KEY)%s",
		d.quote(table), d.quote(docledger.FieldID), d.keywordType, d.tableSuffix)
}

// CreateTableIfNotExistsSQL returns the full table definition used by
// generated migrations.
func (d Dialect) CreateTableIfNotExistsSQL(table string, cols []Column) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", d.quote(table))
	for i, c := range cols {
		fmt.Fprintf(&b, "    %s %s", d.quote(c.Name), d.ColumnType(c))
		if c.Name == docledger.FieldID {
			b.WriteString(" PRIMARY KEY")
		}
		if i < len(cols)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")")
	b.WriteString(d.tableSuffix)
	return b.String()
}

// AddColumnSQL returns the statement that adds a column.
func (d Dialect) AddColumnSQL(table string, c Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", d.quote(table), d.quote(c.Name), d.ColumnType(c))
}

func (d Dialect) placeholders(from, n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = d.placeholder(from + i)
	}
	return strings.Join(ps, ", ")
}

func (d Dialect) columnList(cols []Column) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = d.quote(c.Name)
	}
	return strings.Join(names, ", ")
}

func (d Dialect) insertSQL(table string, cols []Column) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.quote(table), d.columnList(cols), d.placeholders(1, len(cols)))
}

func (d Dialect) upsertSQL(table string, cols []Column) string {
	return d.insertSQL(table, cols) + " " + d.upsertClause(d, cols)
}

func onConflictUpdate(d Dialect, cols []Column) string {
	var sets []string
	for _, c := range cols {
		if c.Name == docledger.FieldID {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", d.quote(c.Name), d.quote(c.Name)))
	}
	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", d.quote(docledger.FieldID), strings.Join(sets, ", "))
}

func onDuplicateKeyUpdate(d Dialect, cols []Column) string {
	var sets []string
	for _, c := range cols {
		if c.Name == docledger.FieldID {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", d.quote(c.Name), d.quote(c.Name)))
	}
	return "ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
}
