package sqldb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect holds what differs between the supported databases: the driver
// name, placeholder and quoting syntax, the schema and how a unique key
// violation is reported.
type Dialect struct {
	Name       string
	DriverName string

	placeholder       func(n int) string
	quote             func(ident string) string
	schema            func(d Dialect, table string) []string
	isUniqueViolation func(err error) bool
}

var (
	SQLite = Dialect{
		Name:              "sqlite",
		DriverName:        "sqlite",
		placeholder:       func(int) string { return "?" },
		quote:             doubleQuote,
		schema:            sqliteSchema,
		isUniqueViolation: isSQLiteUniqueViolation,
	}

	Postgres = Dialect{
		Name:              "postgres",
		DriverName:        "postgres",
		placeholder:       func(n int) string { return fmt.Sprintf("$%d", n) },
		quote:             doubleQuote,
		schema:            postgresSchema,
		isUniqueViolation: isPostgresUniqueViolation,
	}

	MySQL = Dialect{
		Name:              "mysql",
		DriverName:        "mysql",
		placeholder:       func(int) string { return "?" },
		quote:             func(ident string) string { return "`" + ident + "`" },
		schema:            mysqlSchema,
		isUniqueViolation: isMySQLUniqueViolation,
	}
)

// DialectFor returns the dialect registered under name. "sqlite3" and
// "postgresql" are accepted as aliases.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported sql dialect %q", name)
	}
}

// IsUniqueViolation reports whether err is the dialect's unique key violation.
func (d Dialect) IsUniqueViolation(err error) bool {
	if err == nil || d.isUniqueViolation == nil {
		return false
	}
	return d.isUniqueViolation(err)
}

func doubleQuote(ident string) string {
	return `"` + ident + `"`
}

func indexName(table string) string {
	if table == DefaultTable {
		return "IX_StreamRevision"
	}
	return "IX_" + table + "_StreamRevision"
}

func sqliteSchema(d Dialect, table string) []string {
	q := d.quote
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s INTEGER PRIMARY KEY AUTOINCREMENT,
	%s TEXT NOT NULL,
	%s TEXT NOT NULL,
	%s INTEGER NOT NULL,
	%s TEXT NOT NULL,
	%s TEXT NOT NULL,
	%s TIMESTAMP NOT NULL
)`, q(table), q("Id"), q("StreamName"), q("StreamId"), q("Revision"), q("EventType"), q("EventData"), q("Timestamp")),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s, %s, %s)`,
			q(indexName(table)), q(table), q("StreamName"), q("StreamId"), q("Revision")),
	}
}

func postgresSchema(d Dialect, table string) []string {
	q := d.quote
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s BIGSERIAL PRIMARY KEY,
	%s VARCHAR(255) NOT NULL,
	%s VARCHAR(255) NOT NULL,
	%s BIGINT NOT NULL,
	%s VARCHAR(255) NOT NULL,
	%s TEXT NOT NULL,
	%s TIMESTAMPTZ NOT NULL
)`, q(table), q("Id"), q("StreamName"), q("StreamId"), q("Revision"), q("EventType"), q("EventData"), q("Timestamp")),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s, %s, %s)`,
			q(indexName(table)), q(table), q("StreamName"), q("StreamId"), q("Revision")),
	}
}

// MySQL has no CREATE INDEX IF NOT EXISTS, so the unique key is declared
// with the table.
func mysqlSchema(d Dialect, table string) []string {
	q := d.quote
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
	%s VARCHAR(255) NOT NULL,
	%s VARCHAR(255) NOT NULL,
	%s BIGINT UNSIGNED NOT NULL,
	%s VARCHAR(255) NOT NULL,
	%s LONGTEXT NOT NULL,
	%s DATETIME(6) NOT NULL,
	UNIQUE KEY %s (%s, %s, %s)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			q(table), q("Id"), q("StreamName"), q("StreamId"), q("Revision"), q("EventType"), q("EventData"), q("Timestamp"),
			q(indexName(table)), q("StreamName"), q("StreamId"), q("Revision")),
	}
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isPostgresUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" // unique_violation
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}

func isMySQLUniqueViolation(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062 // ER_DUP_ENTRY
	}
	return strings.Contains(err.Error(), "Duplicate entry")
}
