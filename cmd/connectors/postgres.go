package connectors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

type postgresDialect struct{}

func (postgresDialect) driverName() string { return "postgres" }

func (postgresDialect) quoteIdent(name string) string { return pq.QuoteIdentifier(name) }

func (postgresDialect) placeholder(n int) string { return fmt.Sprintf("$%d", n) }

// rowHash takes the first 32 bits of the md5 so values fit a bigint sum.
func (postgresDialect) rowHash(columns []string) string {
	nulls := make([]string, len(columns))
	for i, c := range columns {
		nulls[i] = "(" + c + " IS NULL)::int"
	}
	return fmt.Sprintf("('x' || lpad(substr(md5(concat_ws('#', %s, concat(%s))), 1, 8), 16, '0'))::bit(64)::bigint",
		strings.Join(columns, ", "), strings.Join(nulls, ", "))
}

func (postgresDialect) chunkHash(column string) string {
	return "COALESCE(SUM(" + column + "), 0)::bigint"
}

func (postgresDialect) primaryKeyQuery(table string) (string, []any) {
	return `SELECT a.attname FROM pg_index i
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE i.indrelid = $1::regclass AND i.indisprimary
		ORDER BY a.attnum`, []any{table}
}

func (postgresDialect) searchQuery() string {
	return `SELECT c.relname, MIN(a.attname) FROM pg_index i
		JOIN pg_class c ON c.oid = i.indrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE i.indisprimary AND n.nspname = current_schema()
		GROUP BY c.relname
		HAVING COUNT(*) = 1`
}

// nonRetryable classifies by SQLSTATE class. Connection exceptions,
// transaction rollbacks, resource shortages and admin shutdowns are transient.
func (postgresDialect) nonRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code.Class() {
	case "08", "40", "53":
		return false
	}
	switch pqErr.Code {
	case "57P01", "57P02", "57P03":
		return false
	}
	return true
}

func postgresDSN(cfg Config) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		sslMode,
	)
	connStr += " default_transaction_read_only=on default_transaction_isolation='read uncommitted'"
	if cfg.StatementTimeout > 0 {
		connStr += fmt.Sprintf(" statement_timeout=%d", cfg.StatementTimeout*1000)
	}
	return connStr
}
