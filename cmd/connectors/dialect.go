package connectors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/airframesio/checksumo/cmd/diff"
)

var ErrUnsupportedDriver = errors.New("unsupported driver")

// dialect holds the SQL that differs between database engines.
type dialect interface {
	driverName() string
	quoteIdent(name string) string
	placeholder(n int) string
	// rowHash returns an integer expression fingerprinting one row over the quoted columns.
	rowHash(columns []string) string
	// chunkHash aggregates the per-row crc column of a chunk.
	chunkHash(column string) string
	primaryKeyQuery(table string) (string, []any)
	searchQuery() string
	nonRetryable(err error) bool
}

func getDialect(driver string) (dialect, error) {
	switch strings.ToLower(driver) {
	case "mysql":
		return mysqlDialect{}, nil
	case "postgres", "postgresql":
		return postgresDialect{}, nil
	case "sqlite", "sqlite3":
		return sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driver)
	}
}

// SupportedDrivers lists the driver names accepted by Open.
func SupportedDrivers() []string {
	return []string{"mysql", "postgres", "sqlite"}
}

// quoteQualified quotes each dot-separated part of a name.
func quoteQualified(d dialect, name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = d.quoteIdent(p)
	}
	return strings.Join(parts, ".")
}

// whereClause renders the key predicates of a range. Arguments are appended
// to args and the placeholders are numbered after the existing ones.
func whereClause(d dialect, key string, r diff.Range, args []any) (string, []any) {
	var preds []string
	if r.Lower != nil {
		op := ">="
		if r.Lower.Exclusive {
			op = ">"
		}
		args = append(args, r.Lower.Key)
		preds = append(preds, fmt.Sprintf("%s %s %s", key, op, d.placeholder(len(args))))
	}
	if r.Upper != nil {
		op := "<="
		if r.Upper.Exclusive {
			op = "<"
		}
		args = append(args, r.Upper.Key)
		preds = append(preds, fmt.Sprintf("%s %s %s", key, op, d.placeholder(len(args))))
	}
	if len(preds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(preds, " AND "), args
}

func limitClause(r diff.Range) string {
	if r.Limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", r.Limit)
}

func quoteAll(d dialect, columns []string) []string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.quoteIdent(c)
	}
	return quoted
}
