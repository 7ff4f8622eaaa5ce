package connectors

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"hash/crc32"
	"net/url"
	"strings"

	"modernc.org/sqlite"
)

// Busy and locked databases clear once the writer commits.
const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

func init() {
	if err := sqlite.RegisterDeterministicScalarFunction("crc32", 1, sqliteCRC32); err != nil {
		panic(fmt.Sprintf("register sqlite crc32: %v", err))
	}
}

// sqliteCRC32 mirrors MySQL's CRC32(): IEEE checksum of the text form, NULL for NULL.
func sqliteCRC32(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	var b []byte
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		b = []byte(fmt.Sprint(v))
	}
	return int64(crc32.ChecksumIEEE(b)), nil
}

type sqliteDialect struct{}

func (sqliteDialect) driverName() string { return "sqlite" }

func (sqliteDialect) quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (sqliteDialect) placeholder(int) string { return "?" }

func (sqliteDialect) rowHash(columns []string) string {
	nulls := make([]string, len(columns))
	for i, c := range columns {
		nulls[i] = "(" + c + " IS NULL)"
	}
	return fmt.Sprintf("crc32(concat_ws('#', %s, concat(%s)))",
		strings.Join(columns, ", "), strings.Join(nulls, ", "))
}

func (sqliteDialect) chunkHash(column string) string {
	return "COALESCE(SUM(" + column + "), 0)"
}

func (sqliteDialect) primaryKeyQuery(table string) (string, []any) {
	if i := strings.LastIndex(table, "."); i >= 0 {
		table = table[i+1:]
	}
	return `SELECT name FROM pragma_table_info(?) WHERE pk > 0 ORDER BY pk`, []any{table}
}

func (sqliteDialect) searchQuery() string {
	return `SELECT m.name, MIN(p.name) FROM sqlite_master m
		JOIN pragma_table_info(m.name) p
		WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%' AND p.pk > 0
		GROUP BY m.name
		HAVING COUNT(*) = 1`
}

func (sqliteDialect) nonRetryable(err error) bool {
	var liteErr *sqlite.Error
	if !errors.As(err, &liteErr) {
		return false
	}
	switch liteErr.Code() & 0xff {
	case sqliteBusy, sqliteLocked:
		return false
	}
	return true
}

// sqliteDSN opens the file read-only for queries.
func sqliteDSN(cfg Config) string {
	path := cfg.Path
	if path == "" {
		path = cfg.Database
	}
	params := url.Values{}
	params.Add("_pragma", "query_only(1)")
	params.Add("_pragma", "busy_timeout(5000)")
	return "file:" + path + "?" + params.Encode()
}
