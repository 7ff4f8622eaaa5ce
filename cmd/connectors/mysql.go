package connectors

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Lock wait timeout and deadlock victims succeed when retried.
const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

type mysqlDialect struct{}

func (mysqlDialect) driverName() string { return "mysql" }

func (mysqlDialect) quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (mysqlDialect) placeholder(int) string { return "?" }

func (mysqlDialect) rowHash(columns []string) string {
	nulls := make([]string, len(columns))
	for i, c := range columns {
		nulls[i] = "ISNULL(" + c + ")"
	}
	return fmt.Sprintf("CRC32(CONCAT_WS('#', %s, CONCAT(%s)))",
		strings.Join(columns, ", "), strings.Join(nulls, ", "))
}

func (mysqlDialect) chunkHash(column string) string {
	return "COALESCE(BIT_XOR(" + column + "), 0)"
}

func (mysqlDialect) primaryKeyQuery(table string) (string, []any) {
	var schema any
	if i := strings.LastIndex(table, "."); i >= 0 {
		schema, table = table[:i], table[i+1:]
	}
	return `SELECT COLUMN_NAME FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = COALESCE(?, DATABASE())
		AND TABLE_NAME = ?
		AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION`, []any{schema, table}
}

func (mysqlDialect) searchQuery() string {
	return `SELECT TABLE_NAME, MIN(COLUMN_NAME) FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = DATABASE()
		AND CONSTRAINT_NAME = 'PRIMARY'
		GROUP BY TABLE_NAME
		HAVING COUNT(*) = 1`
}

// nonRetryable treats server-side errors as permanent, except lock conflicts.
func (mysqlDialect) nonRetryable(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	switch myErr.Number {
	case mysqlLockWaitTimeout, mysqlDeadlock:
		return false
	}
	return true
}

// mysqlQuoteValue also doubles backslashes, which MySQL reads as escapes by default.
func mysqlQuoteValue(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// mysqlDSN opens read-uncommitted, read-only sessions so checksums never
// wait on writers.
func mysqlDSN(cfg Config) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.Database
	mc.Timeout = 10 * time.Second
	mc.Params = map[string]string{
		"transaction_isolation": "'READ-UNCOMMITTED'",
		"transaction_read_only": "1",
	}
	if cfg.StatementTimeout > 0 {
		mc.Params["max_execution_time"] = strconv.Itoa(cfg.StatementTimeout * 1000)
	}
	return mc.FormatDSN()
}
