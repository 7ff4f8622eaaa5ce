// Package connectors implements the data access port over database/sql for
// MySQL, PostgreSQL and SQLite.
package connectors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/airframesio/checksumo/cmd/diff"
	"github.com/airframesio/checksumo/cmd/retry"
)

var (
	ErrNoPrimaryKey  = fmt.Errorf("%w: no primary key", diff.ErrUncheckable)
	ErrCompositeKey  = fmt.Errorf("%w: composite primary key", diff.ErrUncheckable)
	ErrNoColumns     = errors.New("table has no columns")
	ErrConnectFailed = errors.New("failed to connect to database")
)

// Config describes one side of the comparison.
type Config struct {
	Driver           string
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	Path             string // sqlite database file
	StatementTimeout int    // seconds
}

// Options configures a connector.
type Options struct {
	// DatabaseName qualifies table names in generated statements.
	DatabaseName string
	Logger       *slog.Logger
	Retry        []retry.Option
}

// SQLConnector is a diff.Port backed by a *sql.DB.
type SQLConnector struct {
	db           *sql.DB
	dialect      dialect
	executor     *retry.Executor
	logger       *slog.Logger
	databaseName string

	primaryKeys map[string]string
	columns     map[string][]string
}

var _ diff.Port = (*SQLConnector)(nil)
var _ diff.ValueQuoter = (*SQLConnector)(nil)

// isConnectionError checks if an error is due to a closed or broken database connection
func isConnectionError(err error) bool {
	errStr := err.Error()
	return strings.Contains(errStr, "bad connection") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "invalid connection")
}

func dsn(d dialect, cfg Config) string {
	switch d.(type) {
	case mysqlDialect:
		return mysqlDSN(cfg)
	case postgresDialect:
		return postgresDSN(cfg)
	default:
		return sqliteDSN(cfg)
	}
}

// Open connects to the database described by cfg and pings it through the
// retry executor.
func Open(ctx context.Context, cfg Config, opts Options) (*SQLConnector, error) {
	d, err := getDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driverName(), dsn(d, cfg))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	c := newSQLConnector(db, d, opts)
	if d.driverName() == "sqlite" {
		c.logger.Debug(fmt.Sprintf("Connecting to sqlite database %s", cfg.Path))
	} else {
		c.logger.Debug(fmt.Sprintf("Connecting to %s database: host=%s port=%d user=%s password=*** dbname=%s",
			d.driverName(), cfg.Host, cfg.Port, cfg.User, cfg.Database))
	}

	if err := c.executor.Do(ctx, db.PingContext); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	return c, nil
}

// NewSQLConnector wraps an already opened database.
func NewSQLConnector(db *sql.DB, driver string, opts Options) (*SQLConnector, error) {
	d, err := getDialect(driver)
	if err != nil {
		return nil, err
	}
	return newSQLConnector(db, d, opts), nil
}

func newSQLConnector(db *sql.DB, d dialect, opts Options) *SQLConnector {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retryOpts := append([]retry.Option{
		retry.WithLogger(logger),
		retry.WithNoRetry(sql.ErrNoRows, diff.ErrEmptyTable, diff.ErrRowNotFound,
			ErrNoPrimaryKey, ErrCompositeKey, ErrNoColumns),
		retry.WithNoRetryFunc(func(err error) bool {
			return !isConnectionError(err) && d.nonRetryable(err)
		}),
	}, opts.Retry...)

	return &SQLConnector{
		db:           db,
		dialect:      d,
		executor:     retry.New(retryOpts...),
		logger:       logger.With("driver", d.driverName()),
		databaseName: opts.DatabaseName,
		primaryKeys:  make(map[string]string),
		columns:      make(map[string][]string),
	}
}

func (c *SQLConnector) DB() *sql.DB { return c.db }

func (c *SQLConnector) Close() error { return c.db.Close() }

// QuoteValue quotes a literal for this connector's dialect.
func (c *SQLConnector) QuoteValue(value string) string {
	if _, ok := c.dialect.(mysqlDialect); ok {
		return mysqlQuoteValue(value)
	}
	return diff.QuoteValue(value)
}

func (c *SQLConnector) PrimaryKey(ctx context.Context, table string) (string, error) {
	if pk, ok := c.primaryKeys[table]; ok {
		return pk, nil
	}

	query, args := c.dialect.primaryKeyQuery(table)
	keys, err := retry.Execute(ctx, c.executor, func(ctx context.Context) ([]string, error) {
		rows, err := c.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var keys []string
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return nil, err
			}
			keys = append(keys, name)
		}
		return keys, rows.Err()
	})
	if err != nil {
		return "", fmt.Errorf("primary key of %s: %w", table, err)
	}

	switch len(keys) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNoPrimaryKey, table)
	case 1:
		c.primaryKeys[table] = keys[0]
		return keys[0], nil
	default:
		return "", fmt.Errorf("%w: %s (%s)", ErrCompositeKey, table, strings.Join(keys, ", "))
	}
}

// Columns lists the table's columns in name order.
func (c *SQLConnector) Columns(ctx context.Context, table string) ([]string, error) {
	if cols, ok := c.columns[table]; ok {
		return cols, nil
	}

	//nolint:gosec // Table name is quoted per dialect
	query := fmt.Sprintf("SELECT * FROM %s WHERE 1 = 0", quoteQualified(c.dialect, table))
	cols, err := retry.Execute(ctx, c.executor, func(ctx context.Context) ([]string, error) {
		rows, err := c.db.QueryContext(ctx, query)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return rows.Columns()
	})
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoColumns, table)
	}

	sort.Strings(cols)
	c.columns[table] = cols
	return cols, nil
}

func (c *SQLConnector) MinRowID(ctx context.Context, table string) (string, error) {
	return c.boundRowID(ctx, table, "MIN")
}

func (c *SQLConnector) MaxRowID(ctx context.Context, table string) (string, error) {
	return c.boundRowID(ctx, table, "MAX")
}

func (c *SQLConnector) boundRowID(ctx context.Context, table, fn string) (string, error) {
	pk, err := c.PrimaryKey(ctx, table)
	if err != nil {
		return "", err
	}

	query := fmt.Sprintf("SELECT %s(%s) FROM %s", fn, c.dialect.quoteIdent(pk), quoteQualified(c.dialect, table))
	id, err := retry.Execute(ctx, c.executor, func(ctx context.Context) (sql.NullString, error) {
		var id sql.NullString
		err := c.db.QueryRowContext(ctx, query).Scan(&id)
		return id, err
	})
	if err != nil {
		return "", fmt.Errorf("%s row id of %s: %w", strings.ToLower(fn), table, err)
	}
	if !id.Valid {
		return "", diff.ErrEmptyTable
	}
	return id.String, nil
}

// ChunkChecksum fingerprints the rows selected by r as one aggregate.
func (c *SQLConnector) ChunkChecksum(ctx context.Context, table string, r diff.Range) ([]*diff.ChunkChecksum, error) {
	pk, err := c.PrimaryKey(ctx, table)
	if err != nil {
		return nil, err
	}
	cols, err := c.Columns(ctx, table)
	if err != nil {
		return nil, err
	}

	key := c.dialect.quoteIdent(pk)
	where, args := whereClause(c.dialect, key, r, nil)
	//nolint:gosec // Identifiers are quoted per dialect, bounds are bound parameters
	query := fmt.Sprintf(
		"SELECT COUNT(*), MIN(k), MAX(k), %s FROM (SELECT %s AS k, %s AS crc FROM %s%s ORDER BY %s%s) AS chunk",
		c.dialect.chunkHash("crc"),
		key,
		c.dialect.rowHash(quoteAll(c.dialect, cols)),
		quoteQualified(c.dialect, table),
		where,
		key,
		limitClause(r),
	)

	chunk, err := retry.Execute(ctx, c.executor, func(ctx context.Context) (*diff.ChunkChecksum, error) {
		var minID, maxID sql.NullString
		chunk := &diff.ChunkChecksum{TableName: table, PrimaryKey: pk}
		if err := c.db.QueryRowContext(ctx, query, args...).Scan(&chunk.Count, &minID, &maxID, &chunk.CRC32); err != nil {
			return nil, err
		}
		chunk.Min, chunk.Max = minID.String, maxID.String
		return chunk, nil
	})
	if err != nil {
		return nil, fmt.Errorf("chunk checksum of %s: %w", table, err)
	}
	return []*diff.ChunkChecksum{chunk}, nil
}

// RowChecksum fingerprints each row selected by r, ordered by key.
func (c *SQLConnector) RowChecksum(ctx context.Context, table string, r diff.Range) ([]*diff.RowChecksum, error) {
	pk, err := c.PrimaryKey(ctx, table)
	if err != nil {
		return nil, err
	}
	cols, err := c.Columns(ctx, table)
	if err != nil {
		return nil, err
	}

	key := c.dialect.quoteIdent(pk)
	where, args := whereClause(c.dialect, key, r, nil)
	//nolint:gosec // Identifiers are quoted per dialect, bounds are bound parameters
	query := fmt.Sprintf("SELECT %s, %s FROM %s%s ORDER BY %s%s",
		key,
		c.dialect.rowHash(quoteAll(c.dialect, cols)),
		quoteQualified(c.dialect, table),
		where,
		key,
		limitClause(r),
	)

	checksums, err := retry.Execute(ctx, c.executor, func(ctx context.Context) ([]*diff.RowChecksum, error) {
		rows, err := c.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var checksums []*diff.RowChecksum
		for rows.Next() {
			rc := &diff.RowChecksum{TableName: table, PrimaryKey: pk}
			if err := rows.Scan(&rc.RowID, &rc.CRC32); err != nil {
				return nil, err
			}
			checksums = append(checksums, rc)
		}
		return checksums, rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("row checksum of %s: %w", table, err)
	}
	return checksums, nil
}

// RowValues fetches one row as text.
func (c *SQLConnector) RowValues(ctx context.Context, table string, rowID string) (diff.RowValues, error) {
	pk, err := c.PrimaryKey(ctx, table)
	if err != nil {
		return nil, err
	}

	//nolint:gosec // Identifiers are quoted per dialect
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = %s",
		quoteQualified(c.dialect, table), c.dialect.quoteIdent(pk), c.dialect.placeholder(1))

	values, err := retry.Execute(ctx, c.executor, func(ctx context.Context) (diff.RowValues, error) {
		rows, err := c.db.QueryContext(ctx, query, rowID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return nil, err
		}
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return nil, err
			}
			return nil, diff.ErrRowNotFound
		}

		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		values := make(diff.RowValues, len(cols))
		for i, col := range cols {
			values[col] = textValue(raw[i])
		}
		return values, nil
	})
	if err != nil {
		return nil, fmt.Errorf("row %s of %s: %w", rowID, table, err)
	}
	return values, nil
}

func textValue(v any) sql.NullString {
	switch val := v.(type) {
	case nil:
		return sql.NullString{}
	case []byte:
		return sql.NullString{String: string(val), Valid: true}
	case string:
		return sql.NullString{String: val, Valid: true}
	case time.Time:
		return sql.NullString{String: val.Format("2006-01-02 15:04:05.999999"), Valid: true}
	default:
		return sql.NullString{String: fmt.Sprint(val), Valid: true}
	}
}

func (c *SQLConnector) literal(v sql.NullString) string {
	if !v.Valid {
		return "NULL"
	}
	return c.QuoteValue(v.String)
}

// GenerateInsert recreates the row from this side. A row that no longer
// exists produces no statements.
func (c *SQLConnector) GenerateInsert(ctx context.Context, table string, rowID string) ([]string, error) {
	values, err := c.RowValues(ctx, table, rowID)
	if errors.Is(err, diff.ErrRowNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cols := make([]string, 0, len(values))
	for col := range values {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	literals := make([]string, len(cols))
	for i, col := range cols {
		literals[i] = c.literal(values[col])
	}

	return []string{fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);",
		diff.QualifiedName(c.databaseName, table),
		strings.Join(cols, ", "),
		strings.Join(literals, ", "),
	)}, nil
}

// GenerateDelete removes the row if it still exists on this side.
func (c *SQLConnector) GenerateDelete(ctx context.Context, table string, rowID string) ([]string, error) {
	pk, err := c.PrimaryKey(ctx, table)
	if err != nil {
		return nil, err
	}
	if _, err := c.RowValues(ctx, table, rowID); err != nil {
		if errors.Is(err, diff.ErrRowNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return []string{fmt.Sprintf("DELETE FROM %s WHERE %s = %s;",
		diff.QualifiedName(c.databaseName, table), pk, c.QuoteValue(rowID))}, nil
}

// Search lists tables with a single-column primary key. The result also
// primes the primary key cache.
func (c *SQLConnector) Search(ctx context.Context) (map[string]string, error) {
	query := c.dialect.searchQuery()
	tables, err := retry.Execute(ctx, c.executor, func(ctx context.Context) (map[string]string, error) {
		rows, err := c.db.QueryContext(ctx, query)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		tables := make(map[string]string)
		for rows.Next() {
			var table, pk string
			if err := rows.Scan(&table, &pk); err != nil {
				return nil, err
			}
			tables[table] = pk
		}
		return tables, rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("search tables: %w", err)
	}

	for table, pk := range tables {
		c.primaryKeys[table] = pk
	}
	c.logger.Debug(fmt.Sprintf("Found %d tables with a single-column primary key", len(tables)))
	return tables, nil
}
