package diff

import (
	"context"
	"strings"
)

// Port is the per-side data access layer. Implementations build and run the
// checksum queries against one database and parse the results.
type Port interface {
	PrimaryKey(ctx context.Context, table string) (string, error)
	MinRowID(ctx context.Context, table string) (string, error)
	MaxRowID(ctx context.Context, table string) (string, error)
	ChunkChecksum(ctx context.Context, table string, r Range) ([]*ChunkChecksum, error)
	RowChecksum(ctx context.Context, table string, r Range) ([]*RowChecksum, error)
	RowValues(ctx context.Context, table string, rowID string) (RowValues, error)
	GenerateInsert(ctx context.Context, table string, rowID string) ([]string, error)
	GenerateDelete(ctx context.Context, table string, rowID string) ([]string, error)
	Search(ctx context.Context) (map[string]string, error)
}

// ValueQuoter is implemented by ports that know how their dialect quotes literals.
type ValueQuoter interface {
	QuoteValue(value string) string
}

// QuoteValue single-quotes a literal, doubling embedded quotes.
func QuoteValue(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// QualifiedName prefixes the table with the database name when one is set.
func QualifiedName(databaseName, table string) string {
	if databaseName == "" {
		return table
	}
	return databaseName + "." + table
}
