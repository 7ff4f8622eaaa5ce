package diff

import (
	"database/sql"
	"errors"
	"fmt"
)

var (
	// ErrEmptyTable is returned by a Port when a table has no rows to bound.
	ErrEmptyTable = errors.New("table has no rows")
	// ErrRowNotFound is returned by a Port when a row id does not exist on that side.
	ErrRowNotFound = errors.New("row not found")
	// ErrNoSide is returned when a comparison is built without either side.
	ErrNoSide = errors.New("row comparison requires a master or replica checksum")
	// ErrColumnMismatch is returned when master and replica rows expose different columns.
	ErrColumnMismatch = errors.New("column exists on only one side")
	// ErrUncheckable is wrapped by Port errors for tables that cannot be diffed
	// at all, such as tables without a single-column primary key.
	ErrUncheckable = errors.New("table cannot be checked")
)

// ChunkChecksum is the aggregate fingerprint of a contiguous key range.
// A chunk with Count 0 has empty Min and Max.
type ChunkChecksum struct {
	TableName  string
	PrimaryKey string
	Min        string
	Max        string
	Count      int64
	CRC32      uint64
}

// Equal reports whether both chunks cover the same bounds with the same
// row count and fingerprint. Table name and key column are not compared.
func (c *ChunkChecksum) Equal(other *ChunkChecksum) bool {
	if c == nil || other == nil {
		return false
	}
	return c.Min == other.Min &&
		c.Max == other.Max &&
		c.Count == other.Count &&
		c.CRC32 == other.CRC32
}

func (c *ChunkChecksum) String() string {
	if c == nil {
		return "<nil chunk>"
	}
	return fmt.Sprintf("%s.%s [%s..%s] count=%d crc32=%d", c.TableName, c.PrimaryKey, c.Min, c.Max, c.Count, c.CRC32)
}

// RowChecksum is the fingerprint of one physical row.
type RowChecksum struct {
	TableName  string
	PrimaryKey string
	RowID      string
	CRC32      uint64
}

// Equal reports whether both rows share the same id and fingerprint.
func (r *RowChecksum) Equal(other *RowChecksum) bool {
	if r == nil || other == nil {
		return false
	}
	return r.RowID == other.RowID && r.CRC32 == other.CRC32
}

func (r *RowChecksum) String() string {
	if r == nil {
		return "<nil row>"
	}
	return fmt.Sprintf("%s.%s=%s crc32=%d", r.TableName, r.PrimaryKey, r.RowID, r.CRC32)
}

// RowValues maps column names to their textual values. NULL is an invalid NullString.
type RowValues map[string]sql.NullString

// Bound is one end of a key range.
type Bound struct {
	Key       string
	Exclusive bool
}

// Inclusive returns a bound that includes key.
func Inclusive(key string) *Bound {
	return &Bound{Key: key}
}

// Exclusive returns a bound that excludes key.
func Exclusive(key string) *Bound {
	return &Bound{Key: key, Exclusive: true}
}

// Range selects rows by primary key. Nil bounds are open, a zero Limit is unlimited.
type Range struct {
	Lower *Bound
	Upper *Bound
	Limit int
}

// Between is the inclusive [min, max] range.
func Between(minKey, maxKey string) Range {
	return Range{Lower: Inclusive(minKey), Upper: Inclusive(maxKey)}
}

// Row selects exactly one row id.
func Row(rowID string) Range {
	return Range{Lower: Inclusive(rowID), Upper: Inclusive(rowID)}
}
