package formatters

import (
	"errors"
	"fmt"
	"sort"
)

// Format type constants
const (
	FormatJSONL   = "jsonl"
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// ErrUnsupportedFormat is returned when an unknown report format is requested
var ErrUnsupportedFormat = errors.New("unsupported report format")

// Formatter encodes report records
type Formatter interface {
	// Format encodes rows; missing keys are written as empty/null
	Format(rows []map[string]any) ([]byte, error)

	// Extension returns the file extension for this format (e.g., ".jsonl", ".csv", ".parquet")
	Extension() string

	// MIMEType returns the MIME type for this format
	MIMEType() string
}

// GetFormatter returns the formatter for format. Parquet compresses its pages
// with compression; the other formats ignore it.
func GetFormatter(format string, compression string) (Formatter, error) {
	switch format {
	case FormatJSONL, "":
		return NewJSONLFormatter(), nil
	case FormatCSV:
		return NewCSVFormatter(), nil
	case FormatParquet:
		return NewParquetFormatterWithCompression(compression), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// UsesInternalCompression returns true if the format handles compression internally
func UsesInternalCompression(format string) bool {
	return format == FormatParquet
}

// columnsOf returns the sorted union of keys across rows
func columnsOf(rows []map[string]any) []string {
	seen := make(map[string]struct{})
	for _, row := range rows {
		for col := range row {
			seen[col] = struct{}{}
		}
	}

	columns := make([]string, 0, len(seen))
	for col := range seen {
		columns = append(columns, col)
	}
	sort.Strings(columns)
	return columns
}
