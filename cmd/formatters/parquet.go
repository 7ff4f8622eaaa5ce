package formatters

import (
	"bytes"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"
)

// ParquetFormatter handles Parquet format output
type ParquetFormatter struct {
	compression string
}

// NewParquetFormatter creates a new Parquet formatter
func NewParquetFormatter() *ParquetFormatter {
	return &ParquetFormatter{
		compression: "snappy", // Default Parquet compression
	}
}

// NewParquetFormatterWithCompression creates a Parquet formatter with specified compression
func NewParquetFormatterWithCompression(compression string) *ParquetFormatter {
	return &ParquetFormatter{
		compression: compression,
	}
}

func (f *ParquetFormatter) codec() parquet.WriterOption {
	switch f.compression {
	case "zstd":
		return parquet.Compression(&parquet.Zstd)
	case "gzip":
		return parquet.Compression(&parquet.Gzip)
	case "lz4":
		return parquet.Compression(&parquet.Lz4Raw)
	case "none":
		return parquet.Compression(&parquet.Uncompressed)
	default:
		return parquet.Compression(&parquet.Snappy)
	}
}

// Format converts rows to a single Parquet file. Every column is optional.
func (f *ParquetFormatter) Format(rows []map[string]any) ([]byte, error) {
	if len(rows) == 0 {
		return []byte{}, nil
	}

	var buffer bytes.Buffer

	schema := buildSchemaFromRows(rows)
	writer := parquet.NewGenericWriter[map[string]any](&buffer, schema, f.codec())

	if _, err := writer.Write(normalizeRows(rows, columnsOf(rows))); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write parquet rows: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close parquet writer: %w", err)
	}

	return buffer.Bytes(), nil
}

// normalizeRows fills missing columns with nil and stringifies values parquet
// cannot map directly
func normalizeRows(rows []map[string]any, columns []string) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		normalized := make(map[string]any, len(columns))
		for _, col := range columns {
			switch v := row[col].(type) {
			case time.Time:
				normalized[col] = v.UTC().Format(time.RFC3339)
			case []string:
				normalized[col] = fmt.Sprint(v)
			default:
				normalized[col] = v
			}
		}
		out[i] = normalized
	}
	return out
}

// buildSchemaFromRows types each column from its first non-nil value
func buildSchemaFromRows(rows []map[string]any) *parquet.Schema {
	fields := make(parquet.Group)
	for _, col := range columnsOf(rows) {
		var sample any = ""
		for _, row := range rows {
			if value := row[col]; value != nil {
				sample = value
				break
			}
		}

		var field parquet.Node
		switch sample.(type) {
		case bool:
			field = parquet.Optional(parquet.Leaf(parquet.BooleanType))
		case int, int8, int16, int32:
			field = parquet.Optional(parquet.Leaf(parquet.Int32Type))
		case int64:
			field = parquet.Optional(parquet.Leaf(parquet.Int64Type))
		case float32:
			field = parquet.Optional(parquet.Leaf(parquet.FloatType))
		case float64:
			field = parquet.Optional(parquet.Leaf(parquet.DoubleType))
		default:
			field = parquet.Optional(parquet.String())
		}
		fields[col] = field
	}

	return parquet.NewSchema("checksumo_report", fields)
}

// Extension returns the file extension for Parquet files
func (f *ParquetFormatter) Extension() string {
	return ".parquet"
}

// MIMEType returns the MIME type for Parquet
func (f *ParquetFormatter) MIMEType() string {
	return "application/vnd.apache.parquet"
}
