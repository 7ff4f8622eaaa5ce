package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"

	"github.com/airframesio/checksumo/cmd/compressors"
	"github.com/airframesio/checksumo/cmd/diff"
	"github.com/airframesio/checksumo/cmd/formatters"
	"github.com/airframesio/checksumo/cmd/retry"
)

var ErrS3UploaderNotInitialized = errors.New("S3 uploader not initialized")

// Findings is everything a run discovered, flattened into report rows.
type Findings struct {
	RunID      string
	Mode       string
	State      string
	Iterations int
	CheckedAt  time.Time
	Chunks     []*diff.ChunkComparison
	Report     *diff.Report
}

// Rows converts findings into one record per mismatched chunk, generated
// statement and failed row.
func (f *Findings) Rows() []map[string]any {
	var rows []map[string]any

	base := func(kind, table string) map[string]any {
		row := map[string]any{
			"run_id":     f.RunID,
			"mode":       f.Mode,
			"kind":       kind,
			"table":      table,
			"checked_at": f.CheckedAt,
		}
		if f.State != "" {
			row["state"] = f.State
			row["iterations"] = int64(f.Iterations)
		}
		return row
	}

	for _, c := range f.Chunks {
		row := base("chunk", c.TableName)
		row["primary_key"] = c.PrimaryKey
		row["min_row"] = c.MinRow
		row["max_row"] = c.MaxRow
		if c.Master != nil {
			row["master_count"] = c.Master.Count
			row["master_crc32"] = int64(c.Master.CRC32)
		}
		if c.Replica != nil {
			row["replica_count"] = c.Replica.Count
			row["replica_crc32"] = int64(c.Replica.CRC32)
		}
		rows = append(rows, row)
	}

	if f.Report == nil {
		return rows
	}

	for _, s := range f.Report.Statements {
		row := base(string(s.Kind), s.TableName)
		row["row_id"] = s.RowID
		row["presence"] = s.Presence.String()
		row["sql"] = s.SQL
		rows = append(rows, row)
	}
	for _, failure := range f.Report.Failures {
		row := base(string(failure.Kind), failure.TableName)
		row["row_id"] = failure.RowID
		row["presence"] = failure.Presence.String()
		row["error"] = failure.Err.Error()
		rows = append(rows, row)
	}

	return rows
}

// ReportSink writes findings to the report directory and/or an S3 bucket.
type ReportSink struct {
	config   *Config
	logger   *slog.Logger
	uploader s3manageriface.UploaderAPI
	executor *retry.Executor
}

// NewReportSink creates a sink for config. An S3 session is opened only when
// a bucket is configured.
func NewReportSink(config *Config, logger *slog.Logger) (*ReportSink, error) {
	sink := &ReportSink{
		config: config,
		logger: logger,
		executor: retry.New(
			retry.WithRetryCount(config.Retry.Count),
			retry.WithRetryWait(config.Retry.Wait),
			retry.WithLogger(logger),
		),
	}

	if config.S3.Bucket == "" {
		return sink, nil
	}

	awsConfig := &aws.Config{
		Region:           aws.String(config.S3.Region),
		Credentials:      credentials.NewStaticCredentials(config.S3.AccessKey, config.S3.SecretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	}
	if config.S3.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.S3.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %w", err)
	}
	sink.uploader = s3manager.NewUploader(sess)

	return sink, nil
}

// encode formats and compresses rows, returning the payload, its key and the
// content encoding to advertise.
func (s *ReportSink) encode(findings *Findings, rows []map[string]any) ([]byte, string, string, error) {
	cfg := s.config.Report

	formatter, err := formatters.GetFormatter(cfg.Format, cfg.Compression)
	if err != nil {
		return nil, "", "", err
	}

	data, err := formatter.Format(rows)
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to format report: %w", err)
	}

	compressionExt, contentEncoding := "", ""
	if !formatters.UsesInternalCompression(cfg.Format) {
		compressor, err := compressors.GetCompressor(cfg.Compression)
		if err != nil {
			return nil, "", "", err
		}
		if data, err = compressors.Compress(compressor, data, cfg.CompressionLevel); err != nil {
			return nil, "", "", err
		}
		compressionExt = compressor.Extension()
		contentEncoding = compressor.ContentEncoding()
	}

	key := NewPathTemplate(cfg.PathTemplate).GenerateFilename(
		findings.Mode, findings.RunID, findings.CheckedAt, formatter.Extension(), compressionExt)

	return data, key, contentEncoding, nil
}

// Write stores the findings report and returns the locations written.
// Nothing is written when there are no findings.
func (s *ReportSink) Write(ctx context.Context, findings *Findings) ([]string, error) {
	rows := findings.Rows()
	if len(rows) == 0 {
		s.logger.Debug("No findings to report")
		return nil, nil
	}

	data, key, contentEncoding, err := s.encode(findings, rows)
	if err != nil {
		return nil, err
	}

	var locations []string

	if s.config.Report.Dir != "" {
		path := filepath.Join(s.config.Report.Dir, filepath.FromSlash(key))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return locations, fmt.Errorf("failed to create report directory: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return locations, fmt.Errorf("failed to write report: %w", err)
		}
		s.logger.Info(fmt.Sprintf("📝 Report written to %s (%d rows, %d bytes)", path, len(rows), len(data)))
		locations = append(locations, path)
	}

	if s.config.S3.Bucket != "" {
		if err := s.upload(ctx, key, data, contentEncoding); err != nil {
			return locations, err
		}
		location := fmt.Sprintf("s3://%s/%s", s.config.S3.Bucket, key)
		s.logger.Info(fmt.Sprintf("☁️  Report uploaded to %s (%d rows, %d bytes)", location, len(rows), len(data)))
		locations = append(locations, location)
	}

	return locations, nil
}

func (s *ReportSink) upload(ctx context.Context, key string, data []byte, contentEncoding string) error {
	if s.uploader == nil {
		return ErrS3UploaderNotInitialized
	}

	s.logger.Debug(fmt.Sprintf("  ☁️  Uploading to s3://%s/%s (size: %d bytes)", s.config.S3.Bucket, key, len(data)))

	return s.executor.Do(ctx, func(ctx context.Context) error {
		input := &s3manager.UploadInput{
			Bucket: aws.String(s.config.S3.Bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		}
		if formatter, err := formatters.GetFormatter(s.config.Report.Format, ""); err == nil {
			input.ContentType = aws.String(formatter.MIMEType())
		}
		if contentEncoding != "" {
			input.ContentEncoding = aws.String(contentEncoding)
		}

		if _, err := s.uploader.UploadWithContext(ctx, input); err != nil {
			return fmt.Errorf("failed to upload report: %w", err)
		}
		return nil
	})
}
