package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/klauspost/compress/zstd"

	"github.com/airframesio/checksumo/cmd/diff"
	"github.com/airframesio/checksumo/cmd/retry"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeUploader records uploads and fails the first failures calls
type fakeUploader struct {
	failures int
	calls    int
	inputs   []*s3manager.UploadInput
	bodies   [][]byte
}

func (f *fakeUploader) Upload(input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	return f.UploadWithContext(context.Background(), input, opts...)
}

func (f *fakeUploader) UploadWithContext(_ aws.Context, input *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection reset by peer")
	}
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, input)
	f.bodies = append(f.bodies, body)
	return &s3manager.UploadOutput{Location: "s3://" + aws.StringValue(input.Bucket) + "/" + aws.StringValue(input.Key)}, nil
}

func newTestSink(config *Config, uploader *fakeUploader) *ReportSink {
	sink := &ReportSink{
		config: config,
		logger: newTestLogger(),
		executor: retry.New(
			retry.WithRetryCount(config.Retry.Count),
			retry.WithSleep(func(context.Context, time.Duration) error { return nil }),
		),
	}
	if uploader != nil {
		sink.uploader = uploader
	}
	return sink
}

func sampleFindings() *Findings {
	return &Findings{
		RunID:     "run-42",
		Mode:      ModeRowDiff,
		CheckedAt: time.Date(2024, time.May, 1, 8, 0, 0, 0, time.UTC),
		Report: &diff.Report{
			Statements: []diff.Statement{
				{
					TableName: "addresses",
					RowID:     "3",
					Kind:      diff.StatementUpdate,
					Presence:  diff.Diverged,
					SQL:       "-- run on REPLICA\nUPDATE addresses SET city = 'Austin' WHERE id = '3';",
				},
			},
			Failures: []diff.Failure{
				{
					TableName: "addresses",
					RowID:     "9",
					Kind:      diff.StatementInsert,
					Presence:  diff.MasterOnly,
					Err:       diff.ErrRowNotFound,
				},
			},
		},
	}
}

func TestFindingsRows(t *testing.T) {
	t.Run("Statements", func(t *testing.T) {
		rows := sampleFindings().Rows()
		if len(rows) != 2 {
			t.Fatalf("expected 2 rows, got %d", len(rows))
		}
		if rows[0]["kind"] != "UPDATE" || rows[0]["row_id"] != "3" || rows[0]["presence"] != "diverged" {
			t.Errorf("unexpected statement row %v", rows[0])
		}
		if rows[1]["error"] != diff.ErrRowNotFound.Error() {
			t.Errorf("unexpected failure row %v", rows[1])
		}
		if _, ok := rows[0]["state"]; ok {
			t.Error("state should only be reported in wait mode")
		}
	})

	t.Run("Chunks", func(t *testing.T) {
		findings := &Findings{
			RunID: "run-1",
			Mode:  ModeChunkSummary,
			Chunks: []*diff.ChunkComparison{
				{
					TableName:  "orders",
					PrimaryKey: "id",
					MinRow:     "1",
					MaxRow:     "1024",
					Master:     &diff.ChunkChecksum{Count: 1024, CRC32: 99},
				},
			},
		}

		rows := findings.Rows()
		if len(rows) != 1 {
			t.Fatalf("expected 1 row, got %d", len(rows))
		}
		if rows[0]["master_count"] != int64(1024) || rows[0]["master_crc32"] != int64(99) {
			t.Errorf("unexpected chunk row %v", rows[0])
		}
		if _, ok := rows[0]["replica_count"]; ok {
			t.Error("a missing replica chunk should leave replica columns empty")
		}
	})

	t.Run("WaitState", func(t *testing.T) {
		findings := sampleFindings()
		findings.State = "TIMEOUT"
		findings.Iterations = 4

		rows := findings.Rows()
		if rows[0]["state"] != "TIMEOUT" || rows[0]["iterations"] != int64(4) {
			t.Errorf("unexpected wait row %v", rows[0])
		}
	})
}

func TestReportSinkLocal(t *testing.T) {
	dir := t.TempDir()
	config := validConfig()
	config.Report.Dir = dir
	config.Report.Format = "jsonl"
	config.Report.Compression = "zstd"
	config.Report.PathTemplate = "{YYYY}/{MM}/{mode}-{run}"

	locations, err := newTestSink(config, nil).Write(context.Background(), sampleFindings())
	if err != nil {
		t.Fatal(err)
	}

	expected := filepath.Join(dir, "2024", "05", "row_diff-run-42.jsonl.zst")
	if len(locations) != 1 || locations[0] != expected {
		t.Fatalf("expected %s, got %v", expected, locations)
	}

	compressed, err := os.ReadFile(expected)
	if err != nil {
		t.Fatal(err)
	}
	decoder, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		t.Fatal(err)
	}
	defer decoder.Close()
	data, err := io.ReadAll(decoder)
	if err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatal(err)
	}
	if first["run_id"] != "run-42" || first["table"] != "addresses" {
		t.Errorf("unexpected record %v", first)
	}
}

func TestReportSinkS3(t *testing.T) {
	config := validConfig()
	config.Retry.Count = 2
	config.Report.Format = "csv"
	config.Report.Compression = "gzip"
	config.Report.CompressionLevel = 6
	config.S3 = S3Config{Bucket: "reports", AccessKey: "a", SecretKey: "s", Region: "us-east-1"}

	t.Run("UploadsWithRetry", func(t *testing.T) {
		uploader := &fakeUploader{failures: 1}
		locations, err := newTestSink(config, uploader).Write(context.Background(), sampleFindings())
		if err != nil {
			t.Fatal(err)
		}

		if uploader.calls != 2 {
			t.Errorf("expected one retry, got %d calls", uploader.calls)
		}
		if len(locations) != 1 || locations[0] != "s3://reports/checksumo/2024/05/01/row_diff-run-42.csv.gz" {
			t.Errorf("unexpected locations %v", locations)
		}

		input := uploader.inputs[0]
		if aws.StringValue(input.ContentType) != "text/csv" || aws.StringValue(input.ContentEncoding) != "gzip" {
			t.Errorf("unexpected content headers %s / %s", aws.StringValue(input.ContentType), aws.StringValue(input.ContentEncoding))
		}
	})

	t.Run("GivesUp", func(t *testing.T) {
		uploader := &fakeUploader{failures: 10}
		if _, err := newTestSink(config, uploader).Write(context.Background(), sampleFindings()); err == nil {
			t.Fatal("expected an upload error")
		}
		if uploader.calls != 3 {
			t.Errorf("expected 3 attempts, got %d", uploader.calls)
		}
	})

	t.Run("NoUploader", func(t *testing.T) {
		if _, err := newTestSink(config, nil).Write(context.Background(), sampleFindings()); !errors.Is(err, ErrS3UploaderNotInitialized) {
			t.Errorf("expected ErrS3UploaderNotInitialized, got %v", err)
		}
	})
}

func TestReportSinkSkipsEmptyFindings(t *testing.T) {
	config := validConfig()
	config.Report.Dir = t.TempDir()

	locations, err := newTestSink(config, nil).Write(context.Background(), &Findings{RunID: "r", Mode: ModeWait})
	if err != nil || locations != nil {
		t.Fatalf("expected nothing written, got %v, %v", locations, err)
	}
}
