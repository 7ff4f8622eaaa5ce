package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/airframesio/checksumo/cmd/connectors"
	"github.com/airframesio/checksumo/cmd/diff"
	"github.com/airframesio/checksumo/cmd/retry"
)

// Checker runs one consistency check between the configured master and replica
type Checker struct {
	config    *Config
	logger    *slog.Logger
	out       io.Writer
	runID     string
	sink      *ReportSink
	observers []func(diff.Event)
}

// NewChecker creates a checker writing corrective SQL and chunk reports to out
func NewChecker(config *Config, logger *slog.Logger, out io.Writer, runID string) *Checker {
	return &Checker{
		config: config,
		logger: logger,
		out:    out,
		runID:  runID,
	}
}

// WithReportSink stores findings through sink after the check completes
func (c *Checker) WithReportSink(sink *ReportSink) *Checker {
	c.sink = sink
	return c
}

// Observe registers fn for every watch loop transition
func (c *Checker) Observe(fn func(diff.Event)) {
	c.observers = append(c.observers, fn)
}

func (c *Checker) notify(e diff.Event) {
	for _, fn := range c.observers {
		fn(e)
	}
}

// databaseName is the statement qualifier; only MySQL addresses tables as db.table
func (c *Checker) databaseName() string {
	if c.config.Driver == "mysql" {
		return c.config.DatabaseName
	}
	return ""
}

func (c *Checker) open(ctx context.Context, side string, db DatabaseConfig) (*connectors.SQLConnector, error) {
	conn, err := connectors.Open(ctx, c.config.connectorConfig(db), connectors.Options{
		DatabaseName: c.databaseName(),
		Logger:       c.logger.With("side", side),
		Retry: []retry.Option{
			retry.WithRetryCount(c.config.Retry.Count),
			retry.WithRetryWait(c.config.Retry.Wait),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", side, err)
	}
	return conn, nil
}

// Run connects to both sides and performs the configured watch mode. timeout
// is the deadline token used by the wait mode. A non-nil error may be
// returned together with partial findings when only some tables failed.
func (c *Checker) Run(ctx context.Context, timeout <-chan struct{}) (*Findings, error) {
	c.logger.Info(fmt.Sprintf("🔌 Connecting to master and replica (%s)...", c.config.Driver))

	master, err := c.open(ctx, "master", c.config.Master)
	if err != nil {
		return nil, err
	}
	defer master.Close()

	replica, err := c.open(ctx, "replica", c.config.Replica)
	if err != nil {
		return nil, err
	}
	defer replica.Close()

	watcher := diff.NewWatcher(master, replica, c.config.Tables, diff.Options{
		DatabaseName: c.databaseName(),
		ChunkSize:    c.config.ChunkSize,
		Logger:       c.logger,
		Out:          c.out,
		Observer:     c.notify,
	})

	if len(c.config.Tables) == 0 {
		c.logger.Debug("No tables given, searching the master catalog")
		if err := watcher.Search(ctx); err != nil {
			return nil, fmt.Errorf("failed to discover tables: %w", err)
		}
	}

	findings := &Findings{
		RunID:     c.runID,
		Mode:      c.config.WatchMode,
		CheckedAt: time.Now().UTC(),
	}

	tables := watcher.TableNames()
	if len(tables) == 0 {
		c.logger.Warn("⚠️  No tables to check")
		return findings, nil
	}
	c.logger.Info(fmt.Sprintf("🔍 Checking %d tables in %s mode: %v", len(tables), c.config.WatchMode, tables))

	var runErr error
	switch c.config.WatchMode {
	case ModeChunkSummary:
		findings.Chunks, runErr = watcher.ReconcileChunks(ctx)
		c.logger.Info(fmt.Sprintf("📊 Found %d differing chunks", len(findings.Chunks)))
	case ModeRowDiff:
		findings.Report, runErr = watcher.Reconcile(ctx)
		if findings.Report != nil {
			c.logger.Info(fmt.Sprintf("📊 Generated %d statements, %d rows failed",
				len(findings.Report.Statements), len(findings.Report.Failures)))
		}
	case ModeWait:
		var result *diff.WatchResult
		result, runErr = watcher.Watch(ctx, timeout, c.config.WaitInterval)
		if result != nil {
			findings.State = result.State.String()
			findings.Iterations = result.Iterations
			findings.Report = result.Report
			if result.State == diff.StateTimeout {
				c.logger.Warn(fmt.Sprintf("⚠️  Replica did not converge before the deadline, %d rows still differ", len(result.Delta)))
			}
		}
	default:
		return nil, fmt.Errorf("%w: '%s'", ErrWatchModeInvalid, c.config.WatchMode)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	if c.sink != nil {
		if _, err := c.sink.Write(ctx, findings); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("failed to write report: %w", err))
		}
	}

	return findings, runErr
}
