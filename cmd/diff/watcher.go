package diff

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"
)

// DefaultWaitInterval is the pause between watch iterations.
const DefaultWaitInterval = 5 * time.Second

// replicaHeader marks every generated block; the master is never written to.
const replicaHeader = "-- run on REPLICA"

var validTableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidTableName reports whether name is a plain or schema qualified identifier.
func ValidTableName(name string) bool {
	return validTableName.MatchString(name)
}

// TableError is a diff failure scoped to a single table.
type TableError struct {
	Table string
	Err   error
}

func (e *TableError) Error() string { return fmt.Sprintf("table %s: %v", e.Table, e.Err) }
func (e *TableError) Unwrap() error { return e.Err }

// Options configures a Watcher.
type Options struct {
	DatabaseName string
	ChunkSize    int
	Logger       *slog.Logger
	// Out receives generated statements and chunk reports.
	Out io.Writer
	// Sleep pauses between watch iterations. Defaults to time.Sleep.
	Sleep func(time.Duration)
	// Observer is notified on every watch state transition.
	Observer func(Event)
}

// Watcher owns the table pairs of one run and drives discovery, diffing,
// reconciliation and the watch loop.
type Watcher struct {
	master  Port
	replica Port
	opts    Options
	pairs   []*TablePair
	logger  *slog.Logger
}

// NewWatcher creates a watcher for tableNames. Names that are not valid
// identifiers are skipped.
func NewWatcher(master, replica Port, tableNames []string, opts Options) *Watcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	if opts.ChunkSize < 1 {
		opts.ChunkSize = DefaultChunkSize
	}

	w := &Watcher{
		master:  master,
		replica: replica,
		opts:    opts,
		logger:  opts.Logger,
	}
	for _, name := range tableNames {
		if !ValidTableName(name) {
			w.logger.Warn(fmt.Sprintf("skipping invalid table name %q", name))
			continue
		}
		w.logger.Debug(fmt.Sprintf("adding table pair for %s", name))
		w.pairs = append(w.pairs, w.newPair(name))
	}
	w.pairs = dedupe(w.pairs)
	return w
}

func (w *Watcher) newPair(name string) *TablePair {
	return NewTablePair(name, w.master, w.replica, PairOptions{
		ChunkSize:    w.opts.ChunkSize,
		DatabaseName: w.opts.DatabaseName,
		Logger:       w.logger,
	})
}

func dedupe(pairs []*TablePair) []*TablePair {
	seen := make(map[string]bool, len(pairs))
	out := pairs[:0]
	for _, p := range pairs {
		if seen[p.tableName] {
			continue
		}
		seen[p.tableName] = true
		out = append(out, p)
	}
	return out
}

// Pairs returns the current table pairs.
func (w *Watcher) Pairs() []*TablePair { return w.pairs }

// TableNames returns the names of the current table pairs in order.
func (w *Watcher) TableNames() []string {
	names := make([]string, len(w.pairs))
	for i, p := range w.pairs {
		names[i] = p.tableName
	}
	return names
}

// Search adds a pair for every checkable table in the master catalog.
func (w *Watcher) Search(ctx context.Context) error {
	tables, err := w.master.Search(ctx)
	if err != nil {
		return fmt.Errorf("failed to search master catalog: %w", err)
	}

	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		w.pairs = append(w.pairs, w.newPair(name))
	}
	w.pairs = dedupe(w.pairs)
	w.logger.Info(fmt.Sprintf("🔍 Found %d tables to check", len(names)))
	return nil
}

// Reset replaces the table pairs with one fresh pair per name.
func (w *Watcher) Reset(tableNames []string) {
	pairs := make([]*TablePair, 0, len(tableNames))
	for _, name := range tableNames {
		w.logger.Debug(fmt.Sprintf("creating table pair for %s", name))
		pairs = append(pairs, w.newPair(name))
	}
	w.pairs = dedupe(pairs)
}

// drop removes the pairs named in names.
func (w *Watcher) drop(names []string) {
	if len(names) == 0 {
		return
	}
	kept := w.pairs[:0]
	for _, p := range w.pairs {
		if !slices.Contains(names, p.tableName) {
			kept = append(kept, p)
		}
	}
	w.pairs = kept
}

// skip reports whether err marks the pair as uncheckable, logging it if so.
func (w *Watcher) skip(p *TablePair, err error) bool {
	if !errors.Is(err, ErrUncheckable) {
		return false
	}
	w.logger.Warn(fmt.Sprintf("⚠️  Skipping %s: %v", p.tableName, err))
	return true
}

func (w *Watcher) pair(tableName string) *TablePair {
	for _, p := range w.pairs {
		if p.tableName == tableName {
			return p
		}
	}
	return nil
}

// Delta diffs every pair in order. A failing table does not stop the others:
// its error is returned joined with the rest while the rows found elsewhere
// are still returned. Uncheckable tables are dropped from the watcher.
func (w *Watcher) Delta(ctx context.Context) ([]*RowComparison, error) {
	rows, _, err := w.delta(ctx)
	return rows, err
}

func (w *Watcher) delta(ctx context.Context) ([]*RowComparison, []string, error) {
	var (
		diff   []*RowComparison
		failed  []string
		skipped []string
		errs    []error
	)
	defer func() { w.drop(skipped) }()

	for _, p := range w.pairs {
		if err := ctx.Err(); err != nil {
			return diff, failed, err
		}
		w.logger.Debug(fmt.Sprintf("searching for delta on %s", p.tableName))

		d, err := p.Delta(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return diff, failed, ctxErr
			}
			if w.skip(p, err) {
				skipped = append(skipped, p.tableName)
				continue
			}
			w.logger.Error(fmt.Sprintf("❌ Diff failed on %s: %v", p.tableName, err))
			failed = append(failed, p.tableName)
			errs = append(errs, &TableError{Table: p.tableName, Err: err})
			continue
		}
		for _, id := range sortedRowIDs(d) {
			diff = append(diff, d[id])
		}
	}
	return diff, failed, errors.Join(errs...)
}

func block(statements []string) string {
	return replicaHeader + "\n" + strings.Join(statements, "\n\n") + "\n"
}

// GenerateDelete returns a DELETE block for a row that exists only on the replica.
func (w *Watcher) GenerateDelete(ctx context.Context, rc *RowComparison) (string, error) {
	if rc.Presence() != ReplicaOnly {
		return "", nil
	}
	w.logger.Info(fmt.Sprintf("generating DELETE for %s", rc))

	statements, err := w.replica.GenerateDelete(ctx, rc.TableName, rc.RowID)
	if err != nil {
		return "", fmt.Errorf("failed to generate delete for %s: %w", rc, err)
	}
	if len(statements) == 0 {
		return "", nil
	}
	return block(statements), nil
}

// GenerateInsert returns an INSERT block for a row missing from the replica.
func (w *Watcher) GenerateInsert(ctx context.Context, rc *RowComparison) (string, error) {
	if rc.Presence() != MasterOnly {
		return "", nil
	}
	w.logger.Info(fmt.Sprintf("generating INSERT for %s", rc))

	statements, err := w.master.GenerateInsert(ctx, rc.TableName, rc.RowID)
	if err != nil {
		return "", fmt.Errorf("failed to generate insert for %s: %w", rc, err)
	}
	if len(statements) == 0 {
		return "", nil
	}
	return block(statements), nil
}

// GenerateUpdate returns an UPDATE block for a row whose content diverged.
func (w *Watcher) GenerateUpdate(ctx context.Context, rc *RowComparison) (string, error) {
	if !rc.HasMaster() || !rc.HasReplica() {
		return "", nil
	}
	p := w.pair(rc.TableName)
	if p == nil {
		return "", nil
	}
	w.logger.Info(fmt.Sprintf("generating UPDATE for %s", rc))

	statement, err := p.GenerateUpdate(ctx, rc.RowID)
	if err != nil {
		return "", fmt.Errorf("failed to generate update for %s: %w", rc, err)
	}
	if statement == "" {
		return "", nil
	}
	return block([]string{statement}), nil
}

// Reconcile diffs every pair and writes corrective statements for the result.
// Tables whose diff failed are reported in the returned error.
func (w *Watcher) Reconcile(ctx context.Context) (*Report, error) {
	delta, err := w.Delta(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	report := w.ReconcileDelta(ctx, delta)
	return report, err
}

// ReconcileDelta writes a statement block for every comparison in delta.
// A row whose statement cannot be generated is recorded as a failure and
// does not block the others.
func (w *Watcher) ReconcileDelta(ctx context.Context, delta []*RowComparison) *Report {
	report := &Report{}
	for _, rc := range delta {
		w.logger.Debug(fmt.Sprintf("found row in delta: %s", rc))

		var (
			kind      StatementKind
			generated string
			err       error
		)
		switch rc.Presence() {
		case ReplicaOnly:
			kind = StatementDelete
			generated, err = w.GenerateDelete(ctx, rc)
		case MasterOnly:
			kind = StatementInsert
			generated, err = w.GenerateInsert(ctx, rc)
		default:
			kind = StatementUpdate
			generated, err = w.GenerateUpdate(ctx, rc)
		}

		if err != nil {
			w.logger.Error(fmt.Sprintf("❌ %v", err))
			report.Failures = append(report.Failures, Failure{
				TableName: rc.TableName,
				RowID:     rc.RowID,
				Kind:      kind,
				Presence:  rc.Presence(),
				Err:       err,
			})
			continue
		}
		if generated == "" {
			continue
		}

		fmt.Fprintln(w.opts.Out, generated)
		report.Statements = append(report.Statements, Statement{
			TableName: rc.TableName,
			RowID:     rc.RowID,
			Kind:      kind,
			Presence:  rc.Presence(),
			SQL:       generated,
		})
	}
	return report
}

// ReconcileChunks reports every mismatched chunk range without descending to
// row level.
func (w *Watcher) ReconcileChunks(ctx context.Context) ([]*ChunkComparison, error) {
	var (
		diff    []*ChunkComparison
		skipped []string
		errs    []error
	)
	defer func() { w.drop(skipped) }()

	for _, p := range w.pairs {
		if err := ctx.Err(); err != nil {
			return diff, err
		}
		w.logger.Debug(fmt.Sprintf("searching for chunk delta on %s", p.tableName))

		chunks, err := p.CompareChunks(ctx)
		if err != nil {
			if w.skip(p, err) {
				skipped = append(skipped, p.tableName)
				continue
			}
			w.logger.Error(fmt.Sprintf("❌ Chunk diff failed on %s: %v", p.tableName, err))
			errs = append(errs, &TableError{Table: p.tableName, Err: err})
			continue
		}
		diff = append(diff, chunks...)
	}

	for _, cc := range diff {
		w.logger.Debug(fmt.Sprintf("found chunk diff: %s", cc))
		fmt.Fprintf(w.opts.Out, "diff found on table %s where %s.%s between '%s' and '%s'\n",
			cc.TableName, cc.TableName, cc.PrimaryKey, cc.MinRow, cc.MaxRow)
	}
	return diff, errors.Join(errs...)
}
