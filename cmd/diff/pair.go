package diff

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
)

// DefaultChunkSize is the number of rows covered by one master chunk.
const DefaultChunkSize = 1024

// PairOptions configures a TablePair.
type PairOptions struct {
	ChunkSize    int
	DatabaseName string
	Logger       *slog.Logger
}

// TablePair holds the master and replica sides of one logical table and runs
// the chunk, row and column level diff between them.
type TablePair struct {
	tableName    string
	chunkSize    int
	databaseName string
	master       *Table
	replica      *Table
	quote        func(string) string
	logger       *slog.Logger
}

// NewTablePair creates the pair for tableName over the two ports.
func NewTablePair(tableName string, master, replica Port, opts PairOptions) *TablePair {
	if opts.ChunkSize < 1 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	quote := QuoteValue
	if q, ok := master.(ValueQuoter); ok {
		quote = q.QuoteValue
	}
	return &TablePair{
		tableName:    tableName,
		chunkSize:    opts.ChunkSize,
		databaseName: opts.DatabaseName,
		master:       NewTable(tableName, master),
		replica:      NewTable(tableName, replica),
		quote:        quote,
		logger:       opts.Logger.With("table", tableName),
	}
}

func (p *TablePair) TableName() string { return p.tableName }
func (p *TablePair) ChunkSize() int    { return p.chunkSize }
func (p *TablePair) Master() *Table    { return p.master }
func (p *TablePair) Replica() *Table   { return p.replica }

// MasterChunks walks the master table in key order, chunkSize rows at a time.
// Every chunk after the first starts strictly after the previous chunk's max.
func (p *TablePair) MasterChunks(ctx context.Context) ([]*ChunkChecksum, error) {
	minRowID, err := p.master.MinRowID(ctx)
	if errors.Is(err, ErrEmptyTable) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read min row id: %w", err)
	}

	var chunks []*ChunkChecksum
	lower := Inclusive(minRowID)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := p.master.ChunkChecksum(ctx, Range{Lower: lower, Limit: p.chunkSize})
		if err != nil {
			return nil, fmt.Errorf("failed to checksum master chunk from %s: %w", lower.Key, err)
		}

		var last *ChunkChecksum
		for _, chunk := range result {
			if chunk.Count == 0 {
				continue
			}
			chunks = append(chunks, chunk)
			last = chunk
		}
		if last == nil || last.Count < int64(p.chunkSize) {
			break
		}
		lower = Exclusive(last.Max)
	}

	p.logger.Debug(fmt.Sprintf("master has %d chunks", len(chunks)))
	return chunks, nil
}

// CompareChunks checksums the replica over each master chunk's bounds and
// returns the ranges that disagree. The replica is also probed for rows
// outside the master's key range.
func (p *TablePair) CompareChunks(ctx context.Context) ([]*ChunkComparison, error) {
	primaryKey, err := p.master.PrimaryKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read primary key: %w", err)
	}

	masterChunks, err := p.MasterChunks(ctx)
	if err != nil {
		return nil, err
	}

	var diff []*ChunkComparison
	for i, mch := range masterChunks {
		// Chunks after the first cover the gap since the previous chunk so
		// replica rows between two master chunks are not missed.
		bounds, minRow := Between(mch.Min, mch.Max), mch.Min
		if i > 0 {
			bounds.Lower, minRow = Exclusive(masterChunks[i-1].Max), masterChunks[i-1].Max
		}

		replicaChunks, err := p.replica.ChunkChecksum(ctx, bounds)
		if err != nil {
			return nil, fmt.Errorf("failed to checksum replica chunk %s..%s: %w", mch.Min, mch.Max, err)
		}
		for _, rch := range replicaChunks {
			if rch.Equal(mch) {
				continue
			}
			diff = append(diff, &ChunkComparison{
				Master:     mch,
				Replica:    rch,
				TableName:  p.tableName,
				PrimaryKey: primaryKey,
				MinRow:     minRow,
				MaxRow:     mch.Max,
			})
		}
	}

	probes, err := p.probeReplica(ctx, primaryKey, masterChunks)
	if err != nil {
		return nil, err
	}
	diff = append(diff, probes...)

	p.logger.Debug(fmt.Sprintf("checksum diff: %d of %d chunks mismatched", len(diff), len(masterChunks)))
	return diff, nil
}

// probeReplica looks for replica rows below the first and above the last
// master chunk, or anywhere when the master is empty.
func (p *TablePair) probeReplica(ctx context.Context, primaryKey string, masterChunks []*ChunkChecksum) ([]*ChunkComparison, error) {
	var ranges []Range
	if len(masterChunks) == 0 {
		ranges = []Range{{}}
	} else {
		ranges = []Range{
			{Upper: Exclusive(masterChunks[0].Min)},
			{Lower: Exclusive(masterChunks[len(masterChunks)-1].Max)},
		}
	}

	var diff []*ChunkComparison
	for _, r := range ranges {
		replicaChunks, err := p.replica.ChunkChecksum(ctx, r)
		if err != nil {
			return nil, fmt.Errorf("failed to probe replica outside master range: %w", err)
		}
		for _, rch := range replicaChunks {
			if rch.Count == 0 {
				continue
			}
			diff = append(diff, &ChunkComparison{
				Master:     &ChunkChecksum{TableName: p.tableName, PrimaryKey: primaryKey},
				Replica:    rch,
				TableName:  p.tableName,
				PrimaryKey: primaryKey,
				MinRow:     rch.Min,
				MaxRow:     rch.Max,
			})
		}
	}
	return diff, nil
}

// CompareRows diffs every row in [minKey, maxKey]. The result holds only
// master-only, replica-only and diverged rows, keyed by row id.
func (p *TablePair) CompareRows(ctx context.Context, minKey, maxKey string) (map[string]*RowComparison, error) {
	bounds := Between(minKey, maxKey)

	masterRows, err := p.master.RowChecksum(ctx, bounds)
	if err != nil {
		return nil, fmt.Errorf("failed to checksum master rows %s..%s: %w", minKey, maxKey, err)
	}
	replicaRows, err := p.replica.RowChecksum(ctx, bounds)
	if err != nil {
		return nil, fmt.Errorf("failed to checksum replica rows %s..%s: %w", minKey, maxKey, err)
	}

	diff := make(map[string]*RowComparison, len(masterRows))
	for _, cs := range masterRows {
		diff[cs.RowID] = &RowComparison{Master: cs, RowID: cs.RowID, TableName: cs.TableName}
	}
	for _, cs := range replicaRows {
		rc, ok := diff[cs.RowID]
		if !ok {
			diff[cs.RowID] = &RowComparison{Replica: cs, RowID: cs.RowID, TableName: cs.TableName}
			continue
		}
		if rc.Master.Equal(cs) {
			delete(diff, cs.RowID)
			continue
		}
		rc.Replica = cs
	}
	return diff, nil
}

// Delta is the row diff across every mismatched chunk. Tables whose chunks
// all match never issue row level queries.
func (p *TablePair) Delta(ctx context.Context) (map[string]*RowComparison, error) {
	chunks, err := p.CompareChunks(ctx)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		p.logger.Debug("no chunk diff, skipping row diff")
		return map[string]*RowComparison{}, nil
	}

	delta := make(map[string]*RowComparison)
	for _, cc := range chunks {
		rows, err := p.CompareRows(ctx, cc.MinRow, cc.MaxRow)
		if err != nil {
			return nil, err
		}
		for id, rc := range rows {
			delta[id] = rc
		}
	}
	p.logger.Debug(fmt.Sprintf("found %d differing rows", len(delta)))
	return delta, nil
}

// GenerateUpdate builds an UPDATE that sets only the non-key columns whose
// values differ. It returns "" when no such column exists.
func (p *TablePair) GenerateUpdate(ctx context.Context, rowID string) (string, error) {
	masterRow, err := p.master.RowValues(ctx, rowID)
	if err != nil {
		return "", fmt.Errorf("failed to read master row %s: %w", rowID, err)
	}
	replicaRow, err := p.replica.RowValues(ctx, rowID)
	if err != nil {
		return "", fmt.Errorf("failed to read replica row %s: %w", rowID, err)
	}
	primaryKey, err := p.master.PrimaryKey(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read primary key: %w", err)
	}

	for column := range replicaRow {
		if _, ok := masterRow[column]; !ok {
			return "", fmt.Errorf("%w: %s.%s missing on master", ErrColumnMismatch, p.tableName, column)
		}
	}

	columns := make([]string, 0, len(masterRow))
	for column := range masterRow {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	var assignments []string
	for _, column := range columns {
		replicaValue, ok := replicaRow[column]
		if !ok {
			return "", fmt.Errorf("%w: %s.%s missing on replica", ErrColumnMismatch, p.tableName, column)
		}
		if column == primaryKey {
			continue
		}
		masterValue := masterRow[column]
		if masterValue == replicaValue {
			continue
		}
		assignments = append(assignments, column+" = "+p.literal(masterValue))
	}
	if len(assignments) == 0 {
		return "", nil
	}

	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s;",
		QualifiedName(p.databaseName, p.tableName),
		strings.Join(assignments, ", "),
		primaryKey,
		p.quote(rowID)), nil
}

func (p *TablePair) literal(v sql.NullString) string {
	if !v.Valid {
		return "NULL"
	}
	return p.quote(v.String)
}

// sortedRowIDs orders row ids numerically when both parse as integers and
// lexically otherwise.
func sortedRowIDs(rows map[string]*RowComparison) []string {
	ids := make([]string, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return lessKey(ids[i], ids[j])
	})
	return ids
}

func lessKey(a, b string) bool {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}
