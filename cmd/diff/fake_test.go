package diff

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"sort"
	"strings"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// fakeTable is an in-memory table keyed by integer-like row ids.
type fakeTable struct {
	primaryKey string
	rows       map[string]map[string]*string
}

// fakePort is an in-memory Port that counts calls per method.
type fakePort struct {
	tables   map[string]*fakeTable
	calls    map[string]int
	failures map[string]error
}

func newFakePort() *fakePort {
	return &fakePort{
		tables:   make(map[string]*fakeTable),
		calls:    make(map[string]int),
		failures: make(map[string]error),
	}
}

func str(s string) *string { return &s }

func (f *fakePort) addTable(name, primaryKey string) *fakeTable {
	t := &fakeTable{primaryKey: primaryKey, rows: make(map[string]map[string]*string)}
	f.tables[name] = t
	return t
}

func (t *fakeTable) put(id string, cols map[string]*string) {
	row := map[string]*string{t.primaryKey: str(id)}
	for k, v := range cols {
		row[k] = v
	}
	t.rows[id] = row
}

func (f *fakePort) record(method, table string) (*fakeTable, error) {
	f.calls[method]++
	if err := f.failures[table]; err != nil {
		return nil, err
	}
	t, ok := f.tables[table]
	if !ok {
		return nil, fmt.Errorf("no such table %s", table)
	}
	return t, nil
}

func (t *fakeTable) sortedIDs() []string {
	ids := make([]string, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return lessKey(ids[i], ids[j]) })
	return ids
}

func inRange(id string, r Range) bool {
	if r.Lower != nil {
		if r.Lower.Exclusive && !lessKey(r.Lower.Key, id) {
			return false
		}
		if !r.Lower.Exclusive && lessKey(id, r.Lower.Key) {
			return false
		}
	}
	if r.Upper != nil {
		if r.Upper.Exclusive && !lessKey(id, r.Upper.Key) {
			return false
		}
		if !r.Upper.Exclusive && lessKey(r.Upper.Key, id) {
			return false
		}
	}
	return true
}

func (t *fakeTable) selectIDs(r Range) []string {
	var ids []string
	for _, id := range t.sortedIDs() {
		if !inRange(id, r) {
			continue
		}
		ids = append(ids, id)
		if r.Limit > 0 && len(ids) == r.Limit {
			break
		}
	}
	return ids
}

func (t *fakeTable) rowCRC(id string) uint64 {
	row := t.rows[id]
	cols := make([]string, 0, len(row))
	for k := range row {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	var b strings.Builder
	for _, k := range cols {
		b.WriteString(k)
		b.WriteByte('=')
		if row[k] == nil {
			b.WriteString("\x00NULL")
		} else {
			b.WriteString(*row[k])
		}
		b.WriteByte('#')
	}
	return uint64(crc32.ChecksumIEEE([]byte(b.String())))
}

func (f *fakePort) PrimaryKey(_ context.Context, table string) (string, error) {
	t, err := f.record("PrimaryKey", table)
	if err != nil {
		return "", err
	}
	return t.primaryKey, nil
}

func (f *fakePort) MinRowID(_ context.Context, table string) (string, error) {
	t, err := f.record("MinRowID", table)
	if err != nil {
		return "", err
	}
	ids := t.sortedIDs()
	if len(ids) == 0 {
		return "", ErrEmptyTable
	}
	return ids[0], nil
}

func (f *fakePort) MaxRowID(_ context.Context, table string) (string, error) {
	t, err := f.record("MaxRowID", table)
	if err != nil {
		return "", err
	}
	ids := t.sortedIDs()
	if len(ids) == 0 {
		return "", ErrEmptyTable
	}
	return ids[len(ids)-1], nil
}

func (f *fakePort) ChunkChecksum(_ context.Context, table string, r Range) ([]*ChunkChecksum, error) {
	t, err := f.record("ChunkChecksum", table)
	if err != nil {
		return nil, err
	}
	ids := t.selectIDs(r)
	chunk := &ChunkChecksum{TableName: table, PrimaryKey: t.primaryKey, Count: int64(len(ids))}
	if len(ids) > 0 {
		chunk.Min, chunk.Max = ids[0], ids[len(ids)-1]
	}
	for _, id := range ids {
		chunk.CRC32 ^= t.rowCRC(id)
	}
	return []*ChunkChecksum{chunk}, nil
}

func (f *fakePort) RowChecksum(_ context.Context, table string, r Range) ([]*RowChecksum, error) {
	t, err := f.record("RowChecksum", table)
	if err != nil {
		return nil, err
	}
	var rows []*RowChecksum
	for _, id := range t.selectIDs(r) {
		rows = append(rows, &RowChecksum{TableName: table, PrimaryKey: t.primaryKey, RowID: id, CRC32: t.rowCRC(id)})
	}
	return rows, nil
}

func (f *fakePort) RowValues(_ context.Context, table, rowID string) (RowValues, error) {
	t, err := f.record("RowValues", table)
	if err != nil {
		return nil, err
	}
	row, ok := t.rows[rowID]
	if !ok {
		return nil, ErrRowNotFound
	}
	values := make(RowValues, len(row))
	for k, v := range row {
		if v == nil {
			values[k] = sql.NullString{}
		} else {
			values[k] = sql.NullString{String: *v, Valid: true}
		}
	}
	return values, nil
}

func (f *fakePort) GenerateInsert(_ context.Context, table, rowID string) ([]string, error) {
	t, err := f.record("GenerateInsert", table)
	if err != nil {
		return nil, err
	}
	if _, ok := t.rows[rowID]; !ok {
		return nil, nil
	}
	return []string{fmt.Sprintf("INSERT INTO %s (%s) VALUES ('%s');", table, t.primaryKey, rowID)}, nil
}

func (f *fakePort) GenerateDelete(_ context.Context, table, rowID string) ([]string, error) {
	t, err := f.record("GenerateDelete", table)
	if err != nil {
		return nil, err
	}
	if _, ok := t.rows[rowID]; !ok {
		return nil, nil
	}
	return []string{fmt.Sprintf("DELETE FROM %s WHERE %s = '%s';", table, t.primaryKey, rowID)}, nil
}

func (f *fakePort) Search(_ context.Context) (map[string]string, error) {
	f.calls["Search"]++
	if err := f.failures[""]; err != nil {
		return nil, err
	}
	tables := make(map[string]string, len(f.tables))
	for name, t := range f.tables {
		tables[name] = t.primaryKey
	}
	return tables, nil
}

var errBoom = errors.New("boom")

// addressesFixture returns master and replica ports holding identical
// addresses rows 1 through n.
func addressesFixture(n int) (*fakePort, *fakePort) {
	master, replica := newFakePort(), newFakePort()
	for _, port := range []*fakePort{master, replica} {
		t := port.addTable("addresses", "id")
		for i := 1; i <= n; i++ {
			t.put(fmt.Sprint(i), map[string]*string{
				"city":   str(fmt.Sprintf("city-%d", i)),
				"street": str(fmt.Sprintf("street-%d", i)),
			})
		}
	}
	return master, replica
}
