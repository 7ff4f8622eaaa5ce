package diff

import "context"

// Table is one side of one logical table. The primary key and row id bounds
// are looked up once and kept for the lifetime of the instance.
type Table struct {
	name string
	port Port

	primaryKey string
	minRowID   string
	maxRowID   string
	haveKey    bool
	haveMin    bool
	haveMax    bool
}

// NewTable scopes a port to a single table.
func NewTable(name string, port Port) *Table {
	return &Table{name: name, port: port}
}

func (t *Table) Name() string { return t.name }

func (t *Table) PrimaryKey(ctx context.Context) (string, error) {
	if t.haveKey {
		return t.primaryKey, nil
	}
	pk, err := t.port.PrimaryKey(ctx, t.name)
	if err != nil {
		return "", err
	}
	t.primaryKey, t.haveKey = pk, true
	return pk, nil
}

func (t *Table) MinRowID(ctx context.Context) (string, error) {
	if t.haveMin {
		return t.minRowID, nil
	}
	id, err := t.port.MinRowID(ctx, t.name)
	if err != nil {
		return "", err
	}
	t.minRowID, t.haveMin = id, true
	return id, nil
}

func (t *Table) MaxRowID(ctx context.Context) (string, error) {
	if t.haveMax {
		return t.maxRowID, nil
	}
	id, err := t.port.MaxRowID(ctx, t.name)
	if err != nil {
		return "", err
	}
	t.maxRowID, t.haveMax = id, true
	return id, nil
}

func (t *Table) ChunkChecksum(ctx context.Context, r Range) ([]*ChunkChecksum, error) {
	return t.port.ChunkChecksum(ctx, t.name, r)
}

func (t *Table) RowChecksum(ctx context.Context, r Range) ([]*RowChecksum, error) {
	return t.port.RowChecksum(ctx, t.name, r)
}

func (t *Table) RowValues(ctx context.Context, rowID string) (RowValues, error) {
	return t.port.RowValues(ctx, t.name, rowID)
}
