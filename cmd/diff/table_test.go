package diff

import (
	"context"
	"testing"
)

func TestTableCaching(t *testing.T) {
	ctx := context.Background()
	port, _ := addressesFixture(3)
	table := NewTable("addresses", port)

	for i := 0; i < 3; i++ {
		pk, err := table.PrimaryKey(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if pk != "id" {
			t.Fatalf("expected id, got %s", pk)
		}
		minID, _ := table.MinRowID(ctx)
		maxID, _ := table.MaxRowID(ctx)
		if minID != "1" || maxID != "3" {
			t.Fatalf("expected bounds 1..3, got %s..%s", minID, maxID)
		}
	}

	for _, method := range []string{"PrimaryKey", "MinRowID", "MaxRowID"} {
		if port.calls[method] != 1 {
			t.Errorf("%s should be queried once, got %d", method, port.calls[method])
		}
	}

	t.Run("new instance has a fresh cache", func(t *testing.T) {
		fresh := NewTable("addresses", port)
		if _, err := fresh.PrimaryKey(ctx); err != nil {
			t.Fatal(err)
		}
		if port.calls["PrimaryKey"] != 2 {
			t.Errorf("expected a second primary key lookup, got %d", port.calls["PrimaryKey"])
		}
	})

	t.Run("checksums are never cached", func(t *testing.T) {
		before := port.calls["RowChecksum"]
		_, _ = table.RowChecksum(ctx, Row("1"))
		_, _ = table.RowChecksum(ctx, Row("1"))
		if port.calls["RowChecksum"]-before != 2 {
			t.Error("row checksums should delegate on every call")
		}
	})
}

func TestTableErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	port := newFakePort()
	port.addTable("addresses", "id")
	port.failures["addresses"] = errBoom

	table := NewTable("addresses", port)
	if _, err := table.PrimaryKey(ctx); err == nil {
		t.Fatal("expected failure")
	}

	delete(port.failures, "addresses")
	pk, err := table.PrimaryKey(ctx)
	if err != nil {
		t.Fatalf("expected recovery after failure, got %v", err)
	}
	if pk != "id" {
		t.Errorf("expected id, got %s", pk)
	}
}

func TestTableEmptyBounds(t *testing.T) {
	port := newFakePort()
	port.addTable("empty", "id")
	table := NewTable("empty", port)

	if _, err := table.MinRowID(context.Background()); err != ErrEmptyTable {
		t.Fatalf("expected ErrEmptyTable, got %v", err)
	}
}
