package diff

import (
	"errors"
	"testing"
)

func TestChunkChecksumEqual(t *testing.T) {
	base := ChunkChecksum{TableName: "addresses", PrimaryKey: "id", Min: "1", Max: "2", Count: 2, CRC32: 42}

	t.Run("nil other", func(t *testing.T) {
		c := base
		if c.Equal(nil) {
			t.Error("chunk should not equal nil")
		}
		var n *ChunkChecksum
		if n.Equal(&c) {
			t.Error("nil chunk should not equal anything")
		}
	})

	t.Run("identical bounds count and crc", func(t *testing.T) {
		a, b := base, base
		b.TableName, b.PrimaryKey = "other", "other_id"
		if !a.Equal(&b) {
			t.Error("chunks with same min, max, count and crc32 should be equal")
		}
	})

	tests := []struct {
		name   string
		mutate func(c *ChunkChecksum)
	}{
		{"different min", func(c *ChunkChecksum) { c.Min = "0" }},
		{"different max", func(c *ChunkChecksum) { c.Max = "3" }},
		{"different count", func(c *ChunkChecksum) { c.Count = 1 }},
		{"different crc32", func(c *ChunkChecksum) { c.CRC32 = 43 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := base, base
			tt.mutate(&b)
			if a.Equal(&b) {
				t.Errorf("chunks should differ: %v vs %v", &a, &b)
			}
		})
	}
}

func TestRowChecksumEqual(t *testing.T) {
	base := RowChecksum{TableName: "addresses", PrimaryKey: "id", RowID: "7", CRC32: 111}

	t.Run("nil other", func(t *testing.T) {
		r := base
		if r.Equal(nil) {
			t.Error("row should not equal nil")
		}
	})

	t.Run("identical id and crc", func(t *testing.T) {
		a, b := base, base
		b.TableName = "elsewhere"
		if !a.Equal(&b) {
			t.Error("rows with same id and crc32 should be equal")
		}
	})

	t.Run("different id", func(t *testing.T) {
		a, b := base, base
		b.RowID = "8"
		if a.Equal(&b) {
			t.Error("rows with different ids should differ")
		}
	})

	t.Run("different crc", func(t *testing.T) {
		a, b := base, base
		b.CRC32 = 112
		if a.Equal(&b) {
			t.Error("rows with different crc32 should differ")
		}
	})
}

func TestNewRowComparison(t *testing.T) {
	master := &RowChecksum{TableName: "addresses", PrimaryKey: "id", RowID: "5", CRC32: 111}
	replica := &RowChecksum{TableName: "addresses", PrimaryKey: "id", RowID: "5", CRC32: 222}

	t.Run("master only", func(t *testing.T) {
		rc, err := NewRowComparison(master, nil)
		if err != nil {
			t.Fatal(err)
		}
		if rc.Master != master || rc.Replica != nil {
			t.Fatalf("unexpected sides: %+v", rc)
		}
		if rc.RowID != "5" || rc.TableName != "addresses" {
			t.Errorf("expected row 5 of addresses, got %s of %s", rc.RowID, rc.TableName)
		}
		if rc.Presence() != MasterOnly {
			t.Errorf("expected master only, got %s", rc.Presence())
		}
		if rc.Compare() {
			t.Error("a one-sided comparison never matches")
		}
	})

	t.Run("replica only", func(t *testing.T) {
		rc, err := NewRowComparison(nil, replica)
		if err != nil {
			t.Fatal(err)
		}
		if rc.Master != nil || rc.Replica != replica || rc.RowID != "5" {
			t.Fatalf("unexpected comparison: %+v", rc)
		}
		if rc.Presence() != ReplicaOnly {
			t.Errorf("expected replica only, got %s", rc.Presence())
		}
	})

	t.Run("neither side", func(t *testing.T) {
		_, err := NewRowComparison(nil, nil)
		if !errors.Is(err, ErrNoSide) {
			t.Fatalf("expected ErrNoSide, got %v", err)
		}
	})

	t.Run("both sides", func(t *testing.T) {
		rc, err := NewRowComparison(master, replica)
		if err != nil {
			t.Fatal(err)
		}
		if rc.Compare() {
			t.Error("different crc32 should not compare equal")
		}
		if rc.Presence() != Diverged {
			t.Errorf("expected diverged, got %s", rc.Presence())
		}

		same := *master
		rc, _ = NewRowComparison(master, &same)
		if !rc.Compare() {
			t.Error("same row id and crc32 should compare equal")
		}
	})
}

func TestChunkComparisonCompare(t *testing.T) {
	chunk := &ChunkChecksum{Min: "1", Max: "2", Count: 2, CRC32: 9}
	same := *chunk

	var c Comparison = &ChunkComparison{Master: chunk, Replica: &same}
	if !c.Compare() || !c.HasMaster() || !c.HasReplica() {
		t.Error("matching chunks should compare equal with both sides present")
	}

	c = &ChunkComparison{Master: chunk}
	if c.Compare() || c.HasReplica() {
		t.Error("a chunk comparison without replica should not compare equal")
	}
}

func TestQualifiedName(t *testing.T) {
	if got := QualifiedName("", "addresses"); got != "addresses" {
		t.Errorf("expected bare table name, got %s", got)
	}
	if got := QualifiedName("production", "addresses"); got != "production.addresses" {
		t.Errorf("expected qualified name, got %s", got)
	}
}

func TestQuoteValue(t *testing.T) {
	if got := QuoteValue("O'Hare"); got != "'O''Hare'" {
		t.Errorf("expected doubled quote, got %s", got)
	}
}
