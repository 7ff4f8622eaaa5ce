package diff

import "fmt"

// Comparison is a two-sided pairing of checksums that can be evaluated for equality.
type Comparison interface {
	Compare() bool
	HasMaster() bool
	HasReplica() bool
}

// Presence classifies which sides of a row comparison exist.
type Presence int

const (
	// Diverged means the row exists on both sides with different content.
	Diverged Presence = iota
	// MasterOnly means the row is missing from the replica.
	MasterOnly
	// ReplicaOnly means the row is a stray on the replica.
	ReplicaOnly
)

func (p Presence) String() string {
	switch p {
	case MasterOnly:
		return "master_only"
	case ReplicaOnly:
		return "replica_only"
	default:
		return "diverged"
	}
}

// ChunkComparison pairs the master and replica checksums of one key range.
type ChunkComparison struct {
	Master     *ChunkChecksum
	Replica    *ChunkChecksum
	TableName  string
	PrimaryKey string
	MinRow     string
	MaxRow     string
}

func (c *ChunkComparison) HasMaster() bool  { return c.Master != nil }
func (c *ChunkComparison) HasReplica() bool { return c.Replica != nil }

// Compare is true when both sides are present and their bounds, counts and
// fingerprints agree.
func (c *ChunkComparison) Compare() bool {
	return c.HasMaster() && c.HasReplica() && c.Master.Equal(c.Replica)
}

func (c *ChunkComparison) String() string {
	return fmt.Sprintf("%s.%s between '%s' and '%s' (master: %v, replica: %v)",
		c.TableName, c.PrimaryKey, c.MinRow, c.MaxRow, c.Master, c.Replica)
}

// RowComparison pairs the master and replica checksums of one row id.
// At least one side is always present.
type RowComparison struct {
	Master    *RowChecksum
	Replica   *RowChecksum
	RowID     string
	TableName string
}

// NewRowComparison builds a comparison from whichever sides exist, taking the
// row id and table name from the master when both are given.
func NewRowComparison(master, replica *RowChecksum) (*RowComparison, error) {
	source := master
	if source == nil {
		source = replica
	}
	if source == nil {
		return nil, ErrNoSide
	}
	return &RowComparison{
		Master:    master,
		Replica:   replica,
		RowID:     source.RowID,
		TableName: source.TableName,
	}, nil
}

func (r *RowComparison) HasMaster() bool  { return r.Master != nil }
func (r *RowComparison) HasReplica() bool { return r.Replica != nil }

// Compare is true when both sides are present with matching id and fingerprint.
func (r *RowComparison) Compare() bool {
	return r.HasMaster() && r.HasReplica() && r.Master.Equal(r.Replica)
}

// Presence reports which sides hold the row.
func (r *RowComparison) Presence() Presence {
	switch {
	case r.HasMaster() && !r.HasReplica():
		return MasterOnly
	case !r.HasMaster() && r.HasReplica():
		return ReplicaOnly
	default:
		return Diverged
	}
}

func (r *RowComparison) String() string {
	return fmt.Sprintf("%s row %s (%s)", r.TableName, r.RowID, r.Presence())
}
