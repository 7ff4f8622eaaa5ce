package diff

// StatementKind names the corrective statement generated for a row.
type StatementKind string

const (
	StatementInsert StatementKind = "INSERT"
	StatementDelete StatementKind = "DELETE"
	StatementUpdate StatementKind = "UPDATE"
)

// Statement is one generated block, ready for manual execution on the replica.
type Statement struct {
	TableName string
	RowID     string
	Kind      StatementKind
	Presence  Presence
	SQL       string
}

// Failure records a row whose statement could not be generated.
type Failure struct {
	TableName string
	RowID     string
	Kind      StatementKind
	Presence  Presence
	Err       error
}

// Report is the outcome of a reconciliation pass.
type Report struct {
	Statements []Statement
	Failures   []Failure
}

// Empty reports whether nothing was generated and nothing failed.
func (r *Report) Empty() bool {
	return r == nil || (len(r.Statements) == 0 && len(r.Failures) == 0)
}
