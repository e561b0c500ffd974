package plan

import (
	"fmt"
	"sync"

	"gridsql/columnar"
	"gridsql/core"
)

// FragmentID identifies one stage of a fragmented plan.
type FragmentID int32

// Partitioning describes how a fragment's tasks are laid out.
type Partitioning string

const (
	// PartitioningSource runs one task per split partition.
	PartitioningSource Partitioning = "source"
	// PartitioningSingle runs a single task consuming all input.
	PartitioningSingle Partitioning = "single"
)

// RemoteSource marks consumption of another fragment's output. The ID keys
// the task input stream carrying that output.
type RemoteSource struct {
	ID             string     `json:"id"`
	SourceFragment FragmentID `json:"source_fragment"`
}

// Column is one output channel of a fragment: a name and a type name
// resolvable through columnar.TypeFromName.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Split is a unit of input data assignment given to a task: a row range of
// one table file. RowCount -1 means "to end of file".
type Split struct {
	Path      string `json:"path"`
	RowOffset int64  `json:"row_offset"`
	RowCount  int64  `json:"row_count"`
}

// Fragment is one stage of a fragmented query plan, executed as one or more
// parallel tasks.
type Fragment struct {
	ID             FragmentID     `json:"id"`
	Table          string         `json:"table,omitempty"`
	Columns        []Column       `json:"columns"`
	RemoteSources  []RemoteSource `json:"remote_sources,omitempty"`
	Partitioning   Partitioning   `json:"partitioning"`
	PartitionCount int            `json:"partition_count"`
}

// OutputTypes resolves the fragment's output schema in channel order.
func (f *Fragment) OutputTypes() ([]columnar.Type, error) {
	types := make([]columnar.Type, len(f.Columns))
	for i, column := range f.Columns {
		t, err := columnar.TypeFromName(column.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", column.Name, err)
		}
		types[i] = t
	}
	return types, nil
}

// SingleRemoteSource returns the fragment's only remote source. A fragment
// with zero or more than one remote source is an unsupported configuration
// for local root-stage execution and fails fast.
func (f *Fragment) SingleRemoteSource() (RemoteSource, error) {
	if len(f.RemoteSources) != 1 {
		return RemoteSource{}, fmt.Errorf("expected exactly one remote source in fragment %d, found %d", f.ID, len(f.RemoteSources))
	}
	return f.RemoteSources[0], nil
}

// TableWriteInfo carries output-table metadata for DML plans. Empty for
// read-only queries.
type TableWriteInfo struct {
	Table   string `json:"table,omitempty"`
	WriteID string `json:"write_id,omitempty"`
}

// FragmentedPlan is a tree of fragments: a root fragment plus the subplans
// whose output the root's remote sources consume. Split assignments are
// kept per fragment, partition by partition.
type FragmentedPlan struct {
	Root      *Fragment
	Children  []*FragmentedPlan
	Splits    map[FragmentID][][]Split
	WriteInfo TableWriteInfo
}

// ChildByFragment returns the child subplan whose root is the given
// fragment.
func (p *FragmentedPlan) ChildByFragment(id FragmentID) (*FragmentedPlan, error) {
	for _, child := range p.Children {
		if child.Root.ID == id {
			return child, nil
		}
	}
	return nil, fmt.Errorf("no subplan produces fragment %d", id)
}

// PartitionSplits returns the split assignment for one task of a fragment.
func (p *FragmentedPlan) PartitionSplits(id FragmentID, partition int) []Split {
	assignments := p.Splits[id]
	if partition < 0 || partition >= len(assignments) {
		return nil
	}
	return assignments[partition]
}

// PlanAndUpdateType pairs a fragmented plan with the optional DML
// update-type label detected during planning ("" for read-only queries).
type PlanAndUpdateType struct {
	Plan       *FragmentedPlan
	UpdateType string
}

// WarningCollector is the sink for non-fatal planning warnings. Safe for
// concurrent use.
type WarningCollector struct {
	mu       sync.Mutex
	warnings []string
}

// NewWarningCollector creates an empty collector.
func NewWarningCollector() *WarningCollector {
	return &WarningCollector{}
}

// Add records one warning.
func (wc *WarningCollector) Add(format string, args ...interface{}) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	wc.warnings = append(wc.warnings, fmt.Sprintf(format, args...))
}

// Warnings returns a copy of all recorded warnings.
func (wc *WarningCollector) Warnings() []string {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	warnings := make([]string, len(wc.warnings))
	copy(warnings, wc.warnings)
	return warnings
}

// Supplier parses, analyzes, and plans SQL text into a fragmented plan.
// Analysis errors are user-facing and surfaced verbatim as *Error.
type Supplier interface {
	CreatePlan(session *core.Session, sql string, warnings *WarningCollector) (*PlanAndUpdateType, error)
}

// Error is a user-facing analysis or parse error: the SQL is invalid or
// unanalyzable. It carries no internal context and is surfaced to the
// caller unmodified.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Errorf builds a plan Error from a format string.
func Errorf(format string, args ...interface{}) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}
