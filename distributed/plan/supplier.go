package plan

import (
	"fmt"

	"github.com/google/uuid"
	pg_query "github.com/pganalyze/pg_query_go/v6"

	"gridsql/core"
)

const (
	// RootFragmentID is the fragment executed locally by the coordinator.
	RootFragmentID FragmentID = 0
	// scanFragmentID is the single distributed scan stage this planner emits.
	scanFragmentID FragmentID = 1
)

// DefaultSourcePartitions caps how many parallel tasks a scan fragment gets.
const DefaultSourcePartitions = 3

// SQLPlanSupplier is the default plan supplier: it parses a single SQL
// statement with the PostgreSQL grammar, resolves it against a catalog, and
// emits a two-stage plan (a partitioned scan feeding a single-task gather
// root). It understands plain projections over one table and INSERT ...
// SELECT; everything else is rejected with a user-facing analysis error.
type SQLPlanSupplier struct {
	catalog       *Catalog
	maxPartitions int
}

// NewSQLPlanSupplier creates a supplier resolving tables against catalog.
func NewSQLPlanSupplier(catalog *Catalog) *SQLPlanSupplier {
	return &SQLPlanSupplier{catalog: catalog, maxPartitions: DefaultSourcePartitions}
}

// CreatePlan implements Supplier.
func (s *SQLPlanSupplier) CreatePlan(session *core.Session, sql string, warnings *WarningCollector) (*PlanAndUpdateType, error) {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return nil, Errorf("%v", err)
	}
	if len(result.Stmts) != 1 {
		return nil, Errorf("expected exactly one statement, found %d", len(result.Stmts))
	}

	stmt := result.Stmts[0].Stmt
	switch {
	case stmt.GetSelectStmt() != nil:
		fragmented, err := s.planSelect(stmt.GetSelectStmt(), warnings)
		if err != nil {
			return nil, err
		}
		return &PlanAndUpdateType{Plan: fragmented}, nil

	case stmt.GetInsertStmt() != nil:
		return s.planInsert(stmt.GetInsertStmt(), warnings)

	default:
		return nil, Errorf("unsupported statement type")
	}
}

func (s *SQLPlanSupplier) planInsert(stmt *pg_query.InsertStmt, warnings *WarningCollector) (*PlanAndUpdateType, error) {
	if stmt.Relation == nil {
		return nil, Errorf("INSERT requires a target table")
	}
	if stmt.SelectStmt == nil || stmt.SelectStmt.GetSelectStmt() == nil {
		return nil, Errorf("only INSERT ... SELECT is supported")
	}
	fragmented, err := s.planSelect(stmt.SelectStmt.GetSelectStmt(), warnings)
	if err != nil {
		return nil, err
	}
	fragmented.WriteInfo = TableWriteInfo{
		Table:   stmt.Relation.Relname,
		WriteID: uuid.NewString(),
	}
	return &PlanAndUpdateType{Plan: fragmented, UpdateType: "INSERT"}, nil
}

func (s *SQLPlanSupplier) planSelect(stmt *pg_query.SelectStmt, warnings *WarningCollector) (*FragmentedPlan, error) {
	if stmt.Op != pg_query.SetOperation_SETOP_NONE {
		return nil, Errorf("set operations are not supported")
	}
	if stmt.WhereClause != nil || len(stmt.GroupClause) > 0 || stmt.HavingClause != nil ||
		len(stmt.SortClause) > 0 || stmt.LimitCount != nil || stmt.WithClause != nil ||
		len(stmt.DistinctClause) > 0 {
		return nil, Errorf("only plain projections are supported by this planner")
	}
	if len(stmt.FromClause) != 1 {
		return nil, Errorf("expected exactly one table in FROM, found %d", len(stmt.FromClause))
	}
	rangeVar := stmt.FromClause[0].GetRangeVar()
	if rangeVar == nil {
		return nil, Errorf("only plain table references are supported in FROM")
	}
	if rangeVar.Schemaname != "" {
		warnings.Add("schema qualifier %q ignored", rangeVar.Schemaname)
	}

	table, exists := s.catalog.Table(rangeVar.Relname)
	if !exists {
		return nil, Errorf("table %s does not exist", rangeVar.Relname)
	}

	columns, err := projectColumns(stmt.TargetList, table)
	if err != nil {
		return nil, err
	}

	partitions := s.maxPartitions
	if len(table.RowGroupRows) < partitions {
		partitions = len(table.RowGroupRows)
	}
	if partitions < 1 {
		partitions = 1
	}

	scan := &Fragment{
		ID:             scanFragmentID,
		Table:          table.Name,
		Columns:        columns,
		Partitioning:   PartitioningSource,
		PartitionCount: partitions,
	}
	root := &Fragment{
		ID:      RootFragmentID,
		Columns: columns,
		RemoteSources: []RemoteSource{
			{ID: remoteSourceID(scanFragmentID), SourceFragment: scanFragmentID},
		},
		Partitioning:   PartitioningSingle,
		PartitionCount: 1,
	}

	return &FragmentedPlan{
		Root: root,
		Children: []*FragmentedPlan{
			{
				Root:   scan,
				Splits: map[FragmentID][][]Split{scanFragmentID: enumerateSplits(table, partitions)},
			},
		},
	}, nil
}

func projectColumns(targets []*pg_query.Node, table TableMetadata) ([]Column, error) {
	columns := make([]Column, 0, len(targets))
	for _, target := range targets {
		resTarget := target.GetResTarget()
		if resTarget == nil || resTarget.Val == nil {
			return nil, Errorf("unsupported expression in select list")
		}
		columnRef := resTarget.Val.GetColumnRef()
		if columnRef == nil {
			return nil, Errorf("unsupported expression in select list")
		}

		star := false
		name := ""
		for _, field := range columnRef.Fields {
			if field.GetAStar() != nil {
				star = true
			}
			if field.GetString_() != nil {
				name = field.GetString_().Sval
			}
		}

		if star {
			columns = append(columns, table.Columns...)
			continue
		}
		resolved, err := resolveColumn(table, name)
		if err != nil {
			return nil, err
		}
		columns = append(columns, resolved)
	}
	if len(columns) == 0 {
		return nil, Errorf("select list is empty")
	}
	return columns, nil
}

func resolveColumn(table TableMetadata, name string) (Column, error) {
	for _, column := range table.Columns {
		if column.Name == name {
			return column, nil
		}
	}
	return Column{}, Errorf("column %s does not exist in table %s", name, table.Name)
}

// enumerateSplits buckets the table's row groups round-robin into the
// requested number of partitions, one row-range split per row group.
func enumerateSplits(table TableMetadata, partitions int) [][]Split {
	assignments := make([][]Split, partitions)
	for i := range assignments {
		assignments[i] = []Split{}
	}

	offset := int64(0)
	for i, rows := range table.RowGroupRows {
		partition := i % partitions
		assignments[partition] = append(assignments[partition], Split{
			Path:      table.Path,
			RowOffset: offset,
			RowCount:  rows,
		})
		offset += rows
	}
	return assignments
}

func remoteSourceID(id FragmentID) string {
	return fmt.Sprintf("remote_%d", id)
}
