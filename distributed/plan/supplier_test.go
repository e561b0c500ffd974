package plan

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gridsql/core"
)

func testCatalog() *Catalog {
	catalog := NewCatalog()
	catalog.RegisterTableMetadata(TableMetadata{
		Name: "employees",
		Path: "/data/employees.parquet",
		Columns: []Column{
			{Name: "id", Type: "bigint"},
			{Name: "name", Type: "varchar"},
			{Name: "salary", Type: "double"},
		},
		RowGroupRows: []int64{100, 50, 75, 25},
	})
	return catalog
}

func testSession() *core.Session {
	return core.NewSession(core.NewQueryID(), core.SessionContext{User: "alice"}, nil)
}

func TestPlanSimpleSelect(t *testing.T) {
	supplier := NewSQLPlanSupplier(testCatalog())
	warnings := NewWarningCollector()

	planned, err := supplier.CreatePlan(testSession(), "SELECT id, name FROM employees", warnings)
	require.NoError(t, err)
	require.Empty(t, planned.UpdateType)

	root := planned.Plan.Root
	require.Equal(t, RootFragmentID, root.ID)
	require.Equal(t, PartitioningSingle, root.Partitioning)
	require.Equal(t, []Column{{Name: "id", Type: "bigint"}, {Name: "name", Type: "varchar"}}, root.Columns)

	remoteSource, err := root.SingleRemoteSource()
	require.NoError(t, err)
	require.Equal(t, "remote_1", remoteSource.ID)

	child, err := planned.Plan.ChildByFragment(remoteSource.SourceFragment)
	require.NoError(t, err)
	scan := child.Root
	require.Equal(t, "employees", scan.Table)
	require.Equal(t, PartitioningSource, scan.Partitioning)
	require.Equal(t, 3, scan.PartitionCount)
	require.Empty(t, scan.RemoteSources)

	// Four row groups round-robin over three partitions.
	require.Equal(t, []Split{
		{Path: "/data/employees.parquet", RowOffset: 0, RowCount: 100},
		{Path: "/data/employees.parquet", RowOffset: 225, RowCount: 25},
	}, child.PartitionSplits(scan.ID, 0))
	require.Equal(t, []Split{
		{Path: "/data/employees.parquet", RowOffset: 100, RowCount: 50},
	}, child.PartitionSplits(scan.ID, 1))
	require.Equal(t, []Split{
		{Path: "/data/employees.parquet", RowOffset: 150, RowCount: 75},
	}, child.PartitionSplits(scan.ID, 2))
}

func TestPlanSelectStar(t *testing.T) {
	supplier := NewSQLPlanSupplier(testCatalog())

	planned, err := supplier.CreatePlan(testSession(), "SELECT * FROM employees", NewWarningCollector())
	require.NoError(t, err)
	require.Len(t, planned.Plan.Root.Columns, 3)

	types, err := planned.Plan.Root.OutputTypes()
	require.NoError(t, err)
	require.Equal(t, "bigint", types[0].Name())
	require.Equal(t, "varchar", types[1].Name())
	require.Equal(t, "double", types[2].Name())
}

func TestPlanInsertSelect(t *testing.T) {
	supplier := NewSQLPlanSupplier(testCatalog())

	planned, err := supplier.CreatePlan(testSession(), "INSERT INTO archive SELECT id, name FROM employees", NewWarningCollector())
	require.NoError(t, err)
	require.Equal(t, "INSERT", planned.UpdateType)
	require.Equal(t, "archive", planned.Plan.WriteInfo.Table)
	require.NotEmpty(t, planned.Plan.WriteInfo.WriteID)
}

func TestPlanSchemaQualifierWarns(t *testing.T) {
	supplier := NewSQLPlanSupplier(testCatalog())
	warnings := NewWarningCollector()

	_, err := supplier.CreatePlan(testSession(), "SELECT id FROM public.employees", warnings)
	require.NoError(t, err)
	require.Len(t, warnings.Warnings(), 1)
}

func TestPlanAnalysisErrors(t *testing.T) {
	supplier := NewSQLPlanSupplier(testCatalog())

	tests := []struct {
		name string
		sql  string
	}{
		{name: "parse error", sql: "SELEC id FROM employees"},
		{name: "unknown table", sql: "SELECT id FROM missing"},
		{name: "unknown column", sql: "SELECT id, missing FROM employees"},
		{name: "multiple statements", sql: "SELECT id FROM employees; SELECT name FROM employees"},
		{name: "where unsupported", sql: "SELECT id FROM employees WHERE id = 1"},
		{name: "join unsupported", sql: "SELECT e.id FROM employees e, employees f"},
		{name: "expression unsupported", sql: "SELECT id + 1 FROM employees"},
		{name: "bare insert unsupported", sql: "INSERT INTO employees VALUES (1, 'x', 2.0)"},
		{name: "delete unsupported", sql: "DELETE FROM employees"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := supplier.CreatePlan(testSession(), tt.sql, NewWarningCollector())
			require.Error(t, err)
			var planErr *Error
			require.ErrorAs(t, err, &planErr, "analysis failures must be user-facing plan errors")
		})
	}
}

func TestSingleRemoteSourcePrecondition(t *testing.T) {
	none := &Fragment{ID: 0}
	_, err := none.SingleRemoteSource()
	require.Error(t, err)

	two := &Fragment{ID: 0, RemoteSources: []RemoteSource{
		{ID: "remote_1", SourceFragment: 1},
		{ID: "remote_2", SourceFragment: 2},
	}}
	_, err = two.SingleRemoteSource()
	require.Error(t, err)

	one := &Fragment{ID: 0, RemoteSources: []RemoteSource{{ID: "remote_1", SourceFragment: 1}}}
	remoteSource, err := one.SingleRemoteSource()
	require.NoError(t, err)
	require.Equal(t, "remote_1", remoteSource.ID)
}
