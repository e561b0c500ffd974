package coordinator

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"

	"gridsql/core"
	"gridsql/distributed/compute"
	"gridsql/distributed/plan"
	"gridsql/distributed/task"
)

type employeeRow struct {
	ID       int64   `parquet:"id"`
	Name     string  `parquet:"name"`
	Salary   float64 `parquet:"salary"`
	Nickname *string `parquet:"nickname,optional"`
}

// writeEmployeeFile writes rows split into row groups of four, so the
// planner sees multiple splits to distribute.
func writeEmployeeFile(t *testing.T, path string, rows []employeeRow) {
	t.Helper()

	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()

	writer := parquet.NewGenericWriter[employeeRow](file)
	for offset := 0; offset < len(rows); offset += 4 {
		end := offset + 4
		if end > len(rows) {
			end = len(rows)
		}
		_, err := writer.Write(rows[offset:end])
		require.NoError(t, err)
		require.NoError(t, writer.Flush())
	}
	require.NoError(t, writer.Close())
}

func TestQueryAgainstParquetEndToEnd(t *testing.T) {
	rows := make([]employeeRow, 12)
	for i := range rows {
		rows[i] = employeeRow{
			ID:     int64(i),
			Name:   fmt.Sprintf("emp-%02d", i),
			Salary: float64(i) * 1.5,
		}
		if i%3 == 0 {
			nickname := fmt.Sprintf("nick-%02d", i)
			rows[i].Nickname = &nickname
		}
	}

	path := filepath.Join(t.TempDir(), "employees.parquet")
	writeEmployeeFile(t, path, rows)

	catalog := plan.NewCatalog()
	require.NoError(t, catalog.RegisterTable("employees", path))

	meta, exists := catalog.Table("employees")
	require.True(t, exists)
	require.Equal(t, int64(12), meta.RowCount())
	require.Len(t, meta.RowGroupRows, 3)

	transactions := core.NewMemoryTransactionManager()
	substrate := compute.NewMemoryCompute(nil)
	monitor := &captureMonitor{}
	factory, err := NewExecutionFactory(FactoryConfig{
		Transactions: transactions,
		PlanSupplier: plan.NewSQLPlanSupplier(catalog),
		GraphBuilder: substrate,
		Monitor:      monitor,
	})
	require.NoError(t, err)

	sessionContext := core.SessionContext{
		User:       "alice",
		Properties: map[string]string{task.ExchangeCompressionProperty: "true"},
	}
	execution, err := factory.Create(substrate, sessionContext, "SELECT id, name, salary, nickname FROM employees", task.NewLocalExecutorFactory(nil).Provider())
	require.NoError(t, err)

	result, err := execution.Execute()
	require.NoError(t, err)
	require.Len(t, result, 12)

	// Three row groups round-robin over three partitions, partitions
	// collected in ascending order: rows come back in file order.
	for i, row := range result {
		require.Len(t, row, 4)
		require.Equal(t, int64(i), row[0])
		require.Equal(t, fmt.Sprintf("emp-%02d", i), row[1])
		require.Equal(t, float64(i)*1.5, row[2])
		if i%3 == 0 {
			require.Equal(t, fmt.Sprintf("nick-%02d", i), row[3])
		} else {
			require.Nil(t, row[3])
		}
	}

	id, bound := execution.session.TransactionID()
	require.True(t, bound)
	info, exists := transactions.TransactionInfo(id)
	require.True(t, exists)
	require.Equal(t, core.TransactionCommitted, info.State)

	// One record per scan partition plus the local root task, all succeeded.
	records := execution.stats.DecodeAll()
	require.Len(t, records, 4)
	var scanRows, rootRows int64
	for _, record := range records {
		require.True(t, record.Succeeded)
		if record.FragmentID == 0 {
			rootRows += record.OutputRows
		} else {
			scanRows += record.OutputRows
		}
	}
	require.Equal(t, int64(12), scanRows)
	require.Equal(t, int64(12), rootRows)

	event := monitor.last(t)
	require.NoError(t, event.Failure)
	require.Equal(t, "alice", event.User)
	require.Equal(t, core.TransactionCommitted, event.TransactionState)
}
