// Package compute defines the coordinator's view of the distributed
// compute substrate: a handle for per-query registrations, a builder that
// turns the non-root part of a fragmented plan into a graph of partitioned
// tasks, and the handle representing that graph's yet-unrealized output.
package compute

import (
	"gridsql/core"
	"gridsql/distributed/plan"
	"gridsql/distributed/task"
)

// Handle is the substrate connection a query executes on.
type Handle interface {
	// RegisterStatsCollector makes the query's stats collector visible to
	// every task before any task runs.
	RegisterStatsCollector(name string, collector *core.TaskStatsCollector) error
}

// OutputHandle is the logical mapping from partition id to the pages of
// the penultimate stage. The distributed work stays unrealized until
// Collect forces it.
type OutputHandle interface {
	// Collect pulls every partition's complete output into the calling
	// process. It blocks until all distributed partitions have completed
	// or failed, and is the system's sole synchronization barrier. Pages
	// are returned sorted by partition id, page order within a partition
	// preserved. Arrival order across partitions is not dispatch order.
	Collect() ([]task.PartitionedPage, error)
}

// StageGraphBuilder materializes the non-root stages of a fragmented plan
// as a distributed computation and returns the handle for the subplan's
// output.
type StageGraphBuilder interface {
	BuildStageGraph(handle Handle, session *core.Session, subplan *plan.FragmentedPlan, provider task.ExecutorFactoryProvider, stats *core.TaskStatsCollector) (OutputHandle, error)
}
