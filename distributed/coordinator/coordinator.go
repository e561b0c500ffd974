// Package coordinator owns the lifecycle of one query on the distributed
// compute substrate: session and transaction setup, planning, dispatch of
// the non-root stages, collection of their output, local execution of the
// root stage, the commit/rollback protocol, and materialization of the
// binary result pages into rows.
package coordinator

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"gridsql/columnar"
	"gridsql/core"
	"gridsql/distributed/compute"
	"gridsql/distributed/plan"
	"gridsql/distributed/task"
)

// Task and partition identity of the locally executed root stage.
const (
	rootTaskID      int32 = 0
	rootPartitionID int32 = 0
)

// ExecutionFactory builds query executions. All collaborators are injected
// as narrow interfaces so the coordinator can be exercised in isolation
// from planning and execution internals.
type ExecutionFactory struct {
	transactions TransactionManager
	planSupplier plan.Supplier
	graphBuilder compute.StageGraphBuilder
	credentials  []core.CredentialsProvider
	monitor      QueryMonitor
	logger       *zap.Logger
}

// TransactionManager is the transaction lifecycle collaborator consumed by
// the coordinator.
type TransactionManager interface {
	Begin(autoCommit bool) (core.TransactionID, error)
	AsyncCommit(id core.TransactionID) <-chan error
	AsyncAbort(id core.TransactionID) <-chan error
	TransactionInfo(id core.TransactionID) (core.TransactionInfo, bool)
}

// FactoryConfig carries the collaborators of an ExecutionFactory. Monitor
// and Logger are optional.
type FactoryConfig struct {
	Transactions TransactionManager
	PlanSupplier plan.Supplier
	GraphBuilder compute.StageGraphBuilder
	Credentials  []core.CredentialsProvider
	Monitor      QueryMonitor
	Logger       *zap.Logger
}

// NewExecutionFactory validates the configuration and creates a factory.
func NewExecutionFactory(cfg FactoryConfig) (*ExecutionFactory, error) {
	if cfg.Transactions == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if cfg.PlanSupplier == nil {
		return nil, fmt.Errorf("plan supplier is required")
	}
	if cfg.GraphBuilder == nil {
		return nil, fmt.Errorf("stage graph builder is required")
	}
	if cfg.Monitor == nil {
		cfg.Monitor = NopQueryMonitor{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &ExecutionFactory{
		transactions: cfg.Transactions,
		planSupplier: cfg.PlanSupplier,
		graphBuilder: cfg.GraphBuilder,
		credentials:  cfg.Credentials,
		monitor:      cfg.Monitor,
		logger:       cfg.Logger,
	}, nil
}

// Create prepares one query for execution: it generates a query id, derives
// the session, begins an auto-commit transaction, plans the SQL, and builds
// the distributed stage graph. Each step is a hard dependency on the
// previous one succeeding. After the transaction has begun, every failure
// path rolls it back before returning; no distributed work is dispatched on
// any failure path.
func (f *ExecutionFactory) Create(handle compute.Handle, sessionContext core.SessionContext, sql string, provider task.ExecutorFactoryProvider) (*QueryExecution, error) {
	queryID := core.NewQueryID()
	session := core.NewSession(queryID, sessionContext, f.credentials)

	transactionID, err := f.transactions.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	session = session.WithTransaction(transactionID)

	logger := f.logger.With(zap.String("query_id", string(queryID)))
	logger.Debug("query created", zap.String("user", sessionContext.User))

	// The exchange codec is fixed here for the whole query; a codec name
	// that does not resolve fails the query before any planning.
	compression, err := task.ExchangeCompression(session.Properties())
	if err != nil {
		f.abandonTransaction(logger, transactionID)
		return nil, err
	}

	warnings := plan.NewWarningCollector()
	planned, err := f.planSupplier.CreatePlan(session, sql, warnings)
	if err != nil {
		// Analysis errors surface to the caller unmodified, but the
		// just-begun transaction must not stay active.
		f.abandonTransaction(logger, transactionID)
		return nil, err
	}
	for _, warning := range warnings.Warnings() {
		logger.Warn("planning warning", zap.String("warning", warning))
	}

	remoteSource, err := planned.Plan.Root.SingleRemoteSource()
	if err != nil {
		f.abandonTransaction(logger, transactionID)
		return nil, err
	}
	subplan, err := planned.Plan.ChildByFragment(remoteSource.SourceFragment)
	if err != nil {
		f.abandonTransaction(logger, transactionID)
		return nil, err
	}

	// The collector must be registered before any task runs so every
	// worker can append to it.
	stats := core.NewTaskStatsCollector()
	if err := handle.RegisterStatsCollector(string(queryID), stats); err != nil {
		f.abandonTransaction(logger, transactionID)
		return nil, fmt.Errorf("failed to register stats collector: %w", err)
	}

	output, err := f.graphBuilder.BuildStageGraph(handle, session, subplan, provider, stats)
	if err != nil {
		f.abandonTransaction(logger, transactionID)
		return nil, fmt.Errorf("failed to build stage graph: %w", err)
	}

	return &QueryExecution{
		session:        session,
		plan:           planned.Plan,
		updateType:     planned.UpdateType,
		remoteSourceID: remoteSource.ID,
		output:         output,
		stats:          stats,
		codec:          columnar.NewPageCodec(compression),
		transactions:   f.transactions,
		provider:       provider,
		monitor:        f.monitor,
		logger:         logger,
		createTime:     time.Now(),
	}, nil
}

// abandonTransaction rolls back a transaction whose query never reached
// execution. Best effort: a rollback failure here has no primary failure
// to attach to, so it is logged and dropped.
func (f *ExecutionFactory) abandonTransaction(logger *zap.Logger, id core.TransactionID) {
	if err := <-f.transactions.AsyncAbort(id); err != nil {
		logger.Error("failed to roll back abandoned transaction",
			zap.String("transaction_id", string(id)),
			zap.Error(err))
	}
}

// QueryExecution is the execution handle of one prepared query. Execute
// runs at most once.
type QueryExecution struct {
	session        *core.Session
	plan           *plan.FragmentedPlan
	updateType     string
	remoteSourceID string
	output         compute.OutputHandle
	stats          *core.TaskStatsCollector
	codec          *columnar.PageCodec
	transactions   TransactionManager
	provider       task.ExecutorFactoryProvider
	monitor        QueryMonitor
	logger         *zap.Logger
	createTime     time.Time
	executed       atomic.Bool
}

// Execute runs the query to completion and materializes its result rows.
// It blocks until the query fully succeeds or fully fails. Every path ends
// the bound transaction in exactly one terminal state: Committed on
// success, Aborted on failure.
func (e *QueryExecution) Execute() ([][]interface{}, error) {
	if !e.executed.CompareAndSwap(false, true) {
		return nil, core.InvariantErrorf("query %s was already executed", e.session.QueryID())
	}

	resultPages, executionFailure := e.run()
	if executionFailure != nil {
		failure := &ExecutionError{
			QueryID: e.session.QueryID(),
			Cause:   executionFailure,
		}
		attachRollbackFailure(failure, e.rollback())
		e.queryCompleted(executionFailure)
		return nil, failure
	}

	e.queryCompleted(nil)
	return e.materializeRows(resultPages)
}

// run performs the failable part of execution: collect the distributed
// output, execute the root stage locally, and commit.
func (e *QueryExecution) run() ([]columnar.SerializedPage, error) {
	// Forcing the collection is the sole synchronization barrier: every
	// distributed partition has completed or failed once it returns.
	driverInput, err := e.output.Collect()
	if err != nil {
		return nil, err
	}
	e.logger.Debug("collected distributed output", zap.Int("pages", len(driverInput)))

	descriptor := task.Descriptor{
		Session:          e.session.Representation(),
		ExtraCredentials: e.session.Identity().ExtraCredentials,
		Fragment:         *e.plan.Root,
		// The root task's only driver-fed input is the collected remote
		// output, never a storage split.
		Splits:    []plan.Split{},
		WriteInfo: e.plan.WriteInfo,
	}
	serialized, err := descriptor.Serialize()
	if err != nil {
		return nil, err
	}

	inputs := task.Inputs{
		RemoteSources: map[string][]task.PartitionedPage{
			e.remoteSourceID: driverInput,
		},
	}
	resultPages, err := e.provider().Create(rootTaskID, rootPartitionID, serialized, inputs, e.stats)
	if err != nil {
		return nil, err
	}

	if err := e.commit(); err != nil {
		return nil, err
	}
	return resultPages, nil
}

// OutputTypes returns the query's output schema, available independent of
// Execute having run.
func (e *QueryExecution) OutputTypes() ([]columnar.Type, error) {
	return e.plan.Root.OutputTypes()
}

// UpdateType returns the detected DML update-type label, if any.
func (e *QueryExecution) UpdateType() (string, bool) {
	return e.updateType, e.updateType != ""
}

// commit drives the transaction to Committed. Mutually exclusive with
// rollback per query.
func (e *QueryExecution) commit() error {
	info, err := e.transactionInfo()
	if err != nil {
		return err
	}
	if err := <-e.transactions.AsyncCommit(info.ID); err != nil {
		return fmt.Errorf("failed to commit transaction %s: %w", info.ID, err)
	}
	return nil
}

// rollback drives the transaction to Aborted.
func (e *QueryExecution) rollback() error {
	info, err := e.transactionInfo()
	if err != nil {
		return err
	}
	if err := <-e.transactions.AsyncAbort(info.ID); err != nil {
		return fmt.Errorf("failed to abort transaction %s: %w", info.ID, err)
	}
	return nil
}

// transactionInfo resolves the session's transaction and checks the
// commit/rollback preconditions: the transaction must be present and must
// be auto-commit. Violations are coordinator misuse and fail fast before
// any async call is issued.
func (e *QueryExecution) transactionInfo() (core.TransactionInfo, error) {
	id, bound := e.session.TransactionID()
	if !bound {
		return core.TransactionInfo{}, core.InvariantErrorf("transaction is not present")
	}
	info, exists := e.transactions.TransactionInfo(id)
	if !exists {
		return core.TransactionInfo{}, core.InvariantErrorf("transaction is not present")
	}
	if !info.AutoCommit {
		return core.TransactionInfo{}, core.InvariantErrorf("transaction %s does not have auto commit enabled", id)
	}
	return info, nil
}

// materializeRows deserializes every result page and flattens it to rows,
// preserving wire order for rows and channels.
func (e *QueryExecution) materializeRows(pages []columnar.SerializedPage) ([][]interface{}, error) {
	types, err := e.OutputTypes()
	if err != nil {
		return nil, err
	}

	rows := make([][]interface{}, 0)
	for _, serialized := range pages {
		page, err := e.codec.Deserialize(serialized)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize result page: %w", err)
		}
		if page.ChannelCount() != len(types) {
			return nil, fmt.Errorf("result page has %d channels, schema has %d", page.ChannelCount(), len(types))
		}
		for position := 0; position < page.PositionCount(); position++ {
			row := make([]interface{}, len(types))
			for channel, t := range types {
				value, err := t.Value(page.Columns[channel], position)
				if err != nil {
					return nil, fmt.Errorf("channel %d position %d: %w", channel, position, err)
				}
				row[channel] = value
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (e *QueryExecution) queryCompleted(failure error) {
	// Prefer the manager's view of the transaction; a failed rollback
	// leaves it non-terminal and the event should say so. The inferred
	// state remains as a fallback for managers that no longer track it.
	state := core.TransactionCommitted
	if failure != nil {
		state = core.TransactionAborted
	}
	if id, bound := e.session.TransactionID(); bound {
		if info, exists := e.transactions.TransactionInfo(id); exists {
			state = info.State
		}
	}
	e.monitor.QueryCompleted(QueryCompletedEvent{
		QueryID:          e.session.QueryID(),
		User:             e.session.Identity().User,
		UpdateType:       e.updateType,
		TransactionState: state,
		Elapsed:          time.Since(e.createTime),
		Failure:          failure,
		TaskStats:        e.stats.DecodeAll(),
	})
}

// ExecutionError is the single propagated failure of a query execution.
// The original fault is preserved as the primary cause; a failure while
// rolling back after it is attached as a secondary cause, never replacing
// the primary.
type ExecutionError struct {
	QueryID         core.QueryID
	Cause           error
	RollbackFailure error
}

func (e *ExecutionError) Error() string {
	if e.RollbackFailure != nil {
		return fmt.Sprintf("query %s failed: %v (rollback also failed: %v)", e.QueryID, e.Cause, e.RollbackFailure)
	}
	return fmt.Sprintf("query %s failed: %v", e.QueryID, e.Cause)
}

// Unwrap exposes the primary cause.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// attachRollbackFailure records a rollback failure as the secondary cause
// of an execution failure. The primary cause is never replaced, and the
// same error instance is never attached twice.
func attachRollbackFailure(failure *ExecutionError, rollbackFailure error) {
	if rollbackFailure == nil || rollbackFailure == failure.Cause {
		return
	}
	failure.RollbackFailure = rollbackFailure
}
