package compute

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gridsql/core"
	"gridsql/distributed/plan"
	"gridsql/distributed/task"
)

// MemoryCompute is an in-process compute substrate, useful for testing and
// development. Every task of a stage runs as its own goroutine; stages
// feeding a remote source are realized before their consumer starts, which
// is the substrate's shuffle.
type MemoryCompute struct {
	mu         sync.RWMutex
	collectors map[string]*core.TaskStatsCollector
	logger     *zap.Logger
}

// NewMemoryCompute creates an in-memory substrate.
func NewMemoryCompute(logger *zap.Logger) *MemoryCompute {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryCompute{
		collectors: make(map[string]*core.TaskStatsCollector),
		logger:     logger,
	}
}

// RegisterStatsCollector implements Handle.
func (mc *MemoryCompute) RegisterStatsCollector(name string, collector *core.TaskStatsCollector) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if _, exists := mc.collectors[name]; exists {
		return fmt.Errorf("stats collector already registered under name: %s", name)
	}
	mc.collectors[name] = collector
	return nil
}

// StatsCollector returns a registered collector, for inspection.
func (mc *MemoryCompute) StatsCollector(name string) *core.TaskStatsCollector {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.collectors[name]
}

// BuildStageGraph implements StageGraphBuilder. The returned handle is
// lazy: no task runs until Collect forces it, and Collect runs the graph
// at most once.
func (mc *MemoryCompute) BuildStageGraph(handle Handle, session *core.Session, subplan *plan.FragmentedPlan, provider task.ExecutorFactoryProvider, stats *core.TaskStatsCollector) (OutputHandle, error) {
	if subplan == nil {
		return nil, fmt.Errorf("subplan is nil")
	}
	if provider == nil {
		return nil, fmt.Errorf("executor factory provider is nil")
	}
	return &memoryOutputHandle{
		run: func() ([]task.PartitionedPage, error) {
			return mc.executeSubPlan(session, subplan, provider, stats)
		},
	}, nil
}

type memoryOutputHandle struct {
	once   sync.Once
	run    func() ([]task.PartitionedPage, error)
	result []task.PartitionedPage
	err    error
}

// Collect implements OutputHandle.
func (h *memoryOutputHandle) Collect() ([]task.PartitionedPage, error) {
	h.once.Do(func() {
		h.result, h.err = h.run()
	})
	return h.result, h.err
}

// executeSubPlan realizes one stage after recursively realizing the stages
// it consumes.
func (mc *MemoryCompute) executeSubPlan(session *core.Session, subplan *plan.FragmentedPlan, provider task.ExecutorFactoryProvider, stats *core.TaskStatsCollector) ([]task.PartitionedPage, error) {
	fragment := subplan.Root

	inputs := task.Inputs{RemoteSources: make(map[string][]task.PartitionedPage)}
	for _, remoteSource := range fragment.RemoteSources {
		child, err := subplan.ChildByFragment(remoteSource.SourceFragment)
		if err != nil {
			return nil, err
		}
		collected, err := mc.executeSubPlan(session, child, provider, stats)
		if err != nil {
			return nil, err
		}
		inputs.RemoteSources[remoteSource.ID] = collected
	}

	partitions := fragment.PartitionCount
	if partitions < 1 {
		partitions = 1
	}
	mc.logger.Debug("executing stage",
		zap.String("query_id", string(session.QueryID())),
		zap.Int32("fragment_id", int32(fragment.ID)),
		zap.Int("partitions", partitions))

	results := make([][]task.PartitionedPage, partitions)
	var group errgroup.Group
	for partition := 0; partition < partitions; partition++ {
		partition := partition
		group.Go(func() error {
			splits := subplan.PartitionSplits(fragment.ID, partition)
			if splits == nil {
				splits = []plan.Split{}
			}
			descriptor := task.Descriptor{
				Session:          session.Representation(),
				ExtraCredentials: session.Identity().ExtraCredentials,
				Fragment:         *fragment,
				Splits:           splits,
				WriteInfo:        subplan.WriteInfo,
			}
			serialized, err := descriptor.Serialize()
			if err != nil {
				return err
			}
			pages, err := provider().Create(int32(partition), int32(partition), serialized, inputs, stats)
			if err != nil {
				return fmt.Errorf("fragment %d partition %d: %w", fragment.ID, partition, err)
			}
			partitioned := make([]task.PartitionedPage, 0, len(pages))
			for _, page := range pages {
				partitioned = append(partitioned, task.PartitionedPage{
					Partition: int32(partition),
					Page:      page,
				})
			}
			results[partition] = partitioned
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var collected []task.PartitionedPage
	for _, pages := range results {
		collected = append(collected, pages...)
	}
	return collected, nil
}
