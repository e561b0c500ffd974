package core

import (
	"encoding/json"
	"sync"
	"time"
)

// TaskStats describes the execution of a single task, local or distributed.
// Every task appends exactly one record to the query's TaskStatsCollector on
// completion, success or failure.
type TaskStats struct {
	QueryID     string        `json:"query_id"`
	FragmentID  int32         `json:"fragment_id"`
	TaskID      int32         `json:"task_id"`
	PartitionID int32         `json:"partition_id"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	InputRows   int64         `json:"input_rows"`
	InputBytes  int64         `json:"input_bytes"`
	OutputRows  int64         `json:"output_rows"`
	OutputBytes int64         `json:"output_bytes"`
	Succeeded   bool          `json:"succeeded"`
	Error       string        `json:"error,omitempty"`
}

// SerializedTaskStats is one stats record in its transportable form.
type SerializedTaskStats []byte

// Serialize encodes the record for transport to the collector.
func (ts TaskStats) Serialize() (SerializedTaskStats, error) {
	return json.Marshal(ts)
}

// DecodeTaskStats decodes a single serialized record.
func DecodeTaskStats(data SerializedTaskStats) (TaskStats, error) {
	var stats TaskStats
	err := json.Unmarshal(data, &stats)
	return stats, err
}

// TaskStatsCollector accumulates per-task statistics across all tasks of one
// query. It is safe for concurrent appenders with no ordering guarantee among
// records; readers must wait until all writers have finished, which the
// coordinator does by reading only after Execute terminates. Its lifetime is
// scoped to a single query: constructed and registered at coordinator build
// time, read once at teardown.
type TaskStatsCollector struct {
	mu      sync.Mutex
	records []SerializedTaskStats
}

// NewTaskStatsCollector creates an empty collector.
func NewTaskStatsCollector() *TaskStatsCollector {
	return &TaskStatsCollector{}
}

// Add appends one serialized record. Safe from arbitrary worker goroutines.
func (c *TaskStatsCollector) Add(record SerializedTaskStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, record)
}

// Snapshot returns a copy of all records appended so far.
func (c *TaskStatsCollector) Snapshot() []SerializedTaskStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make([]SerializedTaskStats, len(c.records))
	copy(snapshot, c.records)
	return snapshot
}

// DecodeAll decodes every record, skipping any that fail to decode. The
// result is best effort: tasks that failed before appending simply have no
// record.
func (c *TaskStatsCollector) DecodeAll() []TaskStats {
	records := c.Snapshot()
	stats := make([]TaskStats, 0, len(records))
	for _, record := range records {
		decoded, err := DecodeTaskStats(record)
		if err != nil {
			continue
		}
		stats = append(stats, decoded)
	}
	return stats
}
