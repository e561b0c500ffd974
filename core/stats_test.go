package core

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTaskStatsRoundTrip(t *testing.T) {
	stats := TaskStats{
		QueryID:     "q1",
		FragmentID:  1,
		TaskID:      2,
		PartitionID: 2,
		Elapsed:     150 * time.Millisecond,
		InputRows:   100,
		OutputRows:  90,
		Succeeded:   true,
	}

	serialized, err := stats.Serialize()
	require.NoError(t, err)

	decoded, err := DecodeTaskStats(serialized)
	require.NoError(t, err)
	require.Equal(t, stats, decoded)
}

func TestTaskStatsCollectorConcurrentAppend(t *testing.T) {
	collector := NewTaskStatsCollector()

	const writers = 16
	const recordsPerWriter = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < recordsPerWriter; i++ {
				record, err := TaskStats{
					QueryID: fmt.Sprintf("writer-%d", w),
					TaskID:  int32(i),
				}.Serialize()
				require.NoError(t, err)
				collector.Add(record)
			}
		}(w)
	}
	wg.Wait()

	require.Len(t, collector.Snapshot(), writers*recordsPerWriter)
	require.Len(t, collector.DecodeAll(), writers*recordsPerWriter)
}

func TestTaskStatsCollectorTolerantOfCorruptRecords(t *testing.T) {
	collector := NewTaskStatsCollector()

	good, err := TaskStats{QueryID: "q1", Succeeded: true}.Serialize()
	require.NoError(t, err)
	collector.Add(good)
	collector.Add(SerializedTaskStats("not json"))

	require.Len(t, collector.Snapshot(), 2)

	decoded := collector.DecodeAll()
	require.Len(t, decoded, 1)
	require.Equal(t, "q1", decoded[0].QueryID)
}
