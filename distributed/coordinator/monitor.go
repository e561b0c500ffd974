package coordinator

import (
	"time"

	"go.uber.org/zap"

	"gridsql/core"
)

// QueryCompletedEvent is emitted exactly once per execution, after the
// transaction has reached its terminal state. The task statistics are best
// effort: tasks that failed before appending a record are simply absent.
type QueryCompletedEvent struct {
	QueryID          core.QueryID
	User             string
	UpdateType       string
	TransactionState core.TransactionState
	Elapsed          time.Duration
	Failure          error
	TaskStats        []core.TaskStats
}

// QueryMonitor observes query lifecycle events.
type QueryMonitor interface {
	QueryCompleted(event QueryCompletedEvent)
}

// NopQueryMonitor discards all events.
type NopQueryMonitor struct{}

func (NopQueryMonitor) QueryCompleted(QueryCompletedEvent) {}

// LoggingQueryMonitor writes completion events to a structured log.
type LoggingQueryMonitor struct {
	logger *zap.Logger
}

// NewLoggingQueryMonitor creates a monitor logging through logger.
func NewLoggingQueryMonitor(logger *zap.Logger) *LoggingQueryMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingQueryMonitor{logger: logger}
}

// QueryCompleted implements QueryMonitor.
func (m *LoggingQueryMonitor) QueryCompleted(event QueryCompletedEvent) {
	var rows int64
	for _, stats := range event.TaskStats {
		if stats.FragmentID == 0 {
			rows += stats.OutputRows
		}
	}

	fields := []zap.Field{
		zap.String("query_id", string(event.QueryID)),
		zap.String("user", event.User),
		zap.String("transaction_state", event.TransactionState.String()),
		zap.Duration("elapsed", event.Elapsed),
		zap.Int("tasks", len(event.TaskStats)),
		zap.Int64("result_rows", rows),
	}
	if event.UpdateType != "" {
		fields = append(fields, zap.String("update_type", event.UpdateType))
	}
	if event.Failure != nil {
		m.logger.Error("query failed", append(fields, zap.Error(event.Failure))...)
		return
	}
	m.logger.Info("query completed", fields...)
}
