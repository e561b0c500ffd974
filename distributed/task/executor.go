package task

import (
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"

	"gridsql/columnar"
	"gridsql/core"
	"gridsql/distributed/plan"
)

// Session property names governing the page wire format. Both are read once
// at coordinator construction; workers derive the identical codec from the
// session representation inside their task descriptor.
const (
	ExchangeCompressionProperty      = "exchange_compression"
	ExchangeCompressionCodecProperty = "exchange_compression_codec"
)

// ExchangeCompression resolves the page compression for a session property
// set: disabled unless exchange_compression=true, snappy unless
// exchange_compression_codec names another codec. A codec name that does
// not resolve is a configuration error, not a fallback.
func ExchangeCompression(properties map[string]string) (columnar.CompressionType, error) {
	if properties[ExchangeCompressionProperty] != "true" {
		return columnar.CompressionNone, nil
	}
	name := properties[ExchangeCompressionCodecProperty]
	if name == "" {
		return columnar.CompressionSnappy, nil
	}
	compression, err := columnar.ParseCompression(name)
	if err != nil {
		return columnar.CompressionNone, fmt.Errorf("invalid %s: %w", ExchangeCompressionCodecProperty, err)
	}
	return compression, nil
}

// MaxPageRows caps how many rows a scan packs into one page.
const MaxPageRows = 1024

// LocalExecutorFactory is the default ExecutorFactory. It executes scan
// fragments by reading their Parquet splits and the root gather fragment by
// passing its collected remote input through in receipt order.
type LocalExecutorFactory struct {
	logger *zap.Logger
}

// NewLocalExecutorFactory creates a factory logging through logger.
func NewLocalExecutorFactory(logger *zap.Logger) *LocalExecutorFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalExecutorFactory{logger: logger}
}

// Provider returns the factory as an ExecutorFactoryProvider.
func (f *LocalExecutorFactory) Provider() ExecutorFactoryProvider {
	return func() ExecutorFactory { return f }
}

// Create implements ExecutorFactory. Exactly one stats record is appended
// per call, success or failure.
func (f *LocalExecutorFactory) Create(taskID, partitionID int32, descriptor SerializedDescriptor, inputs Inputs, stats *core.TaskStatsCollector) ([]columnar.SerializedPage, error) {
	start := time.Now()

	desc, err := DeserializeDescriptor(descriptor)
	if err != nil {
		appendStats(stats, core.TaskStats{
			TaskID:      taskID,
			PartitionID: partitionID,
			Elapsed:     time.Since(start),
			Error:       err.Error(),
		})
		return nil, err
	}

	taskStats := core.TaskStats{
		QueryID:     desc.Session.QueryID,
		FragmentID:  int32(desc.Fragment.ID),
		TaskID:      taskID,
		PartitionID: partitionID,
	}

	pages, err := f.execute(desc, inputs, &taskStats)
	taskStats.Elapsed = time.Since(start)
	if err != nil {
		taskStats.Error = err.Error()
		appendStats(stats, taskStats)
		return nil, err
	}
	taskStats.Succeeded = true
	for _, page := range pages {
		taskStats.OutputBytes += int64(len(page))
	}
	appendStats(stats, taskStats)

	f.logger.Debug("task finished",
		zap.String("query_id", desc.Session.QueryID),
		zap.Int32("fragment_id", int32(desc.Fragment.ID)),
		zap.Int32("task_id", taskID),
		zap.Int32("partition_id", partitionID),
		zap.Int64("output_rows", taskStats.OutputRows),
		zap.Duration("elapsed", taskStats.Elapsed))
	return pages, nil
}

func (f *LocalExecutorFactory) execute(desc *Descriptor, inputs Inputs, taskStats *core.TaskStats) ([]columnar.SerializedPage, error) {
	compression, err := ExchangeCompression(desc.Session.Properties)
	if err != nil {
		return nil, err
	}
	codec := columnar.NewPageCodec(compression)
	if len(desc.Fragment.RemoteSources) > 0 {
		return f.gather(desc, inputs, codec, taskStats)
	}
	return f.scan(desc, codec, taskStats)
}

// gather executes an exchange-consuming fragment: the collected remote
// pages pass through unchanged, in receipt order.
func (f *LocalExecutorFactory) gather(desc *Descriptor, inputs Inputs, codec *columnar.PageCodec, taskStats *core.TaskStats) ([]columnar.SerializedPage, error) {
	remoteSource, err := desc.Fragment.SingleRemoteSource()
	if err != nil {
		return nil, err
	}
	input, exists := inputs.RemoteSources[remoteSource.ID]
	if !exists {
		return nil, fmt.Errorf("no input stream for remote source %s", remoteSource.ID)
	}

	pages := make([]columnar.SerializedPage, 0, len(input))
	for _, partitioned := range input {
		page, err := codec.Deserialize(partitioned.Page)
		if err != nil {
			return nil, fmt.Errorf("failed to decode page from partition %d: %w", partitioned.Partition, err)
		}
		taskStats.InputRows += int64(page.PositionCount())
		taskStats.InputBytes += int64(len(partitioned.Page))
		taskStats.OutputRows += int64(page.PositionCount())
		pages = append(pages, partitioned.Page)
	}
	return pages, nil
}

// scan executes a leaf fragment: every assigned split is read from its
// Parquet object, projected to the fragment's output columns, and packed
// into pages of at most MaxPageRows rows.
func (f *LocalExecutorFactory) scan(desc *Descriptor, codec *columnar.PageCodec, taskStats *core.TaskStats) ([]columnar.SerializedPage, error) {
	types, err := desc.Fragment.OutputTypes()
	if err != nil {
		return nil, err
	}

	var pages []columnar.SerializedPage
	for _, split := range desc.Splits {
		splitPages, rows, err := f.scanSplit(desc.Fragment.Columns, types, split, codec)
		if err != nil {
			return nil, fmt.Errorf("failed to scan split %s@%d: %w", split.Path, split.RowOffset, err)
		}
		taskStats.InputRows += rows
		taskStats.OutputRows += rows
		pages = append(pages, splitPages...)
	}
	return pages, nil
}

func (f *LocalExecutorFactory) scanSplit(columns []plan.Column, types []columnar.Type, split plan.Split, codec *columnar.PageCodec) ([]columnar.SerializedPage, int64, error) {
	pf, closer, err := core.OpenParquetFile(split.Path)
	if err != nil {
		return nil, 0, err
	}
	if closer != nil {
		defer closer.Close()
	}

	reader := parquet.NewReader(pf)
	defer reader.Close()
	if split.RowOffset > 0 {
		if err := reader.SeekToRow(split.RowOffset); err != nil {
			return nil, 0, fmt.Errorf("failed to seek to row %d: %w", split.RowOffset, err)
		}
	}

	var pages []columnar.SerializedPage
	builder := newPageBuilder(types)
	remaining := split.RowCount
	var rows int64
	for remaining != 0 {
		record := make(map[string]interface{})
		if err := reader.Read(&record); err != nil {
			break // end of file
		}
		if err := builder.appendRow(columns, record); err != nil {
			return nil, 0, err
		}
		rows++
		if remaining > 0 {
			remaining--
		}
		if builder.rows >= MaxPageRows {
			page, err := builder.flush(codec)
			if err != nil {
				return nil, 0, err
			}
			pages = append(pages, page)
		}
	}
	if builder.rows > 0 {
		page, err := builder.flush(codec)
		if err != nil {
			return nil, 0, err
		}
		pages = append(pages, page)
	}
	return pages, rows, nil
}

type pageBuilder struct {
	types   []columnar.Type
	columns []*columnar.Column
	rows    int
}

func newPageBuilder(types []columnar.Type) *pageBuilder {
	b := &pageBuilder{types: types}
	b.reset()
	return b
}

func (b *pageBuilder) reset() {
	b.columns = make([]*columnar.Column, len(b.types))
	for i, t := range b.types {
		b.columns[i] = columnar.NewColumn(t.Kind())
	}
	b.rows = 0
}

func (b *pageBuilder) appendRow(columns []plan.Column, record map[string]interface{}) error {
	for i, column := range columns {
		if err := appendCell(b.columns[i], record[column.Name]); err != nil {
			return fmt.Errorf("column %s: %w", column.Name, err)
		}
	}
	b.rows++
	return nil
}

func (b *pageBuilder) flush(codec *columnar.PageCodec) (columnar.SerializedPage, error) {
	page, err := columnar.NewPage(b.columns...)
	if err != nil {
		return nil, err
	}
	serialized, err := codec.Serialize(page)
	if err != nil {
		return nil, err
	}
	b.reset()
	return serialized, nil
}

// appendCell coerces one raw Parquet cell into the column's kind.
func appendCell(column *columnar.Column, value interface{}) error {
	if value == nil {
		column.AppendNull()
		return nil
	}
	switch column.Kind {
	case columnar.KindBool:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", value)
		}
		column.AppendBool(v)
	case columnar.KindInt32:
		switch v := value.(type) {
		case int32:
			column.AppendInt32(v)
		case int64:
			column.AppendInt32(int32(v))
		case int:
			column.AppendInt32(int32(v))
		default:
			return fmt.Errorf("expected int32, got %T", value)
		}
	case columnar.KindInt64:
		switch v := value.(type) {
		case int64:
			column.AppendInt64(v)
		case int32:
			column.AppendInt64(int64(v))
		case int:
			column.AppendInt64(int64(v))
		default:
			return fmt.Errorf("expected int64, got %T", value)
		}
	case columnar.KindFloat64:
		switch v := value.(type) {
		case float64:
			column.AppendFloat64(v)
		case float32:
			column.AppendFloat64(float64(v))
		default:
			return fmt.Errorf("expected float64, got %T", value)
		}
	case columnar.KindString:
		switch v := value.(type) {
		case string:
			column.AppendString(v)
		case []byte:
			column.AppendString(string(v))
		default:
			return fmt.Errorf("expected string, got %T", value)
		}
	default:
		return fmt.Errorf("unsupported column kind: %s", column.Kind)
	}
	return nil
}

func appendStats(stats *core.TaskStatsCollector, record core.TaskStats) {
	if stats == nil {
		return
	}
	serialized, err := record.Serialize()
	if err != nil {
		return
	}
	stats.Add(serialized)
}
