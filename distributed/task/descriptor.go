package task

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"gridsql/columnar"
	"gridsql/core"
	"gridsql/distributed/plan"
)

// Descriptor is the immutable description of work for one distributed or
// local task: the session it runs under, the plan fragment it executes, its
// split assignment (empty for the root task), and table-write metadata.
// One Descriptor is constructed per task dispatch.
type Descriptor struct {
	Session          core.SessionRepresentation `json:"session"`
	ExtraCredentials map[string]string          `json:"extra_credentials,omitempty"`
	Fragment         plan.Fragment              `json:"fragment"`
	Splits           []plan.Split               `json:"splits"`
	WriteInfo        plan.TableWriteInfo        `json:"write_info"`
}

// SerializedDescriptor is a Descriptor in its transportable form: a
// length-prefixed JSON record. Encode -> decode -> encode is byte-for-byte
// stable (encoding/json orders struct fields by declaration and map keys
// lexically).
type SerializedDescriptor []byte

// Serialize encodes the descriptor for transport across process boundaries.
func (d *Descriptor) Serialize() (SerializedDescriptor, error) {
	body, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task descriptor: %w", err)
	}
	record := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(record[0:4], uint32(len(body)))
	copy(record[4:], body)
	return record, nil
}

// DeserializeDescriptor decodes a serialized descriptor.
func DeserializeDescriptor(data SerializedDescriptor) (*Descriptor, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("task descriptor truncated: %d bytes", len(data))
	}
	length := binary.LittleEndian.Uint32(data[0:4])
	if int(length) != len(data)-4 {
		return nil, fmt.Errorf("task descriptor length mismatch: header says %d, have %d", length, len(data)-4)
	}
	var descriptor Descriptor
	if err := json.Unmarshal(data[4:], &descriptor); err != nil {
		return nil, fmt.Errorf("failed to decode task descriptor: %w", err)
	}
	return &descriptor, nil
}

// PartitionedPage pairs one serialized page with the integer id of the
// partition that produced it.
type PartitionedPage struct {
	Partition int32
	Page      columnar.SerializedPage
}

// Inputs are the named input streams of one task, keyed by remote source
// id. The root task's only input is the collected remote output of the
// penultimate stage.
type Inputs struct {
	RemoteSources map[string][]PartitionedPage
}

// ExecutorFactory runs one task synchronously in the calling process and
// returns its output pages in production order. Implementations must append
// exactly one stats record per invocation, success or failure.
type ExecutorFactory interface {
	Create(taskID, partitionID int32, descriptor SerializedDescriptor, inputs Inputs, stats *core.TaskStatsCollector) ([]columnar.SerializedPage, error)
}

// ExecutorFactoryProvider supplies the executor factory used on each worker
// and for the coordinator's local root task.
type ExecutorFactoryProvider func() ExecutorFactory
