package task

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gridsql/core"
	"gridsql/distributed/plan"
)

func sampleDescriptor() Descriptor {
	return Descriptor{
		Session: core.SessionRepresentation{
			QueryID:         "q-123",
			User:            "alice",
			Catalog:         "warehouse",
			Properties:      map[string]string{"exchange_compression": "true", "a": "z"},
			TransactionID:   "txn-1",
			StartTimeMillis: 1700000000000,
		},
		ExtraCredentials: map[string]string{"s3-key": "secret", "gcs-key": "other"},
		Fragment: plan.Fragment{
			ID:    1,
			Table: "employees",
			Columns: []plan.Column{
				{Name: "id", Type: "bigint"},
				{Name: "name", Type: "varchar"},
			},
			Partitioning:   plan.PartitioningSource,
			PartitionCount: 3,
		},
		Splits: []plan.Split{
			{Path: "/data/employees.parquet", RowOffset: 0, RowCount: 100},
			{Path: "/data/employees.parquet", RowOffset: 100, RowCount: -1},
		},
		WriteInfo: plan.TableWriteInfo{Table: "target", WriteID: "w-1"},
	}
}

func TestDescriptorRoundTripsByteForByte(t *testing.T) {
	descriptor := sampleDescriptor()

	first, err := descriptor.Serialize()
	require.NoError(t, err)

	decoded, err := DeserializeDescriptor(first)
	require.NoError(t, err)
	require.Equal(t, &descriptor, decoded)

	second, err := decoded.Serialize()
	require.NoError(t, err)
	require.Equal(t, []byte(first), []byte(second), "encode -> decode -> encode must be byte identical")
}

func TestDescriptorEmptySplits(t *testing.T) {
	descriptor := sampleDescriptor()
	descriptor.Splits = []plan.Split{}
	descriptor.WriteInfo = plan.TableWriteInfo{}

	serialized, err := descriptor.Serialize()
	require.NoError(t, err)

	decoded, err := DeserializeDescriptor(serialized)
	require.NoError(t, err)
	require.Empty(t, decoded.Splits)

	again, err := decoded.Serialize()
	require.NoError(t, err)
	require.Equal(t, []byte(serialized), []byte(again))
}

func TestDeserializeDescriptorRejectsCorruptRecords(t *testing.T) {
	descriptor := sampleDescriptor()
	serialized, err := descriptor.Serialize()
	require.NoError(t, err)

	_, err = DeserializeDescriptor(serialized[:2])
	require.Error(t, err)

	_, err = DeserializeDescriptor(serialized[:len(serialized)-1])
	require.Error(t, err)
}

func TestExchangeCompression(t *testing.T) {
	tests := []struct {
		name       string
		properties map[string]string
		expected   string
		wantErr    bool
	}{
		{name: "disabled by default", properties: nil, expected: "none"},
		{name: "disabled explicitly", properties: map[string]string{ExchangeCompressionProperty: "false"}, expected: "none"},
		{name: "enabled defaults to snappy", properties: map[string]string{ExchangeCompressionProperty: "true"}, expected: "snappy"},
		{name: "zstd selected", properties: map[string]string{
			ExchangeCompressionProperty:      "true",
			ExchangeCompressionCodecProperty: "zstd",
		}, expected: "zstd"},
		{name: "unknown codec rejected", properties: map[string]string{
			ExchangeCompressionProperty:      "true",
			ExchangeCompressionCodecProperty: "lz4",
		}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compression, err := ExchangeCompression(tt.properties)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expected, compression.String())
		})
	}
}
