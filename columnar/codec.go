package columnar

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// CompressionType selects the page wire compression algorithm.
type CompressionType uint8

const (
	CompressionNone   CompressionType = 0
	CompressionGzip   CompressionType = 1 // reserved
	CompressionSnappy CompressionType = 2
	CompressionZstd   CompressionType = 3
)

// String returns the string representation of CompressionType.
func (ct CompressionType) String() string {
	switch ct {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionSnappy:
		return "snappy"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", ct)
	}
}

// ParseCompression resolves a compression algorithm by name.
func ParseCompression(name string) (CompressionType, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "snappy":
		return CompressionSnappy, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression: %s", name)
	}
}

// SerializedPage is one columnar batch in its on-wire form: a single
// length-prefixed, optionally compressed frame. Ownership transfers on
// transport; a SerializedPage is never mutated after construction.
type SerializedPage []byte

// Page frame layout, little endian:
//
//	u32 frame length (codec byte + uncompressed length + payload)
//	u8  compression codec
//	u32 uncompressed payload length
//	payload
//
// The payload is the page body: u32 channel count, u32 position count, then
// per channel a kind byte, the serialized null bitmap (u32 length prefix,
// zero when the channel has no nulls), and the cells.
const frameHeaderSize = 4 + 1 + 4

// PageCodec serializes and deserializes pages for transport. The
// compression codec is fixed at construction; deserialization accepts any
// codec named in the frame, so readers do not depend on the writer's
// configuration.
type PageCodec struct {
	compression CompressionType
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
}

// NewPageCodec creates a codec writing frames with the given compression.
func NewPageCodec(compression CompressionType) *PageCodec {
	zstdEncoder, _ := zstd.NewWriter(nil)
	zstdDecoder, _ := zstd.NewReader(nil)
	return &PageCodec{
		compression: compression,
		zstdEncoder: zstdEncoder,
		zstdDecoder: zstdDecoder,
	}
}

// Compression returns the codec's write-side compression.
func (pc *PageCodec) Compression() CompressionType {
	return pc.compression
}

// Serialize encodes a page into a single wire frame.
func (pc *PageCodec) Serialize(page *Page) (SerializedPage, error) {
	body, err := encodePageBody(page)
	if err != nil {
		return nil, err
	}

	payload := body
	switch pc.compression {
	case CompressionNone:
	case CompressionSnappy:
		payload = snappy.Encode(nil, body)
	case CompressionZstd:
		payload = pc.zstdEncoder.EncodeAll(body, nil)
	default:
		return nil, fmt.Errorf("unsupported compression: %s", pc.compression)
	}

	frame := make([]byte, frameHeaderSize, frameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(5+len(payload)))
	frame[4] = byte(pc.compression)
	binary.LittleEndian.PutUint32(frame[5:9], uint32(len(body)))
	frame = append(frame, payload...)
	return frame, nil
}

// Deserialize decodes a single wire frame back into a page.
func (pc *PageCodec) Deserialize(data SerializedPage) (*Page, error) {
	if len(data) < frameHeaderSize {
		return nil, fmt.Errorf("page frame truncated: %d bytes", len(data))
	}
	frameLength := binary.LittleEndian.Uint32(data[0:4])
	if int(frameLength) != len(data)-4 {
		return nil, fmt.Errorf("page frame length mismatch: header says %d, have %d", frameLength, len(data)-4)
	}
	codec := CompressionType(data[4])
	uncompressedLength := binary.LittleEndian.Uint32(data[5:9])
	payload := data[frameHeaderSize:]

	var body []byte
	var err error
	switch codec {
	case CompressionNone:
		body = payload
	case CompressionSnappy:
		body, err = snappy.Decode(nil, payload)
	case CompressionZstd:
		body, err = pc.zstdDecoder.DecodeAll(payload, nil)
	default:
		return nil, fmt.Errorf("unsupported compression: %s", codec)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decompress page: %w", err)
	}
	if len(body) != int(uncompressedLength) {
		return nil, fmt.Errorf("page body length mismatch: header says %d, have %d", uncompressedLength, len(body))
	}
	return decodePageBody(body)
}

// ReadSerializedPages splits a stream of frames into individual serialized
// pages, in receipt order. Each returned page is a complete frame that
// Deserialize accepts.
func ReadSerializedPages(r io.Reader) ([]SerializedPage, error) {
	var pages []SerializedPage
	for {
		var lengthPrefix [4]byte
		if _, err := io.ReadFull(r, lengthPrefix[:]); err != nil {
			if err == io.EOF {
				return pages, nil
			}
			return nil, fmt.Errorf("failed to read page frame header: %w", err)
		}
		frameLength := binary.LittleEndian.Uint32(lengthPrefix[:])
		frame := make([]byte, 4+frameLength)
		copy(frame, lengthPrefix[:])
		if _, err := io.ReadFull(r, frame[4:]); err != nil {
			return nil, fmt.Errorf("failed to read page frame body: %w", err)
		}
		pages = append(pages, frame)
	}
}

func encodePageBody(page *Page) ([]byte, error) {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(page.ChannelCount()))
	writeUint32(&buf, uint32(page.PositionCount()))

	for _, column := range page.Columns {
		buf.WriteByte(byte(column.Kind))

		if column.Nulls == nil || column.Nulls.IsEmpty() {
			writeUint32(&buf, 0)
		} else {
			nullBytes, err := column.Nulls.ToBytes()
			if err != nil {
				return nil, fmt.Errorf("failed to serialize null bitmap: %w", err)
			}
			writeUint32(&buf, uint32(len(nullBytes)))
			buf.Write(nullBytes)
		}

		switch column.Kind {
		case KindBool:
			for _, v := range column.Bools {
				if v {
					buf.WriteByte(1)
				} else {
					buf.WriteByte(0)
				}
			}
		case KindInt32:
			for _, v := range column.Int32s {
				writeUint32(&buf, uint32(v))
			}
		case KindInt64:
			for _, v := range column.Int64s {
				writeUint64(&buf, uint64(v))
			}
		case KindFloat64:
			for _, v := range column.Float64s {
				writeUint64(&buf, math.Float64bits(v))
			}
		case KindString:
			for _, v := range column.Strings {
				writeUint32(&buf, uint32(len(v)))
				buf.WriteString(v)
			}
		default:
			return nil, fmt.Errorf("unsupported column kind: %s", column.Kind)
		}
	}
	return buf.Bytes(), nil
}

func decodePageBody(body []byte) (*Page, error) {
	r := bytes.NewReader(body)
	channelCount, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	positionCount, err := readUint32(r)
	if err != nil {
		return nil, err
	}

	// Counts come off the wire; every allocation below is bounded by the
	// bytes actually present so a corrupt frame cannot demand arbitrary
	// memory. Each channel carries at least its kind byte.
	if err := checkBodyBytes(r, channelCount, 1); err != nil {
		return nil, err
	}

	columns := make([]*Column, 0, channelCount)
	for ch := uint32(0); ch < channelCount; ch++ {
		kindByte, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("failed to read column kind: %w", err)
		}
		column := NewColumn(ColumnKind(kindByte))

		nullLength, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		if nullLength > 0 {
			if err := checkBodyBytes(r, nullLength, 1); err != nil {
				return nil, err
			}
			nullBytes := make([]byte, nullLength)
			if _, err := io.ReadFull(r, nullBytes); err != nil {
				return nil, fmt.Errorf("failed to read null bitmap: %w", err)
			}
			column.Nulls = roaring.New()
			if err := column.Nulls.UnmarshalBinary(nullBytes); err != nil {
				return nil, fmt.Errorf("failed to decode null bitmap: %w", err)
			}
		}

		switch column.Kind {
		case KindBool:
			if err := checkBodyBytes(r, positionCount, 1); err != nil {
				return nil, err
			}
			column.Bools = make([]bool, positionCount)
			for i := range column.Bools {
				b, err := r.ReadByte()
				if err != nil {
					return nil, fmt.Errorf("failed to read bool cell: %w", err)
				}
				column.Bools[i] = b != 0
			}
		case KindInt32:
			if err := checkBodyBytes(r, positionCount, 4); err != nil {
				return nil, err
			}
			column.Int32s = make([]int32, positionCount)
			for i := range column.Int32s {
				v, err := readUint32(r)
				if err != nil {
					return nil, err
				}
				column.Int32s[i] = int32(v)
			}
		case KindInt64:
			if err := checkBodyBytes(r, positionCount, 8); err != nil {
				return nil, err
			}
			column.Int64s = make([]int64, positionCount)
			for i := range column.Int64s {
				v, err := readUint64(r)
				if err != nil {
					return nil, err
				}
				column.Int64s[i] = int64(v)
			}
		case KindFloat64:
			if err := checkBodyBytes(r, positionCount, 8); err != nil {
				return nil, err
			}
			column.Float64s = make([]float64, positionCount)
			for i := range column.Float64s {
				v, err := readUint64(r)
				if err != nil {
					return nil, err
				}
				column.Float64s[i] = math.Float64frombits(v)
			}
		case KindString:
			if err := checkBodyBytes(r, positionCount, 4); err != nil {
				return nil, err
			}
			column.Strings = make([]string, positionCount)
			for i := range column.Strings {
				length, err := readUint32(r)
				if err != nil {
					return nil, err
				}
				if err := checkBodyBytes(r, length, 1); err != nil {
					return nil, err
				}
				cell := make([]byte, length)
				if _, err := io.ReadFull(r, cell); err != nil {
					return nil, fmt.Errorf("failed to read string cell: %w", err)
				}
				column.Strings[i] = string(cell)
			}
		default:
			return nil, fmt.Errorf("unsupported column kind: %d", kindByte)
		}
		columns = append(columns, column)
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("page body has %d trailing bytes", r.Len())
	}
	return &Page{Columns: columns}, nil
}

// checkBodyBytes verifies the body still holds at least count cells of
// minSize bytes each before anything is allocated for them.
func checkBodyBytes(r *bytes.Reader, count uint32, minSize int) error {
	if int64(count)*int64(minSize) > int64(r.Len()) {
		return fmt.Errorf("page body truncated: need %d bytes, have %d", int64(count)*int64(minSize), r.Len())
	}
	return nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("failed to read uint32: %w", err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("failed to read uint64: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
