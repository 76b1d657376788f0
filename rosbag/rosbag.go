// Package rosbag reads ROS1 bag files (format version 2.0).
//
// Reference: http://wiki.ros.org/Bags/Format/2.0
package rosbag

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	versionFormat = "#ROSBAG V%d.%d\n"
)

var (
	supportedVersion = Version{
		Major: 2,
		Minor: 0,
	}
	endian = binary.LittleEndian
)

var (
	errInvalidOp                = errors.New("invalid op")
	errMissingOp                = errors.New("record header is missing op")
	errInvalidHeader            = errors.New("invalid record header")
	errNotFoundConnectionHeader = errors.New("message data refers to an unknown connection")
	errMissingField             = errors.New("record header is missing a required field")
)

type Op uint8

const (
	// OpInvalid is an extension from the standard. This Op marks an invalid Op.
	OpInvalid     Op = 0x00
	OpBagHeader   Op = 0x03
	OpChunk       Op = 0x05
	OpConnection  Op = 0x07
	OpMessageData Op = 0x02
	OpIndexData   Op = 0x04
	OpChunkInfo   Op = 0x06
)

func (op Op) String() string {
	switch op {
	case OpBagHeader:
		return "bag_header"
	case OpChunk:
		return "chunk"
	case OpConnection:
		return "connection"
	case OpMessageData:
		return "message_data"
	case OpIndexData:
		return "index_data"
	case OpChunkInfo:
		return "chunk_info"
	default:
		return fmt.Sprintf("op(0x%02x)", uint8(op))
	}
}

type Compression string

const (
	CompressionNone Compression = "none"
	CompressionBZ2  Compression = "bz2"
	CompressionLZ4  Compression = "lz4"
)

type Version struct {
	Major uint
	Minor uint
}

func (version *Version) String() string {
	return fmt.Sprintf("%d.%d", version.Major, version.Minor)
}

// Record is a single bag record. Op tells which concrete type it is.
type Record interface {
	Op() Op
	Header() []byte
	Data() []byte
	String() string
}

type RecordBase struct {
	op     Op
	header []byte
	data   []byte
}

func (record *RecordBase) Op() Op {
	return record.op
}

func (record *RecordBase) Header() []byte {
	return record.header
}

func (record *RecordBase) Data() []byte {
	return record.data
}

func (record *RecordBase) String() string {
	return fmt.Sprintf(`
op         : %s
header_len : %d bytes
data_len   : %d bytes
`, record.op, len(record.header), len(record.data))
}

type RecordBagHeader struct {
	*RecordBase
	IndexPos   uint64
	ConnCount  uint32
	ChunkCount uint32
}

func (record *RecordBagHeader) String() string {
	return fmt.Sprintf(`
index_pos   : %d
conn_count  : %d
chunk_count : %d
`, record.IndexPos, record.ConnCount, record.ChunkCount)
}

func (record *RecordBagHeader) unmarshall() error {
	return iterateHeaderFields(record.header, func(key, value []byte) error {
		var err error
		switch string(key) {
		case "index_pos":
			record.IndexPos, err = headerUint64(value)
		case "conn_count":
			record.ConnCount, err = headerUint32(value)
		case "chunk_count":
			record.ChunkCount, err = headerUint32(value)
		}
		return err
	})
}

type RecordChunk struct {
	*RecordBase
	Compression Compression
	// Size is the uncompressed size of the chunk data.
	Size uint32
}

func (record *RecordChunk) String() string {
	return fmt.Sprintf(`
compression : %s
size        : %d bytes
`, record.Compression, record.Size)
}

func (record *RecordChunk) unmarshall() error {
	return iterateHeaderFields(record.header, func(key, value []byte) error {
		var err error
		switch string(key) {
		case "compression":
			record.Compression = Compression(value)
		case "size":
			record.Size, err = headerUint32(value)
		}
		return err
	})
}

type RecordConnection struct {
	*RecordBase
	Conn  uint32
	Topic string
	// ConnectionHeader is parsed from the record data.
	ConnectionHeader *ConnectionHeader
}

func (record *RecordConnection) String() string {
	return fmt.Sprintf(`
conn  : %d
topic : %s
type  : %s
`, record.Conn, record.Topic, record.ConnectionHeader.Type)
}

func (record *RecordConnection) unmarshall() error {
	var hasConn bool
	err := iterateHeaderFields(record.header, func(key, value []byte) error {
		var err error
		switch string(key) {
		case "conn":
			record.Conn, err = headerUint32(value)
			hasConn = true
		case "topic":
			record.Topic = string(value)
		}
		return err
	})
	if err != nil {
		return err
	}
	if !hasConn {
		return fmt.Errorf("connection: %w: conn", errMissingField)
	}

	var hdr ConnectionHeader
	if err := hdr.unmarshall(record.data); err != nil {
		return err
	}
	if hdr.Topic == "" {
		hdr.Topic = record.Topic
	}
	record.ConnectionHeader = &hdr
	return nil
}

type RecordMessageData struct {
	*RecordBase
	Conn uint32
	Time time.Time
	// ConnectionHeader is resolved by the Decoder from a previously read connection record.
	ConnectionHeader *ConnectionHeader
}

func (record *RecordMessageData) String() string {
	return fmt.Sprintf(`
conn : %d
time : %s
size : %d bytes
`, record.Conn, record.Time.UTC().Format(time.RFC3339Nano), len(record.data))
}

// UnmarshallTo decodes the message payload into v, a map[string]interface{} or a pointer to a
// struct, using the message definition of the record's connection.
func (record *RecordMessageData) UnmarshallTo(v interface{}) error {
	if record.ConnectionHeader == nil {
		return errNotFoundConnectionHeader
	}
	return record.ConnectionHeader.MessageDefinition.Unmarshall(record.data, v)
}

func (record *RecordMessageData) unmarshall() error {
	var hasConn, hasTime bool
	err := iterateHeaderFields(record.header, func(key, value []byte) error {
		var err error
		switch string(key) {
		case "conn":
			record.Conn, err = headerUint32(value)
			hasConn = true
		case "time":
			if len(value) != 8 {
				return errInvalidHeader
			}
			record.Time = extractTime(value)
			hasTime = true
		}
		return err
	})
	if err != nil {
		return err
	}
	if !hasConn || !hasTime {
		return fmt.Errorf("message data: %w: conn/time", errMissingField)
	}
	return nil
}

type RecordIndexData struct {
	*RecordBase
}

type RecordChunkInfo struct {
	*RecordBase
	ChunkPos  uint64
	StartTime time.Time
	EndTime   time.Time
	Count     uint32
	// MessageCounts maps a connection id to the number of its messages in the chunk.
	MessageCounts map[uint32]uint32
}

func (record *RecordChunkInfo) String() string {
	return fmt.Sprintf(`
chunk_pos  : %d
start_time : %s
end_time   : %s
count      : %d
`, record.ChunkPos, record.StartTime.UTC().Format(time.RFC3339Nano),
		record.EndTime.UTC().Format(time.RFC3339Nano), record.Count)
}

// Messages returns the number of messages the chunk holds across all of its connections.
func (record *RecordChunkInfo) Messages() int {
	var total int
	for _, count := range record.MessageCounts {
		total += int(count)
	}
	return total
}

func (record *RecordChunkInfo) unmarshall() error {
	err := iterateHeaderFields(record.header, func(key, value []byte) error {
		var err error
		switch string(key) {
		case "chunk_pos":
			record.ChunkPos, err = headerUint64(value)
		case "start_time":
			if len(value) != 8 {
				return errInvalidHeader
			}
			record.StartTime = extractTime(value)
		case "end_time":
			if len(value) != 8 {
				return errInvalidHeader
			}
			record.EndTime = extractTime(value)
		case "count":
			record.Count, err = headerUint32(value)
		}
		return err
	})
	if err != nil {
		return err
	}

	data := record.data
	// the count comes from the file, so the size hint is capped by the entries data can hold
	record.MessageCounts = make(map[uint32]uint32, min(int(record.Count), len(data)/8))
	for i := uint32(0); i < record.Count; i++ {
		if len(data) < 8 {
			return errInvalidHeader
		}
		record.MessageCounts[endian.Uint32(data)] = endian.Uint32(data[4:])
		data = data[8:]
	}
	return nil
}

// iterateHeaderFields walks a record header, a sequence of `<len><name>=<value>` fields.
func iterateHeaderFields(header []byte, cb func(key, value []byte) error) error {
	for len(header) > 0 {
		if len(header) < lenInBytes {
			return errInvalidHeader
		}
		fieldLen := int(endian.Uint32(header))
		header = header[lenInBytes:]
		if fieldLen > len(header) {
			return errInvalidHeader
		}

		field := header[:fieldLen]
		header = header[fieldLen:]

		idx := bytes.IndexByte(field, headerFieldDelimiter)
		if idx == -1 {
			return errInvalidHeader
		}

		if err := cb(field[:idx], field[idx+1:]); err != nil {
			return err
		}
	}
	return nil
}

func findOp(header []byte) (Op, error) {
	op := OpInvalid
	err := iterateHeaderFields(header, func(key, value []byte) error {
		if string(key) != "op" {
			return nil
		}
		if len(value) != 1 {
			return errInvalidOp
		}
		op = Op(value[0])
		return nil
	})
	if err != nil {
		return OpInvalid, err
	}
	if op == OpInvalid {
		return OpInvalid, errMissingOp
	}
	return op, nil
}

func headerUint32(value []byte) (uint32, error) {
	if len(value) != 4 {
		return 0, errInvalidHeader
	}
	return endian.Uint32(value), nil
}

func headerUint64(value []byte) (uint64, error) {
	if len(value) != 8 {
		return 0, errInvalidHeader
	}
	return endian.Uint64(value), nil
}
