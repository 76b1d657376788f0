package rosbag

import (
	"bufio"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

const (
	lenInBytes           = 4
	headerFieldDelimiter = '='
	// maxRecordSection guards against corrupted length prefixes.
	maxRecordSection = 1 << 30
)

var (
	errUnsupportedCompression = errors.New("unsupported compression algorithm. Available algortihms: [none, bz2, lz4]")
	errRecordTooLarge         = errors.New("record section exceeds the size limit")
)

// Decoder reads bag records sequentially. Chunks are entered transparently: after a
// RecordChunk is returned, the following Read calls return the records stored in it.
type Decoder struct {
	reader         io.Reader
	chunkReader    io.Reader
	checkedVersion bool
	conns          map[uint32]*ConnectionHeader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		reader: bufio.NewReader(r),
		conns:  make(map[uint32]*ConnectionHeader),
	}
}

// Connections returns the connection headers seen so far, keyed by connection id.
func (decoder *Decoder) Connections() map[uint32]*ConnectionHeader {
	return decoder.conns
}

// Read returns the next record in the rosbag. When it reaches EOF, Read returns io.EOF.
func (decoder *Decoder) Read() (Record, error) {
	if !decoder.checkedVersion {
		if err := decoder.checkVersion(); err != nil {
			return nil, err
		}

		decoder.checkedVersion = true
	}

	if decoder.chunkReader != nil {
		record, err := decoder.decodeRecord(decoder.chunkReader, true)
		switch err {
		case nil:
			return record, nil
		case io.EOF:
			/* explicit ignore */
		default:
			return nil, err
		}

		// at this point, the error must be EOF, need to reset chunkReader and read from the source
		// again
		decoder.chunkReader = nil
	}

	return decoder.decodeRecord(decoder.reader, false)
}

func (decoder *Decoder) handleChunk(record *RecordBase, dataLen uint32) (Record, error) {
	chunkRecord := RecordChunk{
		RecordBase: record,
	}

	if err := chunkRecord.unmarshall(); err != nil {
		return nil, err
	}

	chunkReader := io.LimitReader(decoder.reader, int64(dataLen))
	switch chunkRecord.Compression {
	case CompressionNone:
		decoder.chunkReader = chunkReader
	case CompressionBZ2:
		decoder.chunkReader = bzip2.NewReader(chunkReader)
	case CompressionLZ4:
		decoder.chunkReader = lz4.NewReader(chunkReader)
	default:
		return nil, errUnsupportedCompression
	}

	return &chunkRecord, nil
}

func (decoder *Decoder) handleConnection(record *RecordBase) (Record, error) {
	connRecord := RecordConnection{
		RecordBase: record,
	}

	if err := connRecord.unmarshall(); err != nil {
		return nil, err
	}

	decoder.conns[connRecord.Conn] = connRecord.ConnectionHeader
	return &connRecord, nil
}

func (decoder *Decoder) handleMessageData(record *RecordBase) (Record, error) {
	msgRecord := RecordMessageData{
		RecordBase: record,
	}

	if err := msgRecord.unmarshall(); err != nil {
		return nil, err
	}

	connHdr, ok := decoder.conns[msgRecord.Conn]
	if !ok {
		return nil, fmt.Errorf("conn %d: %w", msgRecord.Conn, errNotFoundConnectionHeader)
	}

	msgRecord.ConnectionHeader = connHdr
	return &msgRecord, nil
}

func (decoder *Decoder) checkVersion() error {
	var version Version

	_, err := fmt.Fscanf(decoder.reader, versionFormat, &version.Major, &version.Minor)
	if err != nil {
		return err
	}

	if version.Major != supportedVersion.Major || version.Minor != supportedVersion.Minor {
		return fmt.Errorf("%s is not supported. %s is the current supported version", &version, &supportedVersion)
	}

	return nil
}

func readSection(r io.Reader) ([]byte, error) {
	var lenBuf [lenInBytes]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}

	n := endian.Uint32(lenBuf[:])
	if n > maxRecordSection {
		return nil, errRecordTooLarge
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, unexpected(err)
	}
	return buf, nil
}

func (decoder *Decoder) decodeRecord(r io.Reader, inChunk bool) (Record, error) {
	header, err := readSection(r)
	if err != nil {
		return nil, err
	}

	op, err := findOp(header)
	if err != nil {
		return nil, err
	}

	record := &RecordBase{op: op, header: header}

	// Since RecordChunk contains a lot of messages and connections, we don't parse
	// the data part. We'll let the next iteration to parse this.
	if op == OpChunk {
		if inChunk {
			return nil, fmt.Errorf("nested chunk: %w", errInvalidOp)
		}

		var lenBuf [lenInBytes]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, unexpected(err)
		}
		return decoder.handleChunk(record, endian.Uint32(lenBuf[:]))
	}

	record.data, err = readSection(r)
	if err != nil {
		return nil, unexpected(err)
	}

	switch op {
	case OpBagHeader:
		bagHeader := &RecordBagHeader{RecordBase: record}
		return bagHeader, bagHeader.unmarshall()
	case OpConnection:
		return decoder.handleConnection(record)
	case OpMessageData:
		return decoder.handleMessageData(record)
	case OpIndexData:
		return &RecordIndexData{RecordBase: record}, nil
	case OpChunkInfo:
		chunkInfo := &RecordChunkInfo{RecordBase: record}
		return chunkInfo, chunkInfo.unmarshall()
	default:
		return nil, errInvalidOp
	}
}

// unexpected turns a clean EOF in the middle of a record into io.ErrUnexpectedEOF.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
