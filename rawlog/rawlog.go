// Package rawlog stores normalized records in an append-only file.
//
// A rawlog starts with the magic "GORAWLOG" and a version byte. The rest of the file is one lz4
// frame holding a sequence of entries, each uvarint(kind) uvarint(len) followed by len bytes of
// the record encoded with the avro schema of its kind.
package rawlog

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hamba/avro/v2"
	"github.com/pierrec/lz4/v4"

	"github.com/lherman-cs/bag2rawlog/record"
)

const (
	magic   = "GORAWLOG"
	Version = 1

	// maxEntry bounds a single encoded record when reading.
	maxEntry = 1 << 30
)

var (
	ErrExists      = errors.New("rawlog already exists")
	ErrNotRawlog   = errors.New("not a rawlog")
	errUnknownKind = errors.New("unknown record kind")
	errCorrupt     = errors.New("corrupt rawlog")
	errClosed      = errors.New("rawlog writer is closed")
)

// Writer appends records to a rawlog.
type Writer struct {
	file   *os.File
	zw     *lz4.Writer
	header [2 * binary.MaxVarintLen64]byte
	count  int
	closed bool
}

// Create creates the rawlog at path. An existing file is only replaced with overwrite.
func Create(path string, overwrite bool) (*Writer, error) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrExists, path)
		}
		return nil, err
	}

	w, err := newWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.file = f
	return w, nil
}

// NewWriter writes a rawlog to w. Close flushes the compressed stream but does not close w.
func NewWriter(w io.Writer) (*Writer, error) {
	return newWriter(w)
}

func newWriter(w io.Writer) (*Writer, error) {
	if _, err := io.WriteString(w, magic); err != nil {
		return nil, err
	}
	if _, err := w.Write([]byte{Version}); err != nil {
		return nil, err
	}
	return &Writer{zw: lz4.NewWriter(w)}, nil
}

// Write appends rec.
func (w *Writer) Write(rec record.Record) error {
	if w.closed {
		return errClosed
	}

	kind := rec.Kind()
	schema, ok := schemas[kind]
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownKind, kind)
	}
	wire, err := toWire(rec)
	if err != nil {
		return err
	}
	data, err := avro.Marshal(schema, wire)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", kind, err)
	}

	n := binary.PutUvarint(w.header[:], uint64(kind))
	n += binary.PutUvarint(w.header[n:], uint64(len(data)))
	if _, err := w.zw.Write(w.header[:n]); err != nil {
		return err
	}
	if _, err := w.zw.Write(data); err != nil {
		return err
	}
	w.count++
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int {
	return w.count
}

func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	err := w.zw.Close()
	if w.file != nil {
		if syncErr := w.file.Sync(); err == nil {
			err = syncErr
		}
		if closeErr := w.file.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}

// Reader reads records back from a rawlog.
type Reader struct {
	file *os.File
	r    *bufio.Reader
}

// Open opens the rawlog at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.file = f
	return r, nil
}

// NewReader reads a rawlog from r.
func NewReader(r io.Reader) (*Reader, error) {
	header := make([]byte, len(magic)+1)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotRawlog, err)
	}
	if !bytes.Equal(header[:len(magic)], []byte(magic)) {
		return nil, ErrNotRawlog
	}
	if v := header[len(magic)]; v != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrNotRawlog, v)
	}

	return &Reader{r: bufio.NewReader(lz4.NewReader(r))}, nil
}

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() (record.Record, error) {
	kind, err := binary.ReadUvarint(r.r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	size, err := binary.ReadUvarint(r.r)
	if err != nil {
		return nil, fmt.Errorf("%w: entry size: %v", errCorrupt, err)
	}
	if size > maxEntry {
		return nil, fmt.Errorf("%w: entry of %d bytes", errCorrupt, size)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return nil, fmt.Errorf("%w: entry body: %v", errCorrupt, err)
	}

	if kind > 255 {
		return nil, fmt.Errorf("%w: %d", errUnknownKind, kind)
	}
	schema, ok := schemas[record.Kind(kind)]
	if !ok {
		return nil, fmt.Errorf("%w: %d", errUnknownKind, kind)
	}
	wire, err := newWire(record.Kind(kind))
	if err != nil {
		return nil, err
	}
	if err := avro.Unmarshal(schema, data, wire); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", errCorrupt, record.Kind(kind), err)
	}
	return fromWire(wire)
}

// ReadAll reads every remaining record.
func (r *Reader) ReadAll() ([]record.Record, error) {
	var records []record.Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
}

func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}
