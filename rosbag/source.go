package rosbag

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/edsrzf/mmap-go"

	"github.com/lherman-cs/bag2rawlog/rosmsg"
)

var errEmptyBag = errors.New("bag file is empty")

// Source streams the messages of a bag in file order.
type Source struct {
	file    *os.File
	mapped  mmap.MMap
	decoder *Decoder
	count   int
	topics  []rosmsg.TopicInfo

	next *RecordMessageData
	err  error
	done bool
}

// Open memory-maps the bag at path and reads its index.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		f.Close()
		return nil, errEmptyBag
	}

	mapped, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	src, err := NewSource(bytes.NewReader(mapped))
	if err != nil {
		mapped.Unmap()
		f.Close()
		return nil, err
	}

	src.file = f
	src.mapped = mapped
	return src, nil
}

// NewSource reads the bag index from r, when the bag has one, then rewinds r to stream the
// messages. Unindexed bags report a zero Count.
func NewSource(r io.ReadSeeker) (*Source, error) {
	src := &Source{}
	if err := src.readIndex(r); err != nil {
		return nil, err
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	src.decoder = NewDecoder(r)
	return src, nil
}

func (src *Source) readIndex(r io.ReadSeeker) error {
	decoder := NewDecoder(r)
	record, err := decoder.Read()
	if err != nil {
		return err
	}

	bagHeader, ok := record.(*RecordBagHeader)
	if !ok {
		return fmt.Errorf("first record is %s, expected %s", record.Op(), OpBagHeader)
	}
	if bagHeader.IndexPos == 0 {
		return nil
	}

	if _, err := r.Seek(int64(bagHeader.IndexPos), io.SeekStart); err != nil {
		return err
	}

	indexDecoder := NewDecoder(r)
	indexDecoder.checkedVersion = true

	counts := make(map[uint32]int)
	for {
		record, err := indexDecoder.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read index: %w", err)
		}

		if chunkInfo, ok := record.(*RecordChunkInfo); ok {
			for conn, count := range chunkInfo.MessageCounts {
				counts[conn] += int(count)
			}
			src.count += chunkInfo.Messages()
		}
	}

	// several connections may share one topic
	byTopic := make(map[string]*rosmsg.TopicInfo)
	for conn, hdr := range indexDecoder.Connections() {
		info, ok := byTopic[hdr.Topic]
		if !ok {
			info = &rosmsg.TopicInfo{Name: hdr.Topic, Type: hdr.Type}
			byTopic[hdr.Topic] = info
		}
		info.Count += counts[conn]
	}
	for _, info := range byTopic {
		src.topics = append(src.topics, *info)
	}
	sort.Slice(src.topics, func(i, j int) bool {
		return src.topics[i].Name < src.topics[j].Name
	})
	return nil
}

// Count returns the number of messages listed in the bag index.
func (src *Source) Count() int {
	return src.count
}

// Topics returns the topics listed in the bag index, sorted by name.
func (src *Source) Topics() []rosmsg.TopicInfo {
	return src.topics
}

// HasNext reports whether ReadNext has a message or an error to return.
func (src *Source) HasNext() bool {
	if src.next != nil || src.err != nil {
		return true
	}
	if src.done {
		return false
	}

	for {
		record, err := src.decoder.Read()
		if err == io.EOF {
			src.done = true
			return false
		}
		if err != nil {
			src.err = err
			return true
		}

		if msg, ok := record.(*RecordMessageData); ok {
			src.next = msg
			return true
		}
	}
}

// ReadNext returns the next message. Errors are not recoverable.
func (src *Source) ReadNext() (rosmsg.RawMessage, error) {
	if !src.HasNext() {
		return rosmsg.RawMessage{}, io.EOF
	}
	if src.err != nil {
		err := src.err
		src.err = nil
		src.done = true
		return rosmsg.RawMessage{}, err
	}

	msg := src.next
	src.next = nil
	return rosmsg.RawMessage{
		Topic:      msg.ConnectionHeader.Topic,
		Type:       msg.ConnectionHeader.Type,
		Encoding:   rosmsg.EncodingROS1,
		LogTime:    msg.Time,
		Data:       msg.Data(),
		Definition: &msg.ConnectionHeader.MessageDefinition,
	}, nil
}

// Close releases the mapping and the file opened by Open.
func (src *Source) Close() error {
	var err error
	if src.mapped != nil {
		err = src.mapped.Unmap()
		src.mapped = nil
	}
	if src.file != nil {
		if cerr := src.file.Close(); err == nil {
			err = cerr
		}
		src.file = nil
	}
	return err
}
