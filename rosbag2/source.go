// Package rosbag2 reads rosbag2 bags stored with the sqlite3 storage plugin.
package rosbag2

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"gopkg.in/yaml.v3"

	"github.com/lherman-cs/bag2rawlog/rosmsg"
)

const metadataFile = "metadata.yaml"

const storageSqlite3 = "sqlite3"

var (
	ErrUnsupportedStorage = errors.New("unsupported rosbag2 storage")
	errNoFiles            = errors.New("rosbag2 metadata lists no storage files")
)

const countQuery = `SELECT COUNT(*) FROM messages`

const topicsQuery = `
SELECT t.name, t.type, COUNT(m.id)
FROM topics t LEFT JOIN messages m ON m.topic_id = t.id
GROUP BY t.id`

const messagesQuery = `
SELECT t.name, t.type, t.serialization_format, m.timestamp, m.data
FROM messages m JOIN topics t ON m.topic_id = t.id
ORDER BY m.timestamp, m.id`

type metadata struct {
	Info struct {
		StorageIdentifier string   `yaml:"storage_identifier"`
		RelativeFilePaths []string `yaml:"relative_file_paths"`
	} `yaml:"rosbag2_bagfile_information"`
}

// Source streams the messages of a rosbag2 bag in timestamp order. Split bags are read one
// storage file after another.
type Source struct {
	files  []string
	count  int
	topics []rosmsg.TopicInfo

	db   *sql.DB
	rows *sql.Rows
	next int

	msg  *rosmsg.RawMessage
	err  error
	done bool
}

// Open accepts a bag directory holding metadata.yaml or a single .db3 file.
func Open(path string) (*Source, error) {
	files, err := storageFiles(path)
	if err != nil {
		return nil, err
	}

	src := &Source{files: files}
	byTopic := make(map[string]*rosmsg.TopicInfo)
	for _, file := range files {
		if err := src.readIndex(file, byTopic); err != nil {
			return nil, err
		}
	}
	for _, info := range byTopic {
		src.topics = append(src.topics, *info)
	}
	sort.Slice(src.topics, func(i, j int) bool {
		return src.topics[i].Name < src.topics[j].Name
	})
	return src, nil
}

func storageFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		if ext := filepath.Ext(path); ext != ".db3" {
			return nil, fmt.Errorf("%w: %q file %s", ErrUnsupportedStorage, strings.TrimPrefix(ext, "."), path)
		}
		return []string{path}, nil
	}

	raw, err := os.ReadFile(filepath.Join(path, metadataFile))
	if err != nil {
		return nil, err
	}
	var meta metadata
	if err := yaml.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("parse %s: %w", metadataFile, err)
	}
	if id := meta.Info.StorageIdentifier; id != storageSqlite3 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedStorage, id)
	}
	if len(meta.Info.RelativeFilePaths) == 0 {
		return nil, errNoFiles
	}

	files := make([]string, 0, len(meta.Info.RelativeFilePaths))
	for _, rel := range meta.Info.RelativeFilePaths {
		files = append(files, filepath.Join(path, rel))
	}
	return files, nil
}

func openDB(file string) (*sql.DB, error) {
	if _, err := os.Stat(file); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", file))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", file, err)
	}
	return db, nil
}

func (src *Source) readIndex(file string, byTopic map[string]*rosmsg.TopicInfo) error {
	db, err := openDB(file)
	if err != nil {
		return err
	}
	defer db.Close()

	var count int
	if err := db.QueryRow(countQuery).Scan(&count); err != nil {
		return fmt.Errorf("count messages in %s: %w", file, err)
	}
	src.count += count

	rows, err := db.Query(topicsQuery)
	if err != nil {
		return fmt.Errorf("list topics in %s: %w", file, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, msgType string
		var n int
		if err := rows.Scan(&name, &msgType, &n); err != nil {
			return fmt.Errorf("list topics in %s: %w", file, err)
		}
		info, ok := byTopic[name]
		if !ok {
			info = &rosmsg.TopicInfo{Name: name, Type: rosmsg.NormalizeType(msgType)}
			byTopic[name] = info
		}
		info.Count += n
	}
	return rows.Err()
}

// Count returns the number of messages in all storage files.
func (src *Source) Count() int {
	return src.count
}

// Topics returns the bag topics sorted by name, with types in the "pkg/Name" form.
func (src *Source) Topics() []rosmsg.TopicInfo {
	return src.topics
}

// HasNext reports whether ReadNext has a message or an error to return.
func (src *Source) HasNext() bool {
	if src.msg != nil || src.err != nil {
		return true
	}
	if src.done {
		return false
	}

	for {
		if src.rows == nil {
			if src.next == len(src.files) {
				src.done = true
				return false
			}
			if err := src.openNext(); err != nil {
				src.err = err
				return true
			}
		}

		if src.rows.Next() {
			msg, err := scanMessage(src.rows)
			if err != nil {
				src.err = err
			} else {
				src.msg = &msg
			}
			return true
		}

		err := src.rows.Err()
		src.closeCurrent()
		if err != nil {
			src.err = err
			return true
		}
	}
}

func (src *Source) openNext() error {
	file := src.files[src.next]
	src.next++

	db, err := openDB(file)
	if err != nil {
		return err
	}
	rows, err := db.Query(messagesQuery)
	if err != nil {
		db.Close()
		return fmt.Errorf("read messages in %s: %w", file, err)
	}
	src.db = db
	src.rows = rows
	return nil
}

func (src *Source) closeCurrent() error {
	var err error
	if src.rows != nil {
		err = src.rows.Close()
		src.rows = nil
	}
	if src.db != nil {
		if cerr := src.db.Close(); err == nil {
			err = cerr
		}
		src.db = nil
	}
	return err
}

func scanMessage(rows *sql.Rows) (rosmsg.RawMessage, error) {
	var (
		topic, msgType, format string
		stamp                  int64
		data                   []byte
	)
	if err := rows.Scan(&topic, &msgType, &format, &stamp, &data); err != nil {
		return rosmsg.RawMessage{}, err
	}
	return rosmsg.RawMessage{
		Topic:    topic,
		Type:     rosmsg.NormalizeType(msgType),
		Encoding: rosmsg.Encoding(format),
		LogTime:  time.Unix(0, stamp),
		Data:     data,
	}, nil
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
		src.closeCurrent()
		return rosmsg.RawMessage{}, err
	}

	msg := *src.msg
	src.msg = nil
	return msg, nil
}

// Close releases the storage file being read.
func (src *Source) Close() error {
	src.done = true
	return src.closeCurrent()
}
