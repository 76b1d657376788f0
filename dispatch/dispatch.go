// Package dispatch routes raw bag messages to the converters configured for their topic.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/lherman-cs/bag2rawlog/config"
	"github.com/lherman-cs/bag2rawlog/convert"
	"github.com/lherman-cs/bag2rawlog/record"
	"github.com/lherman-cs/bag2rawlog/rendezvous"
	"github.com/lherman-cs/bag2rawlog/rosmsg"
	"github.com/lherman-cs/bag2rawlog/tf"
)

var (
	ErrDecode  = errors.New("decode failed")
	// ErrPartial wraps handler errors when at least one other handler of the topic succeeded.
	ErrPartial = errors.New("some handlers of the topic failed")
)

// Handler consumes one decoded message.
type Handler func(msg rosmsg.Message) ([]record.Record, error)

// Table maps topics to their handlers. Handlers of a topic run in registration order.
type Table struct {
	handlers  map[string][]Handler
	unhandled map[string]struct{}
	logger    *slog.Logger

	directory  *tf.Directory
	transforms []*convert.Transforms
	syncs      []*rendezvous.Synchronizer
}

// Stats are counters about recoverable problems seen by the table's handlers.
type Stats struct {
	TransformsRejected int
	Fusions            int
	FusionsDropped     int
}

// New returns an empty table.
func New(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		handlers:  make(map[string][]Handler),
		unhandled: make(map[string]struct{}),
		logger:    logger,
		directory: tf.NewDirectory(),
	}
}

// Register appends h to the handlers of topic.
func (t *Table) Register(topic string, h Handler) {
	t.handlers[topic] = append(t.handlers[topic], h)
}

// Build returns the table for cfg. The transform topics are registered first, then every
// sensor in configuration order.
func Build(cfg *config.Config, logger *slog.Logger) (*Table, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := New(logger)
	t.directory.Tolerance = cfg.TFTolerance

	for _, static := range []bool{false, true} {
		topic := cfg.TFTopic
		if static {
			topic = cfg.TFStaticTopic
		}
		c := &convert.Transforms{
			Directory: t.directory,
			Static:    static,
			Sensor:    convert.Sensor{Label: topic, Logger: t.logger},
		}
		t.transforms = append(t.transforms, c)
		t.Register(topic, c.Convert)
	}

	for _, sensor := range cfg.Sensors {
		if err := t.addSensor(cfg, sensor); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) addSensor(cfg *config.Config, sensor config.Sensor) error {
	s := convert.Sensor{Label: sensor.Label, Pose: sensor.Pose, Logger: t.logger}

	var c convert.Converter
	switch sensor.Type {
	case config.PointCloud:
		c = &convert.PointCloud{Sensor: s}
	case config.RotatingScan:
		c = &convert.RotatingScan{Sensor: s}
	case config.Scan2D:
		c = &convert.Scan2D{Sensor: s}
	case config.IMU:
		c = &convert.IMU{Sensor: s}
	case config.Odometry:
		c = &convert.Odometry{Sensor: s}
	case config.Image:
		t.Register(sensor.ImageTopic, (&convert.Image{Sensor: s}).Convert)
		return nil
	case config.RangeImage:
		fusion := &convert.RangeImage{Sensor: s, RangeIsDepth: sensor.RangeIsDepth}
		sync := rendezvous.New(sensor.Label, sensor.Topics(), cfg.RootFrame, t.directory, fusion.Fuse, t.logger)
		t.syncs = append(t.syncs, sync)
		for slot, topic := range sync.Topics() {
			slot := slot
			t.Register(topic, func(msg rosmsg.Message) ([]record.Record, error) {
				return sync.Fill(slot, msg)
			})
		}
		return nil
	default:
		return fmt.Errorf("%w: sensor %q has type %q", config.ErrInvalid, sensor.Label, sensor.Type)
	}

	t.Register(sensor.Topic, c.Convert)
	return nil
}

// Dispatch decodes raw once and runs every handler of its topic, concatenating their records.
// Handler errors do not stop the remaining handlers; they are joined into the returned error,
// wrapped in ErrPartial when some handler of the topic succeeded.
func (t *Table) Dispatch(raw rosmsg.RawMessage) ([]record.Record, error) {
	handlers, ok := t.handlers[raw.Topic]
	if !ok {
		if _, seen := t.unhandled[raw.Topic]; !seen {
			t.unhandled[raw.Topic] = struct{}{}
			t.logger.Warn("no handler for topic", "topic", raw.Topic, "type", raw.Type)
		}
		return nil, nil
	}

	msg, err := rosmsg.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: topic %s: %w", ErrDecode, raw.Topic, err)
	}

	var (
		records []record.Record
		errs    []error
	)
	for _, h := range handlers {
		out, err := h(msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("topic %s: %w", raw.Topic, err))
			continue
		}
		records = append(records, out...)
	}

	err = errors.Join(errs...)
	if err != nil && len(errs) < len(handlers) {
		return records, fmt.Errorf("%w: %d of %d: %w", ErrPartial, len(errs), len(handlers), err)
	}
	return records, err
}

// Handled reports whether topic has at least one handler.
func (t *Table) Handled(topic string) bool {
	_, ok := t.handlers[topic]
	return ok
}

// Topics returns the registered topics, sorted.
func (t *Table) Topics() []string {
	topics := make([]string, 0, len(t.handlers))
	for topic := range t.handlers {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Unhandled returns the topics seen so far without a handler, sorted.
func (t *Table) Unhandled() []string {
	topics := make([]string, 0, len(t.unhandled))
	for topic := range t.unhandled {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Directory returns the transform directory fed by the table's transform topics.
func (t *Table) Directory() *tf.Directory {
	return t.directory
}

func (t *Table) Stats() Stats {
	var stats Stats
	for _, c := range t.transforms {
		stats.TransformsRejected += c.Rejected
	}
	for _, sync := range t.syncs {
		fusions, dropped := sync.Stats()
		stats.Fusions += fusions
		stats.FusionsDropped += dropped
	}
	return stats
}
