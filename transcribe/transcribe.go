// Package transcribe drives a whole run: it streams every message of a source through the
// dispatch table and appends the resulting records to a sink in the order they are produced.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lherman-cs/bag2rawlog/dispatch"
	"github.com/lherman-cs/bag2rawlog/metrics"
	"github.com/lherman-cs/bag2rawlog/record"
	"github.com/lherman-cs/bag2rawlog/rosmsg"
)

// DefaultProgressEvery is how many messages pass between progress reports.
const DefaultProgressEvery = 100

// Fatal errors. Anything else returned by a handler only skips the message.
var (
	ErrSourceOpen = errors.New("failed to open source")
	ErrSourceRead = errors.New("failed to read source")
	ErrSinkOpen   = errors.New("failed to open sink")
	ErrSinkWrite  = errors.New("failed to write sink")
)

// Source delivers raw messages in bag order.
type Source interface {
	// Count is the total number of messages, used for progress.
	Count() int
	HasNext() bool
	ReadNext() (rosmsg.RawMessage, error)
}

// Sink persists records in the order they are written.
type Sink interface {
	Write(rec record.Record) error
	Close() error
}

type State int

const (
	StateIdle State = iota
	StateStreaming
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ProgressFunc receives the number of messages handled so far and the source total.
type ProgressFunc func(current, total int)

type Summary struct {
	RunID           string
	MessagesRead    int
	RecordsWritten  int
	// MessagesSkipped counts messages that produced nothing because decoding or every
	// handler of their topic failed.
	MessagesSkipped int
	// HandlerErrors counts messages that were transcribed even though one of their
	// handlers failed.
	HandlerErrors   int
	TopicsSeen      []string
	UnhandledTopics []string
	Duration        time.Duration
}

// Driver runs one transcription. A Driver is single use.
type Driver struct {
	Source Source
	// OpenSink is called once, before the first message is read.
	OpenSink func() (Sink, error)
	Table    *dispatch.Table

	RunID         uuid.UUID
	Metrics       *metrics.Metrics
	Progress      ProgressFunc
	ProgressEvery int
	Logger        *slog.Logger

	state State
}

// State returns where the driver is in its run.
func (d *Driver) State() State {
	return d.state
}

func (d *Driver) setState(s State) {
	d.state = s
	d.Metrics.State.Set(float64(s))
}

func (d *Driver) init() {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.RunID == uuid.Nil {
		d.RunID = uuid.New()
	}
	if d.ProgressEvery <= 0 {
		d.ProgressEvery = DefaultProgressEvery
	}
}

// Run streams the whole source. Cancellation is checked between messages; records produced
// before it are still flushed to the sink.
func (d *Driver) Run(ctx context.Context) (summary Summary, err error) {
	if d.state != StateIdle {
		return Summary{}, fmt.Errorf("driver already %s", d.state)
	}
	d.init()

	start := time.Now()
	summary.RunID = d.RunID.String()
	logger := d.Logger.With("run", summary.RunID)
	seen := make(map[string]struct{})

	defer func() {
		summary.Duration = time.Since(start)
		summary.TopicsSeen = sortedKeys(seen)
		summary.UnhandledTopics = d.Table.Unhandled()

		stats := d.Table.Stats()
		d.Metrics.UnhandledTopics.Set(float64(len(summary.UnhandledTopics)))
		d.Metrics.TransformsRejected.Set(float64(stats.TransformsRejected))
		d.Metrics.Fusions.Set(float64(stats.Fusions))
		d.Metrics.FusionsDropped.Set(float64(stats.FusionsDropped))
		d.Metrics.Duration.Set(summary.Duration.Seconds())

		if err != nil {
			d.setState(StateFailed)
			return
		}
		d.setState(StateDone)
	}()

	sink, err := d.OpenSink()
	if err != nil {
		return summary, fmt.Errorf("%w: %w", ErrSinkOpen, err)
	}
	defer func() {
		if closeErr := sink.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("%w: close: %w", ErrSinkWrite, closeErr)
		}
	}()

	d.setState(StateStreaming)
	total := d.Source.Count()
	logger.Info("transcription started", "messages", total)

	for d.Source.HasNext() {
		if err := ctx.Err(); err != nil {
			logger.Warn("transcription cancelled", "read", summary.MessagesRead)
			return summary, err
		}

		raw, err := d.Source.ReadNext()
		if err != nil {
			return summary, fmt.Errorf("%w: after %d messages: %w", ErrSourceRead, summary.MessagesRead, err)
		}
		summary.MessagesRead++
		seen[raw.Topic] = struct{}{}
		d.Metrics.MessageRead(raw.Topic)

		records, err := d.Table.Dispatch(raw)
		switch {
		case errors.Is(err, dispatch.ErrPartial):
			summary.HandlerErrors++
			d.Metrics.HandlerFailed(raw.Topic)
			logger.Warn("handler failed", "topic", raw.Topic, "type", raw.Type,
				"time", raw.LogTime, "records", len(records), "err", err)
		case err != nil:
			summary.MessagesSkipped++
			reason := metrics.ReasonHandler
			if errors.Is(err, dispatch.ErrDecode) {
				reason = metrics.ReasonDecode
			}
			d.Metrics.MessageSkipped(raw.Topic, reason)
			logger.Warn("message skipped", "topic", raw.Topic, "type", raw.Type,
				"time", raw.LogTime, "reason", reason, "err", err)
		}

		for _, rec := range records {
			if err := sink.Write(rec); err != nil {
				return summary, fmt.Errorf("%w: %s record from %s: %w", ErrSinkWrite, rec.Kind(), raw.Topic, err)
			}
			summary.RecordsWritten++
			d.Metrics.RecordWritten(rec.Kind())
		}

		if d.Progress != nil && summary.MessagesRead%d.ProgressEvery == 0 {
			d.Progress(summary.MessagesRead, total)
		}
	}

	if d.Progress != nil && summary.MessagesRead%d.ProgressEvery != 0 {
		d.Progress(summary.MessagesRead, total)
	}

	logger.Info("transcription finished",
		"read", summary.MessagesRead,
		"written", summary.RecordsWritten,
		"skipped", summary.MessagesSkipped,
		"handler_errors", summary.HandlerErrors)
	return summary, nil
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
