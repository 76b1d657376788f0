// Package rendezvous joins messages from several topics into one fused conversion.
//
// A Synchronizer buffers one partial group. Once every slot holds a message it resolves the
// vehicle pose from the transform directory, calls the fusion function and emits the motion
// since the previous fusion ahead of the fused records.
package rendezvous

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/lherman-cs/bag2rawlog/geom"
	"github.com/lherman-cs/bag2rawlog/record"
	"github.com/lherman-cs/bag2rawlog/rosmsg"
	"github.com/lherman-cs/bag2rawlog/tf"
)

var (
	errSlotRange  = errors.New("slot out of range")
	errNilMessage = errors.New("nil message")
	errNotStamped = errors.New("message has no header")
)

// FusionFunc receives one message per slot, indexed like the synchronizer's topics.
type FusionFunc func(slots []rosmsg.Message) ([]record.Record, error)

type Synchronizer struct {
	label     string
	topics    []string
	rootFrame string
	directory *tf.Directory
	fuse      FusionFunc
	logger    *slog.Logger

	slots  []rosmsg.Message
	filled int
	// first is the slot that received the first message of the pending group, or -1.
	first int

	lastPose  geom.Transform
	poseValid bool
	fusions   int
	dropped   int
}

// New returns a synchronizer waiting for one message on each of topics. The motion records it
// emits are labelled with label.
func New(label string, topics []string, rootFrame string, directory *tf.Directory, fuse FusionFunc, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		label:     label,
		topics:    append([]string(nil), topics...),
		rootFrame: rootFrame,
		directory: directory,
		fuse:      fuse,
		logger:    logger,
		slots:     make([]rosmsg.Message, len(topics)),
		first:     -1,
	}
}

// Topics returns the required topics in slot order.
func (s *Synchronizer) Topics() []string {
	return append([]string(nil), s.topics...)
}

// Fill stores msg in slot, replacing any message already pending there, and fires the fusion
// when the group is complete.
func (s *Synchronizer) Fill(slot int, msg rosmsg.Message) ([]record.Record, error) {
	if slot < 0 || slot >= len(s.slots) {
		return nil, fmt.Errorf("rendezvous %s: %w: %d of %d", s.label, errSlotRange, slot, len(s.slots))
	}
	if msg == nil {
		return nil, fmt.Errorf("rendezvous %s: %w", s.label, errNilMessage)
	}
	if _, ok := msg.(rosmsg.Stamped); !ok {
		return nil, fmt.Errorf("rendezvous %s: %w: %s", s.label, errNotStamped, msg.TypeName())
	}

	if s.slots[slot] == nil {
		s.filled++
	}
	s.slots[slot] = msg
	if s.first == -1 {
		s.first = slot
	}

	if s.filled < len(s.slots) {
		return nil, nil
	}
	return s.signal()
}

func (s *Synchronizer) signal() ([]record.Record, error) {
	defer s.clear()

	header := s.slots[s.first].(rosmsg.Stamped).GetHeader()
	current, err := s.directory.Lookup(s.rootFrame, header.FrameID, header.Stamp)
	if err != nil {
		s.dropped++
		s.logger.Debug("rendezvous dropped, pose not resolved",
			"sensor", s.label, "frame", header.FrameID, "root", s.rootFrame, "err", err)
		return nil, nil
	}

	delta := geom.Identity()
	if s.poseValid {
		delta = s.lastPose.Inverse().Compose(current)
	}
	s.lastPose, s.poseValid = current, true

	fused, err := s.fuse(append([]rosmsg.Message(nil), s.slots...))
	if err != nil {
		return nil, fmt.Errorf("rendezvous %s: fuse: %w", s.label, err)
	}
	s.fusions++

	out := make([]record.Record, 0, len(fused)+1)
	out = append(out, &record.RobotMovement{
		Meta:  record.NewMeta(s.label, header.Stamp),
		Delta: delta.Pose(),
	})
	return append(out, fused...), nil
}

func (s *Synchronizer) clear() {
	for i := range s.slots {
		s.slots[i] = nil
	}
	s.filled = 0
	s.first = -1
}

// Pending reports how many slots of the current group are filled.
func (s *Synchronizer) Pending() int {
	return s.filled
}

// Stats returns the number of fusions fired and of complete groups dropped for lack of a pose.
func (s *Synchronizer) Stats() (fusions, dropped int) {
	return s.fusions, s.dropped
}
