// Package convert turns decoded ROS messages into normalized records, one converter per sensor
// modality.
//
// A converter returns no records and no error when the message lacks the fields it needs, and
// an error only when the payload itself is malformed.
package convert

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/lherman-cs/bag2rawlog/geom"
	"github.com/lherman-cs/bag2rawlog/record"
	"github.com/lherman-cs/bag2rawlog/rosmsg"
)

var (
	ErrUnexpectedMessage = errors.New("unexpected message type")
	ErrMalformed         = errors.New("malformed message")
)

// Converter is the common shape of the single-topic converters.
type Converter interface {
	Convert(msg rosmsg.Message) ([]record.Record, error)
}

// Sensor is what a converter knows about the sensor it serves.
type Sensor struct {
	Label string
	// Pose is the sensor pose on the vehicle, stamped on scan, cloud and IMU records.
	Pose   geom.Pose3D
	Logger *slog.Logger
}

func (s Sensor) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func unexpected(msg rosmsg.Message, want string) error {
	if msg == nil {
		return fmt.Errorf("%w: got nil, want %s", ErrUnexpectedMessage, want)
	}
	return fmt.Errorf("%w: got %s, want %s", ErrUnexpectedMessage, msg.TypeName(), want)
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// measured follows the ROS convention that a covariance whose first element is -1 marks the
// quantity as not provided.
func measured(covariance []float64) bool {
	return len(covariance) == 0 || covariance[0] != -1
}

func one(rec record.Record) []record.Record {
	return []record.Record{rec}
}
