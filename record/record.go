// Package record defines the normalized sensor records produced by a transcription run.
//
// Records are values: once a converter returns one, nothing mutates it again and ownership
// passes to the sink.
package record

import (
	"fmt"
	"time"

	"github.com/lherman-cs/bag2rawlog/geom"
)

// Kind identifies the record variant. The numeric values are persisted by the rawlog format
// and must not change.
type Kind uint8

const (
	KindPointCloud Kind = iota + 1
	KindRangeScan2D
	KindRotatingScan
	KindIMU
	KindOdometry
	KindImage
	KindRangeImage
	KindRobotMovement
)

var kindNames = map[Kind]string{
	KindPointCloud:    "point-cloud",
	KindRangeScan2D:   "2d-scan",
	KindRotatingScan:  "rotating-scan",
	KindIMU:           "imu",
	KindOdometry:      "odometry",
	KindImage:         "image",
	KindRangeImage:    "range-image",
	KindRobotMovement: "robot-movement",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Record is implemented by the record variants of this package only.
type Record interface {
	Kind() Kind
	SensorLabel() string
	Time() time.Time
	record()
}

// Meta is embedded in every record.
type Meta struct {
	Label string
	// Timestamp is the capture time in nanoseconds since the Unix epoch.
	Timestamp int64
}

// NewMeta stamps a record with the capture time t.
func NewMeta(label string, t time.Time) Meta {
	return Meta{Label: label, Timestamp: t.UnixNano()}
}

func (m Meta) SensorLabel() string { return m.Label }
func (m Meta) Time() time.Time     { return time.Unix(0, m.Timestamp) }
func (Meta) record()               {}

type Vector3 struct {
	X, Y, Z float64
}

type Quaternion struct {
	W, X, Y, Z float64
}

// PointCloud is an unorganized set of points in the sensor frame. Intensity is either empty or
// has one value per point.
type PointCloud struct {
	Meta
	SensorPose geom.Pose3D
	X, Y, Z    []float32
	Intensity  []float32
}

func (*PointCloud) Kind() Kind { return KindPointCloud }

// Len returns the number of points.
func (r *PointCloud) Len() int { return len(r.X) }

// RangeScan2D is a planar laser scan. Ranges, Valid and, when present, Intensity are indexed by
// ray.
type RangeScan2D struct {
	Meta
	SensorPose geom.Pose3D
	// Aperture is the field of view in radians.
	Aperture float64
	// RightToLeft is true when rays are ordered counter-clockwise.
	RightToLeft bool
	MaxRange    float32
	Ranges      []float32
	Valid       []bool
	Intensity   []float32
}

func (*RangeScan2D) Kind() Kind { return KindRangeScan2D }

// RotatingScan is a multi-beam lidar sweep organized as a Rows x Columns range image: one row
// per ring, one column per azimuth bin. Cells are row-major; a zero range marks an empty cell.
type RotatingScan struct {
	Meta
	SensorPose geom.Pose3D
	Rows       int
	Columns    int
	// RangeResolution is the metres per unit of Ranges.
	RangeResolution float64
	// StartAzimuth is the azimuth of column 0; AzimuthSpan covers all columns.
	StartAzimuth float64
	AzimuthSpan  float64
	Ranges       []uint16
	// Intensity is empty or has Rows*Columns values.
	Intensity []float32
}

func (*RotatingScan) Kind() Kind { return KindRotatingScan }

// IMU holds one inertial sample. The Has flags mark which parts the source actually measured.
type IMU struct {
	Meta
	SensorPose geom.Pose3D

	Orientation           Quaternion
	OrientationCovariance []float64
	HasOrientation        bool

	AngularVelocity           Vector3
	AngularVelocityCovariance []float64
	HasAngularVelocity        bool

	LinearAcceleration           Vector3
	LinearAccelerationCovariance []float64
	HasLinearAcceleration        bool
}

func (*IMU) Kind() Kind { return KindIMU }

// Velocity2D is a body-frame planar velocity.
type Velocity2D struct {
	VX, VY, Omega float64
}

type Odometry struct {
	Meta
	Pose          geom.Pose2D
	HasVelocities bool
	Velocity      Velocity2D
}

func (*Odometry) Kind() Kind { return KindOdometry }

type Image struct {
	Meta
	Width    uint32
	Height   uint32
	Encoding string
	Step     uint32
	Data     []byte
}

func (*Image) Kind() Kind { return KindImage }

// CameraParams is the calibration copied from a camera info message.
type CameraParams struct {
	Rows, Columns   uint32
	DistortionModel string
	Distortion      []float64
	// Intrinsics is the row-major 3x3 camera matrix.
	Intrinsics []float64
}

// RangeImage is a depth camera frame. Ranges are row-major in units of RangeUnits metres; zero
// marks an invalid pixel.
type RangeImage struct {
	Meta
	SensorPose   geom.Pose3D
	Rows         int
	Columns      int
	RangeUnits   float64
	Ranges       []uint16
	RangeIsDepth bool
	Camera       CameraParams
}

func (*RangeImage) Kind() Kind { return KindRangeImage }

// At returns the range of pixel (row, col) in metres.
func (r *RangeImage) At(row, col int) float64 {
	return float64(r.Ranges[row*r.Columns+col]) * r.RangeUnits
}

// RobotMovement is the vehicle motion since the previous fused observation.
type RobotMovement struct {
	Meta
	Delta geom.Pose3D
}

func (*RobotMovement) Kind() Kind { return KindRobotMovement }
