package rawlog

import (
	"encoding/binary"
	"fmt"

	"github.com/lherman-cs/bag2rawlog/geom"
	"github.com/lherman-cs/bag2rawlog/record"
)

type pose3D struct {
	X     float64 `avro:"x"`
	Y     float64 `avro:"y"`
	Z     float64 `avro:"z"`
	Yaw   float64 `avro:"yaw"`
	Pitch float64 `avro:"pitch"`
	Roll  float64 `avro:"roll"`
}

func toPose(p geom.Pose3D) pose3D {
	return pose3D{X: p.X, Y: p.Y, Z: p.Z, Yaw: p.Yaw, Pitch: p.Pitch, Roll: p.Roll}
}

func (p pose3D) pose() geom.Pose3D {
	return geom.Pose3D{X: p.X, Y: p.Y, Z: p.Z, Yaw: p.Yaw, Pitch: p.Pitch, Roll: p.Roll}
}

type vector3 struct {
	X float64 `avro:"x"`
	Y float64 `avro:"y"`
	Z float64 `avro:"z"`
}

type quaternion struct {
	W float64 `avro:"w"`
	X float64 `avro:"x"`
	Y float64 `avro:"y"`
	Z float64 `avro:"z"`
}

type pointCloud struct {
	Label      string    `avro:"label"`
	Timestamp  int64     `avro:"timestamp"`
	SensorPose pose3D    `avro:"sensor_pose"`
	X          []float32 `avro:"x"`
	Y          []float32 `avro:"y"`
	Z          []float32 `avro:"z"`
	Intensity  []float32 `avro:"intensity"`
}

type rangeScan2D struct {
	Label       string    `avro:"label"`
	Timestamp   int64     `avro:"timestamp"`
	SensorPose  pose3D    `avro:"sensor_pose"`
	Aperture    float64   `avro:"aperture"`
	RightToLeft bool      `avro:"right_to_left"`
	MaxRange    float32   `avro:"max_range"`
	Ranges      []float32 `avro:"ranges"`
	Valid       []bool    `avro:"valid"`
	Intensity   []float32 `avro:"intensity"`
}

type rotatingScan struct {
	Label           string    `avro:"label"`
	Timestamp       int64     `avro:"timestamp"`
	SensorPose      pose3D    `avro:"sensor_pose"`
	Rows            int32     `avro:"rows"`
	Columns         int32     `avro:"columns"`
	RangeResolution float64   `avro:"range_resolution"`
	StartAzimuth    float64   `avro:"start_azimuth"`
	AzimuthSpan     float64   `avro:"azimuth_span"`
	Ranges          []byte    `avro:"ranges"`
	Intensity       []float32 `avro:"intensity"`
}

type imu struct {
	Label      string `avro:"label"`
	Timestamp  int64  `avro:"timestamp"`
	SensorPose pose3D `avro:"sensor_pose"`

	Orientation           quaternion `avro:"orientation"`
	OrientationCovariance []float64  `avro:"orientation_covariance"`
	HasOrientation        bool       `avro:"has_orientation"`

	AngularVelocity           vector3   `avro:"angular_velocity"`
	AngularVelocityCovariance []float64 `avro:"angular_velocity_covariance"`
	HasAngularVelocity        bool      `avro:"has_angular_velocity"`

	LinearAcceleration           vector3   `avro:"linear_acceleration"`
	LinearAccelerationCovariance []float64 `avro:"linear_acceleration_covariance"`
	HasLinearAcceleration        bool      `avro:"has_linear_acceleration"`
}

type odometry struct {
	Label         string  `avro:"label"`
	Timestamp     int64   `avro:"timestamp"`
	X             float64 `avro:"x"`
	Y             float64 `avro:"y"`
	Phi           float64 `avro:"phi"`
	HasVelocities bool    `avro:"has_velocities"`
	VX            float64 `avro:"vx"`
	VY            float64 `avro:"vy"`
	Omega         float64 `avro:"omega"`
}

type image struct {
	Label     string `avro:"label"`
	Timestamp int64  `avro:"timestamp"`
	Width     int64  `avro:"width"`
	Height    int64  `avro:"height"`
	Encoding  string `avro:"encoding"`
	Step      int64  `avro:"step"`
	Data      []byte `avro:"data"`
}

type rangeImage struct {
	Label           string    `avro:"label"`
	Timestamp       int64     `avro:"timestamp"`
	SensorPose      pose3D    `avro:"sensor_pose"`
	Rows            int32     `avro:"rows"`
	Columns         int32     `avro:"columns"`
	RangeUnits      float64   `avro:"range_units"`
	Ranges          []byte    `avro:"ranges"`
	RangeIsDepth    bool      `avro:"range_is_depth"`
	CameraRows      int64     `avro:"camera_rows"`
	CameraColumns   int64     `avro:"camera_columns"`
	DistortionModel string    `avro:"distortion_model"`
	Distortion      []float64 `avro:"distortion"`
	Intrinsics      []float64 `avro:"intrinsics"`
}

type robotMovement struct {
	Label     string `avro:"label"`
	Timestamp int64  `avro:"timestamp"`
	Delta     pose3D `avro:"delta"`
}

func packUint16(values []uint16) []byte {
	out := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[2*i:], v)
	}
	return out
}

func unpackUint16(raw []byte) ([]uint16, error) {
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("%w: odd range buffer of %d bytes", errCorrupt, len(raw))
	}
	out := make([]uint16, len(raw)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(raw[2*i:])
	}
	return out, nil
}

// toWire maps a record to the value marshalled with its kind's schema.
func toWire(rec record.Record) (interface{}, error) {
	switch r := rec.(type) {
	case *record.PointCloud:
		return &pointCloud{
			Label: r.Label, Timestamp: r.Timestamp, SensorPose: toPose(r.SensorPose),
			X: r.X, Y: r.Y, Z: r.Z, Intensity: r.Intensity,
		}, nil
	case *record.RangeScan2D:
		return &rangeScan2D{
			Label: r.Label, Timestamp: r.Timestamp, SensorPose: toPose(r.SensorPose),
			Aperture: r.Aperture, RightToLeft: r.RightToLeft, MaxRange: r.MaxRange,
			Ranges: r.Ranges, Valid: r.Valid, Intensity: r.Intensity,
		}, nil
	case *record.RotatingScan:
		return &rotatingScan{
			Label: r.Label, Timestamp: r.Timestamp, SensorPose: toPose(r.SensorPose),
			Rows: int32(r.Rows), Columns: int32(r.Columns), RangeResolution: r.RangeResolution,
			StartAzimuth: r.StartAzimuth, AzimuthSpan: r.AzimuthSpan,
			Ranges: packUint16(r.Ranges), Intensity: r.Intensity,
		}, nil
	case *record.IMU:
		q := r.Orientation
		return &imu{
			Label: r.Label, Timestamp: r.Timestamp, SensorPose: toPose(r.SensorPose),

			Orientation:           quaternion{W: q.W, X: q.X, Y: q.Y, Z: q.Z},
			OrientationCovariance: r.OrientationCovariance,
			HasOrientation:        r.HasOrientation,

			AngularVelocity:           vector3(r.AngularVelocity),
			AngularVelocityCovariance: r.AngularVelocityCovariance,
			HasAngularVelocity:        r.HasAngularVelocity,

			LinearAcceleration:           vector3(r.LinearAcceleration),
			LinearAccelerationCovariance: r.LinearAccelerationCovariance,
			HasLinearAcceleration:        r.HasLinearAcceleration,
		}, nil
	case *record.Odometry:
		return &odometry{
			Label: r.Label, Timestamp: r.Timestamp,
			X: r.Pose.X, Y: r.Pose.Y, Phi: r.Pose.Phi,
			HasVelocities: r.HasVelocities,
			VX:            r.Velocity.VX, VY: r.Velocity.VY, Omega: r.Velocity.Omega,
		}, nil
	case *record.Image:
		return &image{
			Label: r.Label, Timestamp: r.Timestamp,
			Width: int64(r.Width), Height: int64(r.Height), Encoding: r.Encoding, Step: int64(r.Step),
			Data: r.Data,
		}, nil
	case *record.RangeImage:
		return &rangeImage{
			Label: r.Label, Timestamp: r.Timestamp, SensorPose: toPose(r.SensorPose),
			Rows: int32(r.Rows), Columns: int32(r.Columns), RangeUnits: r.RangeUnits,
			Ranges: packUint16(r.Ranges), RangeIsDepth: r.RangeIsDepth,
			CameraRows: int64(r.Camera.Rows), CameraColumns: int64(r.Camera.Columns),
			DistortionModel: r.Camera.DistortionModel,
			Distortion:      r.Camera.Distortion, Intrinsics: r.Camera.Intrinsics,
		}, nil
	case *record.RobotMovement:
		return &robotMovement{Label: r.Label, Timestamp: r.Timestamp, Delta: toPose(r.Delta)}, nil
	default:
		return nil, fmt.Errorf("%w: %T", errUnknownKind, rec)
	}
}

// newWire returns an empty wire value for kind.
func newWire(kind record.Kind) (interface{}, error) {
	switch kind {
	case record.KindPointCloud:
		return &pointCloud{}, nil
	case record.KindRangeScan2D:
		return &rangeScan2D{}, nil
	case record.KindRotatingScan:
		return &rotatingScan{}, nil
	case record.KindIMU:
		return &imu{}, nil
	case record.KindOdometry:
		return &odometry{}, nil
	case record.KindImage:
		return &image{}, nil
	case record.KindRangeImage:
		return &rangeImage{}, nil
	case record.KindRobotMovement:
		return &robotMovement{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownKind, kind)
	}
}

func fromWire(v interface{}) (record.Record, error) {
	switch w := v.(type) {
	case *pointCloud:
		return &record.PointCloud{
			Meta: record.Meta{Label: w.Label, Timestamp: w.Timestamp}, SensorPose: w.SensorPose.pose(),
			X: w.X, Y: w.Y, Z: w.Z, Intensity: w.Intensity,
		}, nil
	case *rangeScan2D:
		return &record.RangeScan2D{
			Meta: record.Meta{Label: w.Label, Timestamp: w.Timestamp}, SensorPose: w.SensorPose.pose(),
			Aperture: w.Aperture, RightToLeft: w.RightToLeft, MaxRange: w.MaxRange,
			Ranges: w.Ranges, Valid: w.Valid, Intensity: w.Intensity,
		}, nil
	case *rotatingScan:
		ranges, err := unpackUint16(w.Ranges)
		if err != nil {
			return nil, err
		}
		return &record.RotatingScan{
			Meta: record.Meta{Label: w.Label, Timestamp: w.Timestamp}, SensorPose: w.SensorPose.pose(),
			Rows: int(w.Rows), Columns: int(w.Columns), RangeResolution: w.RangeResolution,
			StartAzimuth: w.StartAzimuth, AzimuthSpan: w.AzimuthSpan,
			Ranges: ranges, Intensity: w.Intensity,
		}, nil
	case *imu:
		q := w.Orientation
		return &record.IMU{
			Meta: record.Meta{Label: w.Label, Timestamp: w.Timestamp}, SensorPose: w.SensorPose.pose(),

			Orientation:           record.Quaternion{W: q.W, X: q.X, Y: q.Y, Z: q.Z},
			OrientationCovariance: w.OrientationCovariance,
			HasOrientation:        w.HasOrientation,

			AngularVelocity:           record.Vector3(w.AngularVelocity),
			AngularVelocityCovariance: w.AngularVelocityCovariance,
			HasAngularVelocity:        w.HasAngularVelocity,

			LinearAcceleration:           record.Vector3(w.LinearAcceleration),
			LinearAccelerationCovariance: w.LinearAccelerationCovariance,
			HasLinearAcceleration:        w.HasLinearAcceleration,
		}, nil
	case *odometry:
		return &record.Odometry{
			Meta:          record.Meta{Label: w.Label, Timestamp: w.Timestamp},
			Pose:          geom.Pose2D{X: w.X, Y: w.Y, Phi: w.Phi},
			HasVelocities: w.HasVelocities,
			Velocity:      record.Velocity2D{VX: w.VX, VY: w.VY, Omega: w.Omega},
		}, nil
	case *image:
		return &record.Image{
			Meta:  record.Meta{Label: w.Label, Timestamp: w.Timestamp},
			Width: uint32(w.Width), Height: uint32(w.Height), Encoding: w.Encoding, Step: uint32(w.Step),
			Data: w.Data,
		}, nil
	case *rangeImage:
		ranges, err := unpackUint16(w.Ranges)
		if err != nil {
			return nil, err
		}
		return &record.RangeImage{
			Meta: record.Meta{Label: w.Label, Timestamp: w.Timestamp}, SensorPose: w.SensorPose.pose(),
			Rows: int(w.Rows), Columns: int(w.Columns), RangeUnits: w.RangeUnits,
			Ranges: ranges, RangeIsDepth: w.RangeIsDepth,
			Camera: record.CameraParams{
				Rows: uint32(w.CameraRows), Columns: uint32(w.CameraColumns),
				DistortionModel: w.DistortionModel,
				Distortion:      w.Distortion, Intrinsics: w.Intrinsics,
			},
		}, nil
	case *robotMovement:
		return &record.RobotMovement{
			Meta:  record.Meta{Label: w.Label, Timestamp: w.Timestamp},
			Delta: w.Delta.pose(),
		}, nil
	default:
		return nil, fmt.Errorf("%w: %T", errUnknownKind, v)
	}
}
