package rosmsg

import (
	"time"
)

// Message is one of the decoded message variants below.
type Message interface {
	TypeName() string
}

// Stamped is a Message with a std_msgs/Header.
type Stamped interface {
	Message
	GetHeader() Header
}

const (
	TypeTFMessage  = "tf2_msgs/TFMessage"
	TypePointCloud = "sensor_msgs/PointCloud2"
	TypeLaserScan  = "sensor_msgs/LaserScan"
	TypeImu        = "sensor_msgs/Imu"
	TypeOdometry   = "nav_msgs/Odometry"
	TypeImage      = "sensor_msgs/Image"
	TypeCameraInfo = "sensor_msgs/CameraInfo"
)

type Header struct {
	// Seq only exists in ROS1.
	Seq     uint32    `rosbag:"seq"`
	Stamp   time.Time `rosbag:"stamp"`
	FrameID string    `rosbag:"frame_id"`
}

type Vector3 struct {
	X float64 `rosbag:"x"`
	Y float64 `rosbag:"y"`
	Z float64 `rosbag:"z"`
}

type Point struct {
	X float64 `rosbag:"x"`
	Y float64 `rosbag:"y"`
	Z float64 `rosbag:"z"`
}

type Quaternion struct {
	X float64 `rosbag:"x"`
	Y float64 `rosbag:"y"`
	Z float64 `rosbag:"z"`
	W float64 `rosbag:"w"`
}

type Pose struct {
	Position    Point      `rosbag:"position"`
	Orientation Quaternion `rosbag:"orientation"`
}

type PoseWithCovariance struct {
	Pose       Pose      `rosbag:"pose"`
	Covariance []float64 `rosbag:"covariance"`
}

type Twist struct {
	Linear  Vector3 `rosbag:"linear"`
	Angular Vector3 `rosbag:"angular"`
}

type TwistWithCovariance struct {
	Twist      Twist     `rosbag:"twist"`
	Covariance []float64 `rosbag:"covariance"`
}

type Transform struct {
	Translation Vector3    `rosbag:"translation"`
	Rotation    Quaternion `rosbag:"rotation"`
}

type TransformStamped struct {
	Header       Header    `rosbag:"header"`
	ChildFrameID string    `rosbag:"child_frame_id"`
	Transform    Transform `rosbag:"transform"`
}

// TFMessage is published on /tf and /tf_static.
type TFMessage struct {
	Transforms []TransformStamped `rosbag:"transforms"`
}

func (*TFMessage) TypeName() string { return TypeTFMessage }

// PointField datatypes.
const (
	PointFieldInt8    uint8 = 1
	PointFieldUint8   uint8 = 2
	PointFieldInt16   uint8 = 3
	PointFieldUint16  uint8 = 4
	PointFieldInt32   uint8 = 5
	PointFieldUint32  uint8 = 6
	PointFieldFloat32 uint8 = 7
	PointFieldFloat64 uint8 = 8
)

type PointField struct {
	Name     string `rosbag:"name"`
	Offset   uint32 `rosbag:"offset"`
	Datatype uint8  `rosbag:"datatype"`
	Count    uint32 `rosbag:"count"`
}

type PointCloud2 struct {
	Header      Header       `rosbag:"header"`
	Height      uint32       `rosbag:"height"`
	Width       uint32       `rosbag:"width"`
	Fields      []PointField `rosbag:"fields"`
	IsBigendian bool         `rosbag:"is_bigendian"`
	PointStep   uint32       `rosbag:"point_step"`
	RowStep     uint32       `rosbag:"row_step"`
	Data        []uint8      `rosbag:"data"`
	IsDense     bool         `rosbag:"is_dense"`
}

func (*PointCloud2) TypeName() string    { return TypePointCloud }
func (m *PointCloud2) GetHeader() Header { return m.Header }

// Field returns the field with the given name.
func (m *PointCloud2) Field(name string) (PointField, bool) {
	for _, field := range m.Fields {
		if field.Name == name {
			return field, true
		}
	}
	return PointField{}, false
}

type LaserScan struct {
	Header         Header    `rosbag:"header"`
	AngleMin       float32   `rosbag:"angle_min"`
	AngleMax       float32   `rosbag:"angle_max"`
	AngleIncrement float32   `rosbag:"angle_increment"`
	TimeIncrement  float32   `rosbag:"time_increment"`
	ScanTime       float32   `rosbag:"scan_time"`
	RangeMin       float32   `rosbag:"range_min"`
	RangeMax       float32   `rosbag:"range_max"`
	Ranges         []float32 `rosbag:"ranges"`
	Intensities    []float32 `rosbag:"intensities"`
}

func (*LaserScan) TypeName() string    { return TypeLaserScan }
func (m *LaserScan) GetHeader() Header { return m.Header }

type Imu struct {
	Header                       Header     `rosbag:"header"`
	Orientation                  Quaternion `rosbag:"orientation"`
	OrientationCovariance        []float64  `rosbag:"orientation_covariance"`
	AngularVelocity              Vector3    `rosbag:"angular_velocity"`
	AngularVelocityCovariance    []float64  `rosbag:"angular_velocity_covariance"`
	LinearAcceleration           Vector3    `rosbag:"linear_acceleration"`
	LinearAccelerationCovariance []float64  `rosbag:"linear_acceleration_covariance"`
}

func (*Imu) TypeName() string    { return TypeImu }
func (m *Imu) GetHeader() Header { return m.Header }

type Odometry struct {
	Header       Header              `rosbag:"header"`
	ChildFrameID string              `rosbag:"child_frame_id"`
	Pose         PoseWithCovariance  `rosbag:"pose"`
	Twist        TwistWithCovariance `rosbag:"twist"`
}

func (*Odometry) TypeName() string    { return TypeOdometry }
func (m *Odometry) GetHeader() Header { return m.Header }

type Image struct {
	Header      Header  `rosbag:"header"`
	Height      uint32  `rosbag:"height"`
	Width       uint32  `rosbag:"width"`
	Encoding    string  `rosbag:"encoding"`
	IsBigendian uint8   `rosbag:"is_bigendian"`
	Step        uint32  `rosbag:"step"`
	Data        []uint8 `rosbag:"data"`
}

func (*Image) TypeName() string    { return TypeImage }
func (m *Image) GetHeader() Header { return m.Header }

type RegionOfInterest struct {
	XOffset   uint32 `rosbag:"x_offset"`
	YOffset   uint32 `rosbag:"y_offset"`
	Height    uint32 `rosbag:"height"`
	Width     uint32 `rosbag:"width"`
	DoRectify bool   `rosbag:"do_rectify"`
}

type CameraInfo struct {
	Header          Header           `rosbag:"header"`
	Height          uint32           `rosbag:"height"`
	Width           uint32           `rosbag:"width"`
	DistortionModel string           `rosbag:"distortion_model"`
	D               []float64        `rosbag:"D"`
	K               []float64        `rosbag:"K"`
	R               []float64        `rosbag:"R"`
	P               []float64        `rosbag:"P"`
	BinningX        uint32           `rosbag:"binning_x"`
	BinningY        uint32           `rosbag:"binning_y"`
	ROI             RegionOfInterest `rosbag:"roi"`
}

func (*CameraInfo) TypeName() string    { return TypeCameraInfo }
func (m *CameraInfo) GetHeader() Header { return m.Header }
