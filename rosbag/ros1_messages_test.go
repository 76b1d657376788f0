package rosbag

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/lherman-cs/bag2rawlog/rosmsg"
)

const separator = "================================================================================\n"

const headerDef = `MSG: std_msgs/Header
uint32 seq
time stamp
string frame_id
`

const vector3Def = `MSG: geometry_msgs/Vector3
float64 x
float64 y
float64 z
`

const quaternionDef = `MSG: geometry_msgs/Quaternion
float64 x
float64 y
float64 z
float64 w
`

const pointDef = `MSG: geometry_msgs/Point
float64 x
float64 y
float64 z
`

const tfMessageDef = `geometry_msgs/TransformStamped[] transforms
` + separator + `MSG: geometry_msgs/TransformStamped
Header header
string child_frame_id # the frame id of the child frame
Transform transform
` + separator + headerDef + separator + `MSG: geometry_msgs/Transform
Vector3 translation
Quaternion rotation
` + separator + vector3Def + separator + quaternionDef

const pointCloud2Def = `Header header
uint32 height
uint32 width
PointField[] fields
bool    is_bigendian # Is this data bigendian?
uint32  point_step   # Length of a point in bytes
uint32  row_step     # Length of a row in bytes
uint8[] data
bool is_dense
` + separator + headerDef + separator + `MSG: sensor_msgs/PointField
uint8 INT8    = 1
uint8 UINT8   = 2
uint8 INT16   = 3
uint8 UINT16  = 4
uint8 INT32   = 5
uint8 UINT32  = 6
uint8 FLOAT32 = 7
uint8 FLOAT64 = 8
string name
uint32 offset
uint8  datatype
uint32 count
`

const imuDef = `Header header
geometry_msgs/Quaternion orientation
float64[9] orientation_covariance # Row major about x, y, z axes
geometry_msgs/Vector3 angular_velocity
float64[9] angular_velocity_covariance
geometry_msgs/Vector3 linear_acceleration
float64[9] linear_acceleration_covariance
` + separator + headerDef + separator + quaternionDef + separator + vector3Def

const odometryDef = `Header header
string child_frame_id
geometry_msgs/PoseWithCovariance pose
geometry_msgs/TwistWithCovariance twist
` + separator + headerDef + separator + `MSG: geometry_msgs/PoseWithCovariance
Pose pose
float64[36] covariance
` + separator + `MSG: geometry_msgs/Pose
Point position
Quaternion orientation
` + separator + pointDef + separator + quaternionDef + separator + `MSG: geometry_msgs/TwistWithCovariance
Twist twist
float64[36] covariance
` + separator + `MSG: geometry_msgs/Twist
Vector3  linear
Vector3  angular
` + separator + vector3Def

const cameraInfoDef = `Header header
uint32 height
uint32 width
string distortion_model
float64[] D
float64[9]  K
float64[9]  R
float64[12] P
uint32 binning_x
uint32 binning_y
RegionOfInterest roi
` + separator + headerDef + separator + `MSG: sensor_msgs/RegionOfInterest
uint32 x_offset
uint32 y_offset
uint32 height
uint32 width
bool do_rectify
`

// payload serializes fields in the ROS1 wire format.
type payload []byte

func (p payload) u8(v uint8) payload { return append(p, v) }

func (p payload) boolean(v bool) payload {
	if v {
		return p.u8(1)
	}
	return p.u8(0)
}

func (p payload) u32(v uint32) payload { return append(p, u32(v)...) }

func (p payload) f64(vs ...float64) payload {
	for _, v := range vs {
		p = append(p, u64(math.Float64bits(v))...)
	}
	return p
}

func (p payload) str(s string) payload { return append(p, stringPayload(s)...) }

func (p payload) bytes(b []byte) payload { return append(p.u32(uint32(len(b))), b...) }

func (p payload) header(seq uint32, stamp time.Time, frame string) payload {
	return append(p.u32(seq), rosTime(stamp)...).str(frame)
}

func sequence(n int, start float64) []float64 {
	vs := make([]float64, n)
	for i := range vs {
		vs[i] = start + float64(i)
	}
	return vs
}

func TestDecodeSensorMessages(t *testing.T) {
	stamp := time.Unix(1700000000, 250)
	header := rosmsg.Header{Seq: 7, Stamp: stamp, FrameID: "base_link"}

	testCases := []struct {
		Name     string
		Type     string
		Def      string
		Raw      payload
		Expected rosmsg.Message
	}{
		{
			Name: "TFMessage",
			Type: rosmsg.TypeTFMessage,
			Def:  tfMessageDef,
			Raw: payload{}.u32(2).
				header(1, stamp, "map").str("odom").f64(1, 2, 3).f64(0, 0, 0, 1).
				header(2, stamp, "odom").str("base_link").f64(-1, 0, 0.5).f64(0, 0, 1, 0),
			Expected: &rosmsg.TFMessage{Transforms: []rosmsg.TransformStamped{
				{
					Header:       rosmsg.Header{Seq: 1, Stamp: stamp, FrameID: "map"},
					ChildFrameID: "odom",
					Transform: rosmsg.Transform{
						Translation: rosmsg.Vector3{X: 1, Y: 2, Z: 3},
						Rotation:    rosmsg.Quaternion{W: 1},
					},
				},
				{
					Header:       rosmsg.Header{Seq: 2, Stamp: stamp, FrameID: "odom"},
					ChildFrameID: "base_link",
					Transform: rosmsg.Transform{
						Translation: rosmsg.Vector3{X: -1, Z: 0.5},
						Rotation:    rosmsg.Quaternion{Z: 1},
					},
				},
			}},
		},
		{
			Name: "PointCloud2",
			Type: rosmsg.TypePointCloud,
			Def:  pointCloud2Def,
			Raw: payload{}.header(7, stamp, "base_link").u32(1).u32(2).
				u32(2).
				str("x").u32(0).u8(rosmsg.PointFieldFloat32).u32(1).
				str("intensity").u32(4).u8(rosmsg.PointFieldUint8).u32(1).
				boolean(true).u32(5).u32(10).
				bytes([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}).
				boolean(true),
			Expected: &rosmsg.PointCloud2{
				Header: header,
				Height: 1,
				Width:  2,
				Fields: []rosmsg.PointField{
					{Name: "x", Offset: 0, Datatype: rosmsg.PointFieldFloat32, Count: 1},
					{Name: "intensity", Offset: 4, Datatype: rosmsg.PointFieldUint8, Count: 1},
				},
				IsBigendian: true,
				PointStep:   5,
				RowStep:     10,
				Data:        []uint8{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
				IsDense:     true,
			},
		},
		{
			Name: "Imu",
			Type: rosmsg.TypeImu,
			Def:  imuDef,
			Raw: payload{}.header(7, stamp, "base_link").
				f64(0, 0, 0.6, 0.8).f64(sequence(9, 1)...).
				f64(0.1, 0.2, 0.3).f64(sequence(9, 10)...).
				f64(0, 0, 9.81).f64(sequence(9, 20)...),
			Expected: &rosmsg.Imu{
				Header:                       header,
				Orientation:                  rosmsg.Quaternion{Z: 0.6, W: 0.8},
				OrientationCovariance:        sequence(9, 1),
				AngularVelocity:              rosmsg.Vector3{X: 0.1, Y: 0.2, Z: 0.3},
				AngularVelocityCovariance:    sequence(9, 10),
				LinearAcceleration:           rosmsg.Vector3{Z: 9.81},
				LinearAccelerationCovariance: sequence(9, 20),
			},
		},
		{
			Name: "Odometry",
			Type: rosmsg.TypeOdometry,
			Def:  odometryDef,
			Raw: payload{}.header(7, stamp, "odom").str("base_link").
				f64(1, 2, 0).f64(0, 0, 0, 1).f64(sequence(36, 0)...).
				f64(0.5, 0, 0).f64(0, 0, 0.1).f64(sequence(36, 100)...),
			Expected: &rosmsg.Odometry{
				Header:       rosmsg.Header{Seq: 7, Stamp: stamp, FrameID: "odom"},
				ChildFrameID: "base_link",
				Pose: rosmsg.PoseWithCovariance{
					Pose: rosmsg.Pose{
						Position:    rosmsg.Point{X: 1, Y: 2},
						Orientation: rosmsg.Quaternion{W: 1},
					},
					Covariance: sequence(36, 0),
				},
				Twist: rosmsg.TwistWithCovariance{
					Twist: rosmsg.Twist{
						Linear:  rosmsg.Vector3{X: 0.5},
						Angular: rosmsg.Vector3{Z: 0.1},
					},
					Covariance: sequence(36, 100),
				},
			},
		},
		{
			Name: "CameraInfo",
			Type: rosmsg.TypeCameraInfo,
			Def:  cameraInfoDef,
			Raw: payload{}.header(7, stamp, "base_link").u32(480).u32(640).str("plumb_bob").
				u32(5).f64(sequence(5, 0)...).
				f64(sequence(9, 10)...).f64(sequence(9, 20)...).f64(sequence(12, 30)...).
				u32(1).u32(2).
				u32(3).u32(4).u32(5).u32(6).boolean(true),
			Expected: &rosmsg.CameraInfo{
				Header:          header,
				Height:          480,
				Width:           640,
				DistortionModel: "plumb_bob",
				D:               sequence(5, 0),
				K:               sequence(9, 10),
				R:               sequence(9, 20),
				P:               sequence(12, 30),
				BinningX:        1,
				BinningY:        2,
				ROI:             rosmsg.RegionOfInterest{XOffset: 3, YOffset: 4, Height: 5, Width: 6, DoRectify: true},
			},
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.Name, func(t *testing.T) {
			def, err := ParseMessageDefinition(testCase.Type, []byte(testCase.Def))
			if err != nil {
				t.Fatal(err)
			}

			actual, err := rosmsg.Decode(rosmsg.RawMessage{
				Topic:      "/" + testCase.Name,
				Type:       testCase.Type,
				Encoding:   rosmsg.EncodingROS1,
				Data:       testCase.Raw,
				Definition: def,
			})
			if err != nil {
				t.Fatal(err)
			}

			if diff := cmp.Diff(testCase.Expected, actual, cmpopts.EquateEmpty()); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestDecodeRejectsOversizedArrays(t *testing.T) {
	testCases := []struct {
		Name string
		Type string
		Def  string
		Raw  []byte
	}{
		{
			Name: "Transform array",
			Type: rosmsg.TypeTFMessage,
			Def:  tfMessageDef,
			Raw:  []byte{0xff, 0xff, 0xff, 0x7f},
		},
		{
			Name: "Transform array with a few bytes left",
			Type: rosmsg.TypeTFMessage,
			Def:  tfMessageDef,
			Raw:  payload{}.u32(2).header(1, time.Unix(1, 0), "map"),
		},
		{
			Name: "PointField array",
			Type: rosmsg.TypePointCloud,
			Def:  pointCloud2Def,
			Raw:  payload{}.header(7, time.Unix(1, 0), "lidar").u32(1).u32(1).u32(0x7fffffff),
		},
		{
			Name: "String array",
			Type: "test/Labels",
			Def:  "string[] labels\n",
			Raw:  payload{}.u32(0x7fffffff).str("a"),
		},
		{
			Name: "Fixed string array",
			Type: "test/Labels",
			Def:  "string[3] labels\n",
			Raw:  payload{}.str("a"),
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.Name, func(t *testing.T) {
			def, err := ParseMessageDefinition(testCase.Type, []byte(testCase.Def))
			if err != nil {
				t.Fatal(err)
			}

			data := make(map[string]interface{})
			err = def.Unmarshall(testCase.Raw, data)
			if err == nil {
				t.Fatal("expected an oversized array to fail")
			}
			if !errors.Is(err, errArrayTooLarge) && !errors.Is(err, errInvalidFormat) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDecodeCorruptTFMessageIsAnError(t *testing.T) {
	def, err := ParseMessageDefinition(rosmsg.TypeTFMessage, []byte(tfMessageDef))
	if err != nil {
		t.Fatal(err)
	}

	_, err = rosmsg.Decode(rosmsg.RawMessage{
		Topic:      "/tf",
		Type:       rosmsg.TypeTFMessage,
		Encoding:   rosmsg.EncodingROS1,
		Data:       []byte{0xff, 0xff, 0xff, 0x7f},
		Definition: def,
	})
	if !errors.Is(err, errArrayTooLarge) {
		t.Fatalf("expected errArrayTooLarge, got %v", err)
	}
}

func TestMinWireSize(t *testing.T) {
	testCases := []struct {
		Name     string
		Def      string
		Expected int
	}{
		{Name: "Header", Def: "Header header\n" + separator + headerDef, Expected: 16},
		{Name: "Transform stamped", Def: tfMessageDef, Expected: 4},
		{Name: "Fixed covariance", Def: "float64[9] c\nuint8 flag\n", Expected: 73},
		{Name: "Constants only", Def: "uint8 A = 1\n", Expected: 0},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.Name, func(t *testing.T) {
			def, err := ParseMessageDefinition("test/Msg", []byte(testCase.Def))
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(testCase.Expected, minWireSize(def)); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}
