package rawlog

import (
	"github.com/hamba/avro/v2"

	"github.com/lherman-cs/bag2rawlog/record"
)

const pose3DSchema = `{"type": "record", "name": "pose3d", "fields": [
	{"name": "x", "type": "double"},
	{"name": "y", "type": "double"},
	{"name": "z", "type": "double"},
	{"name": "yaw", "type": "double"},
	{"name": "pitch", "type": "double"},
	{"name": "roll", "type": "double"}
]}`

const vector3Schema = `{"type": "record", "name": "vector3", "fields": [
	{"name": "x", "type": "double"},
	{"name": "y", "type": "double"},
	{"name": "z", "type": "double"}
]}`

const metaFields = `
	{"name": "label", "type": "string"},
	{"name": "timestamp", "type": "long"}`

const floats = `{"type": "array", "items": "float"}`
const doubles = `{"type": "array", "items": "double"}`

// schemas are keyed by record kind. Changing one breaks every rawlog written before.
var schemas = map[record.Kind]avro.Schema{
	record.KindPointCloud: avro.MustParse(`{"type": "record", "name": "point_cloud", "fields": [` + metaFields + `,
		{"name": "sensor_pose", "type": ` + pose3DSchema + `},
		{"name": "x", "type": ` + floats + `},
		{"name": "y", "type": ` + floats + `},
		{"name": "z", "type": ` + floats + `},
		{"name": "intensity", "type": ` + floats + `}
	]}`),

	record.KindRangeScan2D: avro.MustParse(`{"type": "record", "name": "range_scan_2d", "fields": [` + metaFields + `,
		{"name": "sensor_pose", "type": ` + pose3DSchema + `},
		{"name": "aperture", "type": "double"},
		{"name": "right_to_left", "type": "boolean"},
		{"name": "max_range", "type": "float"},
		{"name": "ranges", "type": ` + floats + `},
		{"name": "valid", "type": {"type": "array", "items": "boolean"}},
		{"name": "intensity", "type": ` + floats + `}
	]}`),

	record.KindRotatingScan: avro.MustParse(`{"type": "record", "name": "rotating_scan", "fields": [` + metaFields + `,
		{"name": "sensor_pose", "type": ` + pose3DSchema + `},
		{"name": "rows", "type": "int"},
		{"name": "columns", "type": "int"},
		{"name": "range_resolution", "type": "double"},
		{"name": "start_azimuth", "type": "double"},
		{"name": "azimuth_span", "type": "double"},
		{"name": "ranges", "type": "bytes"},
		{"name": "intensity", "type": ` + floats + `}
	]}`),

	record.KindIMU: avro.MustParse(`{"type": "record", "name": "imu", "fields": [` + metaFields + `,
		{"name": "sensor_pose", "type": ` + pose3DSchema + `},
		{"name": "orientation", "type": {"type": "record", "name": "quaternion", "fields": [
			{"name": "w", "type": "double"},
			{"name": "x", "type": "double"},
			{"name": "y", "type": "double"},
			{"name": "z", "type": "double"}
		]}},
		{"name": "orientation_covariance", "type": ` + doubles + `},
		{"name": "has_orientation", "type": "boolean"},
		{"name": "angular_velocity", "type": ` + vector3Schema + `},
		{"name": "angular_velocity_covariance", "type": ` + doubles + `},
		{"name": "has_angular_velocity", "type": "boolean"},
		{"name": "linear_acceleration", "type": "vector3"},
		{"name": "linear_acceleration_covariance", "type": ` + doubles + `},
		{"name": "has_linear_acceleration", "type": "boolean"}
	]}`),

	record.KindOdometry: avro.MustParse(`{"type": "record", "name": "odometry", "fields": [` + metaFields + `,
		{"name": "x", "type": "double"},
		{"name": "y", "type": "double"},
		{"name": "phi", "type": "double"},
		{"name": "has_velocities", "type": "boolean"},
		{"name": "vx", "type": "double"},
		{"name": "vy", "type": "double"},
		{"name": "omega", "type": "double"}
	]}`),

	record.KindImage: avro.MustParse(`{"type": "record", "name": "image", "fields": [` + metaFields + `,
		{"name": "width", "type": "long"},
		{"name": "height", "type": "long"},
		{"name": "encoding", "type": "string"},
		{"name": "step", "type": "long"},
		{"name": "data", "type": "bytes"}
	]}`),

	record.KindRangeImage: avro.MustParse(`{"type": "record", "name": "range_image", "fields": [` + metaFields + `,
		{"name": "sensor_pose", "type": ` + pose3DSchema + `},
		{"name": "rows", "type": "int"},
		{"name": "columns", "type": "int"},
		{"name": "range_units", "type": "double"},
		{"name": "ranges", "type": "bytes"},
		{"name": "range_is_depth", "type": "boolean"},
		{"name": "camera_rows", "type": "long"},
		{"name": "camera_columns", "type": "long"},
		{"name": "distortion_model", "type": "string"},
		{"name": "distortion", "type": ` + doubles + `},
		{"name": "intrinsics", "type": ` + doubles + `}
	]}`),

	record.KindRobotMovement: avro.MustParse(`{"type": "record", "name": "robot_movement", "fields": [` + metaFields + `,
		{"name": "delta", "type": ` + pose3DSchema + `}
	]}`),
}
