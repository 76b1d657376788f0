package rosbag

import (
	"time"
)

// extractTime decodes a ROS time, a uint32 seconds and uint32 nanoseconds pair.
func extractTime(raw []byte) time.Time {
	sec := endian.Uint32(raw)
	nsec := endian.Uint32(raw[4:])
	return time.Unix(int64(sec), int64(nsec))
}

// extractDuration decodes a ROS duration, an int32 seconds and int32 nanoseconds pair.
func extractDuration(raw []byte) time.Duration {
	sec := int32(endian.Uint32(raw))
	nsec := int32(endian.Uint32(raw[4:]))
	return time.Duration(sec)*time.Second + time.Duration(nsec)
}
