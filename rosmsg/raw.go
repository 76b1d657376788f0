// Package rosmsg holds the native ROS messages the transcriber understands and decodes raw
// bag payloads into them.
package rosmsg

import (
	"strings"
	"time"
)

// Encoding identifies the serialization of a RawMessage payload.
type Encoding string

const (
	// EncodingROS1 is the ROS1 wire format, decoded through the connection's message
	// definition.
	EncodingROS1 Encoding = "ros1"
	// EncodingCDR is the OMG CDR format used by rosbag2.
	EncodingCDR Encoding = "cdr"
)

// Unmarshaller decodes a ROS1 payload into a map or a tagged struct.
type Unmarshaller interface {
	Unmarshall(raw []byte, v interface{}) error
}

// RawMessage is one message as delivered by a bag reader.
type RawMessage struct {
	Topic    string
	Type     string
	Encoding Encoding
	LogTime  time.Time
	Data     []byte
	// Definition is only set for EncodingROS1.
	Definition Unmarshaller
}

// TopicInfo describes a topic found in a bag.
type TopicInfo struct {
	Name  string
	Type  string
	Count int
}

// NormalizeType turns the rosbag2 "pkg/msg/Name" form into the ROS1 "pkg/Name" form.
func NormalizeType(msgType string) string {
	parts := strings.Split(msgType, "/")
	if len(parts) == 3 && parts[1] == "msg" {
		return parts[0] + "/" + parts[2]
	}
	return msgType
}
