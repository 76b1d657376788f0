package rosmsg

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type byteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

type cdrWriter struct {
	buf   []byte
	order byteOrder
}

func newCDRWriter(order byteOrder) *cdrWriter {
	kind := byte(1)
	if order == binary.BigEndian {
		kind = 0
	}
	return &cdrWriter{buf: []byte{0, kind, 0, 0}, order: order}
}

func (w *cdrWriter) align(n int) {
	for (len(w.buf)-cdrHeaderLen)%n != 0 {
		w.buf = append(w.buf, 0)
	}
}

func (w *cdrWriter) uint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *cdrWriter) uint32(v uint32) {
	w.align(4)
	w.buf = w.order.AppendUint32(w.buf, v)
}

func (w *cdrWriter) float32(v float32) {
	w.uint32(math.Float32bits(v))
}

func (w *cdrWriter) float64(vs ...float64) {
	for _, v := range vs {
		w.align(8)
		w.buf = w.order.AppendUint64(w.buf, math.Float64bits(v))
	}
}

func (w *cdrWriter) string(s string) {
	w.uint32(uint32(len(s) + 1))
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

func (w *cdrWriter) header(stamp time.Time, frame string) {
	w.uint32(uint32(stamp.Unix()))
	w.uint32(uint32(stamp.Nanosecond()))
	w.string(frame)
}

func cdr(msgType string, data []byte) RawMessage {
	return RawMessage{Topic: "/t", Type: msgType, Encoding: EncodingCDR, Data: data}
}

func TestNormalizeType(t *testing.T) {
	testCases := map[string]string{
		"sensor_msgs/msg/Imu": "sensor_msgs/Imu",
		"sensor_msgs/Imu":     "sensor_msgs/Imu",
		"a/srv/B":             "a/srv/B",
		"":                    "",
	}
	for in, expected := range testCases {
		if actual := NormalizeType(in); actual != expected {
			t.Errorf("NormalizeType(%q) = %q, expected %q", in, actual, expected)
		}
	}
}

func TestDecodeCDRTFMessage(t *testing.T) {
	for _, order := range []byteOrder{binary.LittleEndian, binary.BigEndian} {
		w := newCDRWriter(order)
		w.uint32(1)
		w.header(time.Unix(5, 250), "map")
		w.string("base_link")
		w.float64(1, 2, 3)
		w.float64(0, 0, 0, 1)

		msg, err := Decode(cdr("tf2_msgs/msg/TFMessage", w.buf))
		if err != nil {
			t.Fatalf("%v: %v", order, err)
		}

		expected := &TFMessage{Transforms: []TransformStamped{{
			Header:       Header{Stamp: time.Unix(5, 250), FrameID: "map"},
			ChildFrameID: "base_link",
			Transform: Transform{
				Translation: Vector3{X: 1, Y: 2, Z: 3},
				Rotation:    Quaternion{W: 1},
			},
		}}}
		if diff := cmp.Diff(expected, msg); diff != "" {
			t.Fatalf("%v: %s", order, diff)
		}
	}
}

func TestDecodeCDRLaserScan(t *testing.T) {
	w := newCDRWriter(binary.LittleEndian)
	w.header(time.Unix(1, 0), "laser")
	for _, v := range []float32{-1, 1, 1, 0, 0.1, 0.2, 30} {
		w.float32(v)
	}
	w.uint32(3)
	w.float32(1)
	w.float32(2)
	w.float32(3)
	w.uint32(0)

	msg, err := Decode(cdr(TypeLaserScan, w.buf))
	if err != nil {
		t.Fatal(err)
	}
	scan := msg.(*LaserScan)
	if diff := cmp.Diff([]float32{1, 2, 3}, scan.Ranges); diff != "" {
		t.Fatal(diff)
	}
	if scan.AngleMin != -1 || scan.RangeMax != 30 || len(scan.Intensities) != 0 {
		t.Fatalf("unexpected scan %+v", scan)
	}
}

func TestDecodeCDRImage(t *testing.T) {
	w := newCDRWriter(binary.LittleEndian)
	w.header(time.Unix(1, 0), "camera")
	w.uint32(1)
	w.uint32(2)
	w.string("mono8")
	w.uint8(0)
	w.uint32(2)
	w.uint32(2)
	w.uint8(7)
	w.uint8(9)

	msg, err := Decode(cdr(TypeImage, w.buf))
	if err != nil {
		t.Fatal(err)
	}
	img := msg.(*Image)
	if img.Encoding != "mono8" || img.Step != 2 || img.Width != 2 {
		t.Fatalf("unexpected image %+v", img)
	}
	if diff := cmp.Diff([]uint8{7, 9}, img.Data); diff != "" {
		t.Fatal(diff)
	}
}

func TestDecodeErrors(t *testing.T) {
	valid := newCDRWriter(binary.LittleEndian)
	valid.uint32(1)
	valid.header(time.Unix(5, 0), "map")

	huge := newCDRWriter(binary.LittleEndian)
	huge.header(time.Unix(1, 0), "laser")
	for i := 0; i < 7; i++ {
		huge.float32(0)
	}
	huge.uint32(1 << 30)

	testCases := []struct {
		Name     string
		Raw      RawMessage
		Expected error
	}{
		{Name: "Unknown type", Raw: cdr("std_msgs/String", nil), Expected: ErrUnsupportedType},
		{Name: "Unknown encoding", Raw: RawMessage{Type: TypeImu, Encoding: "json"}, Expected: ErrUnsupportedEncoding},
		{Name: "ROS1 without definition", Raw: RawMessage{Type: TypeImu, Encoding: EncodingROS1}, Expected: ErrMissingDefinition},
		{Name: "Short header", Raw: cdr(TypeImu, []byte{0, 1}), Expected: errShortCDR},
		{Name: "Unknown representation", Raw: cdr(TypeImu, []byte{0, 7, 0, 0}), Expected: errUnsupportedCDRKind},
		{Name: "Truncated", Raw: cdr(TypeTFMessage, valid.buf), Expected: errShortCDR},
		{Name: "Oversized sequence", Raw: cdr(TypeLaserScan, huge.buf), Expected: errCDRSequenceTooLarge},
		{Name: "Unterminated string", Raw: cdr(TypeImu, []byte{0, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 'x'}), Expected: errInvalidCDRString},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.Name, func(t *testing.T) {
			if _, err := Decode(testCase.Raw); !errors.Is(err, testCase.Expected) {
				t.Fatalf("expected %v, got %v", testCase.Expected, err)
			}
		})
	}
}

func TestSupported(t *testing.T) {
	for _, msgType := range []string{TypeTFMessage, TypePointCloud, TypeLaserScan, TypeImu, TypeOdometry, TypeImage, TypeCameraInfo, "sensor_msgs/msg/Imu"} {
		if !Supported(msgType) {
			t.Errorf("expected %s to be supported", msgType)
		}
	}
	if Supported("std_msgs/String") {
		t.Error("std_msgs/String is not supported")
	}
}
