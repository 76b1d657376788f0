package rosmsg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

const cdrHeaderLen = 4

var (
	errShortCDR            = errors.New("cdr: payload too short")
	errUnsupportedCDRKind  = errors.New("cdr: unsupported encapsulation kind")
	errInvalidCDRString    = errors.New("cdr: invalid string")
	errCDRSequenceTooLarge = errors.New("cdr: sequence length exceeds payload")
)

// cdrReader reads plain CDR (XCDR1) as written by rosbag2. Alignment is relative to the first
// byte after the encapsulation header. The first error sticks; later reads return zero values.
type cdrReader struct {
	buf   []byte
	pos   int
	order binary.ByteOrder
	err   error
}

func newCDRReader(data []byte) (*cdrReader, error) {
	if len(data) < cdrHeaderLen {
		return nil, errShortCDR
	}

	r := &cdrReader{buf: data[cdrHeaderLen:]}
	// data[0:2] is the representation identifier, CDR_BE = 0x0000, CDR_LE = 0x0001.
	switch {
	case data[0] == 0 && data[1] == 0:
		r.order = binary.BigEndian
	case data[0] == 0 && data[1] == 1:
		r.order = binary.LittleEndian
	default:
		return nil, fmt.Errorf("%w: 0x%02x%02x", errUnsupportedCDRKind, data[0], data[1])
	}
	return r, nil
}

func (r *cdrReader) align(n int) {
	if rem := r.pos % n; rem != 0 {
		r.pos += n - rem
	}
}

func (r *cdrReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.buf) {
		r.err = errShortCDR
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *cdrReader) uint8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *cdrReader) bool() bool {
	return r.uint8() != 0
}

func (r *cdrReader) uint32() uint32 {
	r.align(4)
	b := r.take(4)
	if b == nil {
		return 0
	}
	return r.order.Uint32(b)
}

func (r *cdrReader) int32() int32 {
	return int32(r.uint32())
}

func (r *cdrReader) float32() float32 {
	return math.Float32frombits(r.uint32())
}

func (r *cdrReader) float64() float64 {
	r.align(8)
	b := r.take(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(r.order.Uint64(b))
}

func (r *cdrReader) string() string {
	n := int(r.uint32())
	if r.err != nil {
		return ""
	}
	if n == 0 {
		return ""
	}
	b := r.take(n)
	if b == nil {
		return ""
	}
	if b[n-1] != 0 {
		r.err = errInvalidCDRString
		return ""
	}
	return string(b[:n-1])
}

// sequenceLen reads a sequence length and checks it against the remaining payload, given the
// minimum encoded size of one element.
func (r *cdrReader) sequenceLen(elemSize int) int {
	n := int(r.uint32())
	if r.err != nil {
		return 0
	}
	if elemSize > 0 && n > (len(r.buf)-r.pos)/elemSize+1 {
		r.err = errCDRSequenceTooLarge
		return 0
	}
	return n
}

func (r *cdrReader) bytes() []uint8 {
	n := r.sequenceLen(1)
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]uint8, n)
	copy(out, b)
	return out
}

func (r *cdrReader) float32s() []float32 {
	n := r.sequenceLen(4)
	out := make([]float32, n)
	for i := range out {
		out[i] = r.float32()
	}
	return out
}

func (r *cdrReader) float64s() []float64 {
	return r.float64Array(r.sequenceLen(8))
}

func (r *cdrReader) float64Array(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = r.float64()
	}
	return out
}

func (r *cdrReader) stamp() time.Time {
	sec := r.int32()
	nsec := r.uint32()
	return time.Unix(int64(sec), int64(nsec))
}

func (r *cdrReader) header() Header {
	return Header{
		Stamp:   r.stamp(),
		FrameID: r.string(),
	}
}

func (r *cdrReader) vector3() Vector3 {
	return Vector3{X: r.float64(), Y: r.float64(), Z: r.float64()}
}

func (r *cdrReader) point() Point {
	return Point{X: r.float64(), Y: r.float64(), Z: r.float64()}
}

func (r *cdrReader) quaternion() Quaternion {
	return Quaternion{X: r.float64(), Y: r.float64(), Z: r.float64(), W: r.float64()}
}

func decodeCDRTFMessage(r *cdrReader, m *TFMessage) {
	n := r.sequenceLen(4)
	m.Transforms = make([]TransformStamped, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		var tf TransformStamped
		tf.Header = r.header()
		tf.ChildFrameID = r.string()
		tf.Transform.Translation = r.vector3()
		tf.Transform.Rotation = r.quaternion()
		m.Transforms = append(m.Transforms, tf)
	}
}

func decodeCDRPointCloud2(r *cdrReader, m *PointCloud2) {
	m.Header = r.header()
	m.Height = r.uint32()
	m.Width = r.uint32()
	n := r.sequenceLen(4)
	m.Fields = make([]PointField, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		m.Fields = append(m.Fields, PointField{
			Name:     r.string(),
			Offset:   r.uint32(),
			Datatype: r.uint8(),
			Count:    r.uint32(),
		})
	}
	m.IsBigendian = r.bool()
	m.PointStep = r.uint32()
	m.RowStep = r.uint32()
	m.Data = r.bytes()
	m.IsDense = r.bool()
}

func decodeCDRLaserScan(r *cdrReader, m *LaserScan) {
	m.Header = r.header()
	m.AngleMin = r.float32()
	m.AngleMax = r.float32()
	m.AngleIncrement = r.float32()
	m.TimeIncrement = r.float32()
	m.ScanTime = r.float32()
	m.RangeMin = r.float32()
	m.RangeMax = r.float32()
	m.Ranges = r.float32s()
	m.Intensities = r.float32s()
}

func decodeCDRImu(r *cdrReader, m *Imu) {
	m.Header = r.header()
	m.Orientation = r.quaternion()
	m.OrientationCovariance = r.float64Array(9)
	m.AngularVelocity = r.vector3()
	m.AngularVelocityCovariance = r.float64Array(9)
	m.LinearAcceleration = r.vector3()
	m.LinearAccelerationCovariance = r.float64Array(9)
}

func decodeCDROdometry(r *cdrReader, m *Odometry) {
	m.Header = r.header()
	m.ChildFrameID = r.string()
	m.Pose.Pose.Position = r.point()
	m.Pose.Pose.Orientation = r.quaternion()
	m.Pose.Covariance = r.float64Array(36)
	m.Twist.Twist.Linear = r.vector3()
	m.Twist.Twist.Angular = r.vector3()
	m.Twist.Covariance = r.float64Array(36)
}

func decodeCDRImage(r *cdrReader, m *Image) {
	m.Header = r.header()
	m.Height = r.uint32()
	m.Width = r.uint32()
	m.Encoding = r.string()
	m.IsBigendian = r.uint8()
	m.Step = r.uint32()
	m.Data = r.bytes()
}

func decodeCDRCameraInfo(r *cdrReader, m *CameraInfo) {
	m.Header = r.header()
	m.Height = r.uint32()
	m.Width = r.uint32()
	m.DistortionModel = r.string()
	m.D = r.float64s()
	m.K = r.float64Array(9)
	m.R = r.float64Array(9)
	m.P = r.float64Array(12)
	m.BinningX = r.uint32()
	m.BinningY = r.uint32()
	m.ROI = RegionOfInterest{
		XOffset:   r.uint32(),
		YOffset:   r.uint32(),
		Height:    r.uint32(),
		Width:     r.uint32(),
		DoRectify: r.bool(),
	}
}
