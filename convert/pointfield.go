package convert

import (
	"encoding/binary"
	"math"

	"github.com/lherman-cs/bag2rawlog/rosmsg"
)

// fieldReader reads one PointField of a point as float64.
type fieldReader func(point []byte) float64

var fieldSizes = map[uint8]uint32{
	rosmsg.PointFieldInt8:    1,
	rosmsg.PointFieldUint8:   1,
	rosmsg.PointFieldInt16:   2,
	rosmsg.PointFieldUint16:  2,
	rosmsg.PointFieldInt32:   4,
	rosmsg.PointFieldUint32:  4,
	rosmsg.PointFieldFloat32: 4,
	rosmsg.PointFieldFloat64: 8,
}

func newFieldReader(field rosmsg.PointField, pointStep uint32, bigEndian bool) (fieldReader, error) {
	size, ok := fieldSizes[field.Datatype]
	if !ok {
		return nil, malformed("field %q has unknown datatype %d", field.Name, field.Datatype)
	}
	if uint64(field.Offset)+uint64(size) > uint64(pointStep) {
		return nil, malformed("field %q at offset %d does not fit a %d byte point", field.Name, field.Offset, pointStep)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if bigEndian {
		order = binary.BigEndian
	}

	off := field.Offset
	switch field.Datatype {
	case rosmsg.PointFieldInt8:
		return func(p []byte) float64 { return float64(int8(p[off])) }, nil
	case rosmsg.PointFieldUint8:
		return func(p []byte) float64 { return float64(p[off]) }, nil
	case rosmsg.PointFieldInt16:
		return func(p []byte) float64 { return float64(int16(order.Uint16(p[off:]))) }, nil
	case rosmsg.PointFieldUint16:
		return func(p []byte) float64 { return float64(order.Uint16(p[off:])) }, nil
	case rosmsg.PointFieldInt32:
		return func(p []byte) float64 { return float64(int32(order.Uint32(p[off:]))) }, nil
	case rosmsg.PointFieldUint32:
		return func(p []byte) float64 { return float64(order.Uint32(p[off:])) }, nil
	case rosmsg.PointFieldFloat32:
		return func(p []byte) float64 { return float64(math.Float32frombits(order.Uint32(p[off:]))) }, nil
	default:
		return func(p []byte) float64 { return math.Float64frombits(order.Uint64(p[off:])) }, nil
	}
}

// namedReader returns a reader for the named field, or nil if the cloud does not have it.
func namedReader(cloud *rosmsg.PointCloud2, name string) (fieldReader, error) {
	field, ok := cloud.Field(name)
	if !ok {
		return nil, nil
	}
	return newFieldReader(field, cloud.PointStep, cloud.IsBigendian)
}

// xyzReaders returns nil readers when any of x, y or z is missing.
func xyzReaders(cloud *rosmsg.PointCloud2) (x, y, z fieldReader, err error) {
	for _, name := range []string{"x", "y", "z"} {
		if _, ok := cloud.Field(name); !ok {
			return nil, nil, nil, nil
		}
	}

	if x, err = namedReader(cloud, "x"); err != nil {
		return nil, nil, nil, err
	}
	if y, err = namedReader(cloud, "y"); err != nil {
		return nil, nil, nil, err
	}
	if z, err = namedReader(cloud, "z"); err != nil {
		return nil, nil, nil, err
	}
	return x, y, z, nil
}

// forEachPoint checks the cloud layout against its data and calls fn for every point.
func forEachPoint(cloud *rosmsg.PointCloud2, fn func(point []byte)) error {
	if cloud.Width == 0 || cloud.Height == 0 {
		return nil
	}
	if cloud.PointStep == 0 {
		return malformed("point cloud has a zero point step")
	}

	rowLen := uint64(cloud.Width) * uint64(cloud.PointStep)
	rowStep := uint64(cloud.RowStep)
	if rowStep == 0 {
		rowStep = rowLen
	}
	if rowStep < rowLen {
		return malformed("row step %d shorter than %d points of %d bytes", rowStep, cloud.Width, cloud.PointStep)
	}
	if uint64(cloud.Height)-1 > uint64(len(cloud.Data))/rowStep {
		return malformed("point cloud of %d rows of %d bytes has %d bytes", cloud.Height, rowStep, len(cloud.Data))
	}
	if need := (uint64(cloud.Height)-1)*rowStep + rowLen; uint64(len(cloud.Data)) < need {
		return malformed("point cloud needs %d bytes, has %d", need, len(cloud.Data))
	}

	step := uint64(cloud.PointStep)
	for row := uint64(0); row < uint64(cloud.Height); row++ {
		start := row * rowStep
		for col := uint64(0); col < uint64(cloud.Width); col++ {
			off := start + col*step
			fn(cloud.Data[off : off+step])
		}
	}
	return nil
}
