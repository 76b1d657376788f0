package convert

import (
	"encoding/binary"
	"math"

	"github.com/lherman-cs/bag2rawlog/geom"
	"github.com/lherman-cs/bag2rawlog/record"
	"github.com/lherman-cs/bag2rawlog/rosmsg"
)

const (
	// RangeUnits is the range quantum of range images, in metres.
	RangeUnits = 1e-4

	depthEncoding = "32FC1"
)

// opticalToBody rotates the optical convention (Z forward, X right, Y down) into the vehicle
// convention (X forward).
var opticalToBody = geom.NewTransform(0, 0, 0, 0.5, 0.5, -0.5, 0.5)

// Image converts sensor_msgs/Image.
type Image struct {
	Sensor
}

func (c *Image) Convert(msg rosmsg.Message) ([]record.Record, error) {
	img, ok := msg.(*rosmsg.Image)
	if !ok {
		return nil, unexpected(msg, rosmsg.TypeImage)
	}

	return one(&record.Image{
		Meta:     record.NewMeta(c.Label, img.Header.Stamp),
		Width:    img.Width,
		Height:   img.Height,
		Encoding: img.Encoding,
		Step:     img.Step,
		Data:     append([]byte(nil), img.Data...),
	}), nil
}

// RangeImage fuses a depth image with its camera info. Slots are the image first, then the
// camera info.
type RangeImage struct {
	Sensor
	RangeIsDepth bool

	warnedEncoding bool
}

func (c *RangeImage) Fuse(slots []rosmsg.Message) ([]record.Record, error) {
	if len(slots) != 2 {
		return nil, malformed("range image needs 2 messages, got %d", len(slots))
	}
	img, ok := slots[0].(*rosmsg.Image)
	if !ok {
		return nil, unexpected(slots[0], rosmsg.TypeImage)
	}
	info, ok := slots[1].(*rosmsg.CameraInfo)
	if !ok {
		return nil, unexpected(slots[1], rosmsg.TypeCameraInfo)
	}

	if img.Encoding != depthEncoding {
		if !c.warnedEncoding {
			c.warnedEncoding = true
			c.logger().Warn("range image encoding is not supported, skipping",
				"sensor", c.Label, "encoding", img.Encoding, "supported", depthEncoding)
		}
		return nil, nil
	}

	rows, cols := int(img.Height), int(img.Width)
	if uint64(img.Step) < uint64(cols)*4 {
		return nil, malformed("image step %d shorter than %d float pixels", img.Step, cols)
	}
	if need := uint64(img.Step) * uint64(rows); uint64(len(img.Data)) < need {
		return nil, malformed("image needs %d bytes, has %d", need, len(img.Data))
	}

	var order binary.ByteOrder = binary.LittleEndian
	if img.IsBigendian != 0 {
		order = binary.BigEndian
	}

	ranges := make([]uint16, rows*cols)
	for row := 0; row < rows; row++ {
		line := img.Data[row*int(img.Step):]
		for col := 0; col < cols; col++ {
			v := math.Float32frombits(order.Uint32(line[col*4:]))
			ranges[row*cols+col] = quantize(float64(v), RangeUnits)
		}
	}

	return one(&record.RangeImage{
		Meta:         record.NewMeta(c.Label, img.Header.Stamp),
		SensorPose:   c.Pose.Transform().Compose(opticalToBody).Pose(),
		Rows:         rows,
		Columns:      cols,
		RangeUnits:   RangeUnits,
		Ranges:       ranges,
		RangeIsDepth: c.RangeIsDepth,
		Camera: record.CameraParams{
			Rows:            info.Height,
			Columns:         info.Width,
			DistortionModel: info.DistortionModel,
			Distortion:      append([]float64(nil), info.D...),
			Intrinsics:      append([]float64(nil), info.K...),
		},
	}), nil
}
