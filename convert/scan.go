package convert

import (
	"math"

	"github.com/lherman-cs/bag2rawlog/record"
	"github.com/lherman-cs/bag2rawlog/rosmsg"
)

// Scan2D converts sensor_msgs/LaserScan.
type Scan2D struct {
	Sensor
}

func (c *Scan2D) Convert(msg rosmsg.Message) ([]record.Record, error) {
	scan, ok := msg.(*rosmsg.LaserScan)
	if !ok {
		return nil, unexpected(msg, rosmsg.TypeLaserScan)
	}

	n := len(scan.Ranges)
	if n > 1 && (scan.AngleIncrement == 0 || !finite(float64(scan.AngleIncrement))) {
		return nil, malformed("laser scan with %d rays has angle increment %v", n, scan.AngleIncrement)
	}

	rec := &record.RangeScan2D{
		Meta:        record.NewMeta(c.Label, scan.Header.Stamp),
		SensorPose:  c.Pose,
		Aperture:    math.Abs(float64(scan.AngleMax) - float64(scan.AngleMin)),
		RightToLeft: scan.AngleIncrement >= 0,
		MaxRange:    scan.RangeMax,
		Ranges:      append([]float32(nil), scan.Ranges...),
		Valid:       make([]bool, n),
	}
	for i, r := range scan.Ranges {
		rec.Valid[i] = finite(float64(r)) && r >= scan.RangeMin && r <= scan.RangeMax
	}
	if len(scan.Intensities) == n {
		rec.Intensity = append([]float32(nil), scan.Intensities...)
	}
	return one(rec), nil
}
