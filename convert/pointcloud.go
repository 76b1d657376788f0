package convert

import (
	"math"

	"github.com/lherman-cs/bag2rawlog/record"
	"github.com/lherman-cs/bag2rawlog/rosmsg"
)

const (
	// RotatingScanResolution is the range quantum of rotating scans, in metres.
	RotatingScanResolution = 0.005
	maxRings               = 1024
)

// PointCloud converts sensor_msgs/PointCloud2 into a point cloud record.
type PointCloud struct {
	Sensor

	warnedIntensity bool
}

func (c *PointCloud) Convert(msg rosmsg.Message) ([]record.Record, error) {
	cloud, ok := msg.(*rosmsg.PointCloud2)
	if !ok {
		return nil, unexpected(msg, rosmsg.TypePointCloud)
	}

	rec, err := c.convert(cloud)
	if rec == nil || err != nil {
		return nil, err
	}
	return one(rec), nil
}

func (c *PointCloud) convert(cloud *rosmsg.PointCloud2) (*record.PointCloud, error) {
	x, y, z, err := xyzReaders(cloud)
	if x == nil || err != nil {
		return nil, err
	}

	intensity := c.intensityReader(cloud)

	rec := &record.PointCloud{
		Meta:       record.NewMeta(c.Label, cloud.Header.Stamp),
		SensorPose: c.Pose,
	}
	err = forEachPoint(cloud, func(point []byte) {
		px, py, pz := x(point), y(point), z(point)
		if !finite(px) || !finite(py) || !finite(pz) {
			return
		}
		rec.X = append(rec.X, float32(px))
		rec.Y = append(rec.Y, float32(py))
		rec.Z = append(rec.Z, float32(pz))
		if intensity != nil {
			rec.Intensity = append(rec.Intensity, float32(intensity(point)))
		}
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// intensityReader returns nil when the cloud has no usable intensity channel. A channel that
// exists but cannot be used is reported once per converter.
func (c *PointCloud) intensityReader(cloud *rosmsg.PointCloud2) fieldReader {
	field, ok := cloud.Field("intensity")
	if !ok {
		return nil
	}

	var reader fieldReader
	if field.Datatype == rosmsg.PointFieldFloat32 {
		reader, _ = newFieldReader(field, cloud.PointStep, cloud.IsBigendian)
	}
	if reader == nil && !c.warnedIntensity {
		c.warnedIntensity = true
		c.logger().Warn("point cloud intensity channel is not usable, storing geometry only",
			"sensor", c.Label, "datatype", field.Datatype, "offset", field.Offset)
	}
	return reader
}

// RotatingScan converts a multi-beam lidar PointCloud2 carrying a ring channel into a
// structured scan. Clouds without ring data go through the plain point cloud conversion
// instead.
type RotatingScan struct {
	Sensor

	fallback *PointCloud
}

type ringPoint struct {
	ring      int
	x, y, z   float64
	intensity float64
}

func (c *RotatingScan) Convert(msg rosmsg.Message) ([]record.Record, error) {
	cloud, ok := msg.(*rosmsg.PointCloud2)
	if !ok {
		return nil, unexpected(msg, rosmsg.TypePointCloud)
	}

	x, y, z, err := xyzReaders(cloud)
	if x == nil || err != nil {
		return nil, err
	}

	ring, err := namedReader(cloud, "ring")
	if err != nil {
		return nil, err
	}
	if ring == nil {
		return c.plain().Convert(cloud)
	}

	// shares the plain conversion's warn-once state for unusable intensity channels
	intensity := c.plain().intensityReader(cloud)

	var (
		points  []ringPoint
		badRing float64
		badSeen bool
	)
	err = forEachPoint(cloud, func(point []byte) {
		p := ringPoint{x: x(point), y: y(point), z: z(point)}
		if !finite(p.x) || !finite(p.y) || !finite(p.z) {
			return
		}
		r := ring(point)
		if r < 0 || r >= maxRings || r != math.Trunc(r) {
			badRing, badSeen = r, true
			return
		}
		p.ring = int(r)
		if intensity != nil {
			p.intensity = intensity(point)
		}
		points = append(points, p)
	})
	if err != nil {
		return nil, err
	}
	if badSeen {
		return nil, malformed("ring %v out of [0, %d)", badRing, maxRings)
	}
	if len(points) == 0 {
		return nil, nil
	}

	return one(c.organize(cloud, points, intensity != nil)), nil
}

func (c *RotatingScan) plain() *PointCloud {
	if c.fallback == nil {
		c.fallback = &PointCloud{Sensor: c.Sensor}
	}
	return c.fallback
}

// organize bins points into one row per ring and as many azimuth columns as the densest ring
// has points.
func (c *RotatingScan) organize(cloud *rosmsg.PointCloud2, points []ringPoint, withIntensity bool) *record.RotatingScan {
	rows := 0
	perRing := make(map[int]int)
	for _, p := range points {
		if p.ring+1 > rows {
			rows = p.ring + 1
		}
		perRing[p.ring]++
	}
	columns := 0
	for _, n := range perRing {
		if n > columns {
			columns = n
		}
	}

	rec := &record.RotatingScan{
		Meta:            record.NewMeta(c.Label, cloud.Header.Stamp),
		SensorPose:      c.Pose,
		Rows:            rows,
		Columns:         columns,
		RangeResolution: RotatingScanResolution,
		StartAzimuth:    -math.Pi,
		AzimuthSpan:     2 * math.Pi,
		Ranges:          make([]uint16, rows*columns),
	}
	if withIntensity {
		rec.Intensity = make([]float32, rows*columns)
	}

	for _, p := range points {
		azimuth := math.Atan2(p.y, p.x)
		// atan2 returns π for points straight behind the sensor, the same direction as -π
		col := int((azimuth+math.Pi)/(2*math.Pi)*float64(columns)) % columns

		cell := p.ring*columns + col
		rec.Ranges[cell] = quantize(math.Sqrt(p.x*p.x+p.y*p.y+p.z*p.z), RotatingScanResolution)
		if withIntensity {
			rec.Intensity[cell] = float32(p.intensity)
		}
	}
	return rec
}

// quantize maps a range in metres to units of unit. Ranges that are not finite, not positive or
// too large for uint16 become 0, the invalid marker.
func quantize(v, unit float64) uint16 {
	if !finite(v) || v <= 0 {
		return 0
	}
	q := math.Round(v / unit)
	if q < 1 || q > math.MaxUint16 {
		return 0
	}
	return uint16(q)
}
