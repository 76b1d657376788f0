package convert

import (
	"github.com/lherman-cs/bag2rawlog/geom"
	"github.com/lherman-cs/bag2rawlog/record"
	"github.com/lherman-cs/bag2rawlog/rosmsg"
	"github.com/lherman-cs/bag2rawlog/tf"
)

// Transforms feeds tf2_msgs/TFMessage into a transform directory. It never produces records.
type Transforms struct {
	Directory *tf.Directory
	Static    bool
	Sensor

	// Rejected counts transforms the directory refused or reported as conflicting.
	Rejected int
}

func (c *Transforms) Convert(msg rosmsg.Message) ([]record.Record, error) {
	tfMsg, ok := msg.(*rosmsg.TFMessage)
	if !ok {
		return nil, unexpected(msg, rosmsg.TypeTFMessage)
	}

	for _, stamped := range tfMsg.Transforms {
		t, r := stamped.Transform.Translation, stamped.Transform.Rotation
		err := c.Directory.Update(tf.Edge{
			Parent:    stamped.Header.FrameID,
			Child:     stamped.ChildFrameID,
			Stamp:     stamped.Header.Stamp,
			Transform: geom.NewTransform(t.X, t.Y, t.Z, r.W, r.X, r.Y, r.Z),
			Static:    c.Static,
		})
		if err != nil {
			c.Rejected++
			c.logger().Warn("transform not stored cleanly",
				"parent", stamped.Header.FrameID, "child", stamped.ChildFrameID,
				"static", c.Static, "err", err)
		}
	}
	return nil, nil
}
