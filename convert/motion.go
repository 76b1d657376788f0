package convert

import (
	"github.com/lherman-cs/bag2rawlog/geom"
	"github.com/lherman-cs/bag2rawlog/record"
	"github.com/lherman-cs/bag2rawlog/rosmsg"
)

// IMU converts sensor_msgs/Imu.
type IMU struct {
	Sensor
}

func (c *IMU) Convert(msg rosmsg.Message) ([]record.Record, error) {
	imu, ok := msg.(*rosmsg.Imu)
	if !ok {
		return nil, unexpected(msg, rosmsg.TypeImu)
	}

	q := imu.Orientation
	return one(&record.IMU{
		Meta:       record.NewMeta(c.Label, imu.Header.Stamp),
		SensorPose: c.Pose,

		Orientation:           record.Quaternion{W: q.W, X: q.X, Y: q.Y, Z: q.Z},
		OrientationCovariance: append([]float64(nil), imu.OrientationCovariance...),
		HasOrientation:        measured(imu.OrientationCovariance),

		AngularVelocity:           vector(imu.AngularVelocity),
		AngularVelocityCovariance: append([]float64(nil), imu.AngularVelocityCovariance...),
		HasAngularVelocity:        measured(imu.AngularVelocityCovariance),

		LinearAcceleration:           vector(imu.LinearAcceleration),
		LinearAccelerationCovariance: append([]float64(nil), imu.LinearAccelerationCovariance...),
		HasLinearAcceleration:        measured(imu.LinearAccelerationCovariance),
	}), nil
}

func vector(v rosmsg.Vector3) record.Vector3 {
	return record.Vector3{X: v.X, Y: v.Y, Z: v.Z}
}

// Odometry converts nav_msgs/Odometry into a planar odometry record.
type Odometry struct {
	Sensor
}

func (c *Odometry) Convert(msg rosmsg.Message) ([]record.Record, error) {
	odom, ok := msg.(*rosmsg.Odometry)
	if !ok {
		return nil, unexpected(msg, rosmsg.TypeOdometry)
	}

	p := odom.Pose.Pose
	pose := geom.NewTransform(p.Position.X, p.Position.Y, p.Position.Z,
		p.Orientation.W, p.Orientation.X, p.Orientation.Y, p.Orientation.Z)
	if !geom.ValidRotation(pose.Rotation) {
		return nil, malformed("odometry orientation %+v is not a rotation", p.Orientation)
	}
	yaw, _, _ := geom.YawPitchRoll(pose.Rotation)

	twist := odom.Twist.Twist
	return one(&record.Odometry{
		Meta:          record.NewMeta(c.Label, odom.Header.Stamp),
		Pose:          geom.Pose2D{X: p.Position.X, Y: p.Position.Y, Phi: yaw},
		HasVelocities: measured(odom.Twist.Covariance),
		Velocity: record.Velocity2D{
			VX:    twist.Linear.X,
			VY:    twist.Linear.Y,
			Omega: twist.Angular.Z,
		},
	}), nil
}
