// Package geom implements the rigid-body math shared by the transform directory and the
// converters.
package geom

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Transform is a rigid transform: a rotation followed by a translation. As an edge from
// parent to child it maps child coordinates into parent coordinates.
type Transform struct {
	Translation r3.Vec
	Rotation    quat.Number
}

// Identity returns the transform that changes nothing.
func Identity() Transform {
	return Transform{Rotation: quat.Number{Real: 1}}
}

// NewTransform builds a transform from a translation and a (w, x, y, z) quaternion. The
// quaternion is normalized.
func NewTransform(x, y, z, qw, qx, qy, qz float64) Transform {
	return Transform{
		Translation: r3.Vec{X: x, Y: y, Z: z},
		Rotation:    Normalize(quat.Number{Real: qw, Imag: qx, Jmag: qy, Kmag: qz}),
	}
}

// Normalize scales q to unit length. A zero quaternion is returned unchanged.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return q
	}
	return quat.Scale(1/n, q)
}

// ValidRotation reports whether q is finite and far enough from zero to normalize.
func ValidRotation(q quat.Number) bool {
	if quat.IsNaN(q) || quat.IsInf(q) {
		return false
	}
	return quat.Abs(q) > 1e-9
}

// Rotate applies the rotation q to v.
func Rotate(q quat.Number, v r3.Vec) r3.Vec {
	p := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vec{X: p.Imag, Y: p.Jmag, Z: p.Kmag}
}

// Apply maps the point p through t.
func (t Transform) Apply(p r3.Vec) r3.Vec {
	return r3.Add(Rotate(t.Rotation, p), t.Translation)
}

// Compose returns t∘u: applying the result equals applying u, then t.
func (t Transform) Compose(u Transform) Transform {
	return Transform{
		Translation: t.Apply(u.Translation),
		Rotation:    Normalize(quat.Mul(t.Rotation, u.Rotation)),
	}
}

// Inverse returns the transform undoing t.
func (t Transform) Inverse() Transform {
	inv := quat.Conj(t.Rotation)
	return Transform{
		Translation: Rotate(inv, r3.Scale(-1, t.Translation)),
		Rotation:    inv,
	}
}

// ApproxEqual compares translations and rotations component-wise within eps. q and -q are the
// same rotation.
func (t Transform) ApproxEqual(u Transform, eps float64) bool {
	if r3.Norm(r3.Sub(t.Translation, u.Translation)) > eps {
		return false
	}
	return quatClose(t.Rotation, u.Rotation, eps) || quatClose(t.Rotation, quat.Scale(-1, u.Rotation), eps)
}

func quatClose(a, b quat.Number, eps float64) bool {
	return quat.Abs(quat.Sub(a, b)) <= eps
}

// Interpolate blends a and b at ratio in [0, 1]: linear in translation, spherical in rotation.
func Interpolate(a, b Transform, ratio float64) Transform {
	return Transform{
		Translation: r3.Add(a.Translation, r3.Scale(ratio, r3.Sub(b.Translation, a.Translation))),
		Rotation:    Slerp(a.Rotation, b.Rotation, ratio),
	}
}

// Slerp interpolates between unit quaternions along the shorter arc.
func Slerp(a, b quat.Number, ratio float64) quat.Number {
	dot := a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
	if dot < 0 {
		b = quat.Scale(-1, b)
		dot = -dot
	}

	if dot > 0.9995 {
		return Normalize(quat.Add(a, quat.Scale(ratio, quat.Sub(b, a))))
	}

	theta := math.Acos(dot)
	sin := math.Sin(theta)
	wa := math.Sin((1-ratio)*theta) / sin
	wb := math.Sin(ratio*theta) / sin
	return Normalize(quat.Add(quat.Scale(wa, a), quat.Scale(wb, b)))
}

// YawPitchRoll extracts Z-Y-X Euler angles from a unit quaternion. At pitch = ±pi/2 roll is
// folded into yaw and returned as 0.
func YawPitchRoll(q quat.Number) (yaw, pitch, roll float64) {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag

	sinp := 2 * (w*y - z*x)
	if math.Abs(sinp) >= 1-1e-12 {
		pitch = math.Copysign(math.Pi/2, sinp)
		yaw = math.Atan2(-2*(x*y-z*w), 1-2*(x*x+z*z))
		return yaw, pitch, 0
	}

	yaw = math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
	pitch = math.Asin(sinp)
	roll = math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))
	return yaw, pitch, roll
}

// FromYawPitchRoll builds the rotation Rz(yaw)·Ry(pitch)·Rx(roll).
func FromYawPitchRoll(yaw, pitch, roll float64) quat.Number {
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)
	cp, sp := math.Cos(pitch/2), math.Sin(pitch/2)
	cr, sr := math.Cos(roll/2), math.Sin(roll/2)

	return quat.Number{
		Real: cr*cp*cy + sr*sp*sy,
		Imag: sr*cp*cy - cr*sp*sy,
		Jmag: cr*sp*cy + sr*cp*sy,
		Kmag: cr*cp*sy - sr*sp*cy,
	}
}

// Pose3D is a 6-DoF pose in Euler form.
type Pose3D struct {
	X, Y, Z          float64
	Yaw, Pitch, Roll float64
}

// Pose returns t in Euler form.
func (t Transform) Pose() Pose3D {
	yaw, pitch, roll := YawPitchRoll(t.Rotation)
	return Pose3D{
		X: t.Translation.X, Y: t.Translation.Y, Z: t.Translation.Z,
		Yaw: yaw, Pitch: pitch, Roll: roll,
	}
}

// Transform returns p as a Transform.
func (p Pose3D) Transform() Transform {
	return Transform{
		Translation: r3.Vec{X: p.X, Y: p.Y, Z: p.Z},
		Rotation:    FromYawPitchRoll(p.Yaw, p.Pitch, p.Roll),
	}
}

// Pose2D is a planar pose.
type Pose2D struct {
	X, Y, Phi float64
}

// WrapAngle maps a to (-pi, pi].
func WrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
