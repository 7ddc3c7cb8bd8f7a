// Package geom holds the value types shared by the control loop: measured
// and commanded poses, the safe flight volume and rotation conversions.
package geom

import (
	"fmt"
	"math"
)

// Matrix3 is a row-major 3x3 rotation matrix.
type Matrix3 [3][3]float64

// Identity returns the identity rotation.
func Identity() Matrix3 {
	return Matrix3{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
}

// Pose is a position in metres plus optional orientation. A Pose is used
// both for measurements coming from the mocap feed and for commanded
// setpoints. It is a value type; functions that change it return a copy.
type Pose struct {
	X, Y, Z  float64
	Yaw      *float64 // degrees, nil when unset
	Rotation *Matrix3 // body rotation, nil when the source only reports position
}

// NewPose returns a position-only pose.
func NewPose(x, y, z float64) Pose {
	return Pose{X: x, Y: y, Z: z}
}

// WithYaw returns a copy of p with the yaw set.
func (p Pose) WithYaw(yaw float64) Pose {
	p.Yaw = &yaw
	return p
}

// WithRotation returns a copy of p carrying rotation m.
func (p Pose) WithRotation(m Matrix3) Pose {
	p.Rotation = &m
	return p
}

// YawOrZero returns the yaw, or 0 if it is unset.
func (p Pose) YawOrZero() float64 {
	if p.Yaw == nil {
		return 0
	}
	return *p.Yaw
}

// IsValid reports whether every coordinate is a number. Mocap systems
// report untracked bodies as NaN.
func (p Pose) IsValid() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsNaN(p.Z)
}

// DistanceTo returns the euclidean distance between the positions of p and o.
func (p Pose) DistanceTo(o Pose) float64 {
	return math.Sqrt((p.X-o.X)*(p.X-o.X) + (p.Y-o.Y)*(p.Y-o.Y) + (p.Z-o.Z)*(p.Z-o.Z))
}

func (p Pose) String() string {
	if p.Yaw == nil {
		return fmt.Sprintf("x: %6.2f y: %6.2f z: %6.2f", p.X, p.Y, p.Z)
	}
	return fmt.Sprintf("x: %6.2f y: %6.2f z: %6.2f yaw: %6.2f", p.X, p.Y, p.Z, *p.Yaw)
}

// FromMillimetres builds a pose from a mocap position reported in mm and a
// column-major rotation as streamed by the mocap server.
func FromMillimetres(x, y, z float64, colMajor [9]float64) Pose {
	m := FromColumnMajor(colMajor)
	return Pose{X: x / 1000, Y: y / 1000, Z: z / 1000, Rotation: &m}
}

// FromColumnMajor converts a column-major rotation into a row-major Matrix3.
func FromColumnMajor(c [9]float64) Matrix3 {
	return Matrix3{
		{c[0], c[3], c[6]},
		{c[1], c[4], c[7]},
		{c[2], c[5], c[8]},
	}
}

// ColumnMajor flattens m in column-major order, the inverse of FromColumnMajor.
func (m Matrix3) ColumnMajor() [9]float64 {
	return [9]float64{
		m[0][0], m[1][0], m[2][0],
		m[0][1], m[1][1], m[2][1],
		m[0][2], m[1][2], m[2][2],
	}
}

// RotationZ returns the rotation of yaw degrees about the Z axis.
func RotationZ(yawDeg float64) Matrix3 {
	s, c := math.Sincos(yawDeg * math.Pi / 180)
	return Matrix3{
		{c, -s, 0},
		{s, c, 0},
		{0, 0, 1},
	}
}

// PolarToCartesian converts a radius and an angle in degrees into X/Y offsets.
func PolarToCartesian(r, phiDeg float64) (x, y float64) {
	s, c := math.Sincos(phiDeg * math.Pi / 180)
	return r * c, r * s
}

// Heading returns the yaw in degrees of p: the explicit yaw when set,
// otherwise the heading of its rotation, otherwise 0.
func (p Pose) Heading() float64 {
	if p.Yaw != nil {
		return *p.Yaw
	}
	if p.Rotation != nil {
		return math.Atan2(p.Rotation[1][0], p.Rotation[0][0]) * 180 / math.Pi
	}
	return 0
}
