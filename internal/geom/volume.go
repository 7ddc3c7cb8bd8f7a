package geom

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidExpanse is returned when a volume is built with a non-positive half width.
var ErrInvalidExpanse = errors.New("volume expanse must be positive")

// Volume is the axis-aligned cuboid inside which flight is permitted. It is
// centred on Origin and extends Expanse metres in each direction on every
// axis. A Volume is read-only once constructed.
type Volume struct {
	Origin  Pose
	Expanse float64
}

// NewVolume validates and returns a Volume.
func NewVolume(origin Pose, expanse float64) (Volume, error) {
	if !(expanse > 0) || math.IsInf(expanse, 0) {
		return Volume{}, fmt.Errorf("%w: got %v", ErrInvalidExpanse, expanse)
	}
	return Volume{Origin: NewPose(origin.X, origin.Y, origin.Z), Expanse: expanse}, nil
}

// Min returns the corner with the lowest coordinates.
func (v Volume) Min() Pose {
	return NewPose(v.Origin.X-v.Expanse, v.Origin.Y-v.Expanse, v.Origin.Z-v.Expanse)
}

// Max returns the corner with the highest coordinates.
func (v Volume) Max() Pose {
	return NewPose(v.Origin.X+v.Expanse, v.Origin.Y+v.Expanse, v.Origin.Z+v.Expanse)
}

func (v Volume) String() string {
	return fmt.Sprintf("origin (%.2f, %.2f, %.2f) expanse %.2f", v.Origin.X, v.Origin.Y, v.Origin.Z, v.Expanse)
}

// Clamp returns p with each axis independently limited to
// [origin-expanse, origin+expanse]. A NaN axis becomes the origin's.
// Yaw and rotation pass through.
func Clamp(p Pose, v Volume) Pose {
	p.X = clampAxis(p.X, v.Origin.X, v.Expanse)
	p.Y = clampAxis(p.Y, v.Origin.Y, v.Expanse)
	p.Z = clampAxis(p.Z, v.Origin.Z, v.Expanse)
	return p
}

func clampAxis(val, origin, expanse float64) float64 {
	if math.IsNaN(val) {
		return origin
	}
	return math.Max(origin-expanse, math.Min(val, origin+expanse))
}

// Contains reports whether p lies strictly inside v. A point on a face is
// not contained, nor is a NaN coordinate.
func Contains(p Pose, v Volume) bool {
	return insideAxis(p.X, v.Origin.X, v.Expanse) &&
		insideAxis(p.Y, v.Origin.Y, v.Expanse) &&
		insideAxis(p.Z, v.Origin.Z, v.Expanse)
}

func insideAxis(val, origin, expanse float64) bool {
	return origin-expanse < val && val < origin+expanse
}
