package geom

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuaternionIdentity(t *testing.T) {
	q := Quaternion(Identity())
	assert.InDelta(t, 0, q.X, 1e-9)
	assert.InDelta(t, 0, q.Y, 1e-9)
	assert.InDelta(t, 0, q.Z, 1e-9)
	assert.InDelta(t, 1, q.W, 1e-9)
}

func TestQuaternionYaw(t *testing.T) {
	q := Quaternion(RotationZ(90))
	half := math.Sqrt2 / 2
	assert.InDelta(t, 0, q.X, 1e-9)
	assert.InDelta(t, 0, q.Y, 1e-9)
	assert.InDelta(t, half, q.Z, 1e-9)
	assert.InDelta(t, half, q.W, 1e-9)

	neg := Quaternion(RotationZ(-90))
	assert.InDelta(t, -half, neg.Z, 1e-9, "negative yaw keeps its sign")
}

// rotationFromAxisAngle builds an orthonormal matrix with Rodrigues' formula.
func rotationFromAxisAngle(ax, ay, az, angle float64) Matrix3 {
	n := math.Sqrt(ax*ax + ay*ay + az*az)
	ax, ay, az = ax/n, ay/n, az/n
	s, c := math.Sincos(angle)
	t := 1 - c
	return Matrix3{
		{t*ax*ax + c, t*ax*ay - s*az, t*ax*az + s*ay},
		{t*ax*ay + s*az, t*ay*ay + c, t*ay*az - s*ax},
		{t*ax*az - s*ay, t*ay*az + s*ax, t*az*az + c},
	}
}

func TestQuaternionUnitNorm(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		m := rotationFromAxisAngle(rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64(), rng.Float64()*2*math.Pi)
		q := Quaternion(m)
		if math.Abs(q.Norm()-1) > 1e-6 {
			t.Fatalf("|q| = %v for %v", q.Norm(), m)
		}
	}
}

func TestQuaternionDegenerateMatrix(t *testing.T) {
	q := Quaternion(Matrix3{})
	assert.InDelta(t, 1, q.Norm(), 1e-9)
}

func TestFromMillimetresTransposesRotation(t *testing.T) {
	m := RotationZ(30)
	p := FromMillimetres(1000, -500, 250, m.ColumnMajor())

	assert.InDelta(t, 1.0, p.X, 1e-12)
	assert.InDelta(t, -0.5, p.Y, 1e-12)
	assert.InDelta(t, 0.25, p.Z, 1e-12)
	if assert.NotNil(t, p.Rotation) {
		assert.Equal(t, m, *p.Rotation)
	}
}

func TestPoseValidity(t *testing.T) {
	assert.True(t, NewPose(1, 2, 3).IsValid())
	assert.False(t, NewPose(1, math.NaN(), 3).IsValid())
}

func TestDistanceAndPolar(t *testing.T) {
	assert.InDelta(t, 5, NewPose(0, 0, 0).DistanceTo(NewPose(3, 4, 0)), 1e-12)
	x, y := PolarToCartesian(2, 90)
	assert.InDelta(t, 0, x, 1e-12)
	assert.InDelta(t, 2, y, 1e-12)
}

func TestPoseString(t *testing.T) {
	assert.Equal(t, "x:   1.00 y:   2.00 z:   3.00", NewPose(1, 2, 3).String())
	assert.Contains(t, NewPose(1, 2, 3).WithYaw(10).String(), "yaw:  10.00")
}

func TestHeading(t *testing.T) {
	assert.Equal(t, 0.0, NewPose(0, 0, 0).Heading())
	assert.InDelta(t, 30, NewPose(0, 0, 0).WithRotation(RotationZ(30)).Heading(), 1e-9)
	assert.Equal(t, 12.0, NewPose(0, 0, 0).WithRotation(RotationZ(30)).WithYaw(12).Heading(), "explicit yaw wins")
}
