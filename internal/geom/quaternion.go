package geom

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Quat is a rotation quaternion in the (x, y, z, w) order used by the
// vehicle's external pose command.
type Quat struct {
	X, Y, Z, W float64
}

// Norm returns the euclidean length of q.
func (q Quat) Norm() float64 {
	return quat.Abs(q.number())
}

func (q Quat) number() quat.Number {
	return quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z}
}

// Quaternion converts a rotation matrix with the trace-based formula and
// returns a unit quaternion with a non-negative scalar part.
//
// Each component magnitude comes from sqrt(1 ± m00 ± m11 ± m22)/2, and the
// signs of x, y and z are taken from the antisymmetric off-diagonal terms.
// Slightly negative radicands produced by rounding are treated as zero.
func Quaternion(m Matrix3) Quat {
	w := safeSqrt(1+m[0][0]+m[1][1]+m[2][2]) / 2
	x := safeSqrt(1+m[0][0]-m[1][1]-m[2][2]) / 2
	y := safeSqrt(1-m[0][0]+m[1][1]-m[2][2]) / 2
	z := safeSqrt(1-m[0][0]-m[1][1]+m[2][2]) / 2

	x = math.Copysign(x, m[2][1]-m[1][2])
	y = math.Copysign(y, m[0][2]-m[2][0])
	z = math.Copysign(z, m[1][0]-m[0][1])

	n := quat.Number{Real: w, Imag: x, Jmag: y, Kmag: z}
	l := quat.Abs(n)
	if l == 0 || math.IsNaN(l) {
		return Quat{W: 1}
	}
	n = quat.Scale(1/l, n)
	return Quat{X: n.Imag, Y: n.Jmag, Z: n.Kmag, W: n.Real}
}

func safeSqrt(v float64) float64 {
	if v < 0 {
		return 0
	}
	return math.Sqrt(v)
}
