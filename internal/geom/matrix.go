package geom

import (
	"math"

	"golang.org/x/image/math/f64"
)

// Vec3 and Mat3 wrap the x/image types so methods can hang off them.
type Vec3 f64.Vec3
type Mat3 f64.Mat3

func identity() Mat3 { return Mat3{1, 0, 0, 0, 1, 0, 0, 0, 1} }

func (a Mat3) Mult(b Mat3) Mat3 {
	var m Mat3
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m[3*r+c] = a[3*r+0]*b[3*0+c] + a[3*r+1]*b[3*1+c] + a[3*r+2]*b[3*2+c]
		}
	}
	return m
}

func (m Mat3) Apply(v Vec3) Vec3 {
	return Vec3{
		m[3*0+0]*v[0] + m[3*0+1]*v[1] + m[3*0+2]*v[2],
		m[3*1+0]*v[0] + m[3*1+1]*v[1] + m[3*1+2]*v[2],
		m[3*2+0]*v[0] + m[3*2+1]*v[1] + m[3*2+2]*v[2],
	}
}

// Transpose returns mᵀ, the inverse of a rotation.
func (m Mat3) Transpose() Mat3 {
	return Mat3{
		m[0], m[3], m[6],
		m[1], m[4], m[7],
		m[2], m[5], m[8],
	}
}

func (v Vec3) Dot(o Vec3) float64 { return v[0]*o[0] + v[1]*o[1] + v[2]*o[2] }

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]} }

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]} }

func (v Vec3) Scale(s float64) Vec3 { return Vec3{v[0] * s, v[1] * s, v[2] * s} }

func (v Vec3) Norm() float64 { return math.Sqrt(v.Dot(v)) }

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

// yaw turns +Z towards +X.
func yawMatrix(deg float64) Mat3 {
	s, c := math.Sincos(radians(deg))
	return Mat3{
		c, 0, s,
		0, 1, 0,
		-s, 0, c,
	}
}

// pitch turns +Z towards -Y, which is up in image coordinates.
func pitchMatrix(deg float64) Mat3 {
	s, c := math.Sincos(radians(deg))
	return Mat3{
		1, 0, 0,
		0, c, -s,
		0, s, c,
	}
}

func rollMatrix(deg float64) Mat3 {
	s, c := math.Sincos(radians(deg))
	return Mat3{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	}
}

// Rotation returns the camera to world rotation for the given angles.
func Rotation(yaw, pitch, roll float64) Mat3 {
	return yawMatrix(yaw).Mult(pitchMatrix(pitch)).Mult(rollMatrix(roll))
}
