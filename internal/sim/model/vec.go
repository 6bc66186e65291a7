package model

import "math"

// Vec3 is a world-space position. Y is the vertical axis; the scan grid
// walks the X/Z plane.
type Vec3 struct {
	X float64
	Y float64
	Z float64
}

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }

func Distance(a, b Vec3) float64 {
	d := a.Sub(b)
	return math.Sqrt(d.X*d.X + d.Y*d.Y + d.Z*d.Z)
}
