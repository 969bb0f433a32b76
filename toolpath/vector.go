package toolpath

import (
	"fmt"
	"math"

	iFmt "github.com/fornellas/cncsender/internal/fmt"
)

// Vector is a position or offset in machine space.
type Vector struct {
	X float64
	Y float64
	Z float64
}

func (v Vector) Add(o Vector) Vector {
	return Vector{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

func (v Vector) Sub(o Vector) Vector {
	return Vector{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

func (v Vector) Scale(f float64) Vector {
	return Vector{X: v.X * f, Y: v.Y * f, Z: v.Z * f}
}

func (v Vector) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Lerp interpolates from v (t=0) to o (t=1).
func (v Vector) Lerp(o Vector, t float64) Vector {
	return v.Scale(1 - t).Add(o.Scale(t))
}

func (v Vector) String() string {
	return fmt.Sprintf("X%s Y%s Z%s", iFmt.SprintFloat(v.X, 4), iFmt.SprintFloat(v.Y, 4), iFmt.SprintFloat(v.Z, 4))
}

// swizzle maps v so that the given plane lands on the XY components, with the remaining axis on Z.
func swizzle(v Vector, p Plane) Vector {
	switch p {
	case PlaneXY:
		return v
	case PlaneXZ:
		return Vector{X: v.Z, Y: v.X, Z: v.Y}
	case PlaneYZ:
		return Vector{X: v.Y, Y: v.Z, Z: v.X}
	}
	panic(fmt.Sprintf("bug: unexpected plane: %d", p))
}

// unswizzle is the inverse of swizzle.
func unswizzle(v Vector, p Plane) Vector {
	switch p {
	case PlaneXY:
		return v
	case PlaneXZ:
		return Vector{X: v.Y, Y: v.Z, Z: v.X}
	case PlaneYZ:
		return Vector{X: v.Z, Y: v.X, Z: v.Y}
	}
	panic(fmt.Sprintf("bug: unexpected plane: %d", p))
}
