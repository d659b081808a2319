// Package geom holds the replicated value types shared by several kinds.
package geom

import (
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/protocol/wire"
)

type Vector3 struct {
	X, Y, Z float32
}

// Encode writes X, Y, Z in that order.
func (v Vector3) Encode(w *wire.Writer) {
	w.F32(v.X)
	w.F32(v.Y)
	w.F32(v.Z)
}

func DecodeVector3(r *wire.Reader) Vector3 {
	return Vector3{X: r.F32(), Y: r.F32(), Z: r.F32()}
}

func (v Vector3) Add(o Vector3) Vector3 {
	return Vector3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Matrix4x4 is row-major.
type Matrix4x4 [16]float32

func Identity() Matrix4x4 {
	return Matrix4x4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Translation builds a matrix that moves points by v.
func Translation(v Vector3) Matrix4x4 {
	m := Identity()
	m[3], m[7], m[11] = v.X, v.Y, v.Z
	return m
}

// Encode writes the sixteen elements row by row.
func (m Matrix4x4) Encode(w *wire.Writer) {
	for _, f := range m {
		w.F32(f)
	}
}

func DecodeMatrix4x4(r *wire.Reader) Matrix4x4 {
	var m Matrix4x4
	for i := range m {
		m[i] = r.F32()
	}
	return m
}

// Transform applies m to the point v.
func (m Matrix4x4) Transform(v Vector3) Vector3 {
	return Vector3{
		X: m[0]*v.X + m[1]*v.Y + m[2]*v.Z + m[3],
		Y: m[4]*v.X + m[5]*v.Y + m[6]*v.Z + m[7],
		Z: m[8]*v.X + m[9]*v.Y + m[10]*v.Z + m[11],
	}
}
