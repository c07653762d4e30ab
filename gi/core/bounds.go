package core

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Bounds is a world-space AABB.
type Bounds struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

const boundsInf = float32(1e20)

// EmptyBounds returns an inverted box that unions cleanly.
func EmptyBounds() Bounds {
	return Bounds{
		Min: mgl32.Vec3{boundsInf, boundsInf, boundsInf},
		Max: mgl32.Vec3{-boundsInf, -boundsInf, -boundsInf},
	}
}

func (b Bounds) IsEmpty() bool {
	return b.Min.X() > b.Max.X() || b.Min.Y() > b.Max.Y() || b.Min.Z() > b.Max.Z()
}

func (b Bounds) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Extent is the half-size of the box.
func (b Bounds) Extent() mgl32.Vec3 {
	return b.Max.Sub(b.Min).Mul(0.5)
}

func (b Bounds) Union(o Bounds) Bounds {
	return Bounds{
		Min: mgl32.Vec3{min(b.Min.X(), o.Min.X()), min(b.Min.Y(), o.Min.Y()), min(b.Min.Z(), o.Min.Z())},
		Max: mgl32.Vec3{max(b.Max.X(), o.Max.X()), max(b.Max.Y(), o.Max.Y()), max(b.Max.Z(), o.Max.Z())},
	}
}

func (b Bounds) ExpandBy(margin float32) Bounds {
	m := mgl32.Vec3{margin, margin, margin}
	return Bounds{Min: b.Min.Sub(m), Max: b.Max.Add(m)}
}

func (b Bounds) Intersects(o Bounds) bool {
	if b.IsEmpty() || o.IsEmpty() {
		return false
	}
	return b.Min.X() <= o.Max.X() && b.Max.X() >= o.Min.X() &&
		b.Min.Y() <= o.Max.Y() && b.Max.Y() >= o.Min.Y() &&
		b.Min.Z() <= o.Max.Z() && b.Max.Z() >= o.Min.Z()
}

func (b Bounds) Contains(p mgl32.Vec3) bool {
	return p.X() >= b.Min.X() && p.X() <= b.Max.X() &&
		p.Y() >= b.Min.Y() && p.Y() <= b.Max.Y() &&
		p.Z() >= b.Min.Z() && p.Z() <= b.Max.Z()
}

// DistanceSqToPoint is the squared distance from p to the box surface, zero
// when p is inside.
func (b Bounds) DistanceSqToPoint(p mgl32.Vec3) float32 {
	var d float32
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i] {
			d += (b.Min[i] - p[i]) * (b.Min[i] - p[i])
		} else if p[i] > b.Max[i] {
			d += (p[i] - b.Max[i]) * (p[i] - b.Max[i])
		}
	}
	return d
}

// TransformedBounds re-derives a conservative AABB for local bounds under a
// full transform, via the eight corners.
func TransformedBounds(local Bounds, objectToWorld mgl32.Mat4) Bounds {
	corners := [8]mgl32.Vec3{
		{local.Min.X(), local.Min.Y(), local.Min.Z()},
		{local.Max.X(), local.Min.Y(), local.Min.Z()},
		{local.Min.X(), local.Max.Y(), local.Min.Z()},
		{local.Max.X(), local.Max.Y(), local.Min.Z()},
		{local.Min.X(), local.Min.Y(), local.Max.Z()},
		{local.Max.X(), local.Min.Y(), local.Max.Z()},
		{local.Min.X(), local.Max.Y(), local.Max.Z()},
		{local.Max.X(), local.Max.Y(), local.Max.Z()},
	}
	out := EmptyBounds()
	for _, c := range corners {
		wc := objectToWorld.Mul4x1(c.Vec4(1.0)).Vec3()
		out = out.Union(Bounds{Min: wc, Max: wc})
	}
	return out
}

// LinearColor is a four-channel float texel.
type LinearColor struct {
	R, G, B, A float32
}

func (c LinearColor) Add(o LinearColor) LinearColor {
	return LinearColor{c.R + o.R, c.G + o.G, c.B + o.B, c.A + o.A}
}

func (c LinearColor) Scale(s float32) LinearColor {
	return LinearColor{c.R * s, c.G * s, c.B * s, c.A * s}
}
