package core

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func boxAt(center mgl32.Vec3, halfSize float32) Bounds {
	e := mgl32.Vec3{halfSize, halfSize, halfSize}
	return Bounds{Min: center.Sub(e), Max: center.Add(e)}
}

func TestDirectionalLight_AffectsEverything(t *testing.T) {
	l := DirectionalLightRenderState{Direction: mgl32.Vec3{0, 0, -1}}
	if !l.AffectsBounds(boxAt(mgl32.Vec3{1e6, -1e6, 0}, 1)) {
		t.Errorf("Expected directional light to affect any bounds")
	}
}

func TestPointLight_AffectsBounds(t *testing.T) {
	l := PointLightRenderState{Position: mgl32.Vec3{0, 0, 0}, AttenuationRadius: 10}

	if !l.AffectsBounds(boxAt(mgl32.Vec3{5, 0, 0}, 1)) {
		t.Errorf("Expected box inside the radius to be affected")
	}
	if !l.AffectsBounds(boxAt(mgl32.Vec3{10.5, 0, 0}, 1)) {
		t.Errorf("Expected box touching the radius to be affected")
	}
	if l.AffectsBounds(boxAt(mgl32.Vec3{20, 0, 0}, 1)) {
		t.Errorf("Expected box outside the radius to be unaffected")
	}
}

func TestSpotLight_AffectsBounds(t *testing.T) {
	// Cone looking down +X with a 45 degree outer angle.
	l := SpotLightRenderState{
		Position:          mgl32.Vec3{0, 0, 0},
		Direction:         mgl32.Vec3{1, 0, 0},
		AttenuationRadius: 100,
		CosOuterConeAngle: 0.7071,
	}

	if !l.AffectsBounds(boxAt(mgl32.Vec3{50, 0, 0}, 1)) {
		t.Errorf("Expected box on the cone axis to be affected")
	}
	if !l.AffectsBounds(boxAt(mgl32.Vec3{50, 30, 0}, 1)) {
		t.Errorf("Expected box inside the cone to be affected")
	}
	if l.AffectsBounds(boxAt(mgl32.Vec3{-50, 0, 0}, 1)) {
		t.Errorf("Expected box behind the light to be unaffected")
	}
	if l.AffectsBounds(boxAt(mgl32.Vec3{5, 90, 0}, 1)) {
		t.Errorf("Expected box far off axis to be unaffected")
	}
	if l.AffectsBounds(boxAt(mgl32.Vec3{500, 0, 0}, 1)) {
		t.Errorf("Expected box beyond the attenuation radius to be unaffected")
	}
}

func TestRectLight_AffectsBounds(t *testing.T) {
	l := RectLightRenderState{Position: mgl32.Vec3{0, 0, 0}, AttenuationRadius: 5}
	if !l.AffectsBounds(boxAt(mgl32.Vec3{3, 0, 0}, 1)) {
		t.Errorf("Expected nearby box to be affected")
	}
	if l.AffectsBounds(boxAt(mgl32.Vec3{10, 0, 0}, 1)) {
		t.Errorf("Expected distant box to be unaffected")
	}
}

func TestBounds_UnionAndExpand(t *testing.T) {
	a := boxAt(mgl32.Vec3{0, 0, 0}, 1)
	b := boxAt(mgl32.Vec3{10, 0, 0}, 1)
	u := a.Union(b)
	if u.Min.X() != -1 || u.Max.X() != 11 {
		t.Errorf("Expected union spanning [-1,11] on X, got [%v,%v]", u.Min.X(), u.Max.X())
	}

	e := a.ExpandBy(2)
	if e.Min.X() != -3 || e.Max.Y() != 3 {
		t.Errorf("Expected expanded box, got %+v", e)
	}

	if !EmptyBounds().IsEmpty() {
		t.Errorf("Expected the empty box to report empty")
	}
	if EmptyBounds().Union(a) != a {
		t.Errorf("Expected union with the empty box to be identity")
	}
}
