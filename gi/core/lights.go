package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// Render-thread snapshots of registered lights. These hold values copied at
// registration time, never pointers back into build-thread state.

type DirectionalLightRenderState struct {
	Guid             uuid.UUID
	Color            LinearColor
	Direction        mgl32.Vec3
	LightSourceAngle float32
	ShadowMapChannel int32
	Stationary       bool
}

// Directional lights reach everything.
func (l *DirectionalLightRenderState) AffectsBounds(Bounds) bool {
	return true
}

type PointLightRenderState struct {
	Guid              uuid.UUID
	Color             LinearColor
	Position          mgl32.Vec3
	AttenuationRadius float32
	SourceRadius      float32
	ShadowMapChannel  int32
	Stationary        bool
}

func (l *PointLightRenderState) AffectsBounds(b Bounds) bool {
	return b.DistanceSqToPoint(l.Position) <= l.AttenuationRadius*l.AttenuationRadius
}

type SpotLightRenderState struct {
	Guid              uuid.UUID
	Color             LinearColor
	Position          mgl32.Vec3
	Direction         mgl32.Vec3
	AttenuationRadius float32
	SourceRadius      float32
	CosOuterConeAngle float32
	CosInnerConeAngle float32
	ShadowMapChannel  int32
	Stationary        bool
}

func (l *SpotLightRenderState) AffectsBounds(b Bounds) bool {
	if b.DistanceSqToPoint(l.Position) > l.AttenuationRadius*l.AttenuationRadius {
		return false
	}
	center := b.Center()
	radius := b.Extent().Len()
	return sphereIntersectsCone(center, radius, l.Position, l.Direction, l.AttenuationRadius, l.CosOuterConeAngle)
}

type RectLightRenderState struct {
	Guid              uuid.UUID
	Color             LinearColor
	Position          mgl32.Vec3
	Direction         mgl32.Vec3
	AttenuationRadius float32
	SourceWidth       float32
	SourceHeight      float32
	BarnDoorAngle     float32
	BarnDoorLength    float32
	ShadowMapChannel  int32
	Stationary        bool
}

func (l *RectLightRenderState) AffectsBounds(b Bounds) bool {
	return b.DistanceSqToPoint(l.Position) <= l.AttenuationRadius*l.AttenuationRadius
}

// SkyLightRenderState is the optional sky light singleton on the render side.
type SkyLightRenderState struct {
	Guid              uuid.UUID
	Color             LinearColor
	CubemapResolution int32
	ProcessedRadiance []LinearColor
	IrradianceSH      [9]LinearColor
	CastShadows       bool
}

// LightSceneRenderState holds the four typed light arrays plus the sky
// light. The arrays stay in lockstep with their build-thread counterparts.
type LightSceneRenderState struct {
	DirectionalLights EntityArray[DirectionalLightRenderState]
	PointLights       EntityArray[PointLightRenderState]
	SpotLights        EntityArray[SpotLightRenderState]
	RectLights        EntityArray[RectLightRenderState]
	SkyLight          *SkyLightRenderState
}

func sphereIntersectsCone(center mgl32.Vec3, radius float32, coneOrigin, coneDir mgl32.Vec3, coneRange, cosOuter float32) bool {
	sinOuter := float32(math.Sqrt(float64(max(0, 1-cosOuter*cosOuter))))
	v := center.Sub(coneOrigin)
	vLenSq := v.Dot(v)
	axialDist := v.Dot(coneDir)
	if axialDist > coneRange+radius {
		return false
	}
	if axialDist < -radius {
		return false
	}
	lateralSq := max(0, vLenSq-axialDist*axialDist)
	lateral := float32(math.Sqrt(float64(lateralSq)))
	distToCone := cosOuter*lateral - sinOuter*axialDist
	return distToCone <= radius
}
