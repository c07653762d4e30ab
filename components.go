package lightbake

import (
	"github.com/gekko3d/lightbake/gi/core"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// Host-side component types. The scene registries key on component pointers;
// all values needed for baking are snapshotted at registration time.

type Mobility int

const (
	MobilityStatic Mobility = iota
	MobilityStationary
	MobilityMovable
)

type StaticMesh struct {
	Name string
	LODs []MeshLOD
}

type MeshLOD struct {
	NumVertices             int
	NumTriangles            int
	LightmapCoordinateIndex int
	HasLightmapUVs          bool
}

type StaticMeshComponent struct {
	Name               string
	Mesh               *StaticMesh
	Transform          mgl32.Mat4
	LocalBounds        core.Bounds
	LightmapResolution int32
	CastShadow         bool
	Level              *Level
	MapBuildDataID     uuid.UUID
}

func (c *StaticMeshComponent) WorldBounds() core.Bounds {
	return core.TransformedBounds(c.LocalBounds, c.Transform)
}

type InstancedStaticMeshComponent struct {
	StaticMeshComponent
	InstanceTransforms []mgl32.Mat4
}

type LandscapeComponent struct {
	Name                string
	Transform           mgl32.Mat4
	LocalBounds         core.Bounds
	SectionBaseX        int32
	SectionBaseY        int32
	ComponentSizeQuads  int32
	SubsectionSizeQuads int32
	NumSubsections      int32
	// HeightmapKey identifies the heightfield source shared between
	// neighbouring components.
	HeightmapKey       int32
	LightmapResolution int32
	CastShadow         bool
	Level              *Level
	MapBuildDataID     uuid.UUID
}

func (c *LandscapeComponent) WorldBounds() core.Bounds {
	return core.TransformedBounds(c.LocalBounds, c.Transform)
}

// Light components. Guid identifies the light in build data across bakes.

type lightComponentBase struct {
	Name              string
	Guid              uuid.UUID
	Color             core.LinearColor
	Mobility          Mobility
	CastShadows       bool
	CastStaticShadows bool
	// ShadowMapChannel is assigned by the host once the light is fully
	// spawned; -1 means unassigned.
	ShadowMapChannel int32
}

// IsStationary is the classification used at registration: the light casts
// precomputed shadows but keeps its direct lighting dynamic.
func (l *lightComponentBase) IsStationary() bool {
	return l.CastShadows && l.CastStaticShadows && l.Mobility != MobilityStatic
}

type DirectionalLightComponent struct {
	lightComponentBase
	Direction        mgl32.Vec3
	LightSourceAngle float32
}

type PointLightComponent struct {
	lightComponentBase
	Position          mgl32.Vec3
	AttenuationRadius float32
	SourceRadius      float32
}

type SpotLightComponent struct {
	lightComponentBase
	Position          mgl32.Vec3
	Direction         mgl32.Vec3
	AttenuationRadius float32
	SourceRadius      float32
	InnerConeAngle    float32
	OuterConeAngle    float32
}

type RectLightComponent struct {
	lightComponentBase
	Position          mgl32.Vec3
	Direction         mgl32.Vec3
	AttenuationRadius float32
	SourceWidth       float32
	SourceHeight      float32
	BarnDoorAngle     float32
	BarnDoorLength    float32
}

type SkyLightComponent struct {
	Name              string
	Guid              uuid.UUID
	Color             core.LinearColor
	CastShadows       bool
	CubemapResolution int32
	// ProcessedRadiance is the filtered cubemap; nil until the host has
	// processed the source cubemap.
	ProcessedRadiance []core.LinearColor
	IrradianceSH      [9]core.LinearColor
}

func (c *SkyLightComponent) HasProcessedCubemap() bool {
	return len(c.ProcessedRadiance) > 0
}

// ImportanceVolume bounds the region the bake refines.
type ImportanceVolume struct {
	Bounds core.Bounds
}
