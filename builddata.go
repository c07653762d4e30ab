package lightbake

import (
	"github.com/gekko3d/lightbake/gi/core"
	"github.com/google/uuid"
)

// QuantizedLightmap is the final baked texture for one component: RGBA8
// texels plus the per-coefficient dequantization transform
// texel * Scale + Add.
type QuantizedLightmap struct {
	Width  int32
	Height int32
	Data   []byte
	Scale  [4]float32
	Add    [4]float32
	// Mips holds the downsampled chain below mip 0.
	Mips [][]byte

	CoordinateScale [2]float32
	CoordinateBias  [2]float32
}

// SignedDistanceFieldShadowMap is the baked shadow mask for one stationary
// light, one byte per texel.
type SignedDistanceFieldShadowMap struct {
	Width   int32
	Height  int32
	Channel int32
	Data    []byte
}

// MeshMapBuildData is what a component looks up at runtime.
type MeshMapBuildData struct {
	Lightmap           *QuantizedLightmap
	ShadowMaps         map[uuid.UUID]*SignedDistanceFieldShadowMap
	RelevantLightGuids []uuid.UUID
	// PerInstance holds the extracted per-instance lightmaps for instance
	// groups, indexed by render order.
	PerInstance []*QuantizedLightmap
}

type LightBuildData struct {
	Guid             uuid.UUID
	ShadowMapChannel int32
}

type VolumetricLightmapBuildData struct {
	Bounds          core.Bounds
	BrickDimensions [3]int32
	AmbientVectors  []core.LinearColor
	SHCoefficients  []core.LinearColor
}

// MapBuildDataRegistry is the host-side store of baked lighting for one
// level.
type MapBuildDataRegistry struct {
	meshData   map[uuid.UUID]*MeshMapBuildData
	lightData  map[uuid.UUID]*LightBuildData
	volumetric *VolumetricLightmapBuildData
}

func NewMapBuildDataRegistry() *MapBuildDataRegistry {
	return &MapBuildDataRegistry{
		meshData:  map[uuid.UUID]*MeshMapBuildData{},
		lightData: map[uuid.UUID]*LightBuildData{},
	}
}

// AllocateMeshBuildData replaces any previous entry for the id.
func (r *MapBuildDataRegistry) AllocateMeshBuildData(id uuid.UUID) *MeshMapBuildData {
	d := &MeshMapBuildData{ShadowMaps: map[uuid.UUID]*SignedDistanceFieldShadowMap{}}
	r.meshData[id] = d
	return d
}

func (r *MapBuildDataRegistry) GetMeshBuildData(id uuid.UUID) *MeshMapBuildData {
	return r.meshData[id]
}

func (r *MapBuildDataRegistry) GetLightBuildData(guid uuid.UUID) *LightBuildData {
	return r.lightData[guid]
}

func (r *MapBuildDataRegistry) FindOrAllocateLightBuildData(guid uuid.UUID, channel int32) *LightBuildData {
	if d, ok := r.lightData[guid]; ok {
		return d
	}
	d := &LightBuildData{Guid: guid, ShadowMapChannel: channel}
	r.lightData[guid] = d
	return d
}

func (r *MapBuildDataRegistry) SetPrecomputedVolumetricLightmap(d *VolumetricLightmapBuildData) {
	r.volumetric = d
}

func (r *MapBuildDataRegistry) PrecomputedVolumetricLightmap() *VolumetricLightmapBuildData {
	return r.volumetric
}

// InvalidateStaticLighting drops everything previously baked into the level.
func (r *MapBuildDataRegistry) InvalidateStaticLighting() {
	r.meshData = map[uuid.UUID]*MeshMapBuildData{}
	r.lightData = map[uuid.UUID]*LightBuildData{}
	r.volumetric = nil
}

// Level and World are thin host stand-ins; baking only needs visibility,
// lighting scenario flags and the build data registry.
type Level struct {
	Name               string
	Visible            bool
	IsLightingScenario bool
	MapBuildData       *MapBuildDataRegistry
}

func (l *Level) GetOrCreateMapBuildData() *MapBuildDataRegistry {
	if l.MapBuildData == nil {
		l.MapBuildData = NewMapBuildDataRegistry()
	}
	return l.MapBuildData
}

type World struct {
	Name   string
	Levels []*Level
}

// LightingScenario returns the active lighting scenario level, if any.
// Build data for every component is routed there when set.
func (w *World) LightingScenario() *Level {
	if w == nil {
		return nil
	}
	for _, l := range w.Levels {
		if l.IsLightingScenario && l.Visible {
			return l
		}
	}
	return nil
}

// StorageLevel resolves where a component's build data lives.
func (w *World) StorageLevel(componentLevel *Level) *Level {
	if scenario := w.LightingScenario(); scenario != nil {
		return scenario
	}
	return componentLevel
}
