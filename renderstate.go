package lightbake

import (
	"slices"

	"github.com/gekko3d/lightbake/gi/core"
	"github.com/gekko3d/lightbake/gi/gpu"
	"github.com/gekko3d/lightbake/gi/renderer"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// Render-thread mirrors of the registered geometry. Arrays stay linked 1:1
// with the build-side registries through the command stream: identical
// emplacement and removal order yields identical element IDs on both sides.

type StaticMeshInstanceRenderState struct {
	Name           string
	WorldBounds    core.Bounds
	Transform      mgl32.Mat4
	CastShadow     bool
	MapBuildDataID uuid.UUID
	LODLightmaps   []core.ElementID
}

type InstanceGroupRenderState struct {
	Name           string
	WorldBounds    core.Bounds
	Transform      mgl32.Mat4
	CastShadow     bool
	MapBuildDataID uuid.UUID
	NumInstances   int
	// Lightmap is the merged atlas holding all instances.
	Lightmap core.ElementID
}

type LandscapeRenderState struct {
	Name             string
	WorldBounds      core.Bounds
	Transform        mgl32.Mat4
	CastShadow       bool
	MapBuildDataID   uuid.UUID
	Lightmap         core.ElementID
	SharedBuffersKey int32
}

// LandscapeSharedBuffers is the render-side heightfield data shared between
// landscape components cut from the same heightmap.
type LandscapeSharedBuffers struct {
	Key      int32
	refCount int
}

type SceneRenderState struct {
	Settings core.BakeSettings
	log      Logger

	StaticMeshInstances core.EntityArray[StaticMeshInstanceRenderState]
	InstanceGroups      core.EntityArray[InstanceGroupRenderState]
	Landscapes          core.EntityArray[LandscapeRenderState]

	Lightmaps  core.EntityArray[core.LightmapRenderState]
	LightScene core.LightSceneRenderState

	LightmapRenderer   *renderer.LightmapRenderer
	VolumetricRenderer *renderer.VolumetricLightmapRenderer

	deviceManager *gpu.DeviceManager

	// Heightfield buffers scoped to this render state, refcounted per key.
	sharedBuffers map[int32]*LandscapeSharedBuffers
}

func newSceneRenderState(settings core.BakeSettings, log Logger) *SceneRenderState {
	return &SceneRenderState{
		Settings:      settings,
		log:           log,
		sharedBuffers: map[int32]*LandscapeSharedBuffers{},
	}
}

// RenderThreadInit builds the renderers. Runs as the first command on the
// render thread. GPU acquisition is best effort; without a device the bake
// runs entirely on the CPU path.
func (rs *SceneRenderState) RenderThreadInit(enableGPU bool) {
	var tilePool *gpu.TilePool
	var volumePool *gpu.VolumePool
	if enableGPU {
		dm, err := gpu.NewDeviceManager()
		if err != nil {
			rs.log.Warnf("no GPU device, baking on CPU: %v", err)
		} else {
			rs.deviceManager = dm
			tilePool, err = gpu.NewTilePool(dm)
			if err != nil {
				rs.log.Warnf("failed to create tile pool, baking on CPU: %v", err)
			} else {
				volumePool = gpu.NewVolumePool(dm)
			}
		}
	}

	rs.VolumetricRenderer = renderer.NewVolumetricLightmapRenderer(rs.Settings, volumePool)
	rs.LightmapRenderer = renderer.NewLightmapRenderer(
		rs.Settings, &rs.Lightmaps, &rs.LightScene, rs.VolumetricRenderer, tilePool)
}

// BackgroundTick advances the renderers by one slice of work.
func (rs *SceneRenderState) BackgroundTick() {
	rs.LightmapRenderer.BackgroundTick()
}

func (rs *SceneRenderState) Shutdown() {
	if rs.LightmapRenderer != nil && rs.LightmapRenderer.Pool != nil {
		rs.LightmapRenderer.Pool.Release()
	}
	if rs.deviceManager != nil {
		rs.deviceManager.Release()
		rs.deviceManager = nil
	}
}

// acquireSharedBuffers returns the buffers for the key, creating them on
// first use.
func (rs *SceneRenderState) acquireSharedBuffers(key int32) *LandscapeSharedBuffers {
	if b, ok := rs.sharedBuffers[key]; ok {
		b.refCount++
		return b
	}
	b := &LandscapeSharedBuffers{Key: key, refCount: 1}
	rs.sharedBuffers[key] = b
	return b
}

func (rs *SceneRenderState) releaseSharedBuffers(key int32) {
	b, ok := rs.sharedBuffers[key]
	if !ok {
		rs.log.Errorf("releasing unknown landscape shared buffers %d", key)
		return
	}
	b.refCount--
	if b.refCount <= 0 {
		delete(rs.sharedBuffers, key)
	}
}

func (rs *SceneRenderState) numSharedBuffers() int {
	return len(rs.sharedBuffers)
}

// Per-kind light list maintenance on a lightmap mirror. Stationary lights
// occupy one of four shadow mask channels.

type lightKind int

const (
	lightKindDirectional lightKind = iota
	lightKindPoint
	lightKindSpot
	lightKindRect
)

var lightKindNames = [...]string{"directional", "point", "spot", "rect"}

func (k lightKind) String() string { return lightKindNames[k] }

func relevantListFor(lm *core.LightmapRenderState, kind lightKind) *[]core.ElementID {
	switch kind {
	case lightKindDirectional:
		return &lm.RelevantDirectionalLights
	case lightKindPoint:
		return &lm.RelevantPointLights
	case lightKindSpot:
		return &lm.RelevantSpotLights
	default:
		return &lm.RelevantRectLights
	}
}

func (rs *SceneRenderState) addLightToLightmap(lmID core.ElementID, kind lightKind, lightID core.ElementID, stationary bool, channel int32) {
	lm := rs.Lightmaps.Get(lmID)
	if lm == nil {
		return
	}
	list := relevantListFor(lm, kind)
	if slices.Contains(*list, lightID) {
		return
	}
	*list = append(*list, lightID)
	if stationary && channel >= 0 && channel < 4 {
		lm.NumStationaryLightsPerShadowChannel[channel]++
	}
}

func (rs *SceneRenderState) removeLightFromLightmap(lmID core.ElementID, kind lightKind, lightID core.ElementID, stationary bool, channel int32) {
	lm := rs.Lightmaps.Get(lmID)
	if lm == nil {
		return
	}
	list := relevantListFor(lm, kind)
	idx := slices.Index(*list, lightID)
	if idx < 0 {
		return
	}
	*list = slices.Delete(*list, idx, idx+1)
	if stationary && channel >= 0 && channel < 4 {
		lm.NumStationaryLightsPerShadowChannel[channel]--
	}
}

// eachLightmapMirror visits every lightmap with its owning geometry bounds,
// the shape light registration needs for relevance updates.
func (rs *SceneRenderState) eachLightmapMirror(fn func(lmID core.ElementID, bounds core.Bounds)) {
	rs.StaticMeshInstances.Each(func(_ core.ElementID, g *StaticMeshInstanceRenderState) {
		for _, lmID := range g.LODLightmaps {
			fn(lmID, g.WorldBounds)
		}
	})
	rs.InstanceGroups.Each(func(_ core.ElementID, g *InstanceGroupRenderState) {
		fn(g.Lightmap, g.WorldBounds)
	})
	rs.Landscapes.Each(func(_ core.ElementID, g *LandscapeRenderState) {
		fn(g.Lightmap, g.WorldBounds)
	})
}
