package lightbake

import (
	"fmt"
	"math"

	"github.com/gekko3d/lightbake/gi/core"
	"github.com/gekko3d/lightbake/gi/renderer"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// Build-side geometry records. The component pointer stays build-thread
// private; everything the render thread needs is snapshotted into the
// mirror command.

type StaticMeshInstance struct {
	Component    *StaticMeshComponent
	WorldBounds  core.Bounds
	LODLightmaps []core.ElementID
}

type InstanceGroup struct {
	Component    *InstancedStaticMeshComponent
	WorldBounds  core.Bounds
	NumInstances int
	Lightmap     core.ElementID
	// Per-instance lightmap footprint inside the merged atlas.
	InstanceWidth  int32
	InstanceHeight int32
}

type Landscape struct {
	Component   *LandscapeComponent
	WorldBounds core.Bounds
	Lightmap    core.ElementID
}

// Lightmap is the build-side allocation record mirrored into a
// core.LightmapRenderState with the same element ID.
type Lightmap struct {
	Name   string
	Width  int32
	Height int32
}

// Scene is the build-thread registry of everything participating in the
// bake. All mutation methods run on the build thread; the render-thread
// mirror is kept in sync through the command queue only.
type Scene struct {
	log      Logger
	settings core.BakeSettings
	world    *World

	queue       *RenderQueue
	renderState *SceneRenderState

	// Written once during construction, after the init command flushed.
	// Only atomics are read through it from the build thread afterwards.
	renderer *renderer.LightmapRenderer

	staticMeshInstances core.EntityArray[StaticMeshInstance]
	instanceGroups      core.EntityArray[InstanceGroup]
	landscapes          core.EntityArray[Landscape]
	lightmaps           core.EntityArray[Lightmap]

	registeredStaticMeshes   map[*StaticMeshComponent]core.ElementID
	registeredInstanceGroups map[*InstancedStaticMeshComponent]core.ElementID
	registeredLandscapes     map[*LandscapeComponent]core.ElementID

	lights lightRegistry

	importanceVolumes []core.Bounds

	// needsVoxelization is set by every geometry mutation and consumed by
	// the next BackgroundTick.
	needsVoxelization bool
	appliedRevision   int64

	progressSink func(percent int32)
}

func NewScene(world *World, settings core.BakeSettings, log Logger, enableGPU bool) *Scene {
	if log == nil {
		log = NewNopLogger()
	}
	s := &Scene{
		log:                      log,
		settings:                 settings,
		world:                    world,
		registeredStaticMeshes:   map[*StaticMeshComponent]core.ElementID{},
		registeredInstanceGroups: map[*InstancedStaticMeshComponent]core.ElementID{},
		registeredLandscapes:     map[*LandscapeComponent]core.ElementID{},
	}
	s.lights.init()
	s.renderState = newSceneRenderState(settings, log)
	s.queue = NewRenderQueue()
	go s.queue.Run(s.renderState)

	s.queue.Enqueue(func(rs *SceneRenderState) {
		rs.RenderThreadInit(enableGPU)
	})
	s.queue.Flush()
	s.renderer = s.renderState.LightmapRenderer
	return s
}

// Dispose drains the queue and stops the render goroutine.
func (s *Scene) Dispose() {
	s.queue.Enqueue(func(rs *SceneRenderState) {
		rs.Shutdown()
	})
	s.queue.Close()
}

// FlushRenderingCommands blocks until the render thread has executed every
// command enqueued so far.
func (s *Scene) FlushRenderingCommands() {
	s.queue.Flush()
}

// Percentage is safe from any thread.
func (s *Scene) Percentage() int32 {
	return s.renderer.Percentage()
}

// Revision is safe from any thread.
func (s *Scene) Revision() int64 {
	return s.renderer.RevisionShared()
}

// SetProgressSink registers the host callback receiving bake progress on
// every BackgroundTick.
func (s *Scene) SetProgressSink(sink func(percent int32)) {
	s.progressSink = sink
}

// BackgroundTick pumps one slice of bake work. Build thread. Geometry
// mutations since the last tick re-resolve the importance volumes, and a
// full bake that reached 100% applies its results to the world.
func (s *Scene) BackgroundTick() {
	if s.needsVoxelization {
		s.needsVoxelization = false
		s.GatherImportanceVolumes()
	}
	if s.progressSink != nil {
		s.progressSink(s.Percentage())
	}
	s.queue.Enqueue(func(rs *SceneRenderState) {
		rs.BackgroundTick()
	})
	if s.settings.Mode == core.BakeModeFullBake && s.Percentage() == 100 && s.Revision() != s.appliedRevision {
		s.appliedRevision = s.Revision()
		s.ApplyFinishedLightmapsToWorld()
	}
}

// lightmapSizeFor pads the component resolution up to the alignment the
// tile pipeline expects.
func lightmapSizeFor(resolution int32) (int32, int32) {
	if resolution < 4 {
		resolution = 4
	}
	size := (resolution + 3) / 4 * 4
	return size, size
}

// allocateLightmap reserves the build-side element ID. The mirror
// emplacement happens inside the caller's command, in the same order, so
// the render-side ID comes out identical.
func (s *Scene) allocateLightmap(name string, width, height int32) core.ElementID {
	return s.lightmaps.Emplace(Lightmap{Name: name, Width: width, Height: height})
}

// AddGeometryInstanceFromComponent registers a static mesh component.
// Duplicate registration is a no-op.
func (s *Scene) AddGeometryInstanceFromComponent(c *StaticMeshComponent) {
	if _, ok := s.registeredStaticMeshes[c]; ok {
		s.log.Warnf("static mesh component %s is already registered", c.Name)
		return
	}
	if c.Mesh == nil || len(c.Mesh.LODs) == 0 {
		s.log.Warnf("static mesh component %s has no renderable mesh, skipping", c.Name)
		return
	}
	for lod := range c.Mesh.LODs {
		if !c.Mesh.LODs[lod].HasLightmapUVs {
			s.log.Warnf("static mesh component %s LOD %d has no lightmap UVs, skipping", c.Name, lod)
			return
		}
	}

	bounds := c.WorldBounds()
	width, height := lightmapSizeFor(c.LightmapResolution)

	type lightmapDesc struct {
		id            core.ElementID
		name          string
		width, height int32
	}
	instance := StaticMeshInstance{Component: c, WorldBounds: bounds}
	descs := make([]lightmapDesc, 0, len(c.Mesh.LODs))
	for lod := range c.Mesh.LODs {
		name := fmt.Sprintf("Lightmap for %s LOD %d", c.Name, lod)
		id := s.allocateLightmap(name, width, height)
		instance.LODLightmaps = append(instance.LODLightmaps, id)
		descs = append(descs, lightmapDesc{id: id, name: name, width: width, height: height})
	}

	id := s.staticMeshInstances.Emplace(instance)
	s.registeredStaticMeshes[c] = id
	s.needsVoxelization = true

	mirror := StaticMeshInstanceRenderState{
		Name:           c.Name,
		WorldBounds:    bounds,
		Transform:      c.Transform,
		CastShadow:     c.CastShadow,
		MapBuildDataID: c.MapBuildDataID,
		LODLightmaps:   append([]core.ElementID(nil), instance.LODLightmaps...),
	}
	s.queue.Enqueue(func(rs *SceneRenderState) {
		for _, d := range descs {
			mirrorID := rs.Lightmaps.Emplace(*core.NewLightmapRenderState(d.name, d.width, d.height))
			if mirrorID != d.id {
				rs.log.Errorf("lightmap mirror id %v diverged from %v", mirrorID, d.id)
			}
		}
		mirrorID := rs.StaticMeshInstances.Emplace(mirror)
		if mirrorID != id {
			rs.log.Errorf("static mesh mirror id %v diverged from %v", mirrorID, id)
		}
		for _, lmID := range mirror.LODLightmaps {
			rs.attachRelevantLights(lmID, mirror.WorldBounds)
		}
		rs.LightmapRenderer.BumpRevision()
	})
}

// RemoveGeometryInstanceFromComponent unregisters a static mesh component.
// Unknown components are a no-op.
func (s *Scene) RemoveGeometryInstanceFromComponent(c *StaticMeshComponent) {
	id, ok := s.registeredStaticMeshes[c]
	if !ok {
		s.log.Warnf("static mesh component %s is not registered", c.Name)
		return
	}
	instance := s.staticMeshInstances.Get(id)
	lightmapIDs := append([]core.ElementID(nil), instance.LODLightmaps...)
	for _, lmID := range lightmapIDs {
		s.lightmaps.RemoveAt(lmID)
	}
	s.staticMeshInstances.RemoveAt(id)
	delete(s.registeredStaticMeshes, c)
	s.needsVoxelization = true

	s.queue.Enqueue(func(rs *SceneRenderState) {
		for _, lmID := range lightmapIDs {
			rs.Lightmaps.RemoveAt(lmID)
		}
		rs.StaticMeshInstances.RemoveAt(id)
		rs.LightmapRenderer.BumpRevision()
	})
}

// AddGeometryInstanceFromInstancedComponent registers an instanced static
// mesh component as one instance group with a merged lightmap atlas.
func (s *Scene) AddGeometryInstanceFromInstancedComponent(c *InstancedStaticMeshComponent) {
	if _, ok := s.registeredInstanceGroups[c]; ok {
		s.log.Warnf("instanced component %s is already registered", c.Name)
		return
	}
	if len(c.InstanceTransforms) == 0 {
		s.log.Warnf("instanced component %s has no instances, skipping", c.Name)
		return
	}

	numInstances := len(c.InstanceTransforms)
	instanceW, instanceH := lightmapSizeFor(c.LightmapResolution)
	perRow := int32(math.Ceil(math.Sqrt(float64(numInstances))))
	atlasW, atlasH := instanceW*perRow, instanceH*perRow

	bounds := core.EmptyBounds()
	for _, t := range c.InstanceTransforms {
		bounds = bounds.Union(core.TransformedBounds(c.LocalBounds, c.Transform.Mul4(t)))
	}

	name := fmt.Sprintf("Lightmap for %s", c.Name)
	lmID := s.allocateLightmap(name, atlasW, atlasH)
	id := s.instanceGroups.Emplace(InstanceGroup{
		Component:      c,
		WorldBounds:    bounds,
		NumInstances:   numInstances,
		Lightmap:       lmID,
		InstanceWidth:  instanceW,
		InstanceHeight: instanceH,
	})
	s.registeredInstanceGroups[c] = id
	s.needsVoxelization = true

	mirror := InstanceGroupRenderState{
		Name:           c.Name,
		WorldBounds:    bounds,
		Transform:      c.Transform,
		CastShadow:     c.CastShadow,
		MapBuildDataID: c.MapBuildDataID,
		NumInstances:   numInstances,
		Lightmap:       lmID,
	}
	s.queue.Enqueue(func(rs *SceneRenderState) {
		rs.Lightmaps.Emplace(*core.NewLightmapRenderState(name, atlasW, atlasH))
		rs.InstanceGroups.Emplace(mirror)
		rs.attachRelevantLights(mirror.Lightmap, mirror.WorldBounds)
		rs.LightmapRenderer.BumpRevision()
	})
}

func (s *Scene) RemoveGeometryInstanceFromInstancedComponent(c *InstancedStaticMeshComponent) {
	id, ok := s.registeredInstanceGroups[c]
	if !ok {
		s.log.Warnf("instanced component %s is not registered", c.Name)
		return
	}
	group := s.instanceGroups.Get(id)
	lmID := group.Lightmap
	s.lightmaps.RemoveAt(lmID)
	s.instanceGroups.RemoveAt(id)
	delete(s.registeredInstanceGroups, c)
	s.needsVoxelization = true

	s.queue.Enqueue(func(rs *SceneRenderState) {
		rs.Lightmaps.RemoveAt(lmID)
		rs.InstanceGroups.RemoveAt(id)
		rs.LightmapRenderer.BumpRevision()
	})
}

// AddGeometryInstanceFromLandscapeComponent registers a landscape component.
// Components cut from the same heightmap share render-side buffers.
func (s *Scene) AddGeometryInstanceFromLandscapeComponent(c *LandscapeComponent) {
	if _, ok := s.registeredLandscapes[c]; ok {
		s.log.Warnf("landscape component %s is already registered", c.Name)
		return
	}

	bounds := c.WorldBounds()
	width, height := lightmapSizeFor(c.LightmapResolution)
	name := fmt.Sprintf("Lightmap for %s", c.Name)
	lmID := s.allocateLightmap(name, width, height)
	id := s.landscapes.Emplace(Landscape{Component: c, WorldBounds: bounds, Lightmap: lmID})
	s.registeredLandscapes[c] = id
	s.needsVoxelization = true

	mirror := LandscapeRenderState{
		Name:             c.Name,
		WorldBounds:      bounds,
		Transform:        c.Transform,
		CastShadow:       c.CastShadow,
		MapBuildDataID:   c.MapBuildDataID,
		Lightmap:         lmID,
		SharedBuffersKey: c.HeightmapKey,
	}
	s.queue.Enqueue(func(rs *SceneRenderState) {
		rs.Lightmaps.Emplace(*core.NewLightmapRenderState(name, width, height))
		rs.acquireSharedBuffers(mirror.SharedBuffersKey)
		rs.Landscapes.Emplace(mirror)
		rs.attachRelevantLights(mirror.Lightmap, mirror.WorldBounds)
		rs.LightmapRenderer.BumpRevision()
	})
}

func (s *Scene) RemoveGeometryInstanceFromLandscapeComponent(c *LandscapeComponent) {
	id, ok := s.registeredLandscapes[c]
	if !ok {
		s.log.Warnf("landscape component %s is not registered", c.Name)
		return
	}
	landscape := s.landscapes.Get(id)
	lmID := landscape.Lightmap
	key := c.HeightmapKey
	s.lightmaps.RemoveAt(lmID)
	s.landscapes.RemoveAt(id)
	delete(s.registeredLandscapes, c)
	s.needsVoxelization = true

	s.queue.Enqueue(func(rs *SceneRenderState) {
		rs.Lightmaps.RemoveAt(lmID)
		rs.Landscapes.RemoveAt(id)
		rs.releaseSharedBuffers(key)
		rs.LightmapRenderer.BumpRevision()
	})
}

// AddImportanceVolume registers an explicit refinement volume.
func (s *Scene) AddImportanceVolume(bounds core.Bounds) {
	s.importanceVolumes = append(s.importanceVolumes, bounds)
}

// GatherImportanceVolumes resolves the refinement region and pushes it to
// the volumetric renderer. With no explicit volumes the region is
// synthesized from shadow-casting geometry.
func (s *Scene) GatherImportanceVolumes() {
	volumes := append([]core.Bounds(nil), s.importanceVolumes...)
	combined := core.EmptyBounds()
	for _, v := range volumes {
		combined = combined.Union(v)
	}

	if combined.IsEmpty() {
		sceneBounds := core.EmptyBounds()
		s.staticMeshInstances.Each(func(_ core.ElementID, g *StaticMeshInstance) {
			if g.Component.CastShadow {
				sceneBounds = sceneBounds.Union(g.WorldBounds)
			}
		})
		s.instanceGroups.Each(func(_ core.ElementID, g *InstanceGroup) {
			if g.Component.CastShadow {
				sceneBounds = sceneBounds.Union(g.WorldBounds)
			}
		})
		s.landscapes.Each(func(_ core.ElementID, g *Landscape) {
			if g.Component.CastShadow {
				sceneBounds = sceneBounds.Union(g.WorldBounds)
			}
		})
		if sceneBounds.IsEmpty() {
			s.log.Warnf("no importance volumes and no shadow-casting geometry, volumetric lightmap will be empty")
			return
		}
		extent := sceneBounds.Extent()
		minExtent := s.settings.MinImportanceVolumeExtent
		if extent.X() < minExtent && extent.Y() < minExtent && extent.Z() < minExtent {
			s.log.Warnf("scene is smaller than the minimum importance volume, using a %v-sized volume around it", minExtent)
			center := sceneBounds.Center()
			m := mgl32.Vec3{minExtent, minExtent, minExtent}
			combined = core.Bounds{Min: center.Sub(m), Max: center.Add(m)}
		} else {
			s.log.Infof("no importance volumes defined, refining expanded scene bounds")
			combined = sceneBounds.ExpandBy(s.settings.ImportanceVolumeExpandBy)
		}
	}

	detail := s.settings.VolumetricDetailCellSize
	s.queue.Enqueue(func(rs *SceneRenderState) {
		rs.VolumetricRenderer.SetImportanceVolumes(combined, volumes, detail)
	})
}

// RemoveAllComponents unregisters everything in registration order.
func (s *Scene) RemoveAllComponents() {
	var staticMeshes []*StaticMeshComponent
	s.staticMeshInstances.Each(func(_ core.ElementID, g *StaticMeshInstance) {
		staticMeshes = append(staticMeshes, g.Component)
	})
	for _, c := range staticMeshes {
		s.RemoveGeometryInstanceFromComponent(c)
	}

	var instanced []*InstancedStaticMeshComponent
	s.instanceGroups.Each(func(_ core.ElementID, g *InstanceGroup) {
		instanced = append(instanced, g.Component)
	})
	for _, c := range instanced {
		s.RemoveGeometryInstanceFromInstancedComponent(c)
	}

	var landscapes []*LandscapeComponent
	s.landscapes.Each(func(_ core.ElementID, g *Landscape) {
		landscapes = append(landscapes, g.Component)
	})
	for _, c := range landscapes {
		s.RemoveGeometryInstanceFromLandscapeComponent(c)
	}

	s.removeAllLights()
}

// GetComponentLightmapData returns the baked build data for a registered
// static mesh component LOD, or nil when the component is unregistered, the
// LOD does not exist, or finalization has not stored data yet.
func (s *Scene) GetComponentLightmapData(c *StaticMeshComponent, lodIndex int) *MeshMapBuildData {
	id, ok := s.registeredStaticMeshes[c]
	if !ok {
		return nil
	}
	instance := s.staticMeshInstances.Get(id)
	if instance == nil || lodIndex < 0 || lodIndex >= len(instance.LODLightmaps) {
		return nil
	}
	return s.meshBuildData(c.Level, c.MapBuildDataID)
}

func (s *Scene) GetInstancedComponentLightmapData(c *InstancedStaticMeshComponent) *MeshMapBuildData {
	if _, ok := s.registeredInstanceGroups[c]; !ok {
		return nil
	}
	return s.meshBuildData(c.Level, c.MapBuildDataID)
}

func (s *Scene) GetLandscapeComponentLightmapData(c *LandscapeComponent) *MeshMapBuildData {
	if _, ok := s.registeredLandscapes[c]; !ok {
		return nil
	}
	return s.meshBuildData(c.Level, c.MapBuildDataID)
}

func (s *Scene) meshBuildData(componentLevel *Level, id uuid.UUID) *MeshMapBuildData {
	level := s.world.StorageLevel(componentLevel)
	if level == nil || level.MapBuildData == nil {
		return nil
	}
	return level.MapBuildData.GetMeshBuildData(id)
}

// GetLightBuildData returns the baked channel assignment for a registered
// light component, or nil when the light is unregistered or not stationary.
func (s *Scene) GetLightBuildData(component any) *LightBuildData {
	var guid uuid.UUID
	switch c := component.(type) {
	case *DirectionalLightComponent:
		if _, ok := s.lights.registeredDirectional[c]; !ok {
			return nil
		}
		guid = c.Guid
	case *PointLightComponent:
		if _, ok := s.lights.registeredPoint[c]; !ok {
			return nil
		}
		guid = c.Guid
	case *SpotLightComponent:
		if _, ok := s.lights.registeredSpot[c]; !ok {
			return nil
		}
		guid = c.Guid
	case *RectLightComponent:
		if _, ok := s.lights.registeredRect[c]; !ok {
			return nil
		}
		guid = c.Guid
	case *SkyLightComponent:
		if s.lights.skyLight != c {
			return nil
		}
		guid = c.Guid
	default:
		return nil
	}
	for _, level := range s.world.Levels {
		if level.MapBuildData == nil {
			continue
		}
		if d := level.MapBuildData.GetLightBuildData(guid); d != nil {
			return d
		}
	}
	return nil
}
