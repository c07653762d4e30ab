package lightbake

import (
	"fmt"
	"testing"

	"github.com/gekko3d/lightbake/gi/core"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWorld() *World {
	return &World{
		Name:   "TestWorld",
		Levels: []*Level{{Name: "Persistent", Visible: true}},
	}
}

func testSceneSettings() core.BakeSettings {
	s := core.DefaultBakeSettings()
	s.GISamples = 8
	s.PassesPerTick = 8
	s.TilesPerTick = 1024
	return s
}

func newTestScene(t *testing.T, world *World) *Scene {
	t.Helper()
	s := NewScene(world, testSceneSettings(), NewNopLogger(), false)
	t.Cleanup(s.Dispose)
	return s
}

func testBox(center mgl32.Vec3, halfSize float32) core.Bounds {
	e := mgl32.Vec3{halfSize, halfSize, halfSize}
	return core.Bounds{Min: center.Sub(e), Max: center.Add(e)}
}

func testMeshComponent(world *World, name string, center mgl32.Vec3) *StaticMeshComponent {
	return &StaticMeshComponent{
		Name: name,
		Mesh: &StaticMesh{
			Name: name + "Mesh",
			LODs: []MeshLOD{{NumVertices: 8, NumTriangles: 12, HasLightmapUVs: true}},
		},
		Transform:          mgl32.Translate3D(center.X(), center.Y(), center.Z()),
		LocalBounds:        testBox(mgl32.Vec3{}, 1),
		LightmapResolution: 16,
		CastShadow:         true,
		Level:              world.Levels[0],
		MapBuildDataID:     uuid.New(),
	}
}

func testPointLight(name string, pos mgl32.Vec3, radius float32) *PointLightComponent {
	return &PointLightComponent{
		lightComponentBase: lightComponentBase{
			Name:             name,
			Guid:             uuid.New(),
			Color:            core.LinearColor{R: 1, G: 1, B: 1, A: 1},
			Mobility:         MobilityStatic,
			ShadowMapChannel: -1,
		},
		Position:          pos,
		AttenuationRadius: radius,
	}
}

func testStationaryPointLight(name string, pos mgl32.Vec3, radius float32, channel int32) *PointLightComponent {
	l := testPointLight(name, pos, radius)
	l.Mobility = MobilityStationary
	l.CastShadows = true
	l.CastStaticShadows = true
	l.ShadowMapChannel = channel
	return l
}

func TestScene_DuplicateGeometryRegistrationIsIdempotent(t *testing.T) {
	world := testWorld()
	s := newTestScene(t, world)
	mesh := testMeshComponent(world, "Crate", mgl32.Vec3{})

	s.AddGeometryInstanceFromComponent(mesh)
	s.AddGeometryInstanceFromComponent(mesh)
	s.FlushRenderingCommands()

	assert.Equal(t, 1, s.staticMeshInstances.Len())
	assert.Equal(t, 1, s.renderState.StaticMeshInstances.Len())
	assert.Equal(t, 1, s.renderState.Lightmaps.Len())
}

func TestScene_RemoveUnknownComponentIsNoop(t *testing.T) {
	world := testWorld()
	s := newTestScene(t, world)
	mesh := testMeshComponent(world, "Crate", mgl32.Vec3{})

	s.RemoveGeometryInstanceFromComponent(mesh)
	s.FlushRenderingCommands()

	assert.Equal(t, 0, s.renderState.StaticMeshInstances.Len())
	assert.EqualValues(t, 0, s.Revision())
}

func TestScene_MeshWithoutLightmapUVsIsSkipped(t *testing.T) {
	world := testWorld()
	s := newTestScene(t, world)
	mesh := testMeshComponent(world, "Bad", mgl32.Vec3{})
	mesh.Mesh.LODs[0].HasLightmapUVs = false

	s.AddGeometryInstanceFromComponent(mesh)
	s.FlushRenderingCommands()

	assert.Equal(t, 0, s.staticMeshInstances.Len())
	assert.Equal(t, 0, s.renderState.Lightmaps.Len())
}

func TestScene_RevisionIsMonotonic(t *testing.T) {
	world := testWorld()
	s := newTestScene(t, world)
	mesh := testMeshComponent(world, "Crate", mgl32.Vec3{})
	light := testPointLight("Lamp", mgl32.Vec3{}, 50)

	var seen []int64
	record := func() {
		s.FlushRenderingCommands()
		seen = append(seen, s.Revision())
	}

	s.AddGeometryInstanceFromComponent(mesh)
	record()
	s.AddPointLight(light)
	record()
	s.RemovePointLight(light)
	record()
	s.RemoveGeometryInstanceFromComponent(mesh)
	record()

	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("Expected strictly increasing revisions, got %v", seen)
		}
	}
}

func TestScene_StationaryLightNeedsShadowMapChannel(t *testing.T) {
	world := testWorld()
	s := newTestScene(t, world)

	light := testStationaryPointLight("Pending", mgl32.Vec3{}, 50, -1)
	light.ShadowMapChannel = -1

	s.AddPointLight(light)
	s.FlushRenderingCommands()

	assert.Equal(t, 0, s.lights.points.Len())
	assert.Equal(t, 0, s.renderState.LightScene.PointLights.Len())
	assert.EqualValues(t, 0, s.Revision())

	// Once the host assigned the channel, registration goes through.
	light.ShadowMapChannel = 1
	s.AddPointLight(light)
	s.FlushRenderingCommands()
	assert.Equal(t, 1, s.renderState.LightScene.PointLights.Len())
}

func TestScene_LightParametersAreSnapshotted(t *testing.T) {
	world := testWorld()
	s := newTestScene(t, world)

	light := testPointLight("Lamp", mgl32.Vec3{1, 2, 3}, 50)
	s.AddPointLight(light)
	s.FlushRenderingCommands()

	// Mutations after registration must not leak into the mirror.
	light.Position = mgl32.Vec3{100, 100, 100}
	light.Color = core.LinearColor{R: 9}
	light.AttenuationRadius = 1
	s.FlushRenderingCommands()

	var states []core.PointLightRenderState
	s.renderState.LightScene.PointLights.Each(func(_ core.ElementID, l *core.PointLightRenderState) {
		states = append(states, *l)
	})
	require.Len(t, states, 1)
	assert.Equal(t, mgl32.Vec3{1, 2, 3}, states[0].Position)
	assert.Equal(t, core.LinearColor{R: 1, G: 1, B: 1, A: 1}, states[0].Color)
	assert.Equal(t, float32(50), states[0].AttenuationRadius)
}

func TestScene_RelevanceFiltersByBounds(t *testing.T) {
	world := testWorld()
	s := newTestScene(t, world)

	mesh := testMeshComponent(world, "Crate", mgl32.Vec3{})
	s.AddGeometryInstanceFromComponent(mesh)

	near := testPointLight("Near", mgl32.Vec3{5, 0, 0}, 50)
	far := testPointLight("Far", mgl32.Vec3{500, 0, 0}, 10)
	s.AddPointLight(near)
	s.AddPointLight(far)
	s.FlushRenderingCommands()

	lm := s.renderState.Lightmaps.Get(s.staticMeshInstances.Get(s.registeredStaticMeshes[mesh]).LODLightmaps[0])
	require.NotNil(t, lm)
	assert.Len(t, lm.RelevantPointLights, 1)

	// Geometry registered second sees the same relevance.
	mesh2 := testMeshComponent(world, "Crate2", mgl32.Vec3{2, 0, 0})
	s.AddGeometryInstanceFromComponent(mesh2)
	s.FlushRenderingCommands()
	lm2 := s.renderState.Lightmaps.Get(s.staticMeshInstances.Get(s.registeredStaticMeshes[mesh2]).LODLightmaps[0])
	require.NotNil(t, lm2)
	assert.Len(t, lm2.RelevantPointLights, 1)
}

func TestScene_RemoveAddSymmetry(t *testing.T) {
	world := testWorld()
	s := newTestScene(t, world)

	mesh := testMeshComponent(world, "Crate", mgl32.Vec3{})
	s.AddGeometryInstanceFromComponent(mesh)
	light := testStationaryPointLight("Lamp", mgl32.Vec3{3, 0, 0}, 50, 2)
	s.AddPointLight(light)
	s.FlushRenderingCommands()

	lmID := s.staticMeshInstances.Get(s.registeredStaticMeshes[mesh]).LODLightmaps[0]
	lm := s.renderState.Lightmaps.Get(lmID)
	require.Len(t, lm.RelevantPointLights, 1)
	assert.EqualValues(t, 1, lm.NumStationaryLightsPerShadowChannel[2])

	s.RemovePointLight(light)
	s.FlushRenderingCommands()
	assert.Empty(t, lm.RelevantPointLights)
	assert.EqualValues(t, 0, lm.NumStationaryLightsPerShadowChannel[2])

	s.AddPointLight(light)
	s.FlushRenderingCommands()
	assert.Len(t, lm.RelevantPointLights, 1)
	assert.EqualValues(t, 1, lm.NumStationaryLightsPerShadowChannel[2])
}

func TestScene_SkyLightSingleton(t *testing.T) {
	world := testWorld()
	s := newTestScene(t, world)

	unprocessed := &SkyLightComponent{Name: "Raw", Guid: uuid.New()}
	s.AddSkyLight(unprocessed)
	s.FlushRenderingCommands()
	assert.Nil(t, s.renderState.LightScene.SkyLight)

	first := &SkyLightComponent{
		Name:              "First",
		Guid:              uuid.New(),
		CubemapResolution: 16,
		ProcessedRadiance: make([]core.LinearColor, 16*16*6),
	}
	second := &SkyLightComponent{
		Name:              "Second",
		Guid:              uuid.New(),
		CubemapResolution: 16,
		ProcessedRadiance: make([]core.LinearColor, 16*16*6),
	}

	s.AddSkyLight(first)
	s.FlushRenderingCommands()
	require.NotNil(t, s.renderState.LightScene.SkyLight)
	assert.Equal(t, first.Guid, s.renderState.LightScene.SkyLight.Guid)

	s.AddSkyLight(second)
	s.FlushRenderingCommands()
	require.NotNil(t, s.renderState.LightScene.SkyLight)
	assert.Equal(t, second.Guid, s.renderState.LightScene.SkyLight.Guid)

	// Removing the evicted sky light is a no-op.
	s.RemoveSkyLight(first)
	s.FlushRenderingCommands()
	assert.NotNil(t, s.renderState.LightScene.SkyLight)

	s.RemoveSkyLight(second)
	s.FlushRenderingCommands()
	assert.Nil(t, s.renderState.LightScene.SkyLight)
}

func TestScene_LandscapeSharedBuffers(t *testing.T) {
	world := testWorld()
	s := newTestScene(t, world)

	a := &LandscapeComponent{
		Name: "LandscapeA", Transform: mgl32.Ident4(),
		LocalBounds: testBox(mgl32.Vec3{}, 100), HeightmapKey: 7,
		LightmapResolution: 16, CastShadow: true, Level: world.Levels[0], MapBuildDataID: uuid.New(),
	}
	b := &LandscapeComponent{
		Name: "LandscapeB", Transform: mgl32.Ident4(),
		LocalBounds: testBox(mgl32.Vec3{200, 0, 0}, 100), HeightmapKey: 7,
		LightmapResolution: 16, CastShadow: true, Level: world.Levels[0], MapBuildDataID: uuid.New(),
	}

	s.AddGeometryInstanceFromLandscapeComponent(a)
	s.AddGeometryInstanceFromLandscapeComponent(b)
	s.FlushRenderingCommands()
	assert.Equal(t, 1, s.renderState.numSharedBuffers())

	s.RemoveGeometryInstanceFromLandscapeComponent(a)
	s.FlushRenderingCommands()
	assert.Equal(t, 1, s.renderState.numSharedBuffers())

	s.RemoveGeometryInstanceFromLandscapeComponent(b)
	s.FlushRenderingCommands()
	assert.Equal(t, 0, s.renderState.numSharedBuffers())
}

func TestScene_RemoveAllComponents(t *testing.T) {
	world := testWorld()
	s := newTestScene(t, world)

	for i := 0; i < 3; i++ {
		s.AddGeometryInstanceFromComponent(testMeshComponent(world, fmt.Sprintf("Crate%d", i), mgl32.Vec3{float32(i) * 4, 0, 0}))
	}
	s.AddPointLight(testPointLight("Lamp", mgl32.Vec3{}, 50))
	sky := &SkyLightComponent{
		Name: "Sky", Guid: uuid.New(),
		CubemapResolution: 16, ProcessedRadiance: make([]core.LinearColor, 16*16*6),
	}
	s.AddSkyLight(sky)
	s.FlushRenderingCommands()

	s.RemoveAllComponents()
	s.FlushRenderingCommands()

	assert.Equal(t, 0, s.staticMeshInstances.Len())
	assert.Equal(t, 0, s.renderState.StaticMeshInstances.Len())
	assert.Equal(t, 0, s.renderState.Lightmaps.Len())
	assert.Equal(t, 0, s.renderState.LightScene.PointLights.Len())
	assert.Nil(t, s.renderState.LightScene.SkyLight)
}

// mirrorTopology is the comparable shape of the render-side scene graph.
type mirrorTopology struct {
	Meshes    int
	Lightmaps int
	Lights    int
	Relevant  map[string][]core.ElementID
	Channels  map[string][4]int32
}

func snapshotTopology(rs *SceneRenderState) mirrorTopology {
	top := mirrorTopology{
		Meshes:    rs.StaticMeshInstances.Len(),
		Lightmaps: rs.Lightmaps.Len(),
		Lights:    rs.LightScene.PointLights.Len() + rs.LightScene.DirectionalLights.Len(),
		Relevant:  map[string][]core.ElementID{},
		Channels:  map[string][4]int32{},
	}
	rs.Lightmaps.Each(func(_ core.ElementID, lm *core.LightmapRenderState) {
		top.Relevant[lm.Name] = append(append([]core.ElementID{}, lm.RelevantDirectionalLights...), lm.RelevantPointLights...)
		top.Channels[lm.Name] = lm.NumStationaryLightsPerShadowChannel
	})
	return top
}

func TestScene_CommandOrderIsomorphism(t *testing.T) {
	// The same operation sequence must produce the same mirror topology
	// whether commands execute one by one or as a single batch.
	run := func(flushEach bool) mirrorTopology {
		world := testWorld()
		s := newTestScene(t, world)
		step := func() {
			if flushEach {
				s.FlushRenderingCommands()
			}
		}

		mesh := testMeshComponent(world, "Crate", mgl32.Vec3{})
		light := testStationaryPointLight("Lamp", mgl32.Vec3{3, 0, 0}, 50, 0)
		dir := &DirectionalLightComponent{
			lightComponentBase: lightComponentBase{
				Name: "Sun", Guid: uuid.New(),
				Color: core.LinearColor{R: 1, A: 1}, Mobility: MobilityStatic, ShadowMapChannel: -1,
			},
			Direction: mgl32.Vec3{0, 0, -1},
		}

		s.AddDirectionalLight(dir)
		step()
		s.AddGeometryInstanceFromComponent(mesh)
		step()
		s.AddPointLight(light)
		step()
		s.RemoveDirectionalLight(dir)
		step()
		s.AddDirectionalLight(dir)
		step()
		mesh2 := testMeshComponent(world, "Crate2", mgl32.Vec3{1, 0, 0})
		s.AddGeometryInstanceFromComponent(mesh2)
		step()

		s.FlushRenderingCommands()
		return snapshotTopology(s.renderState)
	}

	assert.Equal(t, run(true), run(false))
}

func TestScene_GatherImportanceVolumes(t *testing.T) {
	world := testWorld()
	s := newTestScene(t, world)

	// Explicit volumes win.
	s.AddImportanceVolume(testBox(mgl32.Vec3{}, 100))
	s.AddImportanceVolume(testBox(mgl32.Vec3{300, 0, 0}, 50))
	s.GatherImportanceVolumes()
	s.FlushRenderingCommands()

	vol := s.renderState.VolumetricRenderer
	assert.Equal(t, float32(-100), vol.CombinedImportanceVolume.Min.X())
	assert.Equal(t, float32(350), vol.CombinedImportanceVolume.Max.X())
	assert.Len(t, vol.ImportanceVolumes, 2)
	assert.Greater(t, vol.NumTotalBricks(), 0)
}

func TestScene_GatherImportanceVolumes_SynthesizedFromGeometry(t *testing.T) {
	world := testWorld()
	s := newTestScene(t, world)

	// A tiny scene falls back to the minimum extent volume.
	s.AddGeometryInstanceFromComponent(testMeshComponent(world, "Crate", mgl32.Vec3{}))
	s.GatherImportanceVolumes()
	s.FlushRenderingCommands()

	vol := s.renderState.VolumetricRenderer
	minExtent := s.settings.MinImportanceVolumeExtent
	assert.Equal(t, -minExtent, vol.CombinedImportanceVolume.Min.X())
	assert.Equal(t, minExtent, vol.CombinedImportanceVolume.Max.X())
	assert.Empty(t, vol.ImportanceVolumes)
}

func TestScene_BackgroundTickDrivesBakeToCompletion(t *testing.T) {
	world := testWorld()
	s := newTestScene(t, world)
	mesh := testMeshComponent(world, "Crate", mgl32.Vec3{})
	s.AddGeometryInstanceFromComponent(mesh)

	// Ticking alone must resolve the importance volumes, converge the bake
	// and store the results; no explicit gather or apply calls.
	for i := 0; i < 64 && s.GetComponentLightmapData(mesh, 0) == nil; i++ {
		s.BackgroundTick()
		s.FlushRenderingCommands()
	}

	require.NotNil(t, s.GetComponentLightmapData(mesh, 0))
	assert.EqualValues(t, 100, s.Percentage())
	assert.Greater(t, s.renderState.VolumetricRenderer.NumTotalBricks(), 0)
	require.NotNil(t, world.Levels[0].MapBuildData)
	assert.NotNil(t, world.Levels[0].MapBuildData.PrecomputedVolumetricLightmap())
}

func TestScene_LightmapDataLookupIsGated(t *testing.T) {
	world := testWorld()
	s := newTestScene(t, world)

	mesh := testMeshComponent(world, "Crate", mgl32.Vec3{})
	assert.Nil(t, s.GetComponentLightmapData(mesh, 0))

	s.AddGeometryInstanceFromComponent(mesh)
	s.FlushRenderingCommands()
	// Registered but nothing baked yet, and only existing LODs resolve.
	assert.Nil(t, s.GetComponentLightmapData(mesh, 0))
	assert.Nil(t, s.GetComponentLightmapData(mesh, 1))
	assert.Nil(t, s.GetComponentLightmapData(mesh, -1))

	instanced := &InstancedStaticMeshComponent{
		StaticMeshComponent: *testMeshComponent(world, "Rocks", mgl32.Vec3{}),
		InstanceTransforms:  []mgl32.Mat4{mgl32.Ident4()},
	}
	assert.Nil(t, s.GetInstancedComponentLightmapData(instanced))

	landscape := &LandscapeComponent{
		Name: "Hills", Transform: mgl32.Ident4(),
		LocalBounds: testBox(mgl32.Vec3{}, 100), HeightmapKey: 1,
		LightmapResolution: 16, Level: world.Levels[0], MapBuildDataID: uuid.New(),
	}
	assert.Nil(t, s.GetLandscapeComponentLightmapData(landscape))

	lamp := testPointLight("Lamp", mgl32.Vec3{}, 50)
	assert.Nil(t, s.GetLightBuildData(lamp))
	s.AddPointLight(lamp)
	s.FlushRenderingCommands()
	// Registered, but static lights never store a channel assignment.
	assert.Nil(t, s.GetLightBuildData(lamp))
	assert.Nil(t, s.GetLightBuildData(&SkyLightComponent{Name: "Sky", Guid: uuid.New()}))
}

func TestScene_ProgressSink(t *testing.T) {
	world := testWorld()
	s := newTestScene(t, world)
	s.AddGeometryInstanceFromComponent(testMeshComponent(world, "Crate", mgl32.Vec3{}))

	var reported []int32
	s.SetProgressSink(func(p int32) { reported = append(reported, p) })

	for i := 0; i < 3; i++ {
		s.BackgroundTick()
		s.FlushRenderingCommands()
	}
	require.NotEmpty(t, reported)
	for _, p := range reported {
		assert.GreaterOrEqual(t, p, int32(0))
		assert.LessOrEqual(t, p, int32(100))
	}
}
