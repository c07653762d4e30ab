package lightbake

import (
	"testing"

	"github.com/gekko3d/lightbake/gi/core"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyRectTiled_Addressing(t *testing.T) {
	// A 4x4 rect sourced at (62,62) straddles four virtual tiles.
	type hit struct {
		tile IntPoint
		src  int32
	}
	hits := map[int32]hit{}
	CopyRectTiled(
		IntPoint{X: 62, Y: 62},
		IntRect{Max: IntPoint{X: 4, Y: 4}},
		core.PhysicalTileSize,
		4,
		func(dst int32, tile IntPoint, src int32) {
			hits[dst] = hit{tile: tile, src: src}
		},
	)
	require.Len(t, hits, 16)

	// Virtual (62,62) sits in tile (0,0) at physical (64,64).
	assert.Equal(t, hit{tile: IntPoint{0, 0}, src: 64*core.PhysicalTileSize + 64}, hits[0])
	// One texel right is still the same tile.
	assert.Equal(t, hit{tile: IntPoint{0, 0}, src: 64*core.PhysicalTileSize + 65}, hits[1])
	// Virtual (64,62) crosses into tile (1,0); in-tile (0,62) maps to
	// physical (2,64) past the border.
	assert.Equal(t, hit{tile: IntPoint{1, 0}, src: 64*core.PhysicalTileSize + 2}, hits[2])
	// Virtual (65,65) lands in tile (1,1) at physical (3,3).
	assert.Equal(t, hit{tile: IntPoint{1, 1}, src: 3*core.PhysicalTileSize + 3}, hits[15])
}

// convergeBake ticks until the shared percentage reports completion.
func convergeBake(t *testing.T, s *Scene) {
	t.Helper()
	for i := 0; i < 64; i++ {
		s.BackgroundTick()
		s.FlushRenderingCommands()
		if s.Percentage() == 100 {
			return
		}
	}
	t.Fatalf("Bake did not converge, stuck at %d%%", s.Percentage())
}

func TestApplyFinishedLightmapsToWorld(t *testing.T) {
	world := testWorld()
	s := newTestScene(t, world)

	mesh := testMeshComponent(world, "Crate", mgl32.Vec3{})
	s.AddGeometryInstanceFromComponent(mesh)

	staticPoint := testPointLight("Static", mgl32.Vec3{}, 50)
	staticPoint.Color = core.LinearColor{R: 0.5}
	s.AddPointLight(staticPoint)

	stationary := testStationaryPointLight("Stationary", mgl32.Vec3{1, 0, 0}, 50, 0)
	stationary.Color = core.LinearColor{G: 0.25}
	s.AddPointLight(stationary)

	sun := &DirectionalLightComponent{
		lightComponentBase: lightComponentBase{
			Name: "Sun", Guid: uuid.New(),
			Color: core.LinearColor{B: 0.125}, Mobility: MobilityStatic, ShadowMapChannel: -1,
		},
		Direction: mgl32.Vec3{0, 0, -1},
	}
	s.AddDirectionalLight(sun)

	convergeBake(t, s)
	s.ApplyFinishedLightmapsToWorld()

	data := s.GetComponentLightmapData(mesh, 0)
	require.NotNil(t, data)
	require.NotNil(t, data.Lightmap)
	assert.EqualValues(t, 16, data.Lightmap.Width)
	assert.EqualValues(t, 16, data.Lightmap.Height)

	// Dequantized output reproduces the shaded gradient: the red channel
	// carries the light sum plus 0.001 per texel of X.
	for _, p := range []struct{ x, y int32 }{{0, 0}, {7, 3}, {15, 15}} {
		assert.InDelta(t, 0.5+0.001*float64(p.x), data.Lightmap.Dequantize(p.x, p.y, 0), 0.005)
		assert.InDelta(t, 0.25+0.001*float64(p.y), data.Lightmap.Dequantize(p.x, p.y, 1), 0.005)
		assert.InDelta(t, 0.125, data.Lightmap.Dequantize(p.x, p.y, 2), 0.005)
	}

	// 16x16 downsamples through 8x8 to 4x4.
	require.Len(t, data.Lightmap.Mips, 2)
	assert.Len(t, data.Lightmap.Mips[0], 8*8*4)
	assert.Len(t, data.Lightmap.Mips[1], 4*4*4)

	// Non-stationary lights are folded into the texture and listed by Guid.
	assert.ElementsMatch(t, []uuid.UUID{staticPoint.Guid, sun.Guid}, data.RelevantLightGuids)

	// The stationary light gets a distance field shadow map on its channel.
	sm := data.ShadowMaps[stationary.Guid]
	require.NotNil(t, sm)
	assert.EqualValues(t, 0, sm.Channel)
	require.Len(t, sm.Data, 16*16)
	for i, b := range sm.Data {
		if b != 255 {
			t.Fatalf("Expected full visibility in the shadow map, got %d at %d", b, i)
		}
	}

	// Stationary lights also register their channel assignment; lights that
	// never needed a channel have no entry.
	light := s.GetLightBuildData(stationary)
	require.NotNil(t, light)
	assert.EqualValues(t, 0, light.ShadowMapChannel)
	assert.Nil(t, s.GetLightBuildData(staticPoint))

	// Tile data is evicted once transcoded.
	lmID := s.staticMeshInstances.Get(s.registeredStaticMeshes[mesh]).LODLightmaps[0]
	lm := s.renderState.Lightmaps.Get(lmID)
	for coords, entry := range lm.TileStorage {
		for layer := range entry.CPUTextureData {
			if entry.CPUTextureData[layer].IsResident() {
				t.Fatalf("Expected tile %v layer %d to be evicted", coords, layer)
			}
		}
	}
}

func TestApply_SkipsUnconvergedLightmaps(t *testing.T) {
	world := testWorld()
	s := newTestScene(t, world)
	mesh := testMeshComponent(world, "Crate", mgl32.Vec3{})
	s.AddGeometryInstanceFromComponent(mesh)
	s.FlushRenderingCommands()

	// No ticks ran, nothing converged, nothing must be stored.
	s.ApplyFinishedLightmapsToWorld()
	assert.Nil(t, s.GetComponentLightmapData(mesh, 0))
}

func TestApply_InstanceGroupExtraction(t *testing.T) {
	world := testWorld()
	s := newTestScene(t, world)

	c := &InstancedStaticMeshComponent{
		StaticMeshComponent: *testMeshComponent(world, "Rocks", mgl32.Vec3{}),
		InstanceTransforms: []mgl32.Mat4{
			mgl32.Translate3D(0, 0, 0),
			mgl32.Translate3D(4, 0, 0),
			mgl32.Translate3D(0, 4, 0),
			mgl32.Translate3D(4, 4, 0),
		},
	}
	s.AddGeometryInstanceFromInstancedComponent(c)

	convergeBake(t, s)
	s.ApplyFinishedLightmapsToWorld()

	data := s.GetInstancedComponentLightmapData(c)
	require.NotNil(t, data)

	// Four instances of a 16x16 footprint pack into a 32x32 atlas, 2 per row.
	assert.EqualValues(t, 32, data.Lightmap.Width)
	require.Len(t, data.PerInstance, 4)

	inst := data.PerInstance[3]
	assert.EqualValues(t, 16, inst.Width)
	assert.Equal(t, [2]float32{14.0 / 32, 14.0 / 32}, inst.CoordinateScale)
	assert.Equal(t, [2]float32{17.0 / 32, 17.0 / 32}, inst.CoordinateBias)
	assert.Equal(t, data.Lightmap.Scale, inst.Scale)

	// Instance 3 occupies the lower right quadrant of the atlas.
	atlasOff := (16*32 + 16) * 4
	assert.Equal(t, data.Lightmap.Data[atlasOff:atlasOff+4], inst.Data[0:4])
}

func TestApply_LandscapeLookup(t *testing.T) {
	world := testWorld()
	s := newTestScene(t, world)

	landscape := &LandscapeComponent{
		Name: "Hills", Transform: mgl32.Ident4(),
		LocalBounds: testBox(mgl32.Vec3{}, 100), HeightmapKey: 3,
		LightmapResolution: 16, CastShadow: true, Level: world.Levels[0], MapBuildDataID: uuid.New(),
	}
	s.AddGeometryInstanceFromLandscapeComponent(landscape)

	convergeBake(t, s)
	s.ApplyFinishedLightmapsToWorld()

	data := s.GetLandscapeComponentLightmapData(landscape)
	require.NotNil(t, data)
	assert.EqualValues(t, 16, data.Lightmap.Width)

	// The stored data outlives the registration, the lookup does not.
	s.RemoveGeometryInstanceFromLandscapeComponent(landscape)
	s.FlushRenderingCommands()
	assert.Nil(t, s.GetLandscapeComponentLightmapData(landscape))
}

func TestApply_LightingScenarioRouting(t *testing.T) {
	persistent := &Level{Name: "Persistent", Visible: true}
	scenario := &Level{Name: "Night", Visible: true, IsLightingScenario: true}
	world := &World{Name: "TestWorld", Levels: []*Level{persistent, scenario}}
	s := newTestScene(t, world)

	mesh := testMeshComponent(world, "Crate", mgl32.Vec3{})
	mesh.Level = persistent
	s.AddGeometryInstanceFromComponent(mesh)

	convergeBake(t, s)
	s.ApplyFinishedLightmapsToWorld()

	require.NotNil(t, scenario.MapBuildData)
	assert.NotNil(t, scenario.MapBuildData.GetMeshBuildData(mesh.MapBuildDataID))
	if persistent.MapBuildData != nil {
		assert.Nil(t, persistent.MapBuildData.GetMeshBuildData(mesh.MapBuildDataID))
	}

	// The component lookup follows the same routing.
	assert.NotNil(t, s.GetComponentLightmapData(mesh, 0))
}

func TestApply_VolumetricLightmap(t *testing.T) {
	world := testWorld()
	s := newTestScene(t, world)

	s.AddGeometryInstanceFromComponent(testMeshComponent(world, "Crate", mgl32.Vec3{}))
	s.AddImportanceVolume(testBox(mgl32.Vec3{}, 100))
	s.GatherImportanceVolumes()

	convergeBake(t, s)
	s.ApplyFinishedLightmapsToWorld()

	storage := world.Levels[0].MapBuildData
	require.NotNil(t, storage)
	vol := storage.PrecomputedVolumetricLightmap()
	require.NotNil(t, vol)
	assert.Equal(t, [3]int32{1, 1, 1}, vol.BrickDimensions)
	assert.Len(t, vol.AmbientVectors, 5*5*5)
	assert.Equal(t, float32(-100), vol.Bounds.Min.X())

	// A second apply with no new volumetric data keeps it fresh, a bake that
	// produced none clears it.
	s.ApplyFinishedLightmapsToWorld()
	assert.NotNil(t, storage.PrecomputedVolumetricLightmap())
}
