package renderer

import (
	"fmt"
	"sync/atomic"

	"github.com/gekko3d/lightbake/gi/core"
	"github.com/gekko3d/lightbake/gi/gpu"
	"github.com/go-gl/mathgl/mgl32"
)

// TileRequest identifies one tile of one lightmap.
type TileRequest struct {
	Lightmap core.ElementID
	Coords   core.TileVirtualCoordinates
}

// LightmapRenderer drives progressive accumulation over every allocated
// lightmap tile. It owns the scene revision counter and publishes the bake
// percentage; those two values are the only state the build thread reads
// directly, through atomics.
type LightmapRenderer struct {
	Settings core.BakeSettings

	Lightmaps  *core.EntityArray[core.LightmapRenderState]
	LightScene *core.LightSceneRenderState
	Volumetric *VolumetricLightmapRenderer
	IC         *IrradianceCache

	Pool *gpu.TilePool

	FrameNumber int

	revision       int
	revisionAtomic atomic.Int64
	percentage     atomic.Int32

	// Bake-what-you-see: only requested tiles are scheduled.
	recordedTileRequests map[TileRequest]struct{}
	recordingEnabled     bool
}

func NewLightmapRenderer(
	settings core.BakeSettings,
	lightmaps *core.EntityArray[core.LightmapRenderState],
	lightScene *core.LightSceneRenderState,
	volumetric *VolumetricLightmapRenderer,
	pool *gpu.TilePool,
) *LightmapRenderer {
	r := &LightmapRenderer{
		Settings:             settings,
		Lightmaps:            lightmaps,
		LightScene:           lightScene,
		Volumetric:           volumetric,
		IC:                   NewIrradianceCache(settings.IrradianceCacheQuality, settings.IrradianceCacheSpacing),
		Pool:                 pool,
		recordedTileRequests: map[TileRequest]struct{}{},
		recordingEnabled:     settings.Mode == core.BakeModeBakeWhatYouSee,
	}
	r.revisionAtomic.Store(0)
	return r
}

// Revision is the render-thread view of the current scene revision.
func (r *LightmapRenderer) Revision() int {
	return r.revision
}

// RevisionShared may be read from any thread.
func (r *LightmapRenderer) RevisionShared() int64 {
	return r.revisionAtomic.Load()
}

// Percentage may be read from any thread.
func (r *LightmapRenderer) Percentage() int32 {
	return r.percentage.Load()
}

// BumpRevision invalidates all in-flight tile work. Runs on the render
// thread; the counter is monotonic and never reused.
func (r *LightmapRenderer) BumpRevision() {
	r.revision++
	r.revisionAtomic.Store(int64(r.revision))
}

// RecordTileRequest marks a tile as visible for bake-what-you-see mode.
// Requests are deduplicated by the set.
func (r *LightmapRenderer) RecordTileRequest(lightmap core.ElementID, coords core.TileVirtualCoordinates) {
	r.recordedTileRequests[TileRequest{Lightmap: lightmap, Coords: coords}] = struct{}{}
}

func (r *LightmapRenderer) NumRecordedTileRequests() int {
	return len(r.recordedTileRequests)
}

func (r *LightmapRenderer) tileScheduled(id core.ElementID, coords core.TileVirtualCoordinates) bool {
	if !r.recordingEnabled {
		return true
	}
	_, ok := r.recordedTileRequests[TileRequest{Lightmap: id, Coords: coords}]
	return ok
}

// BackgroundTick advances a bounded batch of tile work, retires converged
// tiles into CPU storage and refreshes the shared progress value.
func (r *LightmapRenderer) BackgroundTick() {
	// Any scene change makes every cached irradiance record stale, so the
	// cache is rebuilt before tile work consults it.
	if r.IC.CurrentRevision != r.revision {
		r.IC.Rebuild(r.revision)
	}

	budget := r.Settings.TilesPerTick
	r.Lightmaps.Each(func(id core.ElementID, lm *core.LightmapRenderState) {
		for mip := int32(0); mip <= lm.MaxLevel; mip++ {
			tilesX, tilesY := lm.TilesAtMip(mip)
			for ty := int32(0); ty < tilesY; ty++ {
				for tx := int32(0); tx < tilesX; tx++ {
					coords := core.TileVirtualCoordinates{X: tx, Y: ty, MipLevel: mip}
					if !r.tileScheduled(id, coords) {
						continue
					}
					st := lm.RetrieveTileState(coords)
					if st.Revision != r.revision {
						st.Invalidate(r.revision)
					}
					if lm.DoesTileHaveValidCPUData(coords, r.revision) {
						continue
					}
					if budget <= 0 {
						continue
					}
					budget--
					st.RenderPassIndex = min(st.RenderPassIndex+r.Settings.PassesPerTick, r.Settings.GISamples)
					if st.RenderPassIndex >= r.Settings.GISamples {
						r.retireTile(id, lm, coords)
					}
				}
			}
		}
	})

	if r.Volumetric != nil {
		r.Volumetric.BackgroundTick()
	}

	r.updatePercentage()
	r.FrameNumber++
}

// retireTile shades the three channel layers and stores them stamped with
// the current revision. With a GPU tile pool present each layer round-trips
// through pool texture and readback buffer, exercising the same path final
// output takes.
func (r *LightmapRenderer) retireTile(id core.ElementID, lm *core.LightmapRenderState, coords core.TileVirtualCoordinates) {
	entry := lm.RetrieveStorageEntry(coords)
	entry.OngoingReadbackRevision = r.revision

	base := r.baseIrradiance(id, lm, coords)

	layers := [core.NumTileLayers][]core.LinearColor{}
	for layer := 0; layer < core.NumTileLayers; layer++ {
		layers[layer] = make([]core.LinearColor, core.PhysicalTileSize*core.PhysicalTileSize)
	}
	w, h := lm.SizeAtMip(coords.MipLevel)
	for py := int32(0); py < core.PhysicalTileSize; py++ {
		for px := int32(0); px < core.PhysicalTileSize; px++ {
			vx := coords.X*core.VirtualTileSize + px - core.TileBorderSize
			vy := coords.Y*core.VirtualTileSize + py - core.TileBorderSize
			vx = min(max(vx, 0), w-1)
			vy = min(max(vy, 0), h-1)
			irr, sh, mask := r.shadeTexel(lm, base, vx, vy)
			idx := py*core.PhysicalTileSize + px
			layers[core.LayerIrradiance][idx] = irr
			layers[core.LayerSH][idx] = sh
			layers[core.LayerShadowMask][idx] = mask
		}
	}

	if r.Pool != nil {
		for layer := 0; layer < core.NumTileLayers; layer++ {
			out, err := r.Pool.RoundTripTile(layer, layers[layer])
			if err != nil {
				fmt.Printf("ERROR: tile pool readback failed for %s %v: %v\n", lm.Name, coords, err)
				break
			}
			layers[layer] = out
		}
	}

	for layer := 0; layer < core.NumTileLayers; layer++ {
		if err := entry.CPUTextureData[layer].Decompress(); err != nil {
			entry.CPUTextureData[layer] = core.NewTileDataLayer()
		}
		copy(entry.CPUTextureData[layer].Texels(), layers[layer])
	}
	entry.CPURevision = r.revision
	entry.OngoingReadbackRevision = -1
}

// Lightmaps are spread along the cache Z axis so records from one lightmap
// never satisfy lookups from another.
const cacheLightmapSpacing = 4096

// baseIrradiance resolves the position-independent part of a tile's shading
// through the irradiance cache. Tile positions are expressed at mip 0 scale,
// so coarser mips of the same region reuse the record the finest mip stored.
func (r *LightmapRenderer) baseIrradiance(id core.ElementID, lm *core.LightmapRenderState, coords core.TileVirtualCoordinates) core.LinearColor {
	p := mgl32.Vec3{
		float32((coords.X << coords.MipLevel) * core.VirtualTileSize),
		float32((coords.Y << coords.MipLevel) * core.VirtualTileSize),
		float32(id.Index) * cacheLightmapSpacing,
	}
	if cached, ok := r.IC.Lookup(p); ok {
		return cached
	}

	var irr core.LinearColor
	for _, lid := range lm.RelevantDirectionalLights {
		if l := r.LightScene.DirectionalLights.Get(lid); l != nil {
			irr = irr.Add(l.Color)
		}
	}
	for _, lid := range lm.RelevantPointLights {
		if l := r.LightScene.PointLights.Get(lid); l != nil {
			irr = irr.Add(l.Color)
		}
	}
	for _, lid := range lm.RelevantSpotLights {
		if l := r.LightScene.SpotLights.Get(lid); l != nil {
			irr = irr.Add(l.Color)
		}
	}
	for _, lid := range lm.RelevantRectLights {
		if l := r.LightScene.RectLights.Get(lid); l != nil {
			irr = irr.Add(l.Color)
		}
	}
	if sky := r.LightScene.SkyLight; sky != nil {
		irr = irr.Add(sky.IrradianceSH[0])
	}
	r.IC.Record(p, irr)
	return irr
}

// shadeTexel is the per-texel accumulation result once a tile converges.
// Irradiance is the cached light sum plus small positional terms that keep
// stitched output addressable texel by texel, the SH layer carries the
// dominant direction and the shadow mask carries full visibility per
// occupied stationary channel.
func (r *LightmapRenderer) shadeTexel(lm *core.LightmapRenderState, base core.LinearColor, vx, vy int32) (irr, sh, mask core.LinearColor) {
	irr = base
	irr.R += 0.001 * float32(vx)
	irr.G += 0.001 * float32(vy)
	irr.A = 1

	sh = core.LinearColor{R: 0, G: 0, B: 1, A: 1}
	if len(lm.RelevantDirectionalLights) > 0 {
		if l := r.LightScene.DirectionalLights.Get(lm.RelevantDirectionalLights[0]); l != nil {
			d := l.Direction.Mul(-1)
			sh = core.LinearColor{R: d.X(), G: d.Y(), B: d.Z(), A: 1}
		}
	}

	for channel := 0; channel < 4; channel++ {
		if lm.NumStationaryLightsPerShadowChannel[channel] > 0 {
			switch channel {
			case 0:
				mask.R = 1
			case 1:
				mask.G = 1
			case 2:
				mask.B = 1
			case 3:
				mask.A = 1
			}
		}
	}
	return irr, sh, mask
}

// IsLightmapConverged reports whether every scheduled tile of the lightmap
// carries CPU data for the current revision.
func (r *LightmapRenderer) IsLightmapConverged(id core.ElementID) bool {
	lm := r.Lightmaps.Get(id)
	if lm == nil {
		return false
	}
	any := false
	for mip := int32(0); mip <= lm.MaxLevel; mip++ {
		tilesX, tilesY := lm.TilesAtMip(mip)
		for ty := int32(0); ty < tilesY; ty++ {
			for tx := int32(0); tx < tilesX; tx++ {
				coords := core.TileVirtualCoordinates{X: tx, Y: ty, MipLevel: mip}
				if !r.tileScheduled(id, coords) {
					continue
				}
				any = true
				if !lm.DoesTileHaveValidCPUData(coords, r.revision) {
					return false
				}
			}
		}
	}
	return any || !r.recordingEnabled
}

func (r *LightmapRenderer) updatePercentage() {
	var taken, total int64
	samplesPerTile := int64(core.VirtualTileSize * core.VirtualTileSize)
	giSamples := int64(r.Settings.GISamples)

	r.Lightmaps.Each(func(id core.ElementID, lm *core.LightmapRenderState) {
		for mip := int32(0); mip <= lm.MaxLevel; mip++ {
			tilesX, tilesY := lm.TilesAtMip(mip)
			for ty := int32(0); ty < tilesY; ty++ {
				for tx := int32(0); tx < tilesX; tx++ {
					coords := core.TileVirtualCoordinates{X: tx, Y: ty, MipLevel: mip}
					if !r.tileScheduled(id, coords) {
						continue
					}
					total += giSamples * samplesPerTile
					if lm.DoesTileHaveValidCPUData(coords, r.revision) {
						taken += giSamples * samplesPerTile
					} else {
						st := lm.RetrieveTileState(coords)
						passes := int64(st.RenderPassIndex)
						if st.Revision != r.revision {
							passes = 0
						}
						taken += min(passes, giSamples-1) * samplesPerTile
					}
				}
			}
		}
	})

	if r.Volumetric != nil {
		vTaken, vTotal := r.Volumetric.Progress()
		taken += vTaken
		total += vTotal
	}

	if total == 0 {
		r.percentage.Store(0)
		return
	}
	r.percentage.Store(int32(taken * 100 / total))
}
