package lightbake

import (
	"github.com/gekko3d/lightbake/gi/core"
	"github.com/google/uuid"
)

type IntPoint struct {
	X, Y int32
}

type IntRect struct {
	Min, Max IntPoint
}

// CopyRectTiled walks a destination rect texel by texel, resolving each
// destination texel to its source tile and the linear index inside that
// tile's physical footprint (virtual tiling plus border).
func CopyRectTiled(
	srcMin IntPoint,
	dstRect IntRect,
	srcRowPitch int32,
	dstRowPitch int32,
	copyFn func(dstLinearIndex int32, srcTile IntPoint, srcLinearIndex int32),
) {
	for y := dstRect.Min.Y; y < dstRect.Max.Y; y++ {
		for x := dstRect.Min.X; x < dstRect.Max.X; x++ {
			srcX := x - dstRect.Min.X + srcMin.X
			srcY := y - dstRect.Min.Y + srcMin.Y
			srcTile := IntPoint{X: srcX / core.VirtualTileSize, Y: srcY / core.VirtualTileSize}
			inTileX := srcX % core.VirtualTileSize
			inTileY := srcY % core.VirtualTileSize
			srcPixelX := inTileX + core.TileBorderSize
			srcPixelY := inTileY + core.TileBorderSize
			srcLinearIndex := srcPixelY*srcRowPitch + srcPixelX
			dstLinearIndex := y*dstRowPitch + x
			copyFn(dstLinearIndex, srcTile, srcLinearIndex)
		}
	}
}

// transcodedLightmap is the CPU image of one finished lightmap before
// quantization.
type transcodedLightmap struct {
	samples    []LightSample
	shadowMask []core.LinearColor
}

// transcodeLightmap stitches the mip-0 tiles of a converged lightmap into
// contiguous sample arrays.
func (s *Scene) transcodeLightmap(lm *core.LightmapRenderState, revision int) (*transcodedLightmap, bool) {
	w, h := lm.Width, lm.Height
	out := &transcodedLightmap{
		samples:    make([]LightSample, int(w)*int(h)),
		shadowMask: make([]core.LinearColor, int(w)*int(h)),
	}

	tilesX, tilesY := lm.TilesAtMip(0)
	for ty := int32(0); ty < tilesY; ty++ {
		for tx := int32(0); tx < tilesX; tx++ {
			coords := core.TileVirtualCoordinates{X: tx, Y: ty, MipLevel: 0}
			if !lm.DoesTileHaveValidCPUData(coords, revision) {
				s.log.Warnf("lightmap %s tile (%d,%d) has no valid data, skipping lightmap", lm.Name, tx, ty)
				return nil, false
			}
			entry := lm.TileStorage[coords]
			for _, layer := range entry.CPUTextureData {
				if err := layer.Decompress(); err != nil {
					s.log.Errorf("failed to decompress tile (%d,%d) of %s: %v", tx, ty, lm.Name, err)
					return nil, false
				}
			}
		}
	}

	CopyRectTiled(
		IntPoint{},
		IntRect{Max: IntPoint{X: w, Y: h}},
		core.PhysicalTileSize,
		w,
		func(dstLinearIndex int32, srcTile IntPoint, srcLinearIndex int32) {
			entry := lm.TileStorage[core.TileVirtualCoordinates{X: srcTile.X, Y: srcTile.Y, MipLevel: 0}]
			irr := entry.CPUTextureData[core.LayerIrradiance].Texels()[srcLinearIndex]
			sh := entry.CPUTextureData[core.LayerSH].Texels()[srcLinearIndex]
			out.samples[dstLinearIndex] = ConvertToLightSample(irr, sh)
			out.shadowMask[dstLinearIndex] = entry.CPUTextureData[core.LayerShadowMask].Texels()[srcLinearIndex]
		},
	)

	if s.settings.Denoise {
		DenoiseLightSamples(out.samples, w, h)
	}
	return out, true
}

// relevantLightGuids collects the non-stationary lights whose lighting is
// folded into the baked texture: every directional light, and local lights
// filtered by bounds.
func (rs *SceneRenderState) relevantLightGuids(bounds core.Bounds) []uuid.UUID {
	var guids []uuid.UUID
	rs.LightScene.DirectionalLights.Each(func(_ core.ElementID, l *core.DirectionalLightRenderState) {
		if !l.Stationary {
			guids = append(guids, l.Guid)
		}
	})
	rs.LightScene.PointLights.Each(func(_ core.ElementID, l *core.PointLightRenderState) {
		if !l.Stationary && l.AffectsBounds(bounds) {
			guids = append(guids, l.Guid)
		}
	})
	rs.LightScene.SpotLights.Each(func(_ core.ElementID, l *core.SpotLightRenderState) {
		if !l.Stationary && l.AffectsBounds(bounds) {
			guids = append(guids, l.Guid)
		}
	})
	rs.LightScene.RectLights.Each(func(_ core.ElementID, l *core.RectLightRenderState) {
		if !l.Stationary && l.AffectsBounds(bounds) {
			guids = append(guids, l.Guid)
		}
	})
	return guids
}

// stationaryLightInfo drives shadow map construction at finalization.
type stationaryLightInfo struct {
	Guid    uuid.UUID
	Channel int32
}

func (rs *SceneRenderState) relevantStationaryLights(lm *core.LightmapRenderState) []stationaryLightInfo {
	var out []stationaryLightInfo
	add := func(guid uuid.UUID, stationary bool, channel int32) {
		if stationary && channel >= 0 && channel < 4 {
			out = append(out, stationaryLightInfo{Guid: guid, Channel: channel})
		}
	}
	for _, id := range lm.RelevantDirectionalLights {
		if l := rs.LightScene.DirectionalLights.Get(id); l != nil {
			add(l.Guid, l.Stationary, l.ShadowMapChannel)
		}
	}
	for _, id := range lm.RelevantPointLights {
		if l := rs.LightScene.PointLights.Get(id); l != nil {
			add(l.Guid, l.Stationary, l.ShadowMapChannel)
		}
	}
	for _, id := range lm.RelevantSpotLights {
		if l := rs.LightScene.SpotLights.Get(id); l != nil {
			add(l.Guid, l.Stationary, l.ShadowMapChannel)
		}
	}
	for _, id := range lm.RelevantRectLights {
		if l := rs.LightScene.RectLights.Get(id); l != nil {
			add(l.Guid, l.Stationary, l.ShadowMapChannel)
		}
	}
	return out
}

// finalizeLightmap turns a converged lightmap mirror into mesh build data.
func (s *Scene) finalizeLightmap(lm *core.LightmapRenderState, bounds core.Bounds, revision int) (*MeshMapBuildData, bool) {
	transcoded, ok := s.transcodeLightmap(lm, revision)
	if !ok {
		return nil, false
	}
	rs := s.renderState

	data := &MeshMapBuildData{
		Lightmap:           QuantizeLightSamples(transcoded.samples, lm.Width, lm.Height),
		ShadowMaps:         map[uuid.UUID]*SignedDistanceFieldShadowMap{},
		RelevantLightGuids: rs.relevantLightGuids(bounds),
	}

	for _, light := range rs.relevantStationaryLights(lm) {
		shadowSamples := make([]ShadowSample, len(transcoded.shadowMask))
		for i, texel := range transcoded.shadowMask {
			shadowSamples[i] = ConvertToShadowSample(texel, light.Channel)
		}
		data.ShadowMaps[light.Guid] = QuantizeShadowSamples(shadowSamples, lm.Width, lm.Height, light.Channel)
	}
	return data, true
}

// extractInstanceLightmap cuts one instance's rect out of the merged atlas.
// The coordinate transform skips the one-texel gutter around each instance.
func extractInstanceLightmap(atlas *QuantizedLightmap, renderIndex int, instanceW, instanceH int32) *QuantizedLightmap {
	perRow := atlas.Width / instanceW
	tileMinX := int32(renderIndex) % perRow * instanceW
	tileMinY := int32(renderIndex) / perRow * instanceH

	q := &QuantizedLightmap{
		Width:  instanceW,
		Height: instanceH,
		Data:   make([]byte, int(instanceW)*int(instanceH)*4),
		Scale:  atlas.Scale,
		Add:    atlas.Add,
		CoordinateScale: [2]float32{
			float32(instanceW-2) / float32(atlas.Width),
			float32(instanceH-2) / float32(atlas.Height),
		},
		CoordinateBias: [2]float32{
			(float32(tileMinX) + 1) / float32(atlas.Width),
			(float32(tileMinY) + 1) / float32(atlas.Height),
		},
	}
	for y := int32(0); y < instanceH; y++ {
		srcOff := ((tileMinY+y)*atlas.Width + tileMinX) * 4
		dstOff := y * instanceW * 4
		copy(q.Data[dstOff:dstOff+instanceW*4], atlas.Data[srcOff:srcOff+instanceW*4])
	}
	return q
}

// ApplyFinishedLightmapsToWorld flushes the command stream, transcodes every
// converged lightmap into quantized build data in its storage level, stores
// the volumetric lightmap, then evicts tile data. Build thread; the flush
// is the barrier that makes reading the mirror safe.
func (s *Scene) ApplyFinishedLightmapsToWorld() {
	s.queue.Flush()
	rs := s.renderState
	rend := rs.LightmapRenderer
	revision := rend.Revision()

	// Previous volumetric data is invalid regardless of what this bake
	// produced.
	for _, level := range s.world.Levels {
		if level.MapBuildData != nil {
			level.MapBuildData.SetPrecomputedVolumetricLightmap(nil)
		}
	}

	bakeWhatYouSee := s.settings.Mode == core.BakeModeBakeWhatYouSee

	s.staticMeshInstances.Each(func(_ core.ElementID, g *StaticMeshInstance) {
		if len(g.LODLightmaps) == 0 {
			return
		}
		lmID := g.LODLightmaps[0]
		lm := rs.Lightmaps.Get(lmID)
		if lm == nil {
			return
		}
		if bakeWhatYouSee {
			rend.FillMissingMip0Tiles(lmID)
		}
		data, ok := s.finalizeLightmap(lm, g.WorldBounds, revision)
		if !ok {
			return
		}
		storage := s.world.StorageLevel(g.Component.Level).GetOrCreateMapBuildData()
		*storage.AllocateMeshBuildData(g.Component.MapBuildDataID) = *data
		s.registerStationaryLightBuildData(storage, lm)
		for _, id := range g.LODLightmaps {
			if l := rs.Lightmaps.Get(id); l != nil {
				if err := l.EvictTileData(); err != nil {
					s.log.Errorf("failed to evict tiles of %s: %v", l.Name, err)
				}
			}
		}
	})

	s.instanceGroups.Each(func(_ core.ElementID, g *InstanceGroup) {
		lm := rs.Lightmaps.Get(g.Lightmap)
		if lm == nil {
			return
		}
		if bakeWhatYouSee {
			rend.FillMissingMip0Tiles(g.Lightmap)
		}
		data, ok := s.finalizeLightmap(lm, g.WorldBounds, revision)
		if !ok {
			return
		}
		for i := 0; i < g.NumInstances; i++ {
			data.PerInstance = append(data.PerInstance,
				extractInstanceLightmap(data.Lightmap, i, g.InstanceWidth, g.InstanceHeight))
		}
		storage := s.world.StorageLevel(g.Component.Level).GetOrCreateMapBuildData()
		*storage.AllocateMeshBuildData(g.Component.MapBuildDataID) = *data
		s.registerStationaryLightBuildData(storage, lm)
		if err := lm.EvictTileData(); err != nil {
			s.log.Errorf("failed to evict tiles of %s: %v", lm.Name, err)
		}
	})

	s.landscapes.Each(func(_ core.ElementID, g *Landscape) {
		lm := rs.Lightmaps.Get(g.Lightmap)
		if lm == nil {
			return
		}
		if bakeWhatYouSee {
			rend.FillMissingMip0Tiles(g.Lightmap)
		}
		data, ok := s.finalizeLightmap(lm, g.WorldBounds, revision)
		if !ok {
			return
		}
		storage := s.world.StorageLevel(g.Component.Level).GetOrCreateMapBuildData()
		*storage.AllocateMeshBuildData(g.Component.MapBuildDataID) = *data
		s.registerStationaryLightBuildData(storage, lm)
		if err := lm.EvictTileData(); err != nil {
			s.log.Errorf("failed to evict tiles of %s: %v", lm.Name, err)
		}
	})

	s.applyVolumetricLightmap()
}

func (s *Scene) registerStationaryLightBuildData(storage *MapBuildDataRegistry, lm *core.LightmapRenderState) {
	for _, light := range s.renderState.relevantStationaryLights(lm) {
		storage.FindOrAllocateLightBuildData(light.Guid, light.Channel)
	}
}

func (s *Scene) applyVolumetricLightmap() {
	vol := s.renderState.VolumetricRenderer
	if vol == nil || vol.NumTotalBricks() == 0 {
		return
	}
	ambient, sh, err := vol.ReadbackData()
	if err != nil {
		s.log.Errorf("volumetric lightmap readback failed: %v", err)
		return
	}
	var storageLevel *Level
	if scenario := s.world.LightingScenario(); scenario != nil {
		storageLevel = scenario
	} else if len(s.world.Levels) > 0 {
		storageLevel = s.world.Levels[0]
	}
	if storageLevel == nil {
		s.log.Warnf("no level to store the volumetric lightmap in")
		return
	}
	storageLevel.GetOrCreateMapBuildData().SetPrecomputedVolumetricLightmap(&VolumetricLightmapBuildData{
		Bounds:          vol.CombinedImportanceVolume,
		BrickDimensions: vol.BrickDimensions,
		AmbientVectors:  ambient,
		SHCoefficients:  sh,
	})
}
