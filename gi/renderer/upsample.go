package renderer

import (
	"github.com/gekko3d/lightbake/gi/core"
)

// FillMissingMip0Tiles patches mip-0 tiles that were never requested in
// bake-what-you-see mode by upsampling the nearest coarser mip that holds
// valid data. Tiles filled this way are stamped with the current revision so
// transcoding sees a complete mip 0.
func (r *LightmapRenderer) FillMissingMip0Tiles(id core.ElementID) {
	lm := r.Lightmaps.Get(id)
	if lm == nil {
		return
	}
	tilesX, tilesY := lm.TilesAtMip(0)
	for ty := int32(0); ty < tilesY; ty++ {
		for tx := int32(0); tx < tilesX; tx++ {
			coords := core.TileVirtualCoordinates{X: tx, Y: ty, MipLevel: 0}
			if lm.DoesTileHaveValidCPUData(coords, r.revision) {
				continue
			}
			for mip := int32(1); mip <= lm.MaxLevel; mip++ {
				src := core.TileVirtualCoordinates{X: tx >> mip, Y: ty >> mip, MipLevel: mip}
				if !lm.DoesTileHaveValidCPUData(src, r.revision) {
					continue
				}
				if err := r.upsampleTile(lm, src, coords); err == nil {
					break
				}
			}
		}
	}
}

func (r *LightmapRenderer) upsampleTile(lm *core.LightmapRenderState, src, dst core.TileVirtualCoordinates) error {
	srcEntry := lm.TileStorage[src]
	for _, layer := range srcEntry.CPUTextureData {
		if err := layer.Decompress(); err != nil {
			return err
		}
	}
	dstEntry := lm.RetrieveStorageEntry(dst)
	shift := src.MipLevel - dst.MipLevel
	srcW, srcH := lm.SizeAtMip(src.MipLevel)

	for layer := 0; layer < core.NumTileLayers; layer++ {
		srcTexels := srcEntry.CPUTextureData[layer].Texels()
		if err := dstEntry.CPUTextureData[layer].Decompress(); err != nil {
			dstEntry.CPUTextureData[layer] = core.NewTileDataLayer()
		}
		dstTexels := dstEntry.CPUTextureData[layer].Texels()
		for py := int32(0); py < core.PhysicalTileSize; py++ {
			for px := int32(0); px < core.PhysicalTileSize; px++ {
				// Virtual position at mip 0, then the matching texel in
				// the coarser tile.
				vx := dst.X*core.VirtualTileSize + px - core.TileBorderSize
				vy := dst.Y*core.VirtualTileSize + py - core.TileBorderSize
				sx := min(max(vx>>shift, 0), srcW-1)
				sy := min(max(vy>>shift, 0), srcH-1)
				lx := sx - src.X*core.VirtualTileSize + core.TileBorderSize
				ly := sy - src.Y*core.VirtualTileSize + core.TileBorderSize
				lx = min(max(lx, 0), core.PhysicalTileSize-1)
				ly = min(max(ly, 0), core.PhysicalTileSize-1)
				dstTexels[py*core.PhysicalTileSize+px] = srcTexels[ly*core.PhysicalTileSize+lx]
			}
		}
	}
	dstEntry.CPURevision = r.revision
	return nil
}
