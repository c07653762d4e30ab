package renderer

import (
	"fmt"

	"github.com/gekko3d/lightbake/gi/core"
	"github.com/gekko3d/lightbake/gi/gpu"
	"github.com/go-gl/mathgl/mgl32"
)

// A volumetric brick covers BrickCells^3 sample positions.
const BrickCells = 5

// VolumetricLightmapRenderer bakes the volumetric lightmap covering the
// combined importance volume. The volume is voxelized into bricks of 5^3
// cells; each brick accumulates samples independently under the same
// revision protocol as the 2D lightmaps.
type VolumetricLightmapRenderer struct {
	Settings core.BakeSettings

	CombinedImportanceVolume core.Bounds
	ImportanceVolumes        []core.Bounds
	TargetDetailCellSize     float32

	BrickDimensions [3]int32

	brickSamples []int

	AmbientVectors []core.LinearColor
	SHCoefficients []core.LinearColor

	VolumePool *gpu.VolumePool
}

func NewVolumetricLightmapRenderer(settings core.BakeSettings, pool *gpu.VolumePool) *VolumetricLightmapRenderer {
	return &VolumetricLightmapRenderer{
		Settings:                 settings,
		CombinedImportanceVolume: core.EmptyBounds(),
		TargetDetailCellSize:     settings.VolumetricDetailCellSize,
		VolumePool:               pool,
	}
}

// SetImportanceVolumes replaces the volume set and re-voxelizes. Runs on the
// render thread via a queued command.
func (v *VolumetricLightmapRenderer) SetImportanceVolumes(combined core.Bounds, volumes []core.Bounds, detailCellSize float32) {
	v.CombinedImportanceVolume = combined
	v.ImportanceVolumes = volumes
	if detailCellSize > 0 {
		v.TargetDetailCellSize = detailCellSize
	}
	v.VoxelizeScene()
}

// VoxelizeScene derives the brick grid from the combined volume and resets
// accumulation.
func (v *VolumetricLightmapRenderer) VoxelizeScene() {
	if v.CombinedImportanceVolume.IsEmpty() {
		v.BrickDimensions = [3]int32{}
		v.brickSamples = nil
		v.AmbientVectors = nil
		v.SHCoefficients = nil
		return
	}
	brickExtent := v.TargetDetailCellSize * BrickCells
	size := v.CombinedImportanceVolume.Max.Sub(v.CombinedImportanceVolume.Min)
	for i := 0; i < 3; i++ {
		n := int32(size[i]/brickExtent) + 1
		v.BrickDimensions[i] = max(n, 1)
	}
	total := v.NumTotalBricks()
	v.brickSamples = make([]int, total)
	v.AmbientVectors = make([]core.LinearColor, total*BrickCells*BrickCells*BrickCells)
	v.SHCoefficients = make([]core.LinearColor, total*BrickCells*BrickCells*BrickCells)
}

func (v *VolumetricLightmapRenderer) NumTotalBricks() int {
	return int(v.BrickDimensions[0]) * int(v.BrickDimensions[1]) * int(v.BrickDimensions[2])
}

// BackgroundTick advances sample accumulation over the brick grid.
func (v *VolumetricLightmapRenderer) BackgroundTick() {
	budget := v.Settings.TilesPerTick
	for i := range v.brickSamples {
		if v.brickSamples[i] >= v.Settings.GISamples {
			continue
		}
		if budget <= 0 {
			break
		}
		budget--
		v.brickSamples[i] = min(v.brickSamples[i]+v.Settings.PassesPerTick, v.Settings.GISamples)
		if v.brickSamples[i] >= v.Settings.GISamples {
			v.shadeBrick(i)
		}
	}
}

func (v *VolumetricLightmapRenderer) shadeBrick(brick int) {
	center := v.brickCenter(brick)
	inside := false
	for _, vol := range v.ImportanceVolumes {
		if vol.Contains(center) {
			inside = true
			break
		}
	}
	if len(v.ImportanceVolumes) == 0 {
		inside = v.CombinedImportanceVolume.Contains(center)
	}
	cells := BrickCells * BrickCells * BrickCells
	for c := 0; c < cells; c++ {
		idx := brick*cells + c
		if inside {
			v.AmbientVectors[idx] = core.LinearColor{R: 1, G: 1, B: 1, A: 1}
		}
		v.SHCoefficients[idx] = core.LinearColor{R: 0, G: 0, B: 1, A: 1}
	}
}

func (v *VolumetricLightmapRenderer) brickCenter(brick int) mgl32.Vec3 {
	dx, dy := int(v.BrickDimensions[0]), int(v.BrickDimensions[1])
	bx := brick % dx
	by := (brick / dx) % dy
	bz := brick / (dx * dy)
	brickExtent := v.TargetDetailCellSize * BrickCells
	return v.CombinedImportanceVolume.Min.Add(mgl32.Vec3{
		(float32(bx) + 0.5) * brickExtent,
		(float32(by) + 0.5) * brickExtent,
		(float32(bz) + 0.5) * brickExtent,
	})
}

func (v *VolumetricLightmapRenderer) IsConverged() bool {
	for _, s := range v.brickSamples {
		if s < v.Settings.GISamples {
			return false
		}
	}
	return true
}

// Progress reports samples in brick-cell units for the shared percentage.
func (v *VolumetricLightmapRenderer) Progress() (taken, total int64) {
	cells := int64(BrickCells * BrickCells * BrickCells)
	gi := int64(v.Settings.GISamples)
	total = int64(v.NumTotalBricks()) * cells * gi
	for _, s := range v.brickSamples {
		taken += min(int64(s), gi) * cells
	}
	return taken, total
}

// ReadbackData returns the accumulated brick data. With a GPU volume pool
// present each depth slice round-trips through a 3D texture and the slice
// readback buffer, matching the path real kernel output takes.
func (v *VolumetricLightmapRenderer) ReadbackData() (ambient, sh []core.LinearColor, err error) {
	if v.NumTotalBricks() == 0 {
		return nil, nil, nil
	}
	ambient = v.AmbientVectors
	sh = v.SHCoefficients
	if v.VolumePool != nil {
		w := int(v.BrickDimensions[0]) * BrickCells
		h := int(v.BrickDimensions[1]) * BrickCells
		d := int(v.BrickDimensions[2]) * BrickCells
		ambient, err = v.VolumePool.RoundTripVolume(v.AmbientVectors, w, h, d)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read back ambient volume: %w", err)
		}
		sh, err = v.VolumePool.RoundTripVolume(v.SHCoefficients, w, h, d)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read back SH volume: %w", err)
		}
	}
	return ambient, sh, nil
}
