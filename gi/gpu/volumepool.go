package gpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/lightbake/gi/core"
)

// VolumePool moves volumetric lightmap data through a 3D texture. Readback
// happens one depth slice at a time, CopyTextureToBuffer on a 3D texture is
// limited to a single layer per copy.
type VolumePool struct {
	dm *DeviceManager
}

func NewVolumePool(dm *DeviceManager) *VolumePool {
	return &VolumePool{dm: dm}
}

// RoundTripVolume uploads a w*h*d texel volume and reads it back slice by
// slice.
func (p *VolumePool) RoundTripVolume(texels []core.LinearColor, w, h, d int) ([]core.LinearColor, error) {
	if len(texels) != w*h*d {
		return nil, fmt.Errorf("volume has %d texels, want %d", len(texels), w*h*d)
	}

	extent := wgpu.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: uint32(d)}
	tex, err := p.dm.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "VolumetricLightmap",
		Size:          extent,
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension3D,
		Format:        wgpu.TextureFormatRGBA32Float,
		Usage:         wgpu.TextureUsageCopyDst | wgpu.TextureUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create volume texture: %w", err)
	}
	defer tex.Release()

	err = p.dm.Queue.WriteTexture(
		tex.AsImageCopy(),
		packTexels(texels),
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  uint32(w) * texelBytes,
			RowsPerImage: uint32(h),
		},
		&extent,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upload volume: %w", err)
	}

	bytesPerRow := (uint32(w)*texelBytes + 255) & ^uint32(255)
	sliceBuf, err := p.dm.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "VolumeSliceReadback",
		Size:  uint64(bytesPerRow) * uint64(h),
		Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create slice readback buffer: %w", err)
	}
	defer sliceBuf.Release()

	out := make([]core.LinearColor, 0, w*h*d)
	for z := 0; z < d; z++ {
		encoder, err := p.dm.Device.CreateCommandEncoder(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create command encoder: %w", err)
		}
		encoder.CopyTextureToBuffer(
			&wgpu.ImageCopyTexture{
				Texture:  tex,
				MipLevel: 0,
				Origin:   wgpu.Origin3D{X: 0, Y: 0, Z: uint32(z)},
			},
			&wgpu.ImageCopyBuffer{
				Buffer: sliceBuf,
				Layout: wgpu.TextureDataLayout{
					Offset:       0,
					BytesPerRow:  bytesPerRow,
					RowsPerImage: uint32(h),
				},
			},
			&wgpu.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1},
		)
		cmd, err := encoder.Finish(nil)
		encoder.Release()
		if err != nil {
			return nil, fmt.Errorf("failed to finish encoder for slice %d: %w", z, err)
		}
		p.dm.Queue.Submit(cmd)
		cmd.Release()

		if err := mapReadSync(p.dm.Device, sliceBuf); err != nil {
			return nil, fmt.Errorf("failed to map slice %d: %w", z, err)
		}
		data := sliceBuf.GetMappedRange(0, uint(sliceBuf.GetSize()))
		out = append(out, unpackRows(data, uint32(w), uint32(h), bytesPerRow)...)
		sliceBuf.Unmap()
	}
	return out, nil
}
