package gpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/lightbake/gi/core"
)

const texelBytes = 16 // rgba32float

// TilePool holds one pool texture per tile channel layer plus a shared
// readback buffer. Tiles are written with the physical tile footprint and
// read back through the buffer with 256-byte row alignment.
type TilePool struct {
	dm *DeviceManager

	textures [core.NumTileLayers]*wgpu.Texture
	readback *wgpu.Buffer

	width, height uint32
	bytesPerRow   uint32
}

func NewTilePool(dm *DeviceManager) (*TilePool, error) {
	p := &TilePool{
		dm:     dm,
		width:  uint32(core.PhysicalTileSize),
		height: uint32(core.PhysicalTileSize),
	}
	p.bytesPerRow = (p.width*texelBytes + 255) & ^uint32(255)

	extent := wgpu.Extent3D{Width: p.width, Height: p.height, DepthOrArrayLayers: 1}
	labels := [core.NumTileLayers]string{"TilePoolIrradiance", "TilePoolSH", "TilePoolShadowMask"}
	for i := range p.textures {
		tex, err := dm.Device.CreateTexture(&wgpu.TextureDescriptor{
			Label:         labels[i],
			Size:          extent,
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     wgpu.TextureDimension2D,
			Format:        wgpu.TextureFormatRGBA32Float,
			Usage:         wgpu.TextureUsageCopyDst | wgpu.TextureUsageCopySrc | wgpu.TextureUsageStorageBinding,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create tile pool texture %s: %w", labels[i], err)
		}
		p.textures[i] = tex
	}

	readback, err := dm.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "TilePoolReadback",
		Size:  uint64(p.bytesPerRow * p.height),
		Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tile pool readback buffer: %w", err)
	}
	p.readback = readback
	return p, nil
}

// RoundTripTile uploads one layer of a physical tile to its pool texture and
// reads it back through the readback buffer.
func (p *TilePool) RoundTripTile(layer int, texels []core.LinearColor) ([]core.LinearColor, error) {
	if layer < 0 || layer >= core.NumTileLayers {
		return nil, fmt.Errorf("invalid tile layer %d", layer)
	}
	if len(texels) != int(p.width*p.height) {
		return nil, fmt.Errorf("tile layer has %d texels, want %d", len(texels), p.width*p.height)
	}

	extent := wgpu.Extent3D{Width: p.width, Height: p.height, DepthOrArrayLayers: 1}
	err := p.dm.Queue.WriteTexture(
		p.textures[layer].AsImageCopy(),
		packTexels(texels),
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  p.width * texelBytes,
			RowsPerImage: p.height,
		},
		&extent,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upload tile layer %d: %w", layer, err)
	}

	encoder, err := p.dm.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create command encoder: %w", err)
	}
	defer encoder.Release()

	encoder.CopyTextureToBuffer(
		&wgpu.ImageCopyTexture{
			Texture:  p.textures[layer],
			MipLevel: 0,
			Origin:   wgpu.Origin3D{X: 0, Y: 0, Z: 0},
		},
		&wgpu.ImageCopyBuffer{
			Buffer: p.readback,
			Layout: wgpu.TextureDataLayout{
				Offset:       0,
				BytesPerRow:  p.bytesPerRow,
				RowsPerImage: p.height,
			},
		},
		&extent,
	)

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to finish encoder: %w", err)
	}
	defer cmd.Release()
	p.dm.Queue.Submit(cmd)

	if err := mapReadSync(p.dm.Device, p.readback); err != nil {
		return nil, fmt.Errorf("failed to map tile readback: %w", err)
	}
	defer p.readback.Unmap()

	data := p.readback.GetMappedRange(0, uint(p.readback.GetSize()))
	return unpackRows(data, p.width, p.height, p.bytesPerRow), nil
}

func (p *TilePool) Release() {
	for i, tex := range p.textures {
		if tex != nil {
			tex.Release()
			p.textures[i] = nil
		}
	}
	if p.readback != nil {
		p.readback.Release()
		p.readback = nil
	}
}

// mapReadSync maps a buffer for reading and blocks on the device until the
// map completes.
func mapReadSync(device *wgpu.Device, buf *wgpu.Buffer) error {
	var status wgpu.BufferMapAsyncStatus
	err := buf.MapAsync(wgpu.MapModeRead, 0, buf.GetSize(), func(s wgpu.BufferMapAsyncStatus) {
		status = s
	})
	if err != nil {
		return err
	}
	device.Poll(true, nil)
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return fmt.Errorf("buffer map finished with status %v", status)
	}
	return nil
}

func packTexels(texels []core.LinearColor) []byte {
	raw := make([]byte, len(texels)*texelBytes)
	for i, t := range texels {
		o := i * texelBytes
		binary.LittleEndian.PutUint32(raw[o:], math.Float32bits(t.R))
		binary.LittleEndian.PutUint32(raw[o+4:], math.Float32bits(t.G))
		binary.LittleEndian.PutUint32(raw[o+8:], math.Float32bits(t.B))
		binary.LittleEndian.PutUint32(raw[o+12:], math.Float32bits(t.A))
	}
	return raw
}

func unpackRows(data []byte, width, height, bytesPerRow uint32) []core.LinearColor {
	out := make([]core.LinearColor, width*height)
	for y := uint32(0); y < height; y++ {
		rowOffset := y * bytesPerRow
		for x := uint32(0); x < width; x++ {
			o := rowOffset + x*texelBytes
			if int(o)+texelBytes > len(data) {
				continue
			}
			out[y*width+x] = core.LinearColor{
				R: math.Float32frombits(binary.LittleEndian.Uint32(data[o:])),
				G: math.Float32frombits(binary.LittleEndian.Uint32(data[o+4:])),
				B: math.Float32frombits(binary.LittleEndian.Uint32(data[o+8:])),
				A: math.Float32frombits(binary.LittleEndian.Uint32(data[o+12:])),
			}
		}
	}
	return out
}
