package core

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const (
	// Virtual texture tiling for preview lightmaps.
	VirtualTileSize  = 64
	TileBorderSize   = 2
	PhysicalTileSize = VirtualTileSize + 2*TileBorderSize
)

// Channel layers stored per tile.
const (
	LayerIrradiance = 0
	LayerSH         = 1
	LayerShadowMask = 2
	NumTileLayers   = 3
)

type TileVirtualCoordinates struct {
	X, Y     int32
	MipLevel int32
}

// TileDataLayer holds one channel layer of a physical tile. The texel data
// can be swapped for a zlib stream and restored on demand, so finished
// lightmaps don't pin hundreds of megabytes of float data.
type TileDataLayer struct {
	texels     []LinearColor
	compressed []byte
}

func NewTileDataLayer() *TileDataLayer {
	return &TileDataLayer{texels: make([]LinearColor, PhysicalTileSize*PhysicalTileSize)}
}

func (l *TileDataLayer) IsResident() bool {
	return l.texels != nil
}

// Texels returns the resident texel data. Call Decompress first when the
// layer may have been evicted.
func (l *TileDataLayer) Texels() []LinearColor {
	return l.texels
}

func (l *TileDataLayer) Decompress() error {
	if l.texels != nil {
		return nil
	}
	if l.compressed == nil {
		return fmt.Errorf("tile layer has neither resident nor compressed data")
	}
	zr, err := zlib.NewReader(bytes.NewReader(l.compressed))
	if err != nil {
		return fmt.Errorf("failed to open tile layer stream: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return fmt.Errorf("failed to inflate tile layer: %w", err)
	}
	if len(raw) != PhysicalTileSize*PhysicalTileSize*16 {
		return fmt.Errorf("tile layer stream has %d bytes, want %d", len(raw), PhysicalTileSize*PhysicalTileSize*16)
	}
	texels := make([]LinearColor, PhysicalTileSize*PhysicalTileSize)
	for i := range texels {
		o := i * 16
		texels[i] = LinearColor{
			R: math.Float32frombits(binary.LittleEndian.Uint32(raw[o:])),
			G: math.Float32frombits(binary.LittleEndian.Uint32(raw[o+4:])),
			B: math.Float32frombits(binary.LittleEndian.Uint32(raw[o+8:])),
			A: math.Float32frombits(binary.LittleEndian.Uint32(raw[o+12:])),
		}
	}
	l.texels = texels
	l.compressed = nil
	return nil
}

// Evict compresses the resident texel data and drops it.
func (l *TileDataLayer) Evict() error {
	if l.texels == nil {
		return nil
	}
	raw := make([]byte, len(l.texels)*16)
	for i, t := range l.texels {
		o := i * 16
		binary.LittleEndian.PutUint32(raw[o:], math.Float32bits(t.R))
		binary.LittleEndian.PutUint32(raw[o+4:], math.Float32bits(t.G))
		binary.LittleEndian.PutUint32(raw[o+8:], math.Float32bits(t.B))
		binary.LittleEndian.PutUint32(raw[o+12:], math.Float32bits(t.A))
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return fmt.Errorf("failed to deflate tile layer: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish tile layer stream: %w", err)
	}
	l.compressed = buf.Bytes()
	l.texels = nil
	return nil
}

// TileStorageEntry is the CPU-side home of one tile: three channel layers
// plus the revision bookkeeping that decides whether the data is current.
type TileStorageEntry struct {
	CPUTextureData          [NumTileLayers]*TileDataLayer
	CPURevision             int
	OngoingReadbackRevision int
}

func NewTileStorageEntry() *TileStorageEntry {
	e := &TileStorageEntry{CPURevision: -1, OngoingReadbackRevision: -1}
	for i := range e.CPUTextureData {
		e.CPUTextureData[i] = NewTileDataLayer()
	}
	return e
}

// TileState is the renderer's per-tile progress record.
type TileState struct {
	Revision        int
	RenderPassIndex int
}

func (s *TileState) Invalidate(revision int) {
	s.Revision = revision
	s.RenderPassIndex = 0
}

// FullTileState combines the renderer progress and storage revisions for one
// tile, the shape callers poll.
type FullTileState struct {
	Revision                int
	RenderPassIndex         int
	CPURevision             int
	OngoingReadbackRevision int
}

// LightmapRenderState mirrors one allocated lightmap on the render thread.
type LightmapRenderState struct {
	Name   string
	Width  int32
	Height int32
	// MaxLevel is the coarsest mip, the one that fits a single virtual tile.
	MaxLevel int32

	TileStorage map[TileVirtualCoordinates]*TileStorageEntry
	tileStates  map[TileVirtualCoordinates]*TileState

	RelevantDirectionalLights []ElementID
	RelevantPointLights       []ElementID
	RelevantSpotLights        []ElementID
	RelevantRectLights        []ElementID

	NumStationaryLightsPerShadowChannel [4]int32
}

func NewLightmapRenderState(name string, width, height int32) *LightmapRenderState {
	m := &LightmapRenderState{
		Name:        name,
		Width:       width,
		Height:      height,
		TileStorage: map[TileVirtualCoordinates]*TileStorageEntry{},
		tileStates:  map[TileVirtualCoordinates]*TileState{},
	}
	m.MaxLevel = maxMipLevel(width, height)
	return m
}

func maxMipLevel(width, height int32) int32 {
	tiles := max(divideAndRoundUp(width, VirtualTileSize), divideAndRoundUp(height, VirtualTileSize))
	level := int32(0)
	for (1 << level) < tiles {
		level++
	}
	return level
}

func divideAndRoundUp(a, b int32) int32 {
	return (a + b - 1) / b
}

// SizeAtMip clamps to one texel per axis at high mips.
func (m *LightmapRenderState) SizeAtMip(mip int32) (int32, int32) {
	return max(m.Width>>mip, 1), max(m.Height>>mip, 1)
}

func (m *LightmapRenderState) TilesAtMip(mip int32) (int32, int32) {
	w, h := m.SizeAtMip(mip)
	return divideAndRoundUp(w, VirtualTileSize), divideAndRoundUp(h, VirtualTileSize)
}

// RetrieveTileState materializes default state on first touch.
func (m *LightmapRenderState) RetrieveTileState(coords TileVirtualCoordinates) *TileState {
	if s, ok := m.tileStates[coords]; ok {
		return s
	}
	s := &TileState{Revision: -1}
	m.tileStates[coords] = s
	return s
}

func (m *LightmapRenderState) RetrieveFullTileState(coords TileVirtualCoordinates) FullTileState {
	s := m.RetrieveTileState(coords)
	full := FullTileState{
		Revision:                s.Revision,
		RenderPassIndex:         s.RenderPassIndex,
		CPURevision:             -1,
		OngoingReadbackRevision: -1,
	}
	if e, ok := m.TileStorage[coords]; ok {
		full.CPURevision = e.CPURevision
		full.OngoingReadbackRevision = e.OngoingReadbackRevision
	}
	return full
}

// RetrieveStorageEntry materializes tile storage on first touch.
func (m *LightmapRenderState) RetrieveStorageEntry(coords TileVirtualCoordinates) *TileStorageEntry {
	if e, ok := m.TileStorage[coords]; ok {
		return e
	}
	e := NewTileStorageEntry()
	m.TileStorage[coords] = e
	return e
}

// DoesTileHaveValidCPUData reports whether the stored tile carries data for
// the given revision. Evicted layers still count as valid, they decompress
// on access.
func (m *LightmapRenderState) DoesTileHaveValidCPUData(coords TileVirtualCoordinates, revision int) bool {
	e, ok := m.TileStorage[coords]
	if !ok {
		return false
	}
	for _, layer := range e.CPUTextureData {
		if layer == nil || (!layer.IsResident() && layer.compressed == nil) {
			return false
		}
	}
	return e.CPURevision == revision
}

// EvictTileData compresses every stored layer of this lightmap.
func (m *LightmapRenderState) EvictTileData() error {
	for coords, e := range m.TileStorage {
		for _, layer := range e.CPUTextureData {
			if err := layer.Evict(); err != nil {
				return fmt.Errorf("failed to evict tile %v of %s: %w", coords, m.Name, err)
			}
		}
	}
	return nil
}
