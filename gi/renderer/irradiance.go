package renderer

import (
	"github.com/gekko3d/lightbake/gi/core"
	"github.com/go-gl/mathgl/mgl32"
)

// IrradianceCache is a spatial hash of cached irradiance records shared by
// all tile work of one revision. Any scene change makes every cached record
// unusable, so the cache tracks the revision it was built for and is torn
// down and rebuilt wholesale when the renderer moves past it.
type IrradianceCache struct {
	Quality int
	Spacing float32

	CurrentRevision int

	buckets map[cacheCell][]irradianceRecord
	records int
}

type cacheCell struct {
	X, Y, Z int32
}

type irradianceRecord struct {
	Position   mgl32.Vec3
	Irradiance core.LinearColor
}

func NewIrradianceCache(quality int, spacing float32) *IrradianceCache {
	if quality <= 0 {
		quality = 1
	}
	if spacing <= 0 {
		spacing = 1
	}
	return &IrradianceCache{
		Quality:         quality,
		Spacing:         spacing,
		CurrentRevision: -1,
		buckets:         map[cacheCell][]irradianceRecord{},
	}
}

// Rebuild drops every record and re-stamps the cache for the revision.
func (c *IrradianceCache) Rebuild(revision int) {
	c.buckets = map[cacheCell][]irradianceRecord{}
	c.records = 0
	c.CurrentRevision = revision
}

func (c *IrradianceCache) NumRecords() int {
	return c.records
}

func (c *IrradianceCache) cellFor(p mgl32.Vec3) cacheCell {
	return cacheCell{
		X: int32(p.X() / c.Spacing),
		Y: int32(p.Y() / c.Spacing),
		Z: int32(p.Z() / c.Spacing),
	}
}

// Record stores an irradiance sample for reuse within the current revision.
func (c *IrradianceCache) Record(p mgl32.Vec3, irradiance core.LinearColor) {
	cell := c.cellFor(p)
	c.buckets[cell] = append(c.buckets[cell], irradianceRecord{Position: p, Irradiance: irradiance})
	c.records++
}

// Lookup returns the nearest cached record within the cache spacing.
func (c *IrradianceCache) Lookup(p mgl32.Vec3) (core.LinearColor, bool) {
	cell := c.cellFor(p)
	bestDistSq := c.Spacing * c.Spacing
	var best core.LinearColor
	found := false
	for dz := int32(-1); dz <= 1; dz++ {
		for dy := int32(-1); dy <= 1; dy++ {
			for dx := int32(-1); dx <= 1; dx++ {
				for _, rec := range c.buckets[cacheCell{cell.X + dx, cell.Y + dy, cell.Z + dz}] {
					d := rec.Position.Sub(p)
					if distSq := d.Dot(d); distSq < bestDistSq {
						bestDistSq = distSq
						best = rec.Irradiance
						found = true
					}
				}
			}
		}
	}
	return best, found
}
