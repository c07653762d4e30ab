package core

// Bake modes.
const (
	BakeModeFullBake       = "full"
	BakeModeBakeWhatYouSee = "bake-what-you-see"
)

// BakeSettings is the shared bake configuration. Loaded from TOML by the
// host layer, then treated as read-only for the whole bake.
type BakeSettings struct {
	Mode      string `toml:"mode"`
	GISamples int    `toml:"gi-samples"`

	Denoise bool `toml:"denoise"`

	IrradianceCacheQuality int     `toml:"irradiance-cache-quality"`
	IrradianceCacheSpacing float32 `toml:"irradiance-cache-spacing"`

	VolumetricDetailCellSize float32 `toml:"volumetric-detail-cell-size"`

	// Importance volume synthesis when the scene defines none.
	MinImportanceVolumeExtent float32 `toml:"min-importance-volume-extent"`
	ImportanceVolumeExpandBy  float32 `toml:"importance-volume-expand-by"`

	// Per-tick scheduling budgets.
	TilesPerTick  int `toml:"tiles-per-tick"`
	PassesPerTick int `toml:"passes-per-tick"`
}

func DefaultBakeSettings() BakeSettings {
	return BakeSettings{
		Mode:                      BakeModeFullBake,
		GISamples:                 512,
		Denoise:                   false,
		IrradianceCacheQuality:    128,
		IrradianceCacheSpacing:    32.0,
		VolumetricDetailCellSize:  200.0,
		MinImportanceVolumeExtent: 1000.0,
		ImportanceVolumeExpandBy:  500.0,
		TilesPerTick:              128,
		PassesPerTick:             32,
	}
}
