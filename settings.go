package lightbake

import (
	"bytes"
	"fmt"
	"os"

	"github.com/gekko3d/lightbake/gi/core"
	"github.com/pelletier/go-toml/v2"
)

// LoadBakeSettings reads a TOML settings file over the defaults. Unknown
// keys are rejected so typos fail loudly instead of silently baking with
// defaults.
func LoadBakeSettings(path string) (core.BakeSettings, error) {
	settings := core.DefaultBakeSettings()
	raw, err := os.ReadFile(path)
	if err != nil {
		return settings, fmt.Errorf("failed to read settings file: %w", err)
	}
	dec := toml.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&settings); err != nil {
		return settings, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}
	if err := ValidateBakeSettings(settings); err != nil {
		return settings, err
	}
	return settings, nil
}

func ParseBakeSettings(raw []byte) (core.BakeSettings, error) {
	settings := core.DefaultBakeSettings()
	dec := toml.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&settings); err != nil {
		return settings, fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := ValidateBakeSettings(settings); err != nil {
		return settings, err
	}
	return settings, nil
}

func ValidateBakeSettings(s core.BakeSettings) error {
	if s.Mode != core.BakeModeFullBake && s.Mode != core.BakeModeBakeWhatYouSee {
		return fmt.Errorf("unknown bake mode %q", s.Mode)
	}
	if s.GISamples <= 0 {
		return fmt.Errorf("gi-samples must be positive, got %d", s.GISamples)
	}
	if s.TilesPerTick <= 0 || s.PassesPerTick <= 0 {
		return fmt.Errorf("per-tick budgets must be positive")
	}
	if s.VolumetricDetailCellSize <= 0 {
		return fmt.Errorf("volumetric-detail-cell-size must be positive")
	}
	return nil
}
