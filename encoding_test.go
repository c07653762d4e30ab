package lightbake

import (
	"testing"

	"github.com/gekko3d/lightbake/gi/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertToLightSample(t *testing.T) {
	s := ConvertToLightSample(
		core.LinearColor{R: 1, G: 2, B: 3, A: 1},
		core.LinearColor{R: 0, G: 0, B: 1, A: 1},
	)
	assert.True(t, s.Mapped)
	assert.Equal(t, [3]float32{1, 2, 3}, s.Coefficients[0])
	assert.Equal(t, [3]float32{0, 0, 1}, s.Coefficients[1])

	unmapped := ConvertToLightSample(core.LinearColor{R: 1}, core.LinearColor{})
	assert.False(t, unmapped.Mapped)
}

func TestConvertToShadowSample(t *testing.T) {
	mask := core.LinearColor{R: 0.25, G: 0.5, B: 0.75, A: 1}
	for channel, want := range []float32{0.25, 0.5, 0.75, 1} {
		s := ConvertToShadowSample(mask, int32(channel))
		assert.Equal(t, want, s.Distance)
		assert.Equal(t, float32(1), s.Coverage)
		assert.Equal(t, float32(1), s.PenumbraSize)
	}

	empty := ConvertToShadowSample(core.LinearColor{}, 0)
	assert.Equal(t, float32(0), empty.Distance)
	assert.Equal(t, float32(0), empty.Coverage)
}

func TestQuantizeLightSamples_RoundTrip(t *testing.T) {
	const w, h = 8, 8
	samples := make([]LightSample, w*h)
	for i := range samples {
		samples[i] = LightSample{
			Coefficients: [2][3]float32{
				{0.5 + float32(i)*0.01, 2, 0.125},
				{0, 0, 1},
			},
			Mapped: true,
		}
	}

	q := QuantizeLightSamples(samples, w, h)
	require.Len(t, q.Data, w*h*4)
	assert.Equal(t, [2]float32{1, 1}, q.CoordinateScale)

	for i := range samples {
		x, y := int32(i%w), int32(i/w)
		assert.InDelta(t, samples[i].Coefficients[0][0], q.Dequantize(x, y, 0), 0.005)
		assert.InDelta(t, 2, q.Dequantize(x, y, 1), 0.005)
		assert.InDelta(t, 0.125, q.Dequantize(x, y, 2), 0.005)
		// Alpha carries the directionality luminance.
		assert.InDelta(t, 0.11, q.Dequantize(x, y, 3), 0.005)
	}

	// 8x8 downsamples to a single 4x4 mip.
	require.Len(t, q.Mips, 1)
	assert.Len(t, q.Mips[0], 4*4*4)
}

func TestQuantizeLightSamples_AllUnmapped(t *testing.T) {
	samples := make([]LightSample, 16)
	q := QuantizeLightSamples(samples, 4, 4)
	assert.Equal(t, [4]float32{}, q.Scale)
	for _, b := range q.Data {
		if b != 0 {
			t.Fatalf("Expected zeroed data for an unmapped lightmap")
		}
	}
}

func TestQuantizeShadowSamples(t *testing.T) {
	samples := []ShadowSample{
		{Distance: 0}, {Distance: 0.5}, {Distance: 1}, {Distance: 2},
	}
	m := QuantizeShadowSamples(samples, 2, 2, 1)
	assert.EqualValues(t, 1, m.Channel)
	assert.Equal(t, []byte{0, 128, 255, 255}, m.Data)
}

func TestDenoiseLightSamples(t *testing.T) {
	const w, h = 4, 4
	flat := make([]LightSample, w*h)
	for i := range flat {
		flat[i] = LightSample{Coefficients: [2][3]float32{{1, 1, 1}, {0, 0, 1}}, Mapped: true}
	}
	DenoiseLightSamples(flat, w, h)
	for i := range flat {
		assert.InDelta(t, 1, flat[i].Coefficients[0][0], 1e-5)
	}

	// A hot texel is pulled toward its neighbourhood.
	noisy := make([]LightSample, w*h)
	for i := range noisy {
		noisy[i] = LightSample{Coefficients: [2][3]float32{{1, 1, 1}, {0, 0, 1}}, Mapped: true}
	}
	center := int32(1)*w + 1
	noisy[center].Coefficients[0] = [3]float32{10, 1, 1}
	DenoiseLightSamples(noisy, w, h)
	if noisy[center].Coefficients[0][0] >= 10 {
		t.Errorf("Expected the hot texel to be filtered down, got %v", noisy[center].Coefficients[0][0])
	}
	if noisy[center].Coefficients[0][0] <= 1 {
		t.Errorf("Expected the hot texel to keep some of its energy, got %v", noisy[center].Coefficients[0][0])
	}

	// Unmapped texels stay untouched and do not bleed into neighbours.
	mixed := make([]LightSample, w*h)
	for i := range mixed {
		mixed[i] = LightSample{Coefficients: [2][3]float32{{1, 1, 1}, {0, 0, 1}}, Mapped: true}
	}
	mixed[0].Mapped = false
	mixed[0].Coefficients[0] = [3]float32{100, 100, 100}
	DenoiseLightSamples(mixed, w, h)
	assert.Equal(t, [3]float32{100, 100, 100}, mixed[0].Coefficients[0])
	assert.InDelta(t, 1, mixed[1].Coefficients[0][0], 1e-5)
}
