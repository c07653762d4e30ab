package lightbake

import (
	"image"
	"math"

	"github.com/gekko3d/lightbake/gi/core"
	"golang.org/x/image/draw"
)

// LightSample is the working representation of one lightmap texel between
// transcode and quantization: HDR incident lighting plus the
// directionality coefficients.
type LightSample struct {
	Coefficients [2][3]float32
	Mapped       bool
}

// ConvertToLightSample pairs an irradiance texel with its directionality SH
// texel. A texel with zero alpha never received a sample and stays
// unmapped.
func ConvertToLightSample(irradiance, sh core.LinearColor) LightSample {
	s := LightSample{Mapped: irradiance.A > 0}
	s.Coefficients[0] = [3]float32{irradiance.R, irradiance.G, irradiance.B}
	s.Coefficients[1] = [3]float32{sh.R, sh.G, sh.B}
	return s
}

// ShadowSample is one texel of a stationary light's signed distance field
// shadow mask.
type ShadowSample struct {
	Distance     float32
	PenumbraSize float32
	Coverage     float32
}

// ConvertToShadowSample extracts the channel a stationary light occupies
// from the packed shadow mask texel.
func ConvertToShadowSample(mask core.LinearColor, channel int32) ShadowSample {
	var v float32
	switch channel {
	case 0:
		v = mask.R
	case 1:
		v = mask.G
	case 2:
		v = mask.B
	case 3:
		v = mask.A
	}
	s := ShadowSample{Distance: v, PenumbraSize: 1}
	if v > 0 {
		s.Coverage = 1
	}
	return s
}

// QuantizeLightSamples maps HDR samples to RGBA8 with a per-channel linear
// transform: texel/255 * Scale + Add reproduces the input range. The alpha
// channel carries the directionality luminance.
func QuantizeLightSamples(samples []LightSample, width, height int32) *QuantizedLightmap {
	var minC, maxC [4]float32
	for c := range minC {
		minC[c] = float32(math.Inf(1))
		maxC[c] = float32(math.Inf(-1))
	}
	channelValue := func(s *LightSample, c int) float32 {
		if c < 3 {
			return s.Coefficients[0][c]
		}
		d := s.Coefficients[1]
		return 0.3*d[0] + 0.59*d[1] + 0.11*d[2]
	}
	anyMapped := false
	for i := range samples {
		if !samples[i].Mapped {
			continue
		}
		anyMapped = true
		for c := 0; c < 4; c++ {
			v := channelValue(&samples[i], c)
			minC[c] = min(minC[c], v)
			maxC[c] = max(maxC[c], v)
		}
	}
	q := &QuantizedLightmap{
		Width:           width,
		Height:          height,
		Data:            make([]byte, int(width)*int(height)*4),
		CoordinateScale: [2]float32{1, 1},
	}
	if !anyMapped {
		return q
	}
	for c := 0; c < 4; c++ {
		span := maxC[c] - minC[c]
		if span <= 0 {
			span = 1
		}
		q.Scale[c] = span
		q.Add[c] = minC[c]
	}
	for i := range samples {
		if !samples[i].Mapped {
			continue
		}
		for c := 0; c < 4; c++ {
			v := (channelValue(&samples[i], c) - q.Add[c]) / q.Scale[c]
			q.Data[i*4+c] = byte(min(max(v, 0), 1)*255 + 0.5)
		}
	}
	q.Mips = buildMipChain(q.Data, width, height)
	return q
}

// Dequantize returns the HDR value of one channel of one texel.
func (q *QuantizedLightmap) Dequantize(x, y int32, channel int) float32 {
	idx := (y*q.Width + x) * 4
	return float32(q.Data[idx+int32(channel)])/255*q.Scale[channel] + q.Add[channel]
}

// QuantizeShadowSamples packs the distance field into one byte per texel.
func QuantizeShadowSamples(samples []ShadowSample, width, height, channel int32) *SignedDistanceFieldShadowMap {
	m := &SignedDistanceFieldShadowMap{
		Width:   width,
		Height:  height,
		Channel: channel,
		Data:    make([]byte, int(width)*int(height)),
	}
	for i := range samples {
		m.Data[i] = byte(min(max(samples[i].Distance, 0), 1)*255 + 0.5)
	}
	return m
}

// buildMipChain downsamples the RGBA8 mip 0 down to 4x4.
func buildMipChain(data []byte, width, height int32) [][]byte {
	var mips [][]byte
	src := &image.NRGBA{
		Pix:    data,
		Stride: int(width) * 4,
		Rect:   image.Rect(0, 0, int(width), int(height)),
	}
	w, h := width, height
	for w > 4 && h > 4 {
		w, h = max(w/2, 4), max(h/2, 4)
		dst := image.NewNRGBA(image.Rect(0, 0, int(w), int(h)))
		draw.ApproxBiLinear.Scale(dst, dst.Rect, src, src.Rect, draw.Src, nil)
		mips = append(mips, dst.Pix)
		src = dst
	}
	return mips
}
