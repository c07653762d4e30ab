package lightbake

// DenoiseLightSamples runs a 3x3 spatial filter over the incident lighting
// coefficients. Unmapped texels neither contribute nor change; the
// directionality coefficients pass through untouched.
func DenoiseLightSamples(samples []LightSample, width, height int32) {
	filtered := make([][3]float32, len(samples))
	for y := int32(0); y < height; y++ {
		for x := int32(0); x < width; x++ {
			idx := y*width + x
			if !samples[idx].Mapped {
				continue
			}
			var sum [3]float32
			var weight float32
			for dy := int32(-1); dy <= 1; dy++ {
				for dx := int32(-1); dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || nx >= width || ny < 0 || ny >= height {
						continue
					}
					n := &samples[ny*width+nx]
					if !n.Mapped {
						continue
					}
					w := float32(1)
					if dx == 0 && dy == 0 {
						w = 4
					}
					for c := 0; c < 3; c++ {
						sum[c] += n.Coefficients[0][c] * w
					}
					weight += w
				}
			}
			for c := 0; c < 3; c++ {
				filtered[idx][c] = sum[c] / weight
			}
		}
	}
	for i := range samples {
		if samples[i].Mapped {
			samples[i].Coefficients[0] = filtered[i]
		}
	}
}
