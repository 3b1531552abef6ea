package audio

// DefaultGain is the linear amplification applied to live capture.
const DefaultGain = 2.0

// ApplyGain scales samples in place. Clamping happens at encode time.
func ApplyGain(samples []float32, gain float32) {
	if gain == 1 {
		return
	}
	for i := range samples {
		samples[i] *= gain
	}
}
