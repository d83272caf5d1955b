package fir

import (
	"math"
)

// MakeLowPass returns taps for a low-pass filter with unity gain scaled by
// gain at DC. The tap count grows with sampleRate/transitionWidth.
func MakeLowPass(gain, sampleRate, cutFrequency, transitionWidth float64, winType WindowType) []float32 {
	nTaps := computeNTaps(sampleRate, transitionWidth, winType)
	taps := make([]float32, nTaps)
	w := windowFuncs[winType](nTaps)

	M := (nTaps - 1) / 2
	fwT0 := 2 * math.Pi * cutFrequency / sampleRate

	for i := -M; i <= M; i++ {
		if i == 0 {
			taps[M] = float32(fwT0 / math.Pi * float64(w[M]))
			continue
		}
		fi := float64(i)
		taps[i+M] = float32(math.Sin(fi*fwT0) / (fi * math.Pi) * float64(w[i+M]))
	}

	fmax := float64(taps[M])
	for i := 1; i <= M; i++ {
		fmax += 2 * float64(taps[i+M])
	}

	gain /= fmax
	for i := range taps {
		taps[i] = float32(float64(taps[i]) * gain)
	}

	return taps
}
