// Package audio holds PCM helpers shared by the capture and recording
// layers: frame energy measurement and WAV container encode/decode.
package audio

import (
	"encoding/binary"
	"math"
)

// EnergyScale is the upper bound of the frame energy range. It mirrors the
// byte-valued analyser output of browser capture stacks so thresholds stay
// portable between device-computed and core-computed energies.
const EnergyScale = 255

// FrameEnergy computes the RMS energy of little-endian PCM16 data scaled to
// 0-255. Returns 0 for payloads shorter than one sample.
func FrameEnergy(pcm []byte) float64 {
	sampleCount := len(pcm) / 2
	if sampleCount == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < sampleCount; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(sampleCount))
	return rms / 32768 * EnergyScale
}

// PCMSamples converts little-endian PCM16 bytes to int samples. Trailing odd
// bytes are dropped.
func PCMSamples(pcm []byte) []int {
	sampleCount := len(pcm) / 2
	samples := make([]int, sampleCount)
	for i := 0; i < sampleCount; i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return samples
}
