// Package audio provides PCM sample handling shared by the speech, alignment
// and motion packages: WAV encode/decode, short-time RMS, and silence
// generation for the speech-synthesis fallback path.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DefaultSampleRate is used when a collaborator does not report one.
const DefaultSampleRate = 22050

// SpeakingRate is the estimated speech rate in characters per second,
// used to size fallback audio when the TTS collaborator is unavailable.
const SpeakingRate = 15.0

// DecodePCM16 converts little-endian 16-bit PCM bytes to normalized
// float64 samples in [-1, 1]. A trailing odd byte is ignored.
func DecodePCM16(data []byte) []float64 {
	n := len(data) / 2
	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float64(v) / 32768.0
	}
	return samples
}

// EncodePCM16 converts normalized float64 samples to little-endian
// 16-bit PCM bytes, clipping to [-1, 1].
func EncodePCM16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*32767)))
	}
	return out
}

// RMS computes the root-mean-square amplitude of samples[start:end).
// Out-of-range bounds are clamped; an empty window yields 0.
func RMS(samples []float64, start, end int) float64 {
	if start < 0 {
		start = 0
	}
	if end > len(samples) {
		end = len(samples)
	}
	if start >= end {
		return 0
	}
	var sum float64
	for _, s := range samples[start:end] {
		sum += s * s
	}
	return math.Sqrt(sum / float64(end-start))
}

// Silence returns duration seconds of zero samples at the given rate.
// The result is never empty: duration is floored at 0.1s.
func Silence(duration float64, sampleRate int) []float64 {
	if duration < 0.1 {
		duration = 0.1
	}
	return make([]float64, int(duration*float64(sampleRate)))
}

// EstimateDuration estimates how long spoken text lasts, in seconds,
// using the speaking-rate heuristic. Floored at 0.1s.
func EstimateDuration(text string) float64 {
	d := float64(len(text)) / SpeakingRate
	if d < 0.1 {
		d = 0.1
	}
	return d
}

// Duration returns the length of the sample buffer in seconds.
func Duration(samples []float64, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(len(samples)) / float64(sampleRate)
}

// validRate guards WAV headers against nonsense rates.
func validRate(rate int) error {
	if rate < 8000 || rate > 192000 {
		return fmt.Errorf("unsupported sample rate %d", rate)
	}
	return nil
}
