// Package audio holds the signal-processing utilities of the voice pipeline:
// PCM16 codecs, linear resampling, RMS energy based speech classification, the
// producer/consumer chunk queue, and a WAV container writer.
//
// Every function in this file is pure and deterministic.
package audio

import (
	"encoding/binary"
	"math"
)

// DefaultSpeechThreshold is the RMS level (on the signed 16-bit scale) above
// which a block is classified as speech.
const DefaultSpeechThreshold = 200.0

// Samples decodes little-endian PCM16 bytes into samples. A trailing odd byte
// is ignored.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// Float32 decodes little-endian PCM16 bytes into samples scaled to
// [-1.0, 1.0), the input format of float-based recognisers. A trailing odd
// byte is ignored.
func Float32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out
}

// Bytes encodes samples as little-endian PCM16.
func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Resample converts samples from srcRate to dstRate by linear interpolation
// over the time axis. The output holds round(len(samples)*dstRate/srcRate)
// samples and its first and last samples coincide with the input's first and
// last samples. When the rates match, or either rate is not positive, a copy
// of the input is returned.
func Resample(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}
	n := len(samples)
	if n == 0 {
		return nil
	}
	m := int(math.Round(float64(n) * float64(dstRate) / float64(srcRate)))
	if m == 0 {
		return nil
	}

	out := make([]int16, m)
	if m == 1 || n == 1 {
		for i := range out {
			out[i] = samples[0]
		}
		return out
	}

	for i := range m {
		pos := float64(i*(n-1)) / float64(m-1)
		idx := int(pos)
		if i == m-1 || idx >= n-1 {
			out[i] = samples[n-1]
			continue
		}
		frac := pos - float64(idx)
		v := float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac
		out[i] = clamp16(v)
	}
	return out
}

// ResamplePCM16 is [Resample] over little-endian PCM16 bytes.
func ResamplePCM16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate == dstRate {
		return pcm
	}
	return Bytes(Resample(Samples(pcm), srcRate, dstRate))
}

// RMS returns the root-mean-square energy of samples. An empty block has
// zero energy.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Classify reports [Speech] iff the RMS energy of samples exceeds threshold.
func Classify(samples []int16, threshold float64) Activity {
	if RMS(samples) > threshold {
		return Speech
	}
	return Silence
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
// Input must be little-endian int16 PCM (2 bytes per sample).
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

// clamp16 truncates v toward zero and clamps it to the int16 range.
func clamp16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
