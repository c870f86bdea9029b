// Package audio provides the narrow-band audio primitives the call pipeline
// is built on: G.711 µ-law encode/decode, RMS energy, linear-interpolation
// resampling (stateless and streaming), 20 ms µ-law framing, and short
// fade ramps for click-free sentence starts and stops.
//
// All linear PCM in this package is little-endian signed 16-bit mono unless a
// function says otherwise. Telephony carriers deliver and expect 8 kHz µ-law;
// speech providers consume and produce 16 kHz linear PCM. The two rate
// constants below are referenced throughout the pipeline.
package audio

import "math"

// Sample rates the pipeline converts between.
const (
	// TelephonyRate is the carrier sample rate (G.711 µ-law, 8 kHz).
	TelephonyRate = 8000

	// SynthesisRate is the linear PCM rate requested from speech providers.
	SynthesisRate = 16000
)

// µ-law companding constants (G.711).
const (
	muLawBias = 0x84  // 132: shifts encoding away from zero
	muLawClip = 32635 // max magnitude before bias is applied
)

// muLawToLinear is the 256-entry expansion table, built once at init.
var muLawToLinear [256]int16

func init() {
	for i := range muLawToLinear {
		muLawToLinear[i] = expandMuLaw(byte(i))
	}
}

// expandMuLaw converts a single µ-law byte to a linear sample.
func expandMuLaw(u byte) int16 {
	u = ^u
	t := (int32(u&0x0f)<<3 + muLawBias) << ((u & 0x70) >> 4)
	if u&0x80 != 0 {
		return int16(muLawBias - t)
	}
	return int16(t - muLawBias)
}

// compressMuLaw converts a single linear sample to its µ-law byte.
func compressMuLaw(sample int16) byte {
	s := int32(sample)
	var sign byte
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > muLawClip {
		s = muLawClip
	}
	s += muLawBias

	exponent := 7
	for mask := int32(0x4000); exponent > 0 && s&mask == 0; exponent-- {
		mask >>= 1
	}
	mantissa := byte(s>>(exponent+3)) & 0x0f
	return ^(sign | byte(exponent)<<4 | mantissa)
}

// DecodeMuLaw expands µ-law bytes to linear samples.
func DecodeMuLaw(ulaw []byte) []int16 {
	out := make([]int16, len(ulaw))
	for i, u := range ulaw {
		out[i] = muLawToLinear[u]
	}
	return out
}

// EncodeMuLaw compresses linear samples to µ-law bytes.
func EncodeMuLaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = compressMuLaw(s)
	}
	return out
}

// RMS returns the root-mean-square energy of the samples. An empty slice has
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

// Samples reinterprets little-endian int16 PCM bytes as samples. A trailing
// odd byte is ignored.
func Samples(pcm []byte) []int16 {
	n := len(pcm) / 2
	out := make([]int16, n)
	for i := range n {
		out[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return out
}

// Bytes packs samples into little-endian int16 PCM bytes.
func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
