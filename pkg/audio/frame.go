package audio

// Carrier media framing. One frame is 20 ms of 8 kHz µ-law: 160 bytes.
const (
	// FrameBytes is the size of one outbound µ-law media frame.
	FrameBytes = 160

	// FrameSamples is the number of 8 kHz samples in one frame.
	FrameSamples = 160

	// muLawSilence is the µ-law code for a zero-ish sample, used to pad the
	// tail frame of a sentence.
	muLawSilence = 0xff
)

// Frames splits µ-law bytes into FrameBytes-sized frames. The final short
// frame, if any, is padded with µ-law silence so the carrier always receives
// whole 20 ms frames. An empty input yields no frames.
func Frames(ulaw []byte) [][]byte {
	if len(ulaw) == 0 {
		return nil
	}
	n := (len(ulaw) + FrameBytes - 1) / FrameBytes
	frames := make([][]byte, 0, n)
	for off := 0; off < len(ulaw); off += FrameBytes {
		end := off + FrameBytes
		if end <= len(ulaw) {
			frames = append(frames, ulaw[off:end])
			continue
		}
		padded := make([]byte, FrameBytes)
		copied := copy(padded, ulaw[off:])
		for i := copied; i < FrameBytes; i++ {
			padded[i] = muLawSilence
		}
		frames = append(frames, padded)
	}
	return frames
}

// FadeIn applies a linear ramp over the first n samples in place. Ramping the
// start of each synthesised sentence avoids an audible click when the carrier
// switches from silence to speech. n is clamped to len(samples).
func FadeIn(samples []int16, n int) {
	if n > len(samples) {
		n = len(samples)
	}
	for i := 0; i < n; i++ {
		samples[i] = int16(int32(samples[i]) * int32(i) / int32(n))
	}
}

// FadeOut applies a linear ramp over the last n samples in place.
func FadeOut(samples []int16, n int) {
	if n > len(samples) {
		n = len(samples)
	}
	start := len(samples) - n
	for i := range n {
		samples[start+i] = int16(int32(samples[start+i]) * int32(n-1-i) / int32(n))
	}
}
