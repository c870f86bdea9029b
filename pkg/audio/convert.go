package audio

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. The input must be little-endian int16 samples. If
// srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// Resampler converts a stream of 16-bit mono PCM between two fixed rates
// while carrying interpolation state across calls, so chunk boundaries do not
// introduce seams. Create one per stream; not designed for shared use across
// goroutines.
type Resampler struct {
	srcRate int
	dstRate int

	// pos is the fractional read position into the virtual source stream,
	// relative to prev. prevValid is false until the first sample arrives.
	pos       float64
	prev      int16
	prevValid bool
}

// NewResampler returns a streaming resampler from srcRate to dstRate.
// Rates must be positive.
func NewResampler(srcRate, dstRate int) *Resampler {
	return &Resampler{srcRate: srcRate, dstRate: dstRate}
}

// Resample converts the next chunk of samples. The returned slice is freshly
// allocated and may be empty when the chunk is too small to produce an output
// sample at the current position. Passing chunks in order preserves
// continuity with all previous calls.
func (r *Resampler) Resample(samples []int16) []int16 {
	if r.srcRate == r.dstRate {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}
	if len(samples) == 0 {
		return nil
	}

	// Extend the window with the carried sample so interpolation can reach
	// back across the chunk boundary.
	window := samples
	if r.prevValid {
		window = make([]int16, 0, len(samples)+1)
		window = append(window, r.prev)
		window = append(window, samples...)
	}

	ratio := float64(r.srcRate) / float64(r.dstRate)
	var out []int16

	for {
		idx := int(r.pos)
		if idx+1 >= len(window) {
			break
		}
		frac := r.pos - float64(idx)
		s0 := float64(window[idx])
		s1 := float64(window[idx+1])
		out = append(out, int16(s0*(1-frac)+s1*frac))
		r.pos += ratio
	}

	// Carry the last sample and rebase the position onto it.
	r.prev = window[len(window)-1]
	r.prevValid = true
	r.pos -= float64(len(window) - 1)
	return out
}

// Reset clears the carried state so the next chunk starts a fresh stream.
func (r *Resampler) Reset() {
	r.pos = 0
	r.prev = 0
	r.prevValid = false
}

// Drain consumes ch to completion, discarding every value. Call it when a
// synthesis or completion stream is abandoned mid-flight so the producing
// goroutine can exit.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
