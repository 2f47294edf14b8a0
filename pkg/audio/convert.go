package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form, e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// FormatConverter converts float32 sample slices from a source format to a
// mono stream at Target.SampleRate. It logs once on the first mismatch.
// Create one per stream; not designed for shared use across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
}

// Convert downmixes samples (interleaved at src) to mono and resamples them to
// the target rate. When src already matches the target, samples are returned
// unchanged.
func (c *FormatConverter) Convert(samples []float32, src Format) []float32 {
	if src.Channels <= 0 {
		src.Channels = 1
	}
	if src.SampleRate == c.Target.SampleRate && src.Channels == 1 {
		return samples
	}
	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", src.String(),
			"to", Format{SampleRate: c.Target.SampleRate, Channels: 1}.String(),
		)
	})
	// Downmix first so the resampler only touches one channel.
	if src.Channels > 1 {
		samples = DownmixMono(samples, src.Channels)
	}
	return ResampleMono(samples, src.SampleRate, c.Target.SampleRate)
}

// DownmixMono averages each interleaved frame of channels samples into one.
func DownmixMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// ResampleMono resamples mono float32 samples from srcRate to dstRate using
// linear interpolation. If srcRate == dstRate, the input is returned unchanged.
func ResampleMono(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}
	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))
		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// BytesToFloat32 decodes little-endian IEEE-754 float32 samples. Trailing
// bytes that do not form a whole sample are ignored.
func BytesToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// Float32ToBytes encodes samples as little-endian IEEE-754 float32.
func Float32ToBytes(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// Reblocker accumulates arbitrarily sized sample slices and emits blocks of a
// fixed size. It is not safe for concurrent use.
type Reblocker struct {
	size int
	buf  []float32
}

// NewReblocker returns a Reblocker emitting blocks of size samples.
// A non-positive size is treated as 1.
func NewReblocker(size int) *Reblocker {
	if size <= 0 {
		size = 1
	}
	return &Reblocker{size: size, buf: make([]float32, 0, size)}
}

// Write appends samples and returns every complete block now available, in
// order. Each returned block is a fresh slice owned by the caller.
func (r *Reblocker) Write(samples []float32) [][]float32 {
	var blocks [][]float32
	for len(samples) > 0 {
		n := min(r.size-len(r.buf), len(samples))
		r.buf = append(r.buf, samples[:n]...)
		samples = samples[n:]
		if len(r.buf) == r.size {
			block := make([]float32, r.size)
			copy(block, r.buf)
			blocks = append(blocks, block)
			r.buf = r.buf[:0]
		}
	}
	return blocks
}

// Pending reports how many samples are buffered towards the next block.
func (r *Reblocker) Pending() int { return len(r.buf) }

// Reset discards any partially filled block.
func (r *Reblocker) Reset() { r.buf = r.buf[:0] }
