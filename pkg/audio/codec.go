package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrEmptyAudio is returned when a chunk carries no samples.
	ErrEmptyAudio = errors.New("audio: empty payload")

	// ErrMisaligned is returned when a PCM payload is not a whole number of
	// 16-bit sample frames.
	ErrMisaligned = errors.New("audio: payload not aligned to sample frames")
)

// EncodePCM16 converts float32 samples to 16-bit little-endian PCM. Samples
// outside [-1, 1] are clamped. Negative values scale by 0x8000 and positive
// values by 0x7FFF so both extremes map onto the full int16 range.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7FFF)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// DecodePCM16 converts 16-bit little-endian PCM into a [Buffer] with the
// given sample rate and channel count.
func DecodePCM16(pcm []byte, sampleRate, channels int) (Buffer, error) {
	if channels <= 0 {
		channels = 1
	}
	if len(pcm) == 0 {
		return Buffer{}, ErrEmptyAudio
	}
	if len(pcm)%(2*channels) != 0 {
		return Buffer{}, fmt.Errorf("%w: %d bytes for %d channel(s)", ErrMisaligned, len(pcm), channels)
	}
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(v) / 32768
	}
	return Buffer{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}

// EncodeBlob encodes one captured block into its wire form. The conversion
// is stateless: no samples are carried over between blocks.
func EncodeBlob(samples []float32, sampleRate int) Blob {
	return Blob{
		MIMEType: PCMMIMEType(sampleRate),
		Data:     base64.StdEncoding.EncodeToString(EncodePCM16(samples)),
	}
}

// DecodeBlob reverses [EncodeBlob], producing a playable buffer at the given
// rate and channel count.
func DecodeBlob(b Blob, sampleRate, channels int) (Buffer, error) {
	raw, err := base64.StdEncoding.DecodeString(b.Data)
	if err != nil {
		return Buffer{}, fmt.Errorf("audio: decode base64: %w", err)
	}
	return DecodePCM16(raw, sampleRate, channels)
}
