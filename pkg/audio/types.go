package audio

import (
	"fmt"
	"time"
)

// Buffer is a block of decoded audio ready for playback or encoding.
// Samples are interleaved float32 values in the range [-1, 1].
type Buffer struct {
	// Samples holds interleaved PCM samples.
	Samples []float32

	// SampleRate in Hz (e.g., 16000 for capture, 24000 for playback).
	SampleRate int

	// Channels: 1 for mono. The bridge only ever produces mono buffers.
	Channels int
}

// Frames returns the number of sample frames (samples per channel).
func (b Buffer) Frames() int {
	if b.Channels <= 0 {
		return len(b.Samples)
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playback length of the buffer at its sample rate.
// A buffer with a non-positive sample rate has zero duration.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(b.Frames()) * int64(time.Second) / int64(b.SampleRate))
}

// Blob is the wire representation of an audio chunk: base64-armoured 16-bit
// little-endian PCM tagged with a MIME type such as "audio/pcm;rate=16000".
type Blob struct {
	MIMEType string
	Data     string
}

// PCMMIMEType returns the MIME type used for raw 16-bit PCM at rate.
func PCMMIMEType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}
