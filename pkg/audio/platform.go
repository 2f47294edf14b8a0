// Package audio defines the media-device abstractions, sample types, and wire
// codec used by the realtime bridge.
//
// The bridge talks to three device roles:
//
//   - [CaptureEndpoint] delivers fixed-size blocks of microphone samples.
//   - [PlaybackEndpoint] schedules decoded buffers against its own clock.
//   - [Microphone] is the permission-gated input stream feeding capture.
//
// A [Devices] value opens all three. Implementations live in adapter packages
// (e.g., audio/browser) and in audio/mock for tests.
package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied is returned by [Devices.Microphone] when the user
	// refuses microphone access.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrDeviceUnavailable is returned when no usable input or output device
	// exists, or the device went away.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")
)

// Endpoint is the lifecycle shared by capture and playback endpoints.
type Endpoint interface {
	// SampleRate reports the rate the endpoint was opened at.
	SampleRate() int

	// Resume starts (or un-suspends) the endpoint's processing clock.
	Resume(ctx context.Context) error

	// Close releases the endpoint. Calling Close more than once is safe.
	Close() error
}

// Microphone is a live input stream obtained after permission was granted.
type Microphone interface {
	// Stop ends every track of the stream. It is safe to call more than once.
	Stop()
}

// CaptureEndpoint turns microphone input into fixed-size sample blocks.
type CaptureEndpoint interface {
	Endpoint

	// Tap wires mic into the endpoint and returns a channel delivering
	// blocks of exactly blockSize mono samples at [Endpoint.SampleRate].
	// The channel is closed when the endpoint or microphone is closed.
	Tap(mic Microphone, blockSize int) (<-chan []float32, error)
}

// Source is one scheduled playback unit.
type Source interface {
	// Stop halts the unit immediately. Stopping an ended unit is a no-op.
	Stop()

	// Ended is closed once the unit finishes naturally or is stopped.
	Ended() <-chan struct{}
}

// PlaybackEndpoint renders buffers at precise times on its own clock.
type PlaybackEndpoint interface {
	Endpoint

	// CurrentTime returns the endpoint clock, which starts at zero on
	// Resume and advances monotonically.
	CurrentTime() time.Duration

	// Schedule queues buf to start at the given clock time. A start in the
	// past plays immediately.
	Schedule(buf Buffer, at time.Duration) (Source, error)
}

// Devices opens the endpoints and microphone for one bridge session.
//
// Implementations must be safe for concurrent use.
type Devices interface {
	// OpenCapture opens a capture endpoint running at sampleRate.
	OpenCapture(ctx context.Context, sampleRate int) (CaptureEndpoint, error)

	// OpenPlayback opens a playback endpoint running at sampleRate.
	OpenPlayback(ctx context.Context, sampleRate int) (PlaybackEndpoint, error)

	// Microphone requests a mono microphone stream. It returns
	// [ErrPermissionDenied] or [ErrDeviceUnavailable] (possibly wrapped) when
	// the request cannot be satisfied.
	Microphone(ctx context.Context) (Microphone, error)
}
