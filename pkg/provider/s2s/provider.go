// Package s2s defines the Provider interface for bidirectional speech-to-speech
// backends.
//
// An S2S provider wraps a hosted realtime voice model that accepts streamed
// microphone audio and answers with synthesised speech plus live transcripts
// in a single, stateful session. Examples include the Gemini Live API and the
// OpenAI Realtime API.
//
// The central abstraction is SessionHandle: a send method for outbound audio
// blobs and a single ordered channel of [ServerMessage] values. A handle is
// only ever returned after the remote side acknowledged the session, so
// callers never send audio into a half-open connection.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"

	"github.com/MrWong99/guru/pkg/audio"
)

// Modality is a response modality requested from the model.
type Modality string

const (
	// ModalityAudio asks the model to answer with synthesised speech.
	ModalityAudio Modality = "AUDIO"

	// ModalityText asks the model to answer with text.
	ModalityText Modality = "TEXT"
)

// Voice identifies a prebuilt voice offered by a provider.
type Voice struct {
	// ID is the provider-specific voice name (e.g., "Kore").
	ID string

	// Name is a human-readable label.
	Name string

	// Provider names the backend that owns the voice.
	Provider string
}

// SessionConfig is the initial configuration for a new S2S session.
type SessionConfig struct {
	// Model overrides the provider's default model when non-empty.
	Model string

	// Instructions is the persona prompt. Equivalent to a system message.
	Instructions string

	// Voice is the prebuilt voice used for speech output.
	Voice Voice

	// ResponseModality selects what the model answers with. Defaults to
	// [ModalityAudio] when empty.
	ResponseModality Modality

	// InputTranscription requests live transcripts of the user's speech.
	InputTranscription bool

	// OutputTranscription requests live transcripts of the model's speech.
	OutputTranscription bool
}

// Capabilities describes static properties of an S2S provider.
type Capabilities struct {
	// InputSampleRate is the PCM rate the provider expects for input audio.
	InputSampleRate int

	// OutputSampleRate is the PCM rate of the audio the provider returns.
	OutputSampleRate int

	// MaxSessionDurationMs is the hard upper bound on session lifetime in
	// milliseconds. Zero means no documented limit.
	MaxSessionDurationMs int

	// Voices lists the prebuilt voices available for this provider.
	Voices []Voice
}

// ServerMessage is one inbound event from the model. Several fields may be set
// on the same message; consumers handle them in the order transcripts,
// turn-complete, audio, interruption.
type ServerMessage struct {
	// InputTranscript is a partial transcript of the user's speech.
	InputTranscript string

	// OutputTranscript is a partial transcript of the model's speech.
	OutputTranscript string

	// TurnComplete marks the end of the model's turn.
	TurnComplete bool

	// Interrupted reports that the user barged in and queued playback
	// should be discarded.
	Interrupted bool

	// Audio holds inline audio chunks, in order.
	Audio []audio.Blob
}

// SessionHandle represents an open, acknowledged S2S session.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendRealtimeInput streams one encoded audio chunk to the model.
	// Returns an error if the session is closed or the write fails.
	SendRealtimeInput(ctx context.Context, blob audio.Blob) error

	// Messages returns the ordered stream of inbound events. The channel is
	// closed when the session ends for any reason; call Err afterwards to
	// tell a clean close from a failure.
	Messages() <-chan ServerMessage

	// Err returns the error that ended the session, or nil if it ended
	// cleanly or is still open.
	Err() error

	// Close terminates the session and closes the Messages channel.
	// Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any S2S backend.
type Provider interface {
	// Connect opens a session and waits for the remote acknowledgement.
	// The returned handle is ready to accept audio. If ctx is cancelled
	// before the acknowledgement arrives, the attempt is abandoned and
	// ctx.Err() is returned (possibly wrapped).
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
