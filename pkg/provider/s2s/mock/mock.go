// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions.
// Use Session to push server messages, end the stream, and inspect what the
// caller sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(s2s.ServerMessage{TurnComplete: true})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/guru/pkg/audio"
	"github.com/MrWong99/guru/pkg/provider/s2s"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a fresh
	// Session from NewSession.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectBlock, if non-nil, makes Connect wait until it is closed or the
	// context is cancelled, simulating a slow open acknowledgement.
	ConnectBlock chan struct{}

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	// connected is signalled (non-blocking) whenever Connect is entered.
	connected chan struct{}
}

// Connect records the call and returns Session or ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Cfg: cfg})
	block := p.ConnectBlock
	if p.connected != nil {
		select {
		case p.connected <- struct{}{}:
		default:
		}
	}
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session == nil {
		p.Session = NewSession()
	}
	return p.Session, nil
}

// Entered returns a channel that receives a value each time Connect is
// entered. Call it before the Connect under test.
func (p *Provider) Entered() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected == nil {
		p.connected = make(chan struct{}, 8)
	}
	return p.connected
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// Calls returns a copy of the recorded Connect calls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// Session is a mock implementation of s2s.SessionHandle.
type Session struct {
	mu sync.Mutex

	// SendErr, if non-nil, is returned by SendRealtimeInput.
	SendErr error

	// Sent records every blob passed to SendRealtimeInput, in order.
	Sent []audio.Blob

	// CloseCount is the number of times Close was called.
	CloseCount int

	messages chan s2s.ServerMessage
	err      error
	ended    bool
	sentCh   chan audio.Blob
}

// NewSession returns a Session with a buffered message channel.
func NewSession() *Session {
	return &Session{
		messages: make(chan s2s.ServerMessage, 64),
		sentCh:   make(chan audio.Blob, 256),
	}
}

// SendRealtimeInput records blob and returns SendErr.
func (s *Session) SendRealtimeInput(_ context.Context, blob audio.Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return s.SendErr
	}
	s.Sent = append(s.Sent, blob)
	select {
	case s.sentCh <- blob:
	default:
	}
	return nil
}

// SentCh delivers a copy of each successfully sent blob.
func (s *Session) SentCh() <-chan audio.Blob { return s.sentCh }

// Messages implements s2s.SessionHandle.
func (s *Session) Messages() <-chan s2s.ServerMessage { return s.messages }

// Err implements s2s.SessionHandle.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Emit delivers msg to the consumer. It is a no-op after the stream ended.
func (s *Session) Emit(msg s2s.ServerMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.messages <- msg
}

// Finish ends the stream as the remote side would, recording err (which may
// be nil for a clean close).
func (s *Session) Finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.end(err)
}

// Close implements s2s.SessionHandle. It ends the stream on the first call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	s.end(nil)
	return nil
}

// Closes returns the number of Close calls.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCount
}

// SentBlobs returns a copy of the sent blobs.
func (s *Session) SentBlobs() []audio.Blob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Blob, len(s.Sent))
	copy(out, s.Sent)
	return out
}

func (s *Session) end(err error) {
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.messages)
}

// Compile-time interface assertions.
var (
	_ s2s.Provider      = (*Provider)(nil)
	_ s2s.SessionHandle = (*Session)(nil)
)
