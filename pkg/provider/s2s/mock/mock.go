// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and feed controlled sessions. Use
// Session to script the events a remote agent would emit and to inspect what
// the caller sent back.
//
// Example:
//
//	p := &mock.Provider{}
//	handle, _ := p.Connect(ctx, cfg)
//	sess := p.LastSession()
//	sess.Emit(s2s.Event{Kind: s2s.EventOpen})
//	sess.Emit(s2s.Event{Kind: s2s.EventInterrupted})
package mock

import (
	"context"
	"sync"

	"github.com/dreamit/concierge/pkg/audio"
	"github.com/dreamit/concierge/pkg/provider/s2s"
)

// Compile-time interface assertions.
var (
	_ s2s.Provider      = (*Provider)(nil)
	_ s2s.SessionHandle = (*Session)(nil)
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect returns
	// a new [Session] per call, retrievable with [Provider.LastSession].
	Session s2s.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	// CapabilitiesCallCount is the number of times Capabilities was called.
	CapabilitiesCallCount int

	sessions []*Session
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	s := NewSession()
	p.sessions = append(p.sessions, s)
	return s, nil
}

// Capabilities records the call and returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CapabilitiesCallCount++
	return p.ProviderCapabilities
}

// LastSession returns the most recent session created by Connect, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

// Sessions returns every session created by Connect.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.sessions...)
}

// Calls returns a copy of the recorded Connect calls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectCall(nil), p.ConnectCalls...)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = nil
	p.CapabilitiesCallCount = 0
	p.sessions = nil
}

// ─── Session ──────────────────────────────────────────────────────────────────

// Session is a mock implementation of s2s.SessionHandle.
type Session struct {
	mu     sync.Mutex
	events chan s2s.Event
	closed bool

	// SendRealtimeInputErr, if non-nil, is returned by SendRealtimeInput.
	SendRealtimeInputErr error

	// SendToolResponseErr, if non-nil, is returned by SendToolResponse.
	SendToolResponseErr error

	// SentPackets records every packet passed to SendRealtimeInput.
	SentPackets []audio.Packet

	// ToolResponses records every response passed to SendToolResponse, in
	// order, one entry per response.
	ToolResponses []s2s.ToolResponse

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession returns an open session with a buffered events channel.
func NewSession() *Session {
	return &Session{events: make(chan s2s.Event, 256)}
}

// Emit delivers ev to the consumer as if the remote side had sent it. It
// reports false once the session is closed.
func (s *Session) Emit(ev s2s.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.events <- ev
	return true
}

// End emits a terminal event and closes the events channel, the way a real
// session ends on a remote close or error.
func (s *Session) End(ev s2s.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
	s.closed = true
	close(s.events)
}

// SendRealtimeInput records p and returns SendRealtimeInputErr.
func (s *Session) SendRealtimeInput(p audio.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendRealtimeInputErr != nil {
		return s.SendRealtimeInputErr
	}
	s.SentPackets = append(s.SentPackets, p)
	return nil
}

// SendToolResponse records the responses and returns SendToolResponseErr.
// Responses are recorded even when an error is returned.
func (s *Session) SendToolResponse(responses ...s2s.ToolResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ToolResponses = append(s.ToolResponses, responses...)
	return s.SendToolResponseErr
}

// Events returns the events channel.
func (s *Session) Events() <-chan s2s.Event { return s.events }

// Close records the call and closes the events channel. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// Packets returns a copy of the packets sent so far.
func (s *Session) Packets() []audio.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.Packet(nil), s.SentPackets...)
}

// Responses returns a copy of the tool responses sent so far.
func (s *Session) Responses() []s2s.ToolResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]s2s.ToolResponse(nil), s.ToolResponses...)
}

// Closes returns the number of Close calls.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}
