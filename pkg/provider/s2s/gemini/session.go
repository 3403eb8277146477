package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/dreamit/concierge/pkg/audio"
	"github.com/dreamit/concierge/pkg/provider/s2s"
)

var _ s2s.SessionHandle = (*session)(nil)

// session is one live connection. The read loop owns the events channel;
// writes go straight to the connection, which serialises them.
type session struct {
	conn   *websocket.Conn
	events chan s2s.Event
	ping   time.Duration

	// ctx outlives the Connect call and ends with Close.
	ctx    context.Context
	cancel context.CancelFunc

	closed    atomic.Bool
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, ping time.Duration) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		conn:   conn,
		events: make(chan s2s.Event, eventBuffer),
		ping:   ping,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *session) start() {
	go s.readLoop()
	if s.ping > 0 {
		go s.pingLoop()
	}
}

func (s *session) send(f clientFrame) error {
	if s.closed.Load() {
		return s2s.ErrSessionClosed
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	if err := s.conn.Write(s.ctx, websocket.MessageText, data); err != nil {
		if s.closed.Load() {
			return s2s.ErrSessionClosed
		}
		return err
	}
	return nil
}

func (s *session) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.emit(readFailure(err))
			}
			return
		}

		var f serverFrame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Debug("gemini: skipping malformed server message", "err", err)
			continue
		}
		evs, terminal := f.events()
		for _, ev := range evs {
			if !s.emit(ev) {
				return
			}
		}
		if terminal {
			return
		}
	}
}

// emit delivers ev unless the session is closing.
func (s *session) emit(ev s2s.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// readFailure turns the error that ended the read loop into the final
// event: a clean close for normal closure, a credential error when the
// close reason says the key or model was refused, a plain error otherwise.
func readFailure(err error) s2s.Event {
	var ce websocket.CloseError
	if !errors.As(err, &ce) {
		return s2s.Event{Kind: s2s.EventError, Err: fmt.Errorf("gemini: read: %w", err)}
	}
	switch {
	case ce.Code == websocket.StatusNormalClosure, ce.Code == websocket.StatusGoingAway:
		return s2s.Event{Kind: s2s.EventClose, Text: ce.Reason}
	case isCredentialReason(ce.Reason):
		return s2s.Event{Kind: s2s.EventError, Err: fmt.Errorf("gemini: %w: %s", s2s.ErrInvalidCredential, ce.Reason)}
	default:
		return s2s.Event{Kind: s2s.EventError, Err: fmt.Errorf("gemini: connection closed: %w", err)}
	}
}

func (s *session) pingLoop() {
	t := time.NewTicker(s.ping)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(s.ctx, pingTimeout)
			if err := s.conn.Ping(ctx); err != nil && s.ctx.Err() == nil {
				slog.Debug("gemini: keepalive ping failed", "err", err)
			}
			cancel()
		}
	}
}

// SendRealtimeInput forwards one microphone packet as realtime audio.
func (s *session) SendRealtimeInput(p audio.Packet) error {
	err := s.send(clientFrame{RealtimeInput: &realtimeInput{Audio: &blob{MIMEType: p.MIMEType, Data: p.Data}}})
	if err != nil && !errors.Is(err, s2s.ErrSessionClosed) {
		return fmt.Errorf("gemini: send audio: %w", err)
	}
	return err
}

// SendToolResponse acknowledges tool calls in one frame.
func (s *session) SendToolResponse(responses ...s2s.ToolResponse) error {
	if len(responses) == 0 {
		if s.closed.Load() {
			return s2s.ErrSessionClosed
		}
		return nil
	}
	err := s.send(clientFrame{ToolResponse: newToolResponse(responses)})
	if err != nil && !errors.Is(err, s2s.ErrSessionClosed) {
		return fmt.Errorf("gemini: send tool response: %w", err)
	}
	return err
}

func (s *session) Events() <-chan s2s.Event { return s.events }

// Close ends the session. Later calls are no-ops.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}
