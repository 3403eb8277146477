// Package concierge is the session lifecycle controller for the voice
// concierge.
//
// A [Controller] is the single owner of everything a live conversation holds:
// the microphone stream, the output context, the playback scheduler, the
// capture pipeline and the remote session handle. It moves through
//
//	idle -> connecting -> active -> closed | error
//
// and never retries on its own: after an error the caller decides whether to
// call [Controller.Start] again.
//
// Events from the remote session are consumed by one goroutine per session
// and handled by a single dispatch function, so playback scheduling, barge-in
// flushes and tool calls for a session never run concurrently with each other.
// Events from a session that has since been torn down are ignored.
package concierge

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dreamit/concierge/internal/observe"
	"github.com/dreamit/concierge/internal/toolbridge"
	"github.com/dreamit/concierge/pkg/audio"
	"github.com/dreamit/concierge/pkg/audio/capture"
	"github.com/dreamit/concierge/pkg/audio/playback"
	"github.com/dreamit/concierge/pkg/provider/s2s"
)

const (
	defaultTranscriptLimit = 50

	// loopShutdownTimeout bounds how long teardown waits for the event
	// goroutine after the handle has been closed.
	loopShutdownTimeout = 2 * time.Second
)

// KeyPrompt is invoked when a session fails because of its API credential.
// It runs without any controller lock held: on the caller's goroutine when
// [Controller.Start] fails, and on a fresh goroutine when a live session is
// rejected later.
type KeyPrompt func(err error)

// Option is a functional option for configuring a [Controller].
type Option func(*Controller)

// WithSessionConfig sets the configuration used for new sessions. When
// cfg.Tools is empty the bridge's definitions are declared.
func WithSessionConfig(cfg s2s.SessionConfig) Option {
	return func(c *Controller) { c.sessCfg = cfg }
}

// WithInputStream sets the microphone stream configuration.
func WithInputStream(cfg audio.StreamConfig) Option {
	return func(c *Controller) { c.inCfg = cfg }
}

// WithOutputStream sets the output context configuration.
func WithOutputStream(cfg audio.StreamConfig) Option {
	return func(c *Controller) { c.outCfg = cfg }
}

// WithBridge routes tool calls through b.
func WithBridge(b *toolbridge.Bridge) Option {
	return func(c *Controller) { c.bridge = b }
}

// WithKeyPrompt registers the hook for credential failures.
func WithKeyPrompt(fn KeyPrompt) Option {
	return func(c *Controller) { c.keyPrompt = fn }
}

// WithMetrics records instruments on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithProviderName labels provider error metrics.
func WithProviderName(name string) Option {
	return func(c *Controller) { c.providerName = name }
}

// WithTranscriptLimit caps the number of transcript entries kept. Default: 50.
func WithTranscriptLimit(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.transcriptLimit = n
		}
	}
}

// Controller owns at most one live session at a time. All exported methods
// are safe for concurrent use.
type Controller struct {
	provider     s2s.Provider
	mic          audio.Microphone
	spk          audio.Speaker
	bridge       *toolbridge.Bridge
	keyPrompt    KeyPrompt
	metrics      *observe.Metrics
	providerName string

	inCfg           audio.StreamConfig
	outCfg          audio.StreamConfig
	transcriptLimit int

	// opMu serialises Start and Close.
	opMu sync.Mutex

	mu            sync.Mutex
	sessCfg       s2s.SessionConfig
	state         State
	status        string
	lastErr       error
	sess          *session
	connectCancel context.CancelFunc
	transcript    []TranscriptEntry
}

// New creates an idle Controller.
func New(provider s2s.Provider, mic audio.Microphone, spk audio.Speaker, opts ...Option) *Controller {
	c := &Controller{
		provider: provider,
		mic:      mic,
		spk:      spk,
		inCfg: audio.StreamConfig{
			SampleRate: audio.InputSampleRate,
			Channels:   1,
			FrameSize:  audio.CaptureFrameSize,
		},
		outCfg: audio.StreamConfig{
			SampleRate: audio.OutputSampleRate,
			Channels:   1,
		},
		transcriptLimit: defaultTranscriptLimit,
		providerName:    "s2s",
		state:           StateIdle,
		status:          StatusIdle,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// session is everything one conversation owns.
type session struct {
	id      string
	started time.Time
	log     *slog.Logger

	handle  s2s.SessionHandle
	stream  audio.InputStream
	out     audio.OutputContext
	sched   *playback.Scheduler
	capture *capture.Pipeline

	ctx    context.Context
	cancel context.CancelFunc

	// loopDone is closed when the event goroutine exits. Nil until the
	// goroutine is started.
	loopDone chan struct{}

	// ended and opened are guarded by Controller.mu.
	ended  bool
	opened bool

	releaseOnce sync.Once
}

// release frees the session's resources in dependency order: the remote
// handle first, then capture, then every scheduled source before the output
// context they play on. Safe to call more than once and from any goroutine.
func (s *session) release() {
	s.releaseOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if s.handle != nil {
			if err := s.handle.Close(); err != nil {
				s.log.Warn("concierge: close session handle", "err", err)
			}
		}
		if s.stream != nil {
			if err := s.stream.Close(); err != nil {
				s.log.Warn("concierge: close microphone", "err", err)
			}
		}
		if s.capture != nil {
			_ = s.capture.Close()
		}
		if s.sched != nil {
			_ = s.sched.Close()
		}
		if s.out != nil {
			if err := s.out.Close(); err != nil {
				s.log.Warn("concierge: close output", "err", err)
			}
		}
	})
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

// Start tears down any existing session and opens a new one: it acquires the
// microphone and the output context, starts capturing, and connects to the
// remote agent. Frames captured while the connection is being established
// are queued and delivered once it is.
//
// On success the controller is connecting; it becomes active when the remote
// side signals that the session is open. Start returns an [*AcquisitionError]
// when a device cannot be acquired and a [*ConnectionError] when the
// handshake fails. In both cases the controller is left in the error state
// with nothing open.
func (c *Controller) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.teardown() {
		slog.Info("concierge: previous session closed for restart")
	}

	s := &session{id: uuid.NewString(), started: time.Now()}
	ctx, span := observe.StartSpan(observe.WithSessionID(ctx, s.id), "concierge.start")
	defer span.End()
	s.log = observe.Logger(ctx)

	connectCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.state = StateConnecting
	c.status = StatusConnecting
	c.lastErr = nil
	c.transcript = nil
	c.connectCancel = cancel
	cfg := c.sessCfg
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.connectCancel = nil
		c.mu.Unlock()
	}()

	stream, err := c.mic.Open(connectCtx, c.inCfg)
	if err != nil {
		return c.failStart(ctx, span, s, &AcquisitionError{Device: "microphone", Err: err})
	}
	s.stream = stream

	out, err := c.spk.Open(connectCtx, c.outCfg)
	if err != nil {
		return c.failStart(ctx, span, s, &AcquisitionError{Device: "speaker", Err: err})
	}
	s.out = out
	s.sched = playback.New(out,
		playback.WithSampleRate(c.outCfg.SampleRate),
		playback.WithChannels(c.outCfg.Channels),
		playback.WithObserver(func(n int) {
			c.metrics.ActiveSegments.Record(context.Background(), int64(n))
		}),
	)

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.capture = capture.New(capture.WithSendHook(func(err error) {
		c.metrics.RecordAudioSend(s.ctx, err)
	}))
	go s.capture.Run(s.ctx, stream)

	if len(cfg.Tools) == 0 && c.bridge != nil {
		cfg.Tools = c.bridge.Definitions()
	}

	connectStart := time.Now()
	handle, err := c.provider.Connect(connectCtx, cfg)
	c.metrics.ConnectDuration.Record(ctx, time.Since(connectStart).Seconds())
	if err != nil {
		return c.failStart(ctx, span, s, &ConnectionError{Credential: s2s.IsCredentialError(err), Err: err})
	}
	s.handle = handle
	s.capture.Attach(handle)
	s.loopDone = make(chan struct{})

	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()

	go c.eventLoop(s)

	c.metrics.RecordSessionStart(ctx, observe.OutcomeOK)
	s.log.Info("concierge: session connecting", "model", cfg.Model, "voice", cfg.Voice, "tools", len(cfg.Tools))
	return nil
}

// Reconnect is [Controller.Start]: the prior session is fully closed before
// the new one is opened.
func (c *Controller) Reconnect(ctx context.Context) error {
	return c.Start(ctx)
}

// failStart releases whatever s acquired and records the failure.
func (c *Controller) failStart(ctx context.Context, span trace.Span, s *session, err error) error {
	s.release()

	status, outcome := StatusConnectionError, observe.OutcomeConnectionError
	var acq *AcquisitionError
	switch {
	case errors.As(err, &acq):
		status, outcome = StatusMicrophoneError, observe.OutcomeAcquisitionError
		if acq.Device != "microphone" {
			status = StatusOutputError
		}
	case IsCredentialError(err):
		status, outcome = StatusCredentialMissing, observe.OutcomeCredentialError
	}

	c.mu.Lock()
	c.state = StateError
	c.status = status
	c.lastErr = err
	c.mu.Unlock()

	c.metrics.RecordSessionStart(ctx, outcome)
	span.RecordError(err)
	span.SetStatus(codes.Error, outcome)
	s.log.Error("concierge: session start failed", "err", err, "outcome", outcome)

	if outcome == observe.OutcomeCredentialError && c.keyPrompt != nil {
		c.keyPrompt(err)
	}
	return err
}

// Close ends the current session, if any, and releases everything it holds.
// A connection attempt in progress is cancelled. Close is idempotent and safe
// to call in every state; closing an idle controller leaves it idle.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.connectCancel != nil {
		c.connectCancel()
	}
	c.mu.Unlock()

	c.opMu.Lock()
	defer c.opMu.Unlock()

	had := c.teardown()

	c.mu.Lock()
	if c.state != StateIdle {
		c.state = StateClosed
		c.status = StatusDisconnected
		c.lastErr = nil
	}
	c.mu.Unlock()

	if had {
		slog.Info("concierge: session closed")
	}
	return nil
}

// teardown detaches the current session and releases it, waiting for its
// event goroutine to finish. Caller must hold c.opMu and not c.mu. Reports
// whether there was a session.
func (c *Controller) teardown() bool {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	wasOpen := false
	if s != nil {
		s.ended = true
		wasOpen = s.opened
		s.opened = false
	}
	c.mu.Unlock()

	if s == nil {
		return false
	}
	s.release()
	if wasOpen {
		c.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	if s.loopDone != nil {
		select {
		case <-s.loopDone:
		case <-time.After(loopShutdownTimeout):
			s.log.Warn("concierge: event loop did not stop after close")
		}
	}
	return true
}

// end finishes s after the remote side closed or failed. It is a no-op when
// s is no longer the current session.
func (c *Controller) end(s *session, state State, status string, err error) {
	c.mu.Lock()
	if c.sess != s || s.ended {
		c.mu.Unlock()
		return
	}
	s.ended = true
	wasOpen := s.opened
	s.opened = false
	c.state = state
	c.status = status
	c.lastErr = err
	c.mu.Unlock()

	s.release()
	if wasOpen {
		c.metrics.ActiveSessions.Add(context.Background(), -1)
	}

	if err != nil {
		s.log.Error("concierge: session failed", "err", err)
	} else {
		s.log.Info("concierge: session ended by remote")
	}
	if IsCredentialError(err) && c.keyPrompt != nil {
		go c.keyPrompt(err)
	}
}

// ── Event dispatch ────────────────────────────────────────────────────────────

// eventLoop consumes the session's events until the handle closes its
// channel.
func (c *Controller) eventLoop(s *session) {
	defer close(s.loopDone)
	for ev := range s.handle.Events() {
		c.dispatch(s, ev)
	}
	c.end(s, StateClosed, StatusDisconnected, nil)
}

// current reports whether s is still the live session.
func (c *Controller) current(s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess == s && !s.ended
}

// dispatch applies one event. Panics are contained here so a bad event
// cannot kill the event goroutine.
func (c *Controller) dispatch(s *session, ev s2s.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("concierge: event handler panicked", "kind", ev.Kind.String(), "panic", r)
		}
	}()

	if !c.current(s) {
		return
	}

	switch ev.Kind {
	case s2s.EventOpen:
		c.opened(s)

	case s2s.EventAudio:
		c.play(s, ev.Audio)

	case s2s.EventInterrupted:
		n := s.sched.Interrupt()
		c.finishTurn()
		c.metrics.Interruptions.Add(s.ctx, 1)
		s.log.Debug("concierge: playback interrupted", "stopped", n)

	case s2s.EventInputTranscript:
		c.appendTranscript(RoleUser, ev.Text)

	case s2s.EventOutputTranscript:
		c.appendTranscript(RoleAgent, ev.Text)

	case s2s.EventTurnComplete:
		c.finishTurn()

	case s2s.EventToolCall:
		if c.bridge == nil {
			return
		}
		c.bridge.Handle(s.ctx, s.handle, ev.ToolCalls)

	case s2s.EventError:
		cerr := &ConnectionError{Credential: s2s.IsCredentialError(ev.Err), Err: ev.Err}
		status, kind := StatusConnectionError, "connection"
		if cerr.Credential {
			status, kind = StatusCredentialMissing, "credential"
		}
		c.metrics.RecordProviderError(s.ctx, c.providerName, kind)
		c.end(s, StateError, status, cerr)

	case s2s.EventClose:
		if ev.Text != "" {
			s.log.Info("concierge: remote closed session", "reason", ev.Text)
		}
		c.end(s, StateClosed, StatusDisconnected, nil)
	}
}

func (c *Controller) opened(s *session) {
	c.mu.Lock()
	if c.sess != s || s.ended || s.opened {
		c.mu.Unlock()
		return
	}
	s.opened = true
	c.state = StateActive
	c.status = StatusListening
	c.mu.Unlock()

	c.metrics.ActiveSessions.Add(s.ctx, 1)
	s.log.Info("concierge: session active", "connect_time", time.Since(s.started))
}

// play schedules one chunk of agent audio. Malformed chunks are dropped and
// logged; they never end the session.
func (c *Controller) play(s *session, pkt audio.Packet) {
	start, err := s.sched.Enqueue(pkt.Data)
	if err != nil {
		var de *audio.DecodeError
		switch {
		case errors.As(err, &de):
			c.metrics.DecodeErrors.Add(s.ctx, 1)
			s.log.Warn("concierge: dropping malformed audio chunk", "err", err)
		case errors.Is(err, playback.ErrClosed):
		default:
			s.log.Warn("concierge: failed to schedule audio", "err", err)
		}
		return
	}
	if start < 0 {
		return
	}
	c.metrics.SegmentsScheduled.Add(s.ctx, 1)
}

// ── Transcript ────────────────────────────────────────────────────────────────

func (c *Controller) appendTranscript(role Role, text string) {
	if text == "" {
		return
	}
	slog.Debug("concierge: transcript", "role", string(role), "text", text)

	c.mu.Lock()
	defer c.mu.Unlock()
	// Input and output transcription interleave within a turn; fragments
	// join the open entry of their own role.
	for i := len(c.transcript) - 1; i >= 0 && !c.transcript[i].Final; i-- {
		if e := &c.transcript[i]; e.Role == role {
			e.Text += text
			return
		}
	}
	c.transcript = append(c.transcript, TranscriptEntry{Role: role, Text: text, At: time.Now()})
	if over := len(c.transcript) - c.transcriptLimit; over > 0 {
		c.transcript = slices.Delete(c.transcript, 0, over)
	}
}

func (c *Controller) finishTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.transcript {
		c.transcript[i].Final = true
	}
}

// ── Accessors ─────────────────────────────────────────────────────────────────

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns the user-facing status line.
func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err returns the error that put the controller in the error state, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Speaking reports whether agent audio is scheduled or playing.
func (c *Controller) Speaking() bool {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	return s != nil && s.sched != nil && s.sched.Speaking()
}

// SessionConfig returns the configuration the next session will use.
func (c *Controller) SessionConfig() s2s.SessionConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessCfg
}

// SetSessionConfig replaces the configuration for sessions started after
// this call. A live session is not affected.
func (c *Controller) SetSessionConfig(cfg s2s.SessionConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessCfg = cfg
}

// Snapshot returns a consistent view of the controller.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:      c.state,
		Status:     c.status,
		Transcript: slices.Clone(c.transcript),
	}
	if snap.Transcript == nil {
		snap.Transcript = []TranscriptEntry{}
	}
	if c.lastErr != nil {
		snap.Error = c.lastErr.Error()
	}
	if s := c.sess; s != nil {
		snap.SessionID = s.id
		snap.StartedAt = s.started
		if s.sched != nil {
			snap.Speaking = s.sched.Speaking()
			snap.ActiveSegments = s.sched.Active()
			snap.NextStartTime = s.sched.NextStartTime()
		}
	}
	return snap
}
