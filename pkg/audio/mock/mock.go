// Package mock provides in-memory mock implementations of the [audio.Microphone],
// [audio.InputStream], [audio.Speaker] and [audio.OutputContext] interfaces for
// use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	out := mock.NewOutput(24000)
//	mic := &mock.Microphone{}
//	spk := &mock.Speaker{Result: out}
//	...
//	stream := mic.LastStream()
//	stream.Push(audio.Frame{Samples: make([]float32, 4096), SampleRate: 16000})
//	out.SetTime(1.5) // fires ended callbacks for sources that finished
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/dreamit/concierge/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Microphone    = (*Microphone)(nil)
	_ audio.InputStream   = (*InputStream)(nil)
	_ audio.Speaker       = (*Speaker)(nil)
	_ audio.OutputContext = (*Output)(nil)
	_ audio.Source        = (*Source)(nil)
)

// ─── InputStream ──────────────────────────────────────────────────────────────

// InputStream is a mock [audio.InputStream] fed by [InputStream.Push].
type InputStream struct {
	mu     sync.Mutex
	frames chan audio.Frame
	closed bool

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewInputStream returns an open stream with room for buffer frames.
func NewInputStream(buffer int) *InputStream {
	return &InputStream{frames: make(chan audio.Frame, buffer)}
}

// Frames implements [audio.InputStream].
func (s *InputStream) Frames() <-chan audio.Frame { return s.frames }

// Push delivers f as if the device callback had fired. It reports false when
// the stream is closed or its buffer is full; it never blocks.
func (s *InputStream) Push(f audio.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.frames <- f:
		return true
	default:
		return false
	}
}

// Close implements [audio.InputStream].
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

// Closed reports whether Close has been called.
func (s *InputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Microphone ───────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single Open invocation.
type OpenCall struct {
	Config audio.StreamConfig
}

// Microphone is a mock implementation of [audio.Microphone]. Each successful
// Open returns a fresh [InputStream].
type Microphone struct {
	mu sync.Mutex

	// OpenError, when non-nil, is returned by Open instead of a stream.
	OpenError error

	// Buffer is the frame capacity of streams created by Open. Defaults to 64.
	Buffer int

	// OpenCalls records all Open invocations.
	OpenCalls []OpenCall

	streams []*InputStream
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(_ context.Context, cfg audio.StreamConfig) (audio.InputStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenCalls = append(m.OpenCalls, OpenCall{Config: cfg})
	if m.OpenError != nil {
		return nil, m.OpenError
	}
	n := m.Buffer
	if n <= 0 {
		n = 64
	}
	s := NewInputStream(n)
	m.streams = append(m.streams, s)
	return s, nil
}

// LastStream returns the most recently opened stream, or nil.
func (m *Microphone) LastStream() *InputStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streams) == 0 {
		return nil
	}
	return m.streams[len(m.streams)-1]
}

// Streams returns every stream opened so far.
func (m *Microphone) Streams() []*InputStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*InputStream(nil), m.streams...)
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

// Speaker is a mock implementation of [audio.Speaker].
type Speaker struct {
	mu sync.Mutex

	// Result is returned by Open. When nil, a new [Output] at cfg.SampleRate
	// is created per call.
	Result *Output

	// OpenError, when non-nil, is returned by Open.
	OpenError error

	// OpenCalls records all Open invocations.
	OpenCalls []OpenCall

	outputs []*Output
}

// Open implements [audio.Speaker].
func (s *Speaker) Open(_ context.Context, cfg audio.StreamConfig) (audio.OutputContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls = append(s.OpenCalls, OpenCall{Config: cfg})
	if s.OpenError != nil {
		return nil, s.OpenError
	}
	out := s.Result
	if out == nil {
		out = NewOutput(cfg.SampleRate)
	}
	s.outputs = append(s.outputs, out)
	return out, nil
}

// Outputs returns every output context handed out so far.
func (s *Speaker) Outputs() []*Output {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Output(nil), s.outputs...)
}

// ─── Output ───────────────────────────────────────────────────────────────────

// Output is a mock [audio.OutputContext] with a manually driven clock. Sources
// never end on their own; call [Output.SetTime] to advance the clock and
// finish every started source whose end time has been reached.
type Output struct {
	mu      sync.Mutex
	rate    int
	now     float64
	sources []*Source
	closed  bool

	// NewSourceError, when non-nil, is returned by NewSource.
	NewSourceError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewOutput creates an open output context at rate with its clock at zero.
func NewOutput(rate int) *Output {
	return &Output{rate: rate}
}

// CurrentTime implements [audio.OutputContext].
func (o *Output) CurrentTime() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// SampleRate implements [audio.OutputContext].
func (o *Output) SampleRate() int { return o.rate }

// NewSource implements [audio.OutputContext].
func (o *Output) NewSource(buf *audio.Buffer, onEnded func()) (audio.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.NewSourceError != nil {
		return nil, o.NewSourceError
	}
	if o.closed {
		return nil, errors.New("mock: output closed")
	}
	s := &Source{out: o, buf: buf, onEnded: onEnded, StartedAt: -1}
	o.sources = append(o.sources, s)
	return s, nil
}

// SetTime moves the clock to t and ends every started source whose end time
// is at or before t, in start order.
func (o *Output) SetTime(t float64) {
	o.mu.Lock()
	o.now = t
	var due []*Source
	for _, s := range o.sources {
		if s.started && !s.done && s.StartedAt+s.buf.Duration() <= t {
			s.done = true
			due = append(due, s)
		}
	}
	o.mu.Unlock()

	for _, s := range due {
		s.fireEnded()
	}
}

// Sources returns every source created so far, in creation order.
func (o *Output) Sources() []*Source {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Source(nil), o.sources...)
}

// Close implements [audio.OutputContext]. Every unfinished source is stopped.
func (o *Output) Close() error {
	o.mu.Lock()
	o.CallCountClose++
	o.closed = true
	var live []*Source
	for _, s := range o.sources {
		if s.started && !s.done {
			s.done = true
			s.Stopped = true
			live = append(live, s)
		}
	}
	o.mu.Unlock()

	for _, s := range live {
		s.fireEnded()
	}
	return nil
}

// Closed reports whether Close has been called.
func (o *Output) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Live returns the number of started sources that have not ended.
func (o *Output) Live() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, s := range o.sources {
		if s.started && !s.done {
			n++
		}
	}
	return n
}

// Source is the mock [audio.Source] created by [Output].
type Source struct {
	out     *Output
	buf     *audio.Buffer
	onEnded func()
	ended   sync.Once

	// StartedAt is the time passed to Start, or -1.
	StartedAt float64

	// Stopped is true once Stop (or Output.Close) ended the source early.
	Stopped bool

	started bool
	done    bool
}

// Start implements [audio.Source].
func (s *Source) Start(at float64) error {
	s.out.mu.Lock()
	defer s.out.mu.Unlock()
	if s.started {
		return errors.New("mock: source already started")
	}
	s.started = true
	s.StartedAt = at
	return nil
}

// Stop implements [audio.Source]. The ended callback runs synchronously.
func (s *Source) Stop() {
	s.out.mu.Lock()
	if s.done {
		s.out.mu.Unlock()
		return
	}
	s.done = true
	s.Stopped = true
	s.out.mu.Unlock()

	s.fireEnded()
}

// Duration implements [audio.Source].
func (s *Source) Duration() float64 { return s.buf.Duration() }

// Info returns the start time and stopped flag under the output's lock.
func (s *Source) Info() (startedAt float64, stopped bool) {
	s.out.mu.Lock()
	defer s.out.mu.Unlock()
	return s.StartedAt, s.Stopped
}

func (s *Source) fireEnded() {
	s.ended.Do(func() {
		if s.onEnded != nil {
			s.onEnded()
		}
	})
}
