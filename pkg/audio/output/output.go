// Package output provides a concrete [audio.OutputContext]: a sample-accurate
// playback timeline that mixes started sources into interleaved frames pulled
// by a device callback.
//
// The clock only advances when [Timeline.Render] is called, so CurrentTime is
// exactly the amount of audio handed to the device so far. Sources are kept in
// a min-heap by start frame until they become audible, then mixed additively
// until they run out or are stopped.
package output

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/dreamit/concierge/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.OutputContext = (*Timeline)(nil)
	_ audio.Source        = (*source)(nil)
)

var (
	// ErrClosed is returned when a source is created or started on a closed
	// timeline.
	ErrClosed = errors.New("output: timeline closed")

	// ErrAlreadyStarted is returned when Start is called twice on a source.
	ErrAlreadyStarted = errors.New("output: source already started")
)

// defaultPendingCap is the initial capacity hint for the pending heap.
const defaultPendingCap = 16

// Option configures a [Timeline] during construction.
type Option func(*Timeline)

// WithChannels sets the number of interleaved output channels. Mono buffers
// are copied to every channel. Defaults to 1.
func WithChannels(n int) Option {
	return func(t *Timeline) {
		if n > 0 {
			t.channels = n
		}
	}
}

// WithGain scales every rendered sample. Defaults to 1.
func WithGain(g float32) Option {
	return func(t *Timeline) {
		t.gain = g
	}
}

type sourceState int

const (
	stateIdle sourceState = iota
	statePending
	statePlaying
	stateDone
)

// source is one buffer bound to a [Timeline].
type source struct {
	tl      *Timeline
	buf     *audio.Buffer
	onEnded func()
	ended   sync.Once

	// Fields below are guarded by tl.mu.
	state      sourceState
	startFrame int64
	pos        int // next frame of buf to render
	seq        uint64
	index      int // position in the pending heap, -1 when absent
}

// Timeline is a concrete [audio.OutputContext].
//
// All exported methods are safe for concurrent use. Ended callbacks are always
// invoked without internal locks held, so they may call back into the
// timeline or into a scheduler that owns it.
type Timeline struct {
	rate     int
	channels int
	gain     float32

	mu      sync.Mutex
	frame   int64 // frames rendered so far
	seq     uint64
	pending pendingHeap
	playing []*source
	closed  bool
}

// New creates a [Timeline] rendering at sampleRate.
func New(sampleRate int, opts ...Option) *Timeline {
	t := &Timeline{
		rate:     sampleRate,
		channels: 1,
		gain:     1,
		pending:  make(pendingHeap, 0, defaultPendingCap),
	}
	for _, o := range opts {
		o(t)
	}
	heap.Init(&t.pending)
	return t
}

// CurrentTime implements [audio.OutputContext].
func (t *Timeline) CurrentTime() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.frame) / float64(t.rate)
}

// SampleRate implements [audio.OutputContext].
func (t *Timeline) SampleRate() int { return t.rate }

// Channels returns the number of interleaved channels Render produces.
func (t *Timeline) Channels() int { return t.channels }

// NewSource implements [audio.OutputContext]. The buffer's sample rate must
// match the timeline's.
func (t *Timeline) NewSource(buf *audio.Buffer, onEnded func()) (audio.Source, error) {
	if buf == nil {
		return nil, errors.New("output: nil buffer")
	}
	if buf.SampleRate != t.rate {
		return nil, fmt.Errorf("output: buffer rate %d does not match timeline rate %d", buf.SampleRate, t.rate)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	return &source{tl: t, buf: buf, onEnded: onEnded, index: -1}, nil
}

// Active returns the number of sources that are scheduled or playing.
func (t *Timeline) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending.Len() + len(t.playing)
}

// Render mixes every audible source into out, which holds interleaved frames,
// and advances the clock by len(out)/channels frames. Slots with nothing
// playing are zeroed. Sources that finish during this block have their ended
// callbacks invoked before Render returns.
func (t *Timeline) Render(out []float32) {
	clear(out)
	n := len(out) / t.channels

	t.mu.Lock()
	if t.closed || n == 0 {
		t.mu.Unlock()
		return
	}
	blockStart := t.frame
	blockEnd := blockStart + int64(n)

	for t.pending.Len() > 0 && t.pending[0].startFrame < blockEnd {
		s := heap.Pop(&t.pending).(*source)
		s.state = statePlaying
		t.playing = append(t.playing, s)
	}

	var finished []*source
	kept := t.playing[:0]
	for _, s := range t.playing {
		t.mixLocked(s, out, blockStart, n)
		if s.pos >= s.buf.Len() {
			s.state = stateDone
			finished = append(finished, s)
			continue
		}
		kept = append(kept, s)
	}
	clear(t.playing[len(kept):])
	t.playing = kept
	t.frame = blockEnd
	t.mu.Unlock()

	for _, s := range finished {
		s.fireEnded()
	}
}

// mixLocked adds the next slice of s into out. Must be called with t.mu held.
func (t *Timeline) mixLocked(s *source, out []float32, blockStart int64, n int) {
	offset := 0
	if s.startFrame > blockStart {
		offset = int(s.startFrame - blockStart)
	}
	count := min(n-offset, s.buf.Len()-s.pos)
	if count <= 0 {
		return
	}
	bufCh := s.buf.NumChannels()
	for c := range t.channels {
		src := s.buf.Channels[min(c, bufCh-1)][s.pos : s.pos+count]
		for i, v := range src {
			idx := (offset+i)*t.channels + c
			out[idx] = clamp(out[idx] + v*t.gain)
		}
	}
	s.pos += count
}

// Close implements [audio.OutputContext]. Every scheduled or playing source is
// stopped and its ended callback invoked. Close is idempotent.
func (t *Timeline) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	stopped := make([]*source, 0, t.pending.Len()+len(t.playing))
	for t.pending.Len() > 0 {
		stopped = append(stopped, heap.Pop(&t.pending).(*source))
	}
	stopped = append(stopped, t.playing...)
	t.playing = nil
	for _, s := range stopped {
		s.state = stateDone
	}
	t.mu.Unlock()

	for _, s := range stopped {
		s.fireEnded()
	}
	return nil
}

// Start implements [audio.Source]. A start time at or before the current
// clock begins playback on the next rendered frame.
func (s *source) Start(at float64) error {
	t := s.tl
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if s.state != stateIdle {
		return ErrAlreadyStarted
	}
	start := int64(math.Round(at * float64(t.rate)))
	if start < t.frame {
		start = t.frame
	}
	t.seq++
	s.seq = t.seq
	s.startFrame = start
	s.state = statePending
	heap.Push(&t.pending, s)
	return nil
}

// Stop implements [audio.Source]. The ended callback runs synchronously.
func (s *source) Stop() {
	t := s.tl
	t.mu.Lock()
	switch s.state {
	case stateDone:
		t.mu.Unlock()
		return
	case statePending:
		heap.Remove(&t.pending, s.index)
	case statePlaying:
		for i, p := range t.playing {
			if p == s {
				t.playing = append(t.playing[:i], t.playing[i+1:]...)
				break
			}
		}
	}
	s.state = stateDone
	t.mu.Unlock()

	s.fireEnded()
}

// Duration implements [audio.Source].
func (s *source) Duration() float64 { return s.buf.Duration() }

func (s *source) fireEnded() {
	s.ended.Do(func() {
		if s.onEnded != nil {
			s.onEnded()
		}
	})
}

func clamp(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
