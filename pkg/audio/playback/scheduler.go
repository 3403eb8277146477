// Package playback turns a stream of incoming agent audio chunks into gapless
// playback on an [audio.OutputContext] and supports instantaneous barge-in.
//
// The [Scheduler] owns two pieces of state: the playback clock (the timeline
// position at which the next segment must begin) and the active segment set
// (every source that has been scheduled and has not yet ended). Each new
// segment starts at max(CurrentTime, nextStart) and pushes nextStart forward
// by its duration, so segments are contiguous and never overlap however
// bursty arrival is.
package playback

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dreamit/concierge/pkg/audio"
)

// ErrClosed is returned by [Scheduler.Schedule] after [Scheduler.Close].
var ErrClosed = errors.New("playback: scheduler closed")

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithChannels sets the channel count incoming PCM is de-interleaved into.
// Defaults to 1.
func WithChannels(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.channels = n
		}
	}
}

// WithSampleRate sets the rate incoming PCM is decoded at. Defaults to the
// output context's rate.
func WithSampleRate(rate int) Option {
	return func(s *Scheduler) {
		if rate > 0 {
			s.rate = rate
		}
	}
}

// WithObserver registers fn to receive the size of the active segment set
// whenever it changes: on schedule, when a segment ends and on flush. fn runs
// with the scheduler's lock held, so values arrive in order; it must not call
// back into the Scheduler.
func WithObserver(fn func(active int)) Option {
	return func(s *Scheduler) { s.observe = fn }
}

// Scheduler is the playback scheduler for one session.
//
// All exported methods are safe for concurrent use. The scheduling
// computation is serialised by an internal mutex, so chunks handed over from
// different goroutines are still placed strictly in call order.
type Scheduler struct {
	out      audio.OutputContext
	rate     int
	channels int
	observe  func(active int)

	speaking atomic.Bool

	mu        sync.Mutex
	nextStart float64
	active    map[audio.Source]struct{}
	closed    bool
}

// New creates a [Scheduler] that plays on out.
func New(out audio.OutputContext, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:      out,
		rate:     out.SampleRate(),
		channels: 1,
		active:   make(map[audio.Source]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue decodes one base64 PCM16 chunk and schedules it. A chunk that cannot
// be decoded is returned as a [*audio.DecodeError] and nothing is scheduled.
// The returned start time is -1 when nothing was scheduled.
func (s *Scheduler) Enqueue(data string) (float64, error) {
	buf, err := audio.DecodeChunk(data, s.rate, s.channels)
	if err != nil {
		return -1, err
	}
	return s.Schedule(buf)
}

// Schedule places buf on the output timeline immediately after everything
// already scheduled, or at the current clock if playback has drained. It
// returns the start time in output-clock seconds. Zero-length buffers are not
// scheduled and return -1.
//
// The speaking flag becomes true as soon as a segment is scheduled, before it
// is audible.
func (s *Scheduler) Schedule(buf *audio.Buffer) (float64, error) {
	if buf.Len() == 0 {
		return -1, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return -1, ErrClosed
	}

	var src audio.Source
	src, err := s.out.NewSource(buf, func() { s.ended(src) })
	if err != nil {
		return -1, fmt.Errorf("playback: create source: %w", err)
	}

	startAt := max(s.out.CurrentTime(), s.nextStart)
	if err := src.Start(startAt); err != nil {
		return -1, fmt.Errorf("playback: start source: %w", err)
	}
	s.active[src] = struct{}{}
	s.nextStart = startAt + buf.Duration()
	s.speaking.Store(true)
	s.notify()
	return startAt, nil
}

// ended removes src from the active set. The speaking flag only drops when
// the set has become empty through this removal.
func (s *Scheduler) ended(src audio.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[src]; !ok {
		return
	}
	delete(s.active, src)
	if len(s.active) == 0 {
		s.speaking.Store(false)
	}
	s.notify()
}

// notify reports the active set size. Callers hold s.mu.
func (s *Scheduler) notify() {
	if s.observe != nil {
		s.observe(len(s.active))
	}
}

// Interrupt stops every active segment, empties the active set, rewinds the
// playback clock to zero and clears the speaking flag. It returns the number
// of segments that were stopped.
//
// Chunks that arrive after Interrupt are scheduled normally, from the current
// output time.
func (s *Scheduler) Interrupt() int {
	stopped := s.flush(false)
	return len(stopped)
}

// Reset is [Scheduler.Interrupt] for session teardown.
func (s *Scheduler) Reset() {
	s.flush(false)
}

// Close stops all playback and rejects further scheduling. It does not close
// the output context. Close is idempotent.
func (s *Scheduler) Close() error {
	s.flush(true)
	return nil
}

// flush clears state under the lock and stops the collected sources after
// releasing it, because Stop may run the ended callback synchronously.
func (s *Scheduler) flush(closing bool) []audio.Source {
	s.mu.Lock()
	stopped := make([]audio.Source, 0, len(s.active))
	for src := range s.active {
		stopped = append(stopped, src)
	}
	clear(s.active)
	s.nextStart = 0
	s.speaking.Store(false)
	if closing {
		s.closed = true
	}
	s.notify()
	s.mu.Unlock()

	for _, src := range stopped {
		src.Stop()
	}
	return stopped
}

// NextStartTime returns the playback clock: where the next segment would
// begin if the output clock has not caught up with it.
func (s *Scheduler) NextStartTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Active returns the size of the active segment set.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Speaking reports whether agent audio is scheduled or playing.
func (s *Scheduler) Speaking() bool {
	return s.speaking.Load()
}
