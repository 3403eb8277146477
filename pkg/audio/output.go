package audio

// Source is one buffer scheduled on an [OutputContext]. Sources are single
// use: Start may be called once.
//
// Implementations must be comparable (pointer types) so callers can keep them
// in sets.
type Source interface {
	// Start schedules playback to begin at the given output-clock time in
	// seconds. A time in the past starts immediately.
	Start(at float64) error

	// Stop halts playback immediately. Stopping a finished or already stopped
	// source is a no-op. Stop may invoke the ended callback synchronously, so
	// callers must not hold locks that callback needs.
	Stop()

	// Duration returns the buffer length in seconds.
	Duration() float64
}

// OutputContext is a playback timeline with its own monotonic clock, modelled
// on an audio rendering graph: buffers become sources, sources are started at
// absolute clock positions, and each source reports when it ends.
//
// Implementations must be safe for concurrent use.
type OutputContext interface {
	// CurrentTime returns the output clock in seconds.
	CurrentTime() float64

	// SampleRate returns the rate the context renders at.
	SampleRate() int

	// NewSource binds buf to a new source. onEnded, if non-nil, is invoked
	// exactly once when the source finishes playing or is stopped.
	NewSource(buf *Buffer, onEnded func()) (Source, error)

	// Close stops every source and releases the context. Idempotent.
	Close() error
}
