// Package visual holds the visual context the concierge is currently showing
// alongside the conversation: the resort the agent last asked to display.
//
// A [Display] is the local state mutated by tool calls. Observers register
// with [Display.Subscribe] and are notified after every change, outside the
// display's lock, so an observer may read the display back.
package visual

import (
	"sync"
	"time"

	"github.com/dreamit/concierge/internal/resort"
)

// State is a snapshot of what is on screen.
type State struct {
	// Resort is the displayed resort. Zero when nothing is shown.
	Resort resort.Resort `json:"resort"`

	// Query is the name as the agent spoke it.
	Query string `json:"query,omitempty"`

	// ShownAt is when the resort was displayed.
	ShownAt time.Time `json:"shown_at"`

	// Version increases by one on every change, including Clear.
	Version uint64 `json:"version"`
}

// Visible reports whether a resort is on screen.
func (s State) Visible() bool { return s.Resort.Name != "" }

// Option configures a Display.
type Option func(*Display)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Display) { d.now = now }
}

// Display is the mutable visual context. The zero value is not usable; call
// [New].
type Display struct {
	mu     sync.Mutex
	state  State
	subs   map[int]func(State)
	nextID int
	now    func() time.Time
}

// New returns an empty Display.
func New(opts ...Option) *Display {
	d := &Display{subs: make(map[int]func(State)), now: time.Now}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Show puts r on screen and notifies subscribers.
func (d *Display) Show(r resort.Resort, query string) State {
	d.mu.Lock()
	d.state = State{
		Resort:  r,
		Query:   query,
		ShownAt: d.now(),
		Version: d.state.Version + 1,
	}
	st, subs := d.state, d.subscribers()
	d.mu.Unlock()

	notify(subs, st)
	return st
}

// Clear removes whatever is shown. Clearing an empty display is a no-op and
// does not notify.
func (d *Display) Clear() {
	d.mu.Lock()
	if !d.state.Visible() {
		d.mu.Unlock()
		return
	}
	d.state = State{Version: d.state.Version + 1}
	st, subs := d.state, d.subscribers()
	d.mu.Unlock()

	notify(subs, st)
}

// Current returns the current state.
func (d *Display) Current() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Subscribe registers fn to be called after every change. The returned
// function removes the subscription and is safe to call more than once.
func (d *Display) Subscribe(fn func(State)) (unsubscribe func()) {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

// subscribers snapshots the callbacks. Caller must hold d.mu.
func (d *Display) subscribers() []func(State) {
	out := make([]func(State), 0, len(d.subs))
	for _, fn := range d.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func(State), st State) {
	for _, fn := range subs {
		fn(st)
	}
}
