// Package capture turns live microphone frames into an ordered stream of wire
// packets delivered to a remote session.
//
// The device callback side ([Pipeline.Submit]) never blocks: frames are
// encoded and appended to an in-memory FIFO. A single sender goroutine drains
// the FIFO into the session once one has been attached with
// [Pipeline.Attach], so frames captured while the connection is still being
// established are queued behind it instead of dropped.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dreamit/concierge/pkg/audio"
)

// Sink receives encoded packets. It is satisfied by an s2s session handle.
type Sink interface {
	SendRealtimeInput(p audio.Packet) error
}

// Option configures a [Pipeline] during construction.
type Option func(*Pipeline)

// WithSendHook registers fn to be called after every send attempt with its
// result. fn runs on the sender goroutine and must not block.
func WithSendHook(fn func(err error)) Option {
	return func(p *Pipeline) {
		p.onSend = fn
	}
}

// Pipeline is the capture pipeline for one session.
//
// All exported methods are safe for concurrent use.
type Pipeline struct {
	onSend func(err error)

	mu     sync.Mutex
	queue  []audio.Packet
	sink   Sink
	closed bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	submitted atomic.Uint64
	sent      atomic.Uint64
	failed    atomic.Uint64
}

// New creates a [Pipeline] and starts its sender goroutine. Call
// [Pipeline.Close] to stop it.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	p.wg.Add(1)
	go p.sendLoop()
	return p
}

// Submit encodes f and queues the packet for sending. It never blocks and
// never drops a frame while the pipeline is open. Frames submitted after
// Close are discarded.
func (p *Pipeline) Submit(f audio.Frame) {
	pkt := audio.EncodeFrame(f)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, pkt)
	p.mu.Unlock()
	p.submitted.Add(1)

	p.signal()
}

// Attach marks the session as ready and starts delivery of everything queued
// so far, in capture order. Attaching again replaces the sink.
func (p *Pipeline) Attach(s Sink) {
	p.mu.Lock()
	p.sink = s
	p.mu.Unlock()
	p.signal()
}

// Run pumps frames from stream into the pipeline until the stream's channel
// closes or ctx is cancelled. On cancellation the remaining frames are
// drained in the background until the stream is closed.
func (p *Pipeline) Run(ctx context.Context, stream audio.InputStream) {
	frames := stream.Frames()
	for {
		select {
		case <-ctx.Done():
			go audio.Drain(frames)
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			p.Submit(f)
		}
	}
}

// Close stops the sender goroutine and discards any packets that have not
// been sent. Close is idempotent.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.queue = nil
	p.sink = nil
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()
	return nil
}

// Pending returns the number of packets waiting to be sent.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Stats returns the number of frames submitted, packets sent successfully and
// sends that failed.
func (p *Pipeline) Stats() (submitted, sent, failed uint64) {
	return p.submitted.Load(), p.sent.Load(), p.failed.Load()
}

func (p *Pipeline) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// sendLoop is the single goroutine that talks to the sink, which keeps
// packets in capture order.
func (p *Pipeline) sendLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case <-p.wake:
		}

		for {
			sink, batch := p.take()
			if len(batch) == 0 {
				break
			}
			for _, pkt := range batch {
				select {
				case <-p.done:
					return
				default:
				}
				p.send(sink, pkt)
			}
		}
	}
}

// take removes every queued packet if a sink is attached.
func (p *Pipeline) take() (Sink, []audio.Packet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sink == nil || len(p.queue) == 0 {
		return nil, nil
	}
	batch := p.queue
	p.queue = nil
	return p.sink, batch
}

// send delivers one packet. Failures and panics are logged and counted; they
// never stop the loop.
func (p *Pipeline) send(sink Sink, pkt audio.Packet) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capture: send panicked: %v", r)
		}
		if err != nil {
			p.failed.Add(1)
			slog.Warn("capture: failed to send audio frame", "err", err)
		} else {
			p.sent.Add(1)
		}
		if p.onSend != nil {
			p.onSend(err)
		}
	}()
	err = sink.SendRealtimeInput(pkt)
}
