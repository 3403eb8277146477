package capture_test

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dreamit/concierge/pkg/audio"
	"github.com/dreamit/concierge/pkg/audio/capture"
	"github.com/dreamit/concierge/pkg/audio/mock"
)

// recordingSink records packets; it can be made to fail or panic.
type recordingSink struct {
	mu      sync.Mutex
	packets []audio.Packet
	failOn  int // 1-based index of the send that fails, 0 = never
	panicOn int
	calls   int
}

func (s *recordingSink) SendRealtimeInput(p audio.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls == s.panicOn {
		panic("boom")
	}
	if s.calls == s.failOn {
		return errors.New("send failed")
	}
	s.packets = append(s.packets, p)
	return nil
}

func (s *recordingSink) got() []audio.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.Packet(nil), s.packets...)
}

// frame returns a one-sample frame whose value identifies it.
func frame(i int) audio.Frame {
	return audio.Frame{Samples: []float32{float32(i) / 1000}, SampleRate: audio.InputSampleRate}
}

// sampleOf decodes the single sample carried by p.
func sampleOf(t *testing.T, p audio.Packet) int {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		t.Fatalf("decode packet: %v", err)
	}
	samples, err := audio.DecodePCM16(raw)
	if err != nil || len(samples) != 1 {
		t.Fatalf("DecodePCM16: %v (len %d)", err, len(samples))
	}
	return int(samples[0]*1000 + 0.5)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPipeline_QueuesUntilAttached(t *testing.T) {
	t.Parallel()

	p := capture.New()
	defer p.Close()

	for i := range 10 {
		p.Submit(frame(i))
	}
	time.Sleep(10 * time.Millisecond)
	if got := p.Pending(); got != 10 {
		t.Fatalf("Pending = %d before Attach, want 10", got)
	}

	sink := &recordingSink{}
	p.Attach(sink)
	for i := 10; i < 20; i++ {
		p.Submit(frame(i))
	}

	waitFor(t, func() bool { return len(sink.got()) == 20 })
	for i, pkt := range sink.got() {
		if got := sampleOf(t, pkt); got != i {
			t.Fatalf("packet %d carries frame %d; order not preserved", i, got)
		}
		if pkt.MIMEType != "audio/pcm;rate=16000" {
			t.Fatalf("MIMEType = %q", pkt.MIMEType)
		}
	}
}

func TestPipeline_SendFailureDoesNotStopLoop(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var results []error
	p := capture.New(capture.WithSendHook(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, err)
	}))
	defer p.Close()

	sink := &recordingSink{failOn: 2, panicOn: 3}
	p.Attach(sink)
	for i := range 5 {
		p.Submit(frame(i))
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 5
	})
	submitted, sent, failed := p.Stats()
	if submitted != 5 || sent != 3 || failed != 2 {
		t.Errorf("Stats = %d/%d/%d, want 5/3/2", submitted, sent, failed)
	}
	got := sink.got()
	if len(got) != 3 || sampleOf(t, got[0]) != 0 || sampleOf(t, got[1]) != 3 || sampleOf(t, got[2]) != 4 {
		t.Errorf("delivered frames out of order or missing: %d packets", len(got))
	}
}

func TestPipeline_SubmitNeverBlocks(t *testing.T) {
	t.Parallel()

	p := capture.New()
	defer p.Close()

	block := make(chan struct{})
	p.Attach(blockingSink(block))

	done := make(chan struct{})
	go func() {
		for i := range 1000 {
			p.Submit(frame(i % 500))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit blocked behind a slow sink")
	}
	close(block)
}

type blockingSink chan struct{}

func (b blockingSink) SendRealtimeInput(audio.Packet) error {
	<-b
	return nil
}

func TestPipeline_Run(t *testing.T) {
	t.Parallel()

	p := capture.New()
	defer p.Close()
	sink := &recordingSink{}
	p.Attach(sink)

	stream := mock.NewInputStream(8)
	done := make(chan struct{})
	go func() {
		p.Run(context.Background(), stream)
		close(done)
	}()

	for i := range 3 {
		stream.Push(frame(i))
	}
	waitFor(t, func() bool { return len(sink.got()) == 3 })
	_ = stream.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after stream closed")
	}
}

func TestPipeline_CloseIdempotentAndDiscards(t *testing.T) {
	t.Parallel()

	p := capture.New()
	p.Submit(frame(1))
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	p.Submit(frame(2))
	if p.Pending() != 0 {
		t.Errorf("Pending = %d after Close, want 0", p.Pending())
	}
}
