// Package device implements [audio.Microphone] and [audio.Speaker] on top of
// PortAudio.
//
// [Init] must be called once before opening any stream and [Terminate] once
// on shutdown. Capture uses a callback stream that copies each buffer and
// hands it to a channel without blocking the audio thread. Playback uses a
// callback stream that pulls interleaved samples from an [output.Timeline].
package device

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/dreamit/concierge/pkg/audio"
	"github.com/dreamit/concierge/pkg/audio/output"
)

// Compile-time interface assertions.
var (
	_ audio.Microphone    = (*Microphone)(nil)
	_ audio.Speaker       = (*Speaker)(nil)
	_ audio.InputStream   = (*inputStream)(nil)
	_ audio.OutputContext = (*outputContext)(nil)
)

// frameBuffer is the capacity of the capture channel. At 4096 samples per
// frame and 16 kHz this holds about 16 seconds of audio.
const frameBuffer = 64

// Init initialises the PortAudio library.
func Init() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("device: initialize portaudio: %w", err)
	}
	return nil
}

// Terminate releases the PortAudio library.
func Terminate() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("device: terminate portaudio: %w", err)
	}
	return nil
}

// findDevice returns the first device whose name contains name
// (case-insensitive) and that has channels in the requested direction. An
// empty name selects the host default.
func findDevice(name string, input bool) (*portaudio.DeviceInfo, error) {
	if name == "" {
		host, err := portaudio.DefaultHostApi()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", audio.ErrNoDevice, err)
		}
		dev := host.DefaultOutputDevice
		if input {
			dev = host.DefaultInputDevice
		}
		if dev == nil {
			return nil, audio.ErrNoDevice
		}
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrNoDevice, err)
	}
	want := strings.ToLower(name)
	for _, d := range devices {
		if input && d.MaxInputChannels == 0 || !input && d.MaxOutputChannels == 0 {
			continue
		}
		if strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", audio.ErrNoDevice, name)
}

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone captures mono float frames from a PortAudio input device.
type Microphone struct{}

// Open implements [audio.Microphone]. Any failure to open or start the stream
// after the device was found is reported as [audio.ErrPermissionDenied], the
// way hosts surface a refused capture device.
func (Microphone) Open(_ context.Context, cfg audio.StreamConfig) (audio.InputStream, error) {
	dev, err := findDevice(cfg.Device, true)
	if err != nil {
		return nil, fmt.Errorf("device: microphone: %w", err)
	}

	params := portaudio.HighLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.FrameSize

	s := &inputStream{
		frames: make(chan audio.Frame, frameBuffer),
		rate:   cfg.SampleRate,
	}
	stream, err := portaudio.OpenStream(params, s.callback)
	if err != nil {
		return nil, fmt.Errorf("device: open input stream: %w: %w", audio.ErrPermissionDenied, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("device: start input stream: %w: %w", audio.ErrPermissionDenied, err)
	}
	s.stream = stream
	slog.Debug("device: capture started", "device", dev.Name, "rate", cfg.SampleRate, "frame_size", cfg.FrameSize)
	return s, nil
}

type inputStream struct {
	stream *portaudio.Stream
	rate   int

	mu      sync.Mutex
	frames  chan audio.Frame
	closed  bool
	samples int64
	dropped atomic.Uint64
}

// callback runs on the PortAudio thread. PortAudio reuses in, so it is
// copied before being handed off.
func (s *inputStream) callback(in []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	samples := make([]float32, len(in))
	copy(samples, in)
	f := audio.Frame{
		Samples:    samples,
		SampleRate: s.rate,
		Timestamp:  time.Duration(s.samples) * time.Second / time.Duration(s.rate),
	}
	s.samples += int64(len(in))
	select {
	case s.frames <- f:
	default:
		s.dropped.Add(1)
	}
}

func (s *inputStream) Frames() <-chan audio.Frame { return s.frames }

func (s *inputStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.frames)
	s.mu.Unlock()

	if n := s.dropped.Load(); n > 0 {
		slog.Warn("device: capture frames dropped by slow consumer", "count", n)
	}
	stopErr := s.stream.Stop()
	closeErr := s.stream.Close()
	if stopErr != nil {
		return fmt.Errorf("device: stop input stream: %w", stopErr)
	}
	if closeErr != nil {
		return fmt.Errorf("device: close input stream: %w", closeErr)
	}
	return nil
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

// Speaker plays an [output.Timeline] through a PortAudio output device.
type Speaker struct {
	// Gain scales rendered samples. Zero means unity.
	Gain float32
}

// Open implements [audio.Speaker].
func (sp Speaker) Open(_ context.Context, cfg audio.StreamConfig) (audio.OutputContext, error) {
	dev, err := findDevice(cfg.Device, false)
	if err != nil {
		return nil, fmt.Errorf("device: speaker: %w", err)
	}
	channels := max(cfg.Channels, 1)

	opts := []output.Option{output.WithChannels(channels)}
	if sp.Gain != 0 {
		opts = append(opts, output.WithGain(sp.Gain))
	}
	tl := output.New(cfg.SampleRate, opts...)

	params := portaudio.HighLatencyParameters(nil, dev)
	params.Output.Channels = channels
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.FrameSize

	oc := &outputContext{Timeline: tl}
	stream, err := portaudio.OpenStream(params, oc.callback)
	if err != nil {
		return nil, fmt.Errorf("device: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("device: start output stream: %w", err)
	}
	oc.stream = stream
	slog.Debug("device: playback started", "device", dev.Name, "rate", cfg.SampleRate, "channels", channels)
	return oc, nil
}

// outputContext is a timeline bound to a running output stream.
type outputContext struct {
	*output.Timeline
	stream *portaudio.Stream
	once   sync.Once
}

// callback runs on the PortAudio thread. A panic here would kill playback
// silently, so it is recovered and the block is left silent.
func (o *outputContext) callback(out []float32) {
	defer func() {
		if r := recover(); r != nil {
			clear(out)
			slog.Error("device: playback render panicked", "panic", r)
		}
	}()
	o.Render(out)
}

// Close stops every source on the timeline before stopping the stream.
func (o *outputContext) Close() error {
	var err error
	o.once.Do(func() {
		_ = o.Timeline.Close()
		if stopErr := o.stream.Stop(); stopErr != nil {
			err = fmt.Errorf("device: stop output stream: %w", stopErr)
		}
		if closeErr := o.stream.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("device: close output stream: %w", closeErr)
		}
	})
	return err
}
