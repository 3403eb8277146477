package audio

import (
	"fmt"
	"time"
)

const (
	// InputSampleRate is the microphone capture rate expected by the remote
	// agent, in Hz.
	InputSampleRate = 16000

	// OutputSampleRate is the rate of the PCM the remote agent speaks with.
	OutputSampleRate = 24000

	// CaptureFrameSize is the number of samples delivered per capture callback.
	CaptureFrameSize = 4096
)

// Frame is a fixed-length block of mono floating-point samples captured from
// the microphone. Frames are ephemeral: they are encoded into a [Packet] and
// dropped immediately.
type Frame struct {
	// Samples in [-1, 1].
	Samples []float32

	// SampleRate in Hz (16000 for capture).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Packet is the wire representation of one frame: base64 of 16-bit
// little-endian PCM, tagged with a MIME-like descriptor.
type Packet struct {
	MIMEType string
	Data     string
}

// PCMMIMEType returns the descriptor for raw PCM at rate, e.g.
// "audio/pcm;rate=16000".
func PCMMIMEType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

// Buffer is a decoded, de-interleaved block of audio ready for playback.
// Channels[c][i] is sample i of channel c.
type Buffer struct {
	Channels   [][]float32
	SampleRate int
}

// Len returns the number of sample frames in the buffer.
func (b *Buffer) Len() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// NumChannels returns the channel count.
func (b *Buffer) NumChannels() int {
	if b == nil {
		return 0
	}
	return len(b.Channels)
}

// Duration returns the playback length in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Len()) / float64(b.SampleRate)
}

// StreamConfig describes the shape of a device stream.
type StreamConfig struct {
	SampleRate int
	Channels   int

	// FrameSize is the number of samples per callback.
	FrameSize int

	// Device selects a device by case-insensitive name substring. Empty means
	// the host default.
	Device string
}
