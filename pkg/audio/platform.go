// Package audio defines the audio data model and device abstractions used by
// the concierge voice pipeline.
//
// The primary abstractions are:
//
//   - [Microphone] acquires a live capture [InputStream] of fixed-size frames.
//   - [Speaker] opens an [OutputContext], a playback timeline on which
//     decoded [Buffer] values are scheduled as [Source] nodes.
//
// Wire conversion (PCM16 ⇄ float, base64 packets) lives in codec.go.
// Implementations of the device interfaces are provided by adapter packages
// (audio/device for PortAudio, audio/mock for tests).
package audio

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned (wrapped) by a [Microphone] when the host
// refuses access to the capture device.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// ErrNoDevice is returned (wrapped) when no matching device exists.
var ErrNoDevice = errors.New("audio: no such device")

// InputStream is a live microphone stream.
//
// Frames returns a channel that delivers one [Frame] per capture callback.
// The channel is closed after Close is called or when the device fails.
// Implementations must never block the device callback on a slow consumer.
type InputStream interface {
	Frames() <-chan Frame

	// Close stops capture and releases the device. Calling Close more than once
	// is safe and returns nil.
	Close() error
}

// Microphone acquires capture streams.
type Microphone interface {
	// Open starts capturing with the given configuration. Returns an error
	// wrapping [ErrPermissionDenied] or [ErrNoDevice] when the device cannot be
	// acquired.
	Open(ctx context.Context, cfg StreamConfig) (InputStream, error)
}

// Speaker opens playback contexts.
type Speaker interface {
	// Open creates an output context running at cfg.SampleRate.
	Open(ctx context.Context, cfg StreamConfig) (OutputContext, error)
}
