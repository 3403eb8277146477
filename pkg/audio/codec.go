package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrMalformedPCM is returned when a byte slice cannot hold whole 16-bit
// samples for the requested channel count.
var ErrMalformedPCM = errors.New("audio: malformed pcm")

// DecodeError reports an incoming audio chunk that could not be turned into a
// playable buffer. Such chunks are dropped.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "audio: decode chunk: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodePCM16 converts float samples in [-1, 1] to 16-bit little-endian PCM.
// Out-of-range samples are clamped.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := s * 32768
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		n := int16(v)
		out[i*2] = byte(n)
		out[i*2+1] = byte(n >> 8)
	}
	return out
}

// DecodePCM16 converts 16-bit little-endian PCM to float samples by dividing
// each sample by 32768.
func DecodePCM16(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrMalformedPCM, len(pcm))
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		n := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(n) / 32768
	}
	return out, nil
}

// EncodeFrame converts a captured frame into its wire packet.
func EncodeFrame(f Frame) Packet {
	rate := f.SampleRate
	if rate <= 0 {
		rate = InputSampleRate
	}
	return Packet{
		MIMEType: PCMMIMEType(rate),
		Data:     base64.StdEncoding.EncodeToString(EncodePCM16(f.Samples)),
	}
}

// DecodeBuffer de-interleaves PCM16 into a [Buffer] with the given rate and
// channel count. A trailing partial frame is an error.
func DecodeBuffer(pcm []byte, sampleRate, channels int) (*Buffer, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("audio: invalid channel count %d", channels)
	}
	if len(pcm)%(2*channels) != 0 {
		return nil, fmt.Errorf("%w: %d bytes for %d channels", ErrMalformedPCM, len(pcm), channels)
	}
	samples, err := DecodePCM16(pcm)
	if err != nil {
		return nil, err
	}
	frames := len(samples) / channels
	buf := &Buffer{
		Channels:   make([][]float32, channels),
		SampleRate: sampleRate,
	}
	for c := range channels {
		ch := make([]float32, frames)
		for i := range frames {
			ch[i] = samples[i*channels+c]
		}
		buf.Channels[c] = ch
	}
	return buf, nil
}

// DecodeChunk turns a base64 wire chunk into a playable buffer. Any failure is
// reported as a [*DecodeError].
func DecodeChunk(data string, sampleRate, channels int) (*Buffer, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	buf, err := DecodeBuffer(raw, sampleRate, channels)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return buf, nil
}
