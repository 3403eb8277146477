package audio_test

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/dreamit/concierge/pkg/audio"
)

func TestEncodePCM16_LittleEndian(t *testing.T) {
	t.Parallel()

	got := audio.EncodePCM16([]float32{0, 0.5, -0.5, -1})
	want := []byte{
		0x00, 0x00, // 0
		0x00, 0x40, // 16384
		0x00, 0xC0, // -16384
		0x00, 0x80, // -32768
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("byte[%d] = %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestEncodePCM16_Clamps(t *testing.T) {
	t.Parallel()

	got := audio.EncodePCM16([]float32{1, 2, -3})
	samples, err := audio.DecodePCM16(got)
	if err != nil {
		t.Fatalf("DecodePCM16: %v", err)
	}
	if samples[0] != 32767.0/32768 {
		t.Errorf("samples[0] = %v, want max positive", samples[0])
	}
	if samples[1] != 32767.0/32768 {
		t.Errorf("samples[1] = %v, want max positive", samples[1])
	}
	if samples[2] != -1 {
		t.Errorf("samples[2] = %v, want -1", samples[2])
	}
}

func TestDecodePCM16_OddLength(t *testing.T) {
	t.Parallel()

	_, err := audio.DecodePCM16([]byte{1, 2, 3})
	if !errors.Is(err, audio.ErrMalformedPCM) {
		t.Fatalf("err = %v, want ErrMalformedPCM", err)
	}
}

func TestEncodeFrame_Packet(t *testing.T) {
	t.Parallel()

	p := audio.EncodeFrame(audio.Frame{Samples: []float32{0, 0.5}, SampleRate: 16000})
	if p.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("MIMEType = %q", p.MIMEType)
	}
	raw, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		t.Fatalf("packet data is not base64: %v", err)
	}
	if len(raw) != 4 || raw[2] != 0x00 || raw[3] != 0x40 {
		t.Errorf("raw = %v", raw)
	}
}

func TestEncodeFrame_DefaultRate(t *testing.T) {
	t.Parallel()

	p := audio.EncodeFrame(audio.Frame{Samples: []float32{0}})
	if p.MIMEType != audio.PCMMIMEType(audio.InputSampleRate) {
		t.Errorf("MIMEType = %q", p.MIMEType)
	}
}

func TestDecodeBuffer_Deinterleaves(t *testing.T) {
	t.Parallel()

	pcm := audio.EncodePCM16([]float32{0.5, -0.5, 0.25, -0.25})
	buf, err := audio.DecodeBuffer(pcm, 24000, 2)
	if err != nil {
		t.Fatalf("DecodeBuffer: %v", err)
	}
	if buf.NumChannels() != 2 || buf.Len() != 2 {
		t.Fatalf("shape = %dx%d, want 2x2", buf.NumChannels(), buf.Len())
	}
	if buf.Channels[0][1] != 0.25 || buf.Channels[1][1] != -0.25 {
		t.Errorf("channels = %v", buf.Channels)
	}
}

func TestDecodeBuffer_PartialFrame(t *testing.T) {
	t.Parallel()

	_, err := audio.DecodeBuffer(make([]byte, 6), 24000, 2)
	if !errors.Is(err, audio.ErrMalformedPCM) {
		t.Fatalf("err = %v, want ErrMalformedPCM", err)
	}
}

func TestDecodeChunk(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		data     string
		wantLen  int
		wantErr  bool
		duration float64
	}{
		{
			name:     "one second",
			data:     base64.StdEncoding.EncodeToString(make([]byte, 48000)),
			wantLen:  24000,
			duration: 1.0,
		},
		{
			name:    "empty",
			data:    "",
			wantLen: 0,
		},
		{
			name:    "not base64",
			data:    "!!!not-base64!!!",
			wantErr: true,
		},
		{
			name:    "odd bytes",
			data:    base64.StdEncoding.EncodeToString([]byte{1, 2, 3}),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			buf, err := audio.DecodeChunk(tt.data, audio.OutputSampleRate, 1)
			if tt.wantErr {
				var de *audio.DecodeError
				if !errors.As(err, &de) {
					t.Fatalf("err = %v, want *DecodeError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeChunk: %v", err)
			}
			if buf.Len() != tt.wantLen {
				t.Errorf("Len = %d, want %d", buf.Len(), tt.wantLen)
			}
			if buf.Duration() != tt.duration {
				t.Errorf("Duration = %v, want %v", buf.Duration(), tt.duration)
			}
		})
	}
}

func TestBuffer_NilSafe(t *testing.T) {
	t.Parallel()

	var b *audio.Buffer
	if b.Len() != 0 || b.Duration() != 0 || b.NumChannels() != 0 {
		t.Error("nil buffer should report zero length, duration and channels")
	}
}
