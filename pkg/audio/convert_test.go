package audio_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/MrWong99/callbridge/pkg/audio"
)

func TestBytesToSamples(t *testing.T) {
	t.Parallel()

	got, err := audio.BytesToSamples([]byte{0x01, 0x00, 0xFF, 0xFF, 0x00, 0x80})
	if err != nil {
		t.Fatalf("BytesToSamples: %v", err)
	}
	want := []int16{1, -1, -32768}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
	if back := audio.SamplesToBytes(got); !bytes.Equal(back, []byte{0x01, 0x00, 0xFF, 0xFF, 0x00, 0x80}) {
		t.Errorf("SamplesToBytes = %v", back)
	}
}

func TestBytesToSamples_OddLength(t *testing.T) {
	t.Parallel()
	if _, err := audio.BytesToSamples([]byte{1}); !errors.Is(err, audio.ErrDecode) {
		t.Errorf("err = %v, want ErrDecode", err)
	}
}

func TestResample_LengthLaw(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       int
		from, to int
		want     int
	}{
		{"8k to 24k", 160, 8000, 24000, 480},
		{"24k to 8k", 480, 24000, 8000, 160},
		{"16k to 8k", 320, 16000, 8000, 160},
		{"22050 to 8k", 22050, 22050, 8000, 8000},
		{"odd count floors", 7, 24000, 8000, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := audio.Resample(make([]int16, tt.in), tt.from, tt.to)
			if len(out) != tt.want {
				t.Errorf("len = %d, want %d", len(out), tt.want)
			}
		})
	}
}

func TestResample_Identity(t *testing.T) {
	t.Parallel()
	in := []int16{1, 2, 3}
	out := audio.Resample(in, 8000, 8000)
	if &out[0] != &in[0] {
		t.Error("equal rates should return the input slice")
	}
}

func TestResample_Upsample(t *testing.T) {
	t.Parallel()
	// 2 samples at 8kHz → 6 samples at 24kHz (3x)
	got := audio.Resample([]int16{1000, 2000}, 8000, 24000)
	if len(got) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(got))
	}
	if got[0] != 1000 {
		t.Errorf("first sample: got %d, want 1000", got[0])
	}
	// Past the last source index the value is clamped.
	if got[5] != 2000 {
		t.Errorf("last sample: got %d, want 2000", got[5])
	}
	if got[1] <= 1000 || got[1] >= 2000 {
		t.Errorf("interpolated sample: got %d, want between 1000 and 2000", got[1])
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	t.Parallel()
	pcm := audio.SamplesToBytes([]int16{100, 200, 300, 400, 500, 600})
	out := audio.ResampleMono16(pcm, 24000, 8000)
	got, err := audio.BytesToSamples(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if got[0] != 100 || got[1] != 400 {
		t.Errorf("got %v, want [100 400]", got)
	}
}

func TestStereoToMono_Clamping(t *testing.T) {
	t.Parallel()
	stereo := audio.SamplesToBytes([]int16{100, 200, 32767, 32767})
	got, _ := audio.BytesToSamples(audio.StereoToMono(stereo))
	want := []int16{150, 32767}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestToULaw8k(t *testing.T) {
	t.Parallel()

	silence24k := audio.SamplesToBytes(make([]int16, 480))

	tests := []struct {
		name    string
		frame   audio.Frame
		wantLen int
		wantErr bool
	}{
		{
			name:    "ulaw passthrough",
			frame:   audio.Frame{Data: bytes.Repeat([]byte{0xFF}, 10), Codec: audio.CodecULaw8k, SampleRate: 8000},
			wantLen: 10,
		},
		{
			name:    "pcm16 at 24k",
			frame:   audio.Frame{Data: silence24k, Codec: audio.CodecPCM16, SampleRate: 24000},
			wantLen: 160,
		},
		{
			name:    "wav at 16k",
			frame:   audio.Frame{Data: audio.EncodeWAV(make([]byte, 640), 16000, 16, 1), Codec: audio.CodecWAV},
			wantLen: 160,
		},
		{
			name:    "stereo wav at 8k",
			frame:   audio.Frame{Data: audio.EncodeWAV(make([]byte, 640), 8000, 16, 2), Codec: audio.CodecWAV},
			wantLen: 160,
		},
		{
			name:    "pcm16 without rate",
			frame:   audio.Frame{Data: silence24k, Codec: audio.CodecPCM16},
			wantErr: true,
		},
		{
			name:    "garbage wav",
			frame:   audio.Frame{Data: []byte("not a wav"), Codec: audio.CodecWAV},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := audio.ToULaw8k(tt.frame)
			if tt.wantErr {
				if !errors.Is(err, audio.ErrDecode) {
					t.Fatalf("err = %v, want ErrDecode", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ToULaw8k: %v", err)
			}
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tt.wantLen)
			}
			for i, b := range got {
				if b != 0xFF {
					t.Fatalf("byte %d = %#x, want silence 0xff", i, b)
				}
			}
		})
	}
}
