package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/callbridge/pkg/audio"
)

func TestEncodeWAV_Header(t *testing.T) {
	t.Parallel()

	wav := audio.EncodeWAV(make([]byte, 160), 8000, 16, 1)

	if len(wav) != 204 {
		t.Fatalf("len = %d, want 204", len(wav))
	}
	checks := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"ChunkSize", binary.LittleEndian.Uint32(wav[4:8]), 196},
		{"Subchunk1Size", binary.LittleEndian.Uint32(wav[16:20]), 16},
		{"AudioFormat", uint32(binary.LittleEndian.Uint16(wav[20:22])), 1},
		{"NumChannels", uint32(binary.LittleEndian.Uint16(wav[22:24])), 1},
		{"SampleRate", binary.LittleEndian.Uint32(wav[24:28]), 8000},
		{"ByteRate", binary.LittleEndian.Uint32(wav[28:32]), 16000},
		{"BlockAlign", uint32(binary.LittleEndian.Uint16(wav[32:34])), 2},
		{"BitsPerSample", uint32(binary.LittleEndian.Uint16(wav[34:36])), 16},
		{"Subchunk2Size", binary.LittleEndian.Uint32(wav[40:44]), 160},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
	for _, tag := range []struct {
		off int
		s   string
	}{{0, "RIFF"}, {8, "WAVE"}, {12, "fmt "}, {36, "data"}} {
		if got := string(wav[tag.off : tag.off+4]); got != tag.s {
			t.Errorf("tag at %d = %q, want %q", tag.off, got, tag.s)
		}
	}
}

func TestEncodeWAV_Reproducible(t *testing.T) {
	t.Parallel()
	pcm := []byte{1, 2, 3, 4}
	if !bytes.Equal(audio.EncodeWAV(pcm, 16000, 16, 1), audio.EncodeWAV(pcm, 16000, 16, 1)) {
		t.Error("identical inputs produced different output")
	}
}

func TestDecodeWAV(t *testing.T) {
	t.Parallel()

	pcm := []byte{10, 0, 20, 0, 30, 0}
	info, data, err := audio.DecodeWAV(audio.EncodeWAV(pcm, 22050, 16, 1))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if info.SampleRate != 22050 || info.Channels != 1 || info.BitsPerSample != 16 {
		t.Errorf("info = %+v", info)
	}
	if info.DataOffset != audio.WAVHeaderSize {
		t.Errorf("DataOffset = %d, want %d", info.DataOffset, audio.WAVHeaderSize)
	}
	if !bytes.Equal(data, pcm) {
		t.Errorf("data = %v, want %v", data, pcm)
	}
}

func TestDecodeWAV_SkipsExtraChunks(t *testing.T) {
	t.Parallel()

	base := audio.EncodeWAV([]byte{1, 0, 2, 0}, 24000, 16, 1)
	// Insert an odd-sized LIST chunk between fmt and data.
	list := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0}
	wav := append(append(append([]byte{}, base[:36]...), list...), base[36:]...)

	info, data, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if info.SampleRate != 24000 {
		t.Errorf("SampleRate = %d, want 24000", info.SampleRate)
	}
	if !bytes.Equal(data, []byte{1, 0, 2, 0}) {
		t.Errorf("data = %v", data)
	}
}

func TestDecodeWAV_Errors(t *testing.T) {
	t.Parallel()

	valid := audio.EncodeWAV([]byte{0, 0}, 8000, 16, 1)

	tests := []struct {
		name string
		in   []byte
	}{
		{"empty", nil},
		{"too short", []byte("RIFF")},
		{"bad magic", append([]byte("RIFX"), valid[4:]...)},
		{"no data chunk", valid[:36]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, _, err := audio.DecodeWAV(tt.in); !errors.Is(err, audio.ErrDecode) {
				t.Errorf("err = %v, want ErrDecode", err)
			}
		})
	}
}
