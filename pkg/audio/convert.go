package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// BytesToSamples interprets b as little-endian signed 16-bit samples. It
// returns an error wrapping [ErrDecode] when len(b) is odd.
func BytesToSamples(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("%w: odd PCM byte count %d", ErrDecode, len(b))
	}
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples, nil
}

// SamplesToBytes serializes samples as little-endian signed 16-bit PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Resample converts mono samples from fromRate to toRate by linear
// interpolation. The output holds floor(len(samples)*toRate/fromRate)
// samples. When the rates match, or either rate is not positive, samples is
// returned unchanged.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate <= 0 || toRate <= 0 || fromRate == toRate || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(toRate) / int64(fromRate))
	if n == 0 {
		return nil
	}

	out := make([]int16, n)
	ratio := float64(fromRate) / float64(toRate)
	last := len(samples) - 1

	for i := range n {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx > last {
			idx = last
		}
		frac := pos - float64(idx)

		s0 := samples[idx]
		s1 := s0
		if idx+1 <= last {
			s1 = samples[idx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged. A trailing odd byte is ignored.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	samples, err := BytesToSamples(pcm[:len(pcm)&^1])
	if err != nil {
		return nil
	}
	return SamplesToBytes(Resample(samples, srcRate, dstRate))
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(binary.LittleEndian.Uint16(pcm[i*4:])))
		r := int32(int16(binary.LittleEndian.Uint16(pcm[i*4+2:])))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16((l+r)/2)))
	}
	return out
}

var warnStereo sync.Once

// ToULaw8k normalizes f into 8 kHz μ-law transport bytes. WAV input is
// unwrapped (and downmixed when stereo), PCM input is resampled to
// [TelephonyRate], and μ-law input is returned as is.
func ToULaw8k(f Frame) ([]byte, error) {
	switch f.Codec {
	case CodecULaw8k:
		return f.Data, nil

	case CodecPCM16:
		if f.SampleRate <= 0 {
			return nil, fmt.Errorf("%w: pcm16 frame without sample rate", ErrDecode)
		}
		samples, err := BytesToSamples(f.Data)
		if err != nil {
			return nil, err
		}
		return encodeSamples(Resample(samples, f.SampleRate, TelephonyRate)), nil

	case CodecWAV:
		info, pcm, err := DecodeWAV(f.Data)
		if err != nil {
			return nil, err
		}
		if info.BitsPerSample != 16 {
			return nil, fmt.Errorf("%w: unsupported bit depth %d", ErrDecode, info.BitsPerSample)
		}
		if info.Channels == 2 {
			warnStereo.Do(func() {
				slog.Warn("audio: stereo WAV from synthesizer, downmixing to mono",
					"sampleRate", info.SampleRate,
				)
			})
			pcm = StereoToMono(pcm)
		} else if info.Channels != 1 {
			return nil, fmt.Errorf("%w: unsupported channel count %d", ErrDecode, info.Channels)
		}
		return ToULaw8k(Frame{Data: pcm[:len(pcm)&^1], Codec: CodecPCM16, SampleRate: info.SampleRate})

	default:
		return nil, fmt.Errorf("%w: unknown codec %d", ErrDecode, f.Codec)
	}
}

func encodeSamples(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = EncodeLinear(s)
	}
	return out
}
