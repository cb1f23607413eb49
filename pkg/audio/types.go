package audio

import "errors"

// ErrDecode is returned (wrapped) when audio input is malformed or too short
// to be interpreted.
var ErrDecode = errors.New("audio: decode error")

// Codec identifies how the bytes of a [Frame] are encoded.
type Codec int

const (
	// CodecULaw8k is G.711 μ-law, one byte per sample, 8 kHz mono. This is the
	// telephony transport encoding.
	CodecULaw8k Codec = iota

	// CodecPCM16 is signed 16-bit little-endian linear PCM, mono.
	CodecPCM16

	// CodecWAV is a RIFF/WAVE container holding 16-bit PCM.
	CodecWAV
)

// String returns the lowercase codec name.
func (c Codec) String() string {
	switch c {
	case CodecULaw8k:
		return "ulaw8k"
	case CodecPCM16:
		return "pcm16"
	case CodecWAV:
		return "wav"
	default:
		return "unknown"
	}
}

// TelephonyRate is the sample rate of the telephony transport in Hz.
const TelephonyRate = 8000

// Frame is a unit of audio moving between the transport and the providers.
// A Frame must not be mutated once it has been handed to another component.
type Frame struct {
	// Data holds the encoded audio bytes.
	Data []byte

	// Codec describes how Data is encoded.
	Codec Codec

	// SampleRate in Hz. For CodecWAV it mirrors the container header and may
	// be zero when unknown.
	SampleRate int

	// TimestampMs is the transport timestamp of the first sample, in
	// milliseconds since stream start.
	TimestampMs int64
}
