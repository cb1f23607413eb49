package audio

// G.711 μ-law companding. Both directions are served from lookup tables that
// are built once at package init and never written afterwards, so they are
// safe for concurrent use.

const (
	ulawBias = 33
	// Largest 14-bit magnitude that still encodes with exponent 7 after
	// biasing.
	ulawClip = 8158
)

var (
	ulawDecodeTable [256]int16
	ulawEncodeTable [65536]byte
)

func init() {
	for i := range ulawDecodeTable {
		ulawDecodeTable[i] = decodeULawSlow(byte(i))
	}
	for i := range ulawEncodeTable {
		ulawEncodeTable[i] = encodeLinearSlow(int16(uint16(i)))
	}
}

// decodeULawSlow expands one μ-law byte to a 14-bit linear sample scaled to
// the int16 range.
func decodeULawSlow(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := int32(u & 0x0F)

	sample := ((mantissa<<1 + ulawBias) << exponent) - ulawBias
	if sign != 0 {
		sample = -sample
	}
	// 14-bit magnitude, shifted into the 16-bit range.
	return clamp16(sample << 2)
}

// encodeLinearSlow compresses one int16 sample to μ-law.
func encodeLinearSlow(s int16) byte {
	// Work in the 14-bit domain used by decodeULawSlow.
	v := int32(s) >> 2

	var sign byte
	if v < 0 {
		sign = 0x80
		v = -v
	}
	if v > ulawClip {
		v = ulawClip
	}
	v += ulawBias

	// Smallest exponent whose window holds the biased magnitude.
	var exponent byte
	for exponent = 0; exponent < 7; exponent++ {
		if v < int32(64)<<exponent {
			break
		}
	}
	mantissa := byte((v >> (exponent + 1)) & 0x0F)

	return ^(sign | exponent<<4 | mantissa)
}

func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// DecodeULaw expands a μ-law byte to a linear 16-bit sample.
//
// The G.711 expansion ((mantissa<<1 + 33) << exponent) - 33 yields a 14-bit
// magnitude; DecodeULaw returns it multiplied by 4 so a full-scale μ-law
// byte maps near full-scale int16 (0x00 decodes to -32124, not -8031).
// [EncodeLinear] divides by 4 before compressing, so the pair round-trips.
func DecodeULaw(u byte) int16 { return ulawDecodeTable[u] }

// EncodeLinear compresses a linear 16-bit sample to μ-law. The sample is
// scaled down by 4 into the 14-bit G.711 domain first; see [DecodeULaw].
func EncodeLinear(s int16) byte { return ulawEncodeTable[uint16(s)] }

// ULawToPCM16 decodes a μ-law byte stream into 16-bit little-endian PCM at
// the same sample rate. The output is twice as long as the input.
func ULawToPCM16(ulaw []byte) []byte {
	out := make([]byte, len(ulaw)*2)
	for i, u := range ulaw {
		s := ulawDecodeTable[u]
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// PCM16ToULaw encodes 16-bit little-endian PCM into μ-law. It returns
// [ErrDecode] when pcm has an odd length.
func PCM16ToULaw(pcm []byte) ([]byte, error) {
	samples, err := BytesToSamples(pcm)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = ulawEncodeTable[uint16(s)]
	}
	return out, nil
}
