package audio

import (
	"encoding/binary"
	"fmt"
)

// WAVHeaderSize is the length of the canonical PCM header written by
// [EncodeWAV].
const WAVHeaderSize = 44

// WAVInfo holds the format metadata extracted from a RIFF/WAVE header.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataOffset    int // byte offset of the first PCM sample
}

// EncodeWAV wraps raw PCM in a canonical 44-byte RIFF/WAVE header. All
// header fields are little-endian. The output is byte-for-byte reproducible
// for identical inputs.
func EncodeWAV(pcm []byte, sampleRate, bitsPerSample, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, WAVHeaderSize+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                    // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                     // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))      // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))    // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))      // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))    // block align
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bitsPerSample)) // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// DecodeWAV walks the RIFF chunks of wav and returns the format from the
// "fmt " sub-chunk together with the PCM payload of the "data" sub-chunk.
// Chunk order and extra chunks (LIST, fact, ...) are tolerated. A data chunk
// whose declared size runs past the buffer is truncated to what is present,
// which is what streaming synthesizers emit.
func DecodeWAV(wav []byte) (WAVInfo, []byte, error) {
	if len(wav) < 12 {
		return WAVInfo{}, nil, fmt.Errorf("%w: WAV too short (%d bytes)", ErrDecode, len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrDecode)
	}

	var info WAVInfo
	foundFmt := false

	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || offset+8+16 > len(wav) {
				return WAVInfo{}, nil, fmt.Errorf("%w: truncated fmt chunk", ErrDecode)
			}
			f := wav[offset+8:]
			if format := binary.LittleEndian.Uint16(f[0:2]); format != 1 {
				return WAVInfo{}, nil, fmt.Errorf("%w: unsupported WAV format tag %d", ErrDecode, format)
			}
			info.Channels = int(binary.LittleEndian.Uint16(f[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(f[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(f[14:16]))
			foundFmt = true

		case "data":
			if !foundFmt {
				return WAVInfo{}, nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrDecode)
			}
			info.DataOffset = offset + 8
			end := info.DataOffset + chunkSize
			if end > len(wav) || end < info.DataOffset {
				end = len(wav)
			}
			return info, wav[info.DataOffset:end], nil
		}

		// Chunks are word-aligned: pad by 1 if odd size.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, nil, fmt.Errorf("%w: missing data chunk", ErrDecode)
}
