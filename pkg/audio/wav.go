package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// EncodeWAV wraps PCM16 data in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// ErrNotWAV is returned by [DecodeWAV] when b is not a RIFF/WAVE document.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE document")

// DecodeWAV extracts the PCM16 payload of a RIFF/WAVE document. Multi-channel
// audio is mixed down to mono. Only uncompressed 16-bit PCM is accepted.
func DecodeWAV(b []byte) (pcm []byte, sampleRate int, err error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, 0, ErrNotWAV
	}

	var (
		channels int
		bits     int
		haveFmt  bool
	)
	for off := 12; off+8 <= len(b); {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := b[off+8:]
		if size > len(body) {
			size = len(body)
		}
		body = body[:size]

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("audio: wav fmt chunk too short (%d bytes)", size)
			}
			if format := binary.LittleEndian.Uint16(body[0:2]); format != 1 {
				return nil, 0, fmt.Errorf("audio: unsupported wav format %d", format)
			}
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bits = int(binary.LittleEndian.Uint16(body[14:16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, 0, errors.New("audio: wav data chunk before fmt chunk")
			}
			if bits != 16 {
				return nil, 0, fmt.Errorf("audio: unsupported wav bit depth %d", bits)
			}
			if channels <= 1 {
				return append([]byte(nil), body...), sampleRate, nil
			}
			return downmix(body, channels), sampleRate, nil
		}
		// Chunks are padded to an even size.
		off += 8 + size + size%2
	}
	return nil, 0, errors.New("audio: wav has no data chunk")
}

func downmix(pcm []byte, channels int) []byte {
	samples := Samples(pcm)
	frames := len(samples) / channels
	mono := make([]int16, frames)
	for i := range frames {
		var sum int
		for c := range channels {
			sum += int(samples[i*channels+c])
		}
		mono[i] = int16(sum / channels)
	}
	return Bytes(mono)
}
