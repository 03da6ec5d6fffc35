package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
)

// EncodeWAV wraps normalized samples in a mono 16-bit PCM WAV container.
func EncodeWAV(samples []float64, sampleRate int) ([]byte, error) {
	if err := validRate(sampleRate); err != nil {
		return nil, err
	}
	pcm := EncodePCM16(samples)

	var buf bytes.Buffer
	dataLen := uint32(len(pcm))
	byteRate := uint32(sampleRate * 2)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, uint16(2))  // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16)) // bits per sample
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// DecodeWAV parses a 16-bit PCM WAV buffer and returns normalized samples
// and the sample rate. Multi-channel audio is downmixed by taking the
// first channel. Malformed input yields an error, never a panic.
func DecodeWAV(data []byte) ([]float64, int, error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("not a RIFF/WAVE buffer")
	}

	var (
		sampleRate int
		channels   int
		bits       int
		pcm        []byte
	)

	// Walk chunks; fmt and data can appear in any order after the header.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("short fmt chunk")
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bits = int(binary.LittleEndian.Uint16(data[body+14:]))
		case "data":
			pcm = data[body : body+size]
		}
		off = body + size
		if size%2 == 1 {
			off++ // chunks are word-aligned
		}
	}

	if sampleRate == 0 || pcm == nil {
		return nil, 0, fmt.Errorf("missing fmt or data chunk")
	}
	if bits != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth %d", bits)
	}
	if channels < 1 {
		channels = 1
	}

	all := DecodePCM16(pcm)
	if channels == 1 {
		return all, sampleRate, nil
	}
	mono := make([]float64, 0, len(all)/channels)
	for i := 0; i+channels-1 < len(all); i += channels {
		mono = append(mono, all[i])
	}
	return mono, sampleRate, nil
}

// WriteWAV writes samples to path as a mono 16-bit PCM WAV file.
func WriteWAV(path string, samples []float64, sampleRate int) error {
	data, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadWAV reads a WAV file and returns normalized samples and sample rate.
func ReadWAV(path string) ([]float64, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	return DecodeWAV(data)
}
