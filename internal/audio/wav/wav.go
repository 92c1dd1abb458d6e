// Package wav implements the lossless transport container for voice
// captures: a minimal RIFF/WAVE file holding raw PCM. Encode and Decode are
// exact inverses sample for sample.
//
// Decode is deliberately strict: the engine only accepts the capture
// contract (PCM, mono, 16-bit, 16 kHz). Anything else returns
// sentinel.ErrUnsupportedFormat instead of being resampled, because a
// silent resample would change the embedding geometry the enrolled
// voiceprint was computed in.
package wav

import (
	"encoding/binary"
	"fmt"

	"vigil/internal/audio/pcm"
	"vigil/pkg/sentinel"
)

const (
	headerSize = 44
	pcmTag     = 1 // WAVE_FORMAT_PCM
)

// Encode wraps samples in a RIFF/WAVE container in the capture format.
func Encode(samples []int16) []byte {
	format := pcm.L16Mono16K
	dataLen := len(samples) * 2
	buf := make([]byte, headerSize+dataLen)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(buf[20:22], pcmTag)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(format.Channels()))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(format.SampleRate()))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(format.BytesRate()))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(format.Channels()*format.Depth()/8))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(format.Depth()))

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))

	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[headerSize+2*i:], uint16(s))
	}
	return buf
}

// Decode parses a RIFF/WAVE container and returns the raw samples. Returns
// sentinel.ErrUnsupportedFormat for any container that is not PCM mono
// 16-bit 16 kHz.
func Decode(data []byte) ([]int16, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("wav: %d byte payload too short for a header: %w", len(data), sentinel.ErrUnsupportedFormat)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("wav: missing RIFF/WAVE magic: %w", sentinel.ErrUnsupportedFormat)
	}

	// Walk chunks; an fmt chunk must precede the data chunk.
	var (
		format   *fmtChunk
		pcmData  []byte
		haveData bool
	)
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			return nil, fmt.Errorf("wav: truncated %q chunk: %w", id, sentinel.ErrUnsupportedFormat)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("wav: fmt chunk too short: %w", sentinel.ErrUnsupportedFormat)
			}
			format = &fmtChunk{
				audioFormat: binary.LittleEndian.Uint16(data[body : body+2]),
				channels:    binary.LittleEndian.Uint16(data[body+2 : body+4]),
				sampleRate:  binary.LittleEndian.Uint32(data[body+4 : body+8]),
				bitDepth:    binary.LittleEndian.Uint16(data[body+14 : body+16]),
			}
		case "data":
			pcmData = data[body : body+size]
			haveData = true
		}
		// Chunks are word aligned.
		off = body + size + size%2
	}

	if format == nil || !haveData {
		return nil, fmt.Errorf("wav: missing fmt or data chunk: %w", sentinel.ErrUnsupportedFormat)
	}

	want := pcm.L16Mono16K
	if format.audioFormat != pcmTag ||
		int(format.channels) != want.Channels() ||
		int(format.sampleRate) != want.SampleRate() ||
		int(format.bitDepth) != want.Depth() {
		return nil, fmt.Errorf("wav: got format=%d channels=%d rate=%d depth=%d, want %s: %w",
			format.audioFormat, format.channels, format.sampleRate, format.bitDepth, want, sentinel.ErrUnsupportedFormat)
	}
	if len(pcmData)%2 != 0 {
		return nil, fmt.Errorf("wav: odd data length %d: %w", len(pcmData), sentinel.ErrUnsupportedFormat)
	}

	samples := make([]int16, len(pcmData)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcmData[2*i:]))
	}
	return samples, nil
}

type fmtChunk struct {
	audioFormat uint16
	channels    uint16
	sampleRate  uint32
	bitDepth    uint16
}
