// Package audio converts synthesized narration into playable containers.
package audio

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Narration format produced by the speech model.
const (
	SampleRate    = 24000
	Channels      = 1
	BitsPerSample = 16

	wavHeaderSize = 44
)

var ErrOddPCMLength = errors.New("pcm16 payload has an odd number of bytes")

// Format describes raw little-endian PCM.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

var Narration = Format{SampleRate: SampleRate, Channels: Channels, BitsPerSample: BitsPerSample}

func (f Format) blockAlign() int { return f.Channels * f.BitsPerSample / 8 }

func (f Format) byteRate() int { return f.SampleRate * f.blockAlign() }

// DecodeBase64PCM decodes the base64 audio payload returned by the model.
func DecodeBase64PCM(data string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode audio payload: %w", err)
	}
	return pcm, nil
}

// WriteWAV writes pcm wrapped in a canonical 44-byte RIFF/WAVE header.
// Samples are copied bit for bit.
func WriteWAV(w io.Writer, pcm []byte, f Format) error {
	if len(pcm)%f.blockAlign() != 0 {
		return ErrOddPCMLength
	}

	header := struct {
		ChunkID       [4]byte
		ChunkSize     uint32
		Format        [4]byte
		Subchunk1ID   [4]byte
		Subchunk1Size uint32
		AudioFormat   uint16
		NumChannels   uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
		Subchunk2ID   [4]byte
		Subchunk2Size uint32
	}{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(pcm)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.byteRate()),
		BlockAlign:    uint16(f.blockAlign()),
		BitsPerSample: uint16(f.BitsPerSample),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(pcm)),
	}

	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	_, err := w.Write(pcm)
	return err
}

// EncodeWAV returns pcm as a complete narration WAV file.
func EncodeWAV(pcm []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))
	if err := WriteWAV(&buf, pcm, Narration); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Duration reports the playback length of pcm in seconds.
func (f Format) Duration(pcm []byte) float64 {
	if f.byteRate() == 0 {
		return 0
	}
	return float64(len(pcm)) / float64(f.byteRate())
}
