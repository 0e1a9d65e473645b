package audio

import (
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWAV_Header(t *testing.T) {
	pcm := []byte{0x01, 0x00, 0xff, 0x7f, 0x00, 0x80}

	wav, err := EncodeWAV(pcm)
	require.NoError(t, err)
	require.Len(t, wav, 44+len(pcm))

	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, uint32(36+len(pcm)), binary.LittleEndian.Uint32(wav[4:8]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, "fmt ", string(wav[12:16]))
	assert.Equal(t, uint32(16), binary.LittleEndian.Uint32(wav[16:20]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[20:22]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[22:24]))
	assert.Equal(t, uint32(24000), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(48000), binary.LittleEndian.Uint32(wav[28:32]))
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(wav[32:34]))
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(wav[34:36]))
	assert.Equal(t, "data", string(wav[36:40]))
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(wav[40:44]))

	assert.Equal(t, pcm, wav[44:], "samples must pass through unchanged")
}

func TestEncodeWAV_RejectsPartialSample(t *testing.T) {
	_, err := EncodeWAV([]byte{0x01, 0x02, 0x03})
	assert.ErrorIs(t, err, ErrOddPCMLength)
}

func TestEncodeWAV_Empty(t *testing.T) {
	wav, err := EncodeWAV(nil)
	require.NoError(t, err)
	assert.Len(t, wav, 44)
}

func TestDecodeBase64PCM(t *testing.T) {
	pcm := []byte{0x10, 0x20, 0x30, 0x40}
	got, err := DecodeBase64PCM(base64.StdEncoding.EncodeToString(pcm))
	require.NoError(t, err)
	assert.Equal(t, pcm, got)

	_, err = DecodeBase64PCM("not*base64")
	assert.Error(t, err)
}

func TestDuration(t *testing.T) {
	pcm := make([]byte, 48000*3)
	assert.InDelta(t, 3.0, Narration.Duration(pcm), 1e-9)
}
