package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWAVRoundTrip(t *testing.T) {
	rates := []uint32{8000, 16000, 44100}
	chans := []uint16{1, 2}
	pcm := []int16{0, 1, -1, 32767, -32768, 1234, -4321}

	for _, rate := range rates {
		for _, ch := range chans {
			encoded, err := EncodeWAV(pcm, rate, ch)
			require.NoError(t, err)

			decodedSamples, decodedRate, decodedCh, err := DecodeWAV(encoded)
			require.NoError(t, err)

			assert.Equal(t, pcm, decodedSamples)
			assert.Equal(t, rate, decodedRate)
			assert.Equal(t, ch, decodedCh)
		}
	}
}

func TestWAVHeaderSize(t *testing.T) {
	encoded, err := EncodeWAV([]int16{1, 2, 3}, 8000, 1)
	require.NoError(t, err)
	assert.Len(t, encoded, 44+3*2)
	assert.Equal(t, "RIFF", string(encoded[0:4]))
	assert.Equal(t, "WAVE", string(encoded[8:12]))
	assert.Equal(t, "data", string(encoded[36:40]))
}

func TestWAVInvalidParams(t *testing.T) {
	_, err := EncodeWAV([]int16{1}, 8000, 3)
	assert.ErrorIs(t, err, ErrInvalidParam)

	_, err = EncodeWAV([]int16{1}, 0, 1)
	assert.ErrorIs(t, err, ErrInvalidParam)

	_, err = EncodeWAV(nil, 8000, 1)
	assert.ErrorIs(t, err, ErrInvalidParam)
}

func TestWAVDecodeRejectsNonPCM(t *testing.T) {
	encoded, err := EncodeWAV([]int16{1, 2}, 8000, 1)
	require.NoError(t, err)

	// Corrupt the audio format field (offset 20-21) to something non-PCM.
	encoded[20] = 0x03
	encoded[21] = 0x00

	_, _, _, err = DecodeWAV(encoded)
	assert.ErrorIs(t, err, ErrFormat)
}
