package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidParam is returned by EncodeWAV for out-of-range channels,
// sample rate, or an empty sample buffer.
var ErrInvalidParam = errors.New("audio: invalid parameter")

// ErrFormat is returned by DecodeWAV when the input isn't a PCM16 WAV file.
var ErrFormat = errors.New("audio: not a 16-bit PCM WAV file")

const wavHeaderSize = 44

// EncodeWAV serializes 16-bit linear PCM samples to a standard RIFF/WAVE
// byte stream: 44-byte header followed by little-endian PCM16 data.
func EncodeWAV(samples []int16, sampleRate uint32, channels uint16) ([]byte, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("%w: channels must be 1 or 2, got %d", ErrInvalidParam, channels)
	}
	if sampleRate == 0 {
		return nil, fmt.Errorf("%w: sample_rate must be > 0", ErrInvalidParam)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: samples must be non-empty", ErrInvalidParam)
	}

	const bitsPerSample = 16
	byteRate := sampleRate * uint32(channels) * (bitsPerSample / 8)
	blockAlign := channels * (bitsPerSample / 8)
	dataSize := uint32(len(samples)) * 2

	buf := make([]byte, wavHeaderSize+int(dataSize))

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], 36+dataSize)
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], sampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], byteRate)
	binary.LittleEndian.PutUint16(buf[32:34], blockAlign)
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], dataSize)

	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[wavHeaderSize+i*2:wavHeaderSize+i*2+2], uint16(s))
	}

	return buf, nil
}

// DecodeWAV is the inverse of EncodeWAV: it parses a RIFF/WAVE byte stream
// and returns the PCM samples, sample rate, and channel count. It fails
// with ErrFormat for anything other than an uncompressed 16-bit PCM WAV.
func DecodeWAV(data []byte) (samples []int16, sampleRate uint32, channels uint16, err error) {
	if len(data) < wavHeaderSize {
		return nil, 0, 0, fmt.Errorf("%w: too short", ErrFormat)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, fmt.Errorf("%w: missing RIFF/WAVE header", ErrFormat)
	}
	if string(data[12:16]) != "fmt " {
		return nil, 0, 0, fmt.Errorf("%w: missing fmt chunk", ErrFormat)
	}

	audioFormat := binary.LittleEndian.Uint16(data[20:22])
	if audioFormat != 1 {
		return nil, 0, 0, fmt.Errorf("%w: audio format %d is not PCM", ErrFormat, audioFormat)
	}

	channels = binary.LittleEndian.Uint16(data[22:24])
	sampleRate = binary.LittleEndian.Uint32(data[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(data[34:36])
	if bitsPerSample != 16 {
		return nil, 0, 0, fmt.Errorf("%w: %d-bit samples not supported", ErrFormat, bitsPerSample)
	}

	if string(data[36:40]) != "data" {
		return nil, 0, 0, fmt.Errorf("%w: missing data chunk", ErrFormat)
	}
	dataSize := binary.LittleEndian.Uint32(data[40:44])
	if int(dataSize) > len(data)-wavHeaderSize {
		dataSize = uint32(len(data) - wavHeaderSize)
	}

	n := int(dataSize) / 2
	samples = make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(data[wavHeaderSize+i*2 : wavHeaderSize+i*2+2]))
	}

	return samples, sampleRate, channels, nil
}
