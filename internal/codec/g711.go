// Package codec implements the G.711 telephony codecs (μ-law and A-law).
package codec

// PayloadType identifies the RTP payload type negotiated for a codec.
type PayloadType uint8

const (
	PayloadTypePCMU PayloadType = 0
	PayloadTypePCMA PayloadType = 8
)

// Name returns the SDP rtpmap encoding name for the payload type.
func (pt PayloadType) Name() string {
	switch pt {
	case PayloadTypePCMA:
		return "PCMA"
	default:
		return "PCMU"
	}
}

const (
	ulawBias = 0x84
	ulawClip = 32635
	alawClip = 32767
)

// Codec is a stateless G.711 encoder/decoder for one payload type. Encoding
// and decoding never depend on prior samples; the zero value is not usable,
// use PCMU() or PCMA().
type Codec struct {
	pt PayloadType
}

// PCMU returns a μ-law (North American) codec, payload type 0.
func PCMU() Codec { return Codec{pt: PayloadTypePCMU} }

// PCMA returns an A-law (European) codec, payload type 8.
func PCMA() Codec { return Codec{pt: PayloadTypePCMA} }

// ForPayloadType resolves a codec from its RTP payload type. ok is false for
// anything other than 0 or 8.
func ForPayloadType(pt uint8) (Codec, bool) {
	switch PayloadType(pt) {
	case PayloadTypePCMU:
		return PCMU(), true
	case PayloadTypePCMA:
		return PCMA(), true
	default:
		return Codec{}, false
	}
}

// PayloadType returns the RTP payload type number for this codec.
func (c Codec) PayloadType() uint8 { return uint8(c.pt) }

// Name returns the SDP rtpmap name (PCMU or PCMA).
func (c Codec) Name() string { return c.pt.Name() }

// Encode converts 16-bit linear PCM samples to one G.711 byte per sample.
func (c Codec) Encode(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	switch c.pt {
	case PayloadTypePCMA:
		for i, s := range pcm {
			out[i] = linearToALaw(s)
		}
	default:
		for i, s := range pcm {
			out[i] = linearToULaw(s)
		}
	}
	return out
}

// Decode converts G.711-encoded bytes back to 16-bit linear PCM, one sample
// per byte. Round-trip error is bounded (see package tests) but not
// reversible exactly — G.711 is lossy by design.
func (c Codec) Decode(encoded []byte) []int16 {
	out := make([]int16, len(encoded))
	switch c.pt {
	case PayloadTypePCMA:
		for i, b := range encoded {
			out[i] = aLawToLinear(b)
		}
	default:
		for i, b := range encoded {
			out[i] = uLawToLinear(b)
		}
	}
	return out
}

func segmentExponent(sample int32) int32 {
	switch {
	case sample >= 0x4000:
		return 7
	case sample >= 0x2000:
		return 6
	case sample >= 0x1000:
		return 5
	case sample >= 0x0800:
		return 4
	case sample >= 0x0400:
		return 3
	case sample >= 0x0200:
		return 2
	case sample >= 0x0100:
		return 1
	default:
		return 0
	}
}

func linearToULaw(sample int16) byte {
	sign := byte(0x00)
	if sample < 0 {
		sign = 0x80
	}

	var mag int32
	if sample < 0 {
		mag = -int32(sample)
	} else {
		mag = int32(sample)
	}
	if mag > ulawClip {
		mag = ulawClip
	}
	mag += ulawBias

	exponent := segmentExponent(mag)
	mantissa := byte((mag >> (exponent + 3)) & 0x0F)

	return ^(sign | byte(exponent<<4) | mantissa)
}

func uLawToLinear(ulaw byte) int16 {
	ulaw = ^ulaw

	sign := ulaw & 0x80
	exponent := int32((ulaw >> 4) & 0x07)
	mantissa := int32(ulaw & 0x0F)

	sample := ((mantissa << 3) + ulawBias) << uint(exponent)
	sample -= ulawBias

	if sign != 0 {
		return int16(-sample)
	}
	return int16(sample)
}

func linearToALaw(sample int16) byte {
	sign := byte(0x80)
	if sample < 0 {
		sign = 0x00
	}

	var mag int32
	if sample < 0 {
		mag = -int32(sample)
	} else {
		mag = int32(sample)
	}
	if mag > alawClip {
		mag = alawClip
	}

	var exponent int32
	var mantissa byte
	if mag >= 256 {
		exponent = segmentExponent(mag)
		mag >>= uint(exponent + 3)
		mantissa = byte(mag & 0x0F)
	} else {
		mag >>= 4
		mantissa = byte(mag & 0x0F)
	}

	return (sign | byte(exponent<<4) | mantissa) ^ 0x55
}

func aLawToLinear(alaw byte) int16 {
	alaw ^= 0x55

	sign := alaw & 0x80
	exponent := int32((alaw >> 4) & 0x07)
	mantissa := int32(alaw & 0x0F)

	var sample int32
	if exponent > 0 {
		sample = ((mantissa << 4) + 0x108) << uint(exponent-1)
	} else {
		sample = (mantissa << 4) + 0x08
	}

	if sign == 0 {
		sample = -sample
	}
	return int16(sample)
}
