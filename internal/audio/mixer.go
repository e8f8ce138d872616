// Package audio implements the Audio Mixer (C3) and WAV Encoder (C4).
package audio

import (
	"sort"

	"github.com/voxdial/callengine/internal/codec"
	"github.com/voxdial/callengine/internal/rtp"
)

// MixMode selects mono (averaged) or stereo (channel-separated) output.
type MixMode int

const (
	Mono MixMode = iota
	Stereo
)

// Channels returns the WAV channel count for the mode.
func (m MixMode) Channels() uint16 {
	if m == Stereo {
		return 2
	}
	return 1
}

// Mixer combines decoded captured RTP frames from both call legs into a
// single PCM stream suitable for recording. It holds no state between
// calls to Mix — identical inputs always yield identical output.
type Mixer struct {
	mode       MixMode
	sampleRate uint32
}

// NewMixer creates a mixer. sampleRate defaults to 8000 (G.711) when zero.
func NewMixer(mode MixMode, sampleRate uint32) Mixer {
	if sampleRate == 0 {
		sampleRate = 8000
	}
	return Mixer{mode: mode, sampleRate: sampleRate}
}

func (m Mixer) Channels() uint16    { return m.mode.Channels() }
func (m Mixer) SampleRate() uint32  { return m.sampleRate }
func (m Mixer) BitsPerSample() uint16 { return 16 }

type decodedFrame struct {
	samples   []int16
	timestamp uint32
	direction rtp.Direction
}

type pair struct {
	outgoing []int16
	incoming []int16
}

// Mix takes each captured packet's decoded Samples (PCMU-decoding the raw
// payload when Samples is nil, see codecForPayload), groups frames
// by RTP timestamp in a timestamp-ordered map, then emits mono or stereo
// PCM per pair in ascending timestamp order. Missing samples in the shorter
// of the two channels are padded with zero. Empty input yields empty
// output (deterministic, P4/P5).
func (m Mixer) Mix(packets []rtp.CapturedPacket) []int16 {
	if len(packets) == 0 {
		return nil
	}

	decoded := make([]decodedFrame, 0, len(packets))
	for _, p := range packets {
		samples := p.Samples
		if samples == nil {
			c, ok := codecForPayload(p)
			if !ok {
				continue
			}
			samples = c.Decode(p.Payload)
		}
		if len(samples) == 0 {
			continue
		}
		decoded = append(decoded, decodedFrame{samples: samples, timestamp: p.Timestamp, direction: p.Direction})
	}
	if len(decoded) == 0 {
		return nil
	}

	grouped := groupByTimestamp(decoded)

	switch m.mode {
	case Stereo:
		return mixStereo(grouped)
	default:
		return mixMono(grouped)
	}
}

// codecForPayload is a defensive fallback for captured packets that carry
// raw payload bytes without pre-decoded samples (e.g. captured directly
// from the wire rather than through the Session's tee). Payload type isn't
// tracked on CapturedPacket today, so this assumes PCMU; callers that need
// PCMA should populate Samples directly, which the Session's tee always
// does.
func codecForPayload(rtp.CapturedPacket) (codec.Codec, bool) {
	return codec.PCMU(), true
}

func groupByTimestamp(frames []decodedFrame) []pair {
	byTS := make(map[uint32]*pair)
	for _, f := range frames {
		p, ok := byTS[f.timestamp]
		if !ok {
			p = &pair{}
			byTS[f.timestamp] = p
		}
		switch f.direction {
		case rtp.Outgoing:
			p.outgoing = append(p.outgoing, f.samples...)
		case rtp.Incoming:
			p.incoming = append(p.incoming, f.samples...)
		}
	}

	timestamps := make([]uint32, 0, len(byTS))
	for ts := range byTS {
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })

	out := make([]pair, len(timestamps))
	for i, ts := range timestamps {
		out[i] = *byTS[ts]
	}
	return out
}

func mixMono(pairs []pair) []int16 {
	var out []int16
	for _, p := range pairs {
		n := len(p.outgoing)
		if len(p.incoming) > n {
			n = len(p.incoming)
		}
		for i := 0; i < n; i++ {
			var a, b int32
			if i < len(p.outgoing) {
				a = int32(p.outgoing[i])
			}
			if i < len(p.incoming) {
				b = int32(p.incoming[i])
			}
			mixed := (a + b) / 2
			if mixed > 32767 {
				mixed = 32767
			} else if mixed < -32768 {
				mixed = -32768
			}
			out = append(out, int16(mixed))
		}
	}
	return out
}

func mixStereo(pairs []pair) []int16 {
	var out []int16
	for _, p := range pairs {
		n := len(p.outgoing)
		if len(p.incoming) > n {
			n = len(p.incoming)
		}
		for i := 0; i < n; i++ {
			var a, b int16
			if i < len(p.outgoing) {
				a = p.outgoing[i]
			}
			if i < len(p.incoming) {
				b = p.incoming[i]
			}
			out = append(out, a, b)
		}
	}
	return out
}
