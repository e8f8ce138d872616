package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/voxdial/callengine/internal/rtp"
)

func pkt(direction rtp.Direction, ts uint32, samples []int16) rtp.CapturedPacket {
	return rtp.CapturedPacket{
		Direction:  direction,
		Timestamp:  ts,
		Samples:    samples,
		CapturedAt: time.Now(),
	}
}

func TestMixerMonoBasic(t *testing.T) {
	m := NewMixer(Mono, 0)
	mixed := m.Mix([]rtp.CapturedPacket{
		pkt(rtp.Outgoing, 1000, []int16{100, 200, 300}),
		pkt(rtp.Incoming, 1000, []int16{50, 100, 150}),
	})
	assert.Equal(t, []int16{75, 150, 225}, mixed)
}

func TestMixerStereoBasic(t *testing.T) {
	m := NewMixer(Stereo, 0)
	mixed := m.Mix([]rtp.CapturedPacket{
		pkt(rtp.Outgoing, 1000, []int16{100, 200}),
		pkt(rtp.Incoming, 1000, []int16{50, 100}),
	})
	assert.Equal(t, []int16{100, 50, 200, 100}, mixed)
}

func TestMixerUnevenLengthsPadWithZero(t *testing.T) {
	m := NewMixer(Mono, 0)
	mixed := m.Mix([]rtp.CapturedPacket{
		pkt(rtp.Outgoing, 1000, []int16{100, 200, 300, 400}),
		pkt(rtp.Incoming, 1000, []int16{50, 100}),
	})
	assert.Equal(t, []int16{75, 150, 150, 200}, mixed)
}

func TestMixerMultipleTimestampsSorted(t *testing.T) {
	m := NewMixer(Mono, 0)
	mixed := m.Mix([]rtp.CapturedPacket{
		pkt(rtp.Outgoing, 3000, []int16{300}),
		pkt(rtp.Outgoing, 1000, []int16{100}),
		pkt(rtp.Outgoing, 2000, []int16{200}),
	})
	assert.Equal(t, []int16{50, 100, 150}, mixed)
}

func TestMixerEmptyInput(t *testing.T) {
	m := NewMixer(Mono, 0)
	assert.Empty(t, m.Mix(nil))
}

func TestMixerClippingPrevention(t *testing.T) {
	m := NewMixer(Mono, 0)
	mixed := m.Mix([]rtp.CapturedPacket{
		pkt(rtp.Outgoing, 1000, []int16{32000, 32000}),
		pkt(rtp.Incoming, 1000, []int16{32000, 32000}),
	})
	for _, s := range mixed {
		assert.GreaterOrEqual(t, s, int16(-32768))
		assert.LessOrEqual(t, s, int16(32767))
	}
}

func TestMixerChannels(t *testing.T) {
	assert.Equal(t, uint16(1), NewMixer(Mono, 0).Channels())
	assert.Equal(t, uint16(2), NewMixer(Stereo, 0).Channels())
}

func TestMixerSampleRateDefault(t *testing.T) {
	assert.Equal(t, uint32(8000), NewMixer(Mono, 0).SampleRate())
	assert.Equal(t, uint32(16000), NewMixer(Mono, 16000).SampleRate())
}
