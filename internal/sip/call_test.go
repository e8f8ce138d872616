package sip

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOutboundCallStartsTrying(t *testing.T) {
	c := NewOutboundCall("c1", "sip-c1", "1000", "2000")
	assert.Equal(t, Trying, c.State())
	assert.Equal(t, Outbound, c.Direction)
}

func TestInboundCallStartsRinging(t *testing.T) {
	c := NewInboundCall("c2", "sip-c2", "1000", "2000")
	assert.Equal(t, Ringing, c.State())
	assert.Equal(t, Inbound, c.Direction)
}

func TestSetStateRecordsConnectedAt(t *testing.T) {
	c := NewOutboundCall("c1", "sip-c1", "1000", "2000")
	assert.True(t, c.ConnectedAt().IsZero())

	c.SetState(Ringing)
	c.SetState(Active)
	assert.False(t, c.ConnectedAt().IsZero())
	assert.True(t, c.IsActive())
}

func TestSetStateRecordsEndedAtOnce(t *testing.T) {
	c := NewOutboundCall("c1", "sip-c1", "1000", "2000")
	c.SetState(Active)
	c.SetState(Terminating)
	c.SetState(Ended)

	ended := c.EndedAt()
	assert.False(t, ended.IsZero())

	c.SetState(Ended)
	assert.Equal(t, ended, c.EndedAt(), "ended_at must be set only on first terminal transition")
}

func TestSetStateIsSinkAtEnded(t *testing.T) {
	c := NewOutboundCall("c1", "sip-c1", "1000", "2000")
	c.SetState(Active)
	c.SetState(Ended)

	c.SetState(Active)
	assert.Equal(t, Ended, c.State(), "a terminal call must not leave Ended")

	c.SetState(Failed)
	assert.Equal(t, Ended, c.State(), "a terminal call must not transition to another terminal state")
}

func TestSetStateIsSinkAtFailed(t *testing.T) {
	c := NewOutboundCall("c1", "sip-c1", "1000", "2000")
	c.SetState(Failed)

	c.SetState(Ended)
	assert.Equal(t, Failed, c.State(), "a terminal call must not leave Failed")
}

func TestDurationZeroBeforeConnect(t *testing.T) {
	c := NewOutboundCall("c1", "sip-c1", "1000", "2000")
	assert.Equal(t, time.Duration(0), c.Duration())
}

func TestDurationUsesEndedAtAfterEnd(t *testing.T) {
	c := NewOutboundCall("c1", "sip-c1", "1000", "2000")
	c.SetState(Active)
	time.Sleep(5 * time.Millisecond)
	c.SetState(Ended)
	d1 := c.Duration()
	time.Sleep(5 * time.Millisecond)
	d2 := c.Duration()
	assert.Equal(t, d1, d2, "duration must not grow after call ends")
}

func TestSendAudioRequiresActiveOrHeld(t *testing.T) {
	c := NewOutboundCall("c1", "sip-c1", "1000", "2000")
	err := c.SendAudio([]int16{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestSendDTMFRequiresActive(t *testing.T) {
	c := NewOutboundCall("c1", "sip-c1", "1000", "2000")
	err := c.SendDTMF('5')
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestSendDTMFRejectsUnknownDigit(t *testing.T) {
	c := NewOutboundCall("c1", "sip-c1", "1000", "2000")
	c.SetState(Active)
	err := c.SendDTMF('x')
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidState)
}

func TestDTMFToneShape(t *testing.T) {
	samples, ok := dtmfTone('5')
	assert.True(t, ok)
	assert.Len(t, samples, dtmfFrameSamples)

	for _, s := range samples {
		assert.GreaterOrEqual(t, s, int16(-32768))
		assert.LessOrEqual(t, s, int16(32767))
	}

	_, ok = dtmfTone('x')
	assert.False(t, ok)
}

func TestOnDTMFReceivedEmitsEvent(t *testing.T) {
	c := NewOutboundCall("c1", "sip-c1", "1000", "2000")
	c.OnDTMFReceived('7')

	ev := <-c.Events()
	assert.Equal(t, EventDTMFReceived, ev.Kind)
	assert.Equal(t, '7', ev.Digit)
}

func TestSetStateEmitsStateChangedEvent(t *testing.T) {
	c := NewOutboundCall("c1", "sip-c1", "1000", "2000")
	c.SetState(Ringing)

	ev := <-c.Events()
	assert.Equal(t, EventStateChanged, ev.Kind)
	assert.Equal(t, Ringing, ev.State)
}
