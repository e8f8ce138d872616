package sip

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/voxdial/callengine/internal/rtp"
)

// CallDirection records which side initiated a call.
type CallDirection int

const (
	Outbound CallDirection = iota
	Inbound
)

func (d CallDirection) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// CallState is a node in the call state machine described by the
// transition diagram: Trying/Ringing lead to Active on answer, Active and
// Held are reachable from each other via re-INVITE, and Ended/Failed are
// terminal sinks.
type CallState int

const (
	Trying CallState = iota
	Ringing
	Active
	Held
	Terminating
	Ended
	Failed
)

func (s CallState) String() string {
	switch s {
	case Trying:
		return "trying"
	case Ringing:
		return "ringing"
	case Active:
		return "active"
	case Held:
		return "held"
	case Terminating:
		return "terminating"
	case Ended:
		return "ended"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrInvalidState is returned by call operations that require the call to
// be in a particular state (e.g. send_audio outside Active/Held).
var ErrInvalidState = fmt.Errorf("sip: invalid call state for operation")

// CallEventKind discriminates the variants carried by CallEvent.
type CallEventKind int

const (
	EventStateChanged CallEventKind = iota
	EventDTMFReceived
	EventError
)

// CallEvent is delivered to subscribers of Call.Events().
type CallEvent struct {
	Kind  CallEventKind
	State CallState
	Digit rune
	Err   error
}

const callEventBuffer = 32

// Call is an active SIP call: its signaling identity, direction, current
// state, and (once answered) the RTP session carrying its audio.
type Call struct {
	CallID    string
	SIPCallID string
	Direction CallDirection
	Remote    string
	Local     string
	StartedAt time.Time

	mu          sync.RWMutex
	state       CallState
	connectedAt time.Time
	endedAt     time.Time
	session     *rtp.Session

	events chan CallEvent
}

// NewOutboundCall constructs a call in the Trying state, as in
// "Outbound: Trying -> Ringing -> Active".
func NewOutboundCall(callID, sipCallID, local, remote string) *Call {
	return newCall(callID, sipCallID, Outbound, local, remote, Trying)
}

// NewInboundCall constructs a call in the Ringing state, as in
// "Inbound: Ringing (on INVITE) -> answer() -> Active".
func NewInboundCall(callID, sipCallID, local, remote string) *Call {
	return newCall(callID, sipCallID, Inbound, local, remote, Ringing)
}

func newCall(callID, sipCallID string, dir CallDirection, local, remote string, initial CallState) *Call {
	return &Call{
		CallID:    callID,
		SIPCallID: sipCallID,
		Direction: dir,
		Local:     local,
		Remote:    remote,
		StartedAt: time.Now(),
		state:     initial,
		events:    make(chan CallEvent, callEventBuffer),
	}
}

// Events returns the channel on which state changes, received DTMF, and
// errors are published. It is never closed by Call; callers drain it for
// the call's lifetime.
func (c *Call) Events() <-chan CallEvent {
	return c.events
}

func (c *Call) emit(ev CallEvent) {
	select {
	case c.events <- ev:
	default:
	}
}

// State returns the call's current state.
func (c *Call) State() CallState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetState transitions the call to state, recording connected_at on first
// entry to Active and ended_at on first entry to a terminal state, then
// publishing an EventStateChanged.
func (c *Call) SetState(state CallState) {
	c.mu.Lock()
	current := c.state
	if current == Ended || current == Failed {
		c.mu.Unlock()
		return
	}

	if state == Active && current != Active {
		c.connectedAt = time.Now()
	}
	if (state == Ended || state == Failed) && current != Ended && current != Failed {
		c.endedAt = time.Now()
	}
	c.state = state
	c.mu.Unlock()

	c.emit(CallEvent{Kind: EventStateChanged, State: state})
}

// IsActive reports whether the call can currently carry audio.
func (c *Call) IsActive() bool {
	s := c.State()
	return s == Active || s == Held
}

// SetSession attaches the RTP session used to carry this call's audio,
// once the INVITE dialog has negotiated ports and codec.
func (c *Call) SetSession(session *rtp.Session) {
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	session.SetDTMFHandler(c.OnDTMFReceived)
}

// Session returns the call's RTP session, or nil before one is attached.
func (c *Call) Session() *rtp.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// Duration returns time since connect (or zero if never connected), using
// ended_at as the end point once the call has ended and now otherwise.
func (c *Call) Duration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.connectedAt.IsZero() {
		return 0
	}
	end := time.Now()
	if !c.endedAt.IsZero() {
		end = c.endedAt
	}
	d := end.Sub(c.connectedAt)
	if d < 0 {
		return 0
	}
	return d
}

// ConnectedAt returns the time the call first became Active, or the zero
// Time if it never connected.
func (c *Call) ConnectedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectedAt
}

// EndedAt returns the time the call entered a terminal state, or the zero
// Time if it hasn't ended.
func (c *Call) EndedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endedAt
}

// SendAudio writes samples to the call's RTP session. Only permitted while
// Active or Held.
func (c *Call) SendAudio(samples []int16) error {
	if !c.IsActive() {
		return ErrInvalidState
	}
	session := c.Session()
	if session == nil {
		return ErrInvalidState
	}
	return session.SendAudio(samples)
}

// SendDTMF generates a 20ms dual-tone sinewave for digit and injects it as
// audio. Out-of-band DTMF (RFC 2833) senders should call the RTP session
// directly instead; this is the in-band fallback the spec permits.
func (c *Call) SendDTMF(digit rune) error {
	samples, ok := dtmfTone(digit)
	if !ok {
		return fmt.Errorf("sip: unsupported dtmf digit %q", digit)
	}
	return c.SendAudio(samples)
}

// OnDTMFReceived surfaces an in-band or out-of-band DTMF digit detected by
// the transport layer as an EventDTMFReceived.
func (c *Call) OnDTMFReceived(digit rune) {
	c.emit(CallEvent{Kind: EventDTMFReceived, Digit: digit})
}

const (
	dtmfSampleRate   = 8000.0
	dtmfFrameSamples = 160 // 20ms at 8kHz
	dtmfAmplitude    = 8000.0
)

var dtmfFrequencies = map[rune][2]float64{
	'1': {697, 1209}, '2': {697, 1336}, '3': {697, 1477}, 'A': {697, 1633},
	'4': {770, 1209}, '5': {770, 1336}, '6': {770, 1477}, 'B': {770, 1633},
	'7': {852, 1209}, '8': {852, 1336}, '9': {852, 1477}, 'C': {852, 1633},
	'*': {941, 1209}, '0': {941, 1336}, '#': {941, 1477}, 'D': {941, 1633},
}

// dtmfTone renders a single 20ms frame of the dual-tone sinewave for digit.
func dtmfTone(digit rune) ([]int16, bool) {
	freqs, ok := dtmfFrequencies[digit]
	if !ok {
		return nil, false
	}
	low, high := freqs[0], freqs[1]

	samples := make([]int16, dtmfFrameSamples)
	for i := range samples {
		t := float64(i) / dtmfSampleRate
		lo := math.Sin(2 * math.Pi * low * t)
		hi := math.Sin(2 * math.Pi * high * t)
		samples[i] = int16((lo + hi) * dtmfAmplitude / 2)
	}
	return samples, true
}
