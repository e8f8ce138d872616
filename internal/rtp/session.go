// Package rtp implements the per-call RTP media session: packet framing,
// sequence/timestamp bookkeeping, and the send/receive loops described by
// the RTP Session component (C2).
package rtp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	pionrtp "github.com/pion/rtp"

	"github.com/voxdial/callengine/internal/codec"
)

// ErrNoRemote is returned by SendAudio when the remote endpoint has not
// been set via SetRemote yet.
var ErrNoRemote = errors.New("rtp: remote address not set")

// Direction tags which leg of a session a captured packet travelled on.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

func (d Direction) String() string {
	if d == Outgoing {
		return "outgoing"
	}
	return "incoming"
}

// CapturedPacket is an ephemeral record of one RTP packet seen on the send
// or receive path, tagged with its direction and wall-clock capture time.
// The Recording Pipeline (C8) subscribes to a stream of these.
type CapturedPacket struct {
	Direction Direction
	Sequence  uint16
	Timestamp uint32
	Payload   []byte
	Samples   []int16
	CapturedAt time.Time
}

// DecodedFrame is delivered to session consumers on each received datagram.
type DecodedFrame struct {
	Samples   []int16
	Timestamp uint32
	Sequence  uint16
}

const frameChannelCapacity = 100

// Session is one bidirectional UDP RTP flow for a single call. It owns the
// local socket for the lifetime of the call; sequence numbers and
// timestamps are monotone modulo wraparound (u16/u32) for the life of the
// session.
type Session struct {
	conn   *net.UDPConn
	codec  codec.Codec
	ssrc   uint32
	logger *slog.Logger

	remoteMu sync.RWMutex
	remote   *net.UDPAddr

	sequence  atomic.Uint32 // stored as uint32, truncated to uint16 on use
	timestamp atomic.Uint32

	frames chan DecodedFrame

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	teeMu sync.RWMutex
	tee   func(CapturedPacket)

	dtmfMu      sync.RWMutex
	dtmfHandler func(rune)
	dtmf        dtmfDetector
}

// New creates a session bound to a local even port via the allocator and
// prepares it for use. The caller must still call Start after SetRemote is
// known, per the C2 lifecycle (created before INVITE, started after the
// SDP answer names a remote endpoint — though Start may also be called
// immediately for inbound calls once the offer is accepted).
func New(alloc *Allocator, c codec.Codec, logger *slog.Logger) (*Session, error) {
	conn, err := alloc.Bind()
	if err != nil {
		return nil, fmt.Errorf("rtp: bind failure: %w", err)
	}

	s := &Session{
		conn:   conn,
		codec:  c,
		ssrc:   rand.Uint32(),
		logger: logger.With("subsystem", "rtp", "local_port", conn.LocalAddr().(*net.UDPAddr).Port),
		frames: make(chan DecodedFrame, frameChannelCapacity),
		done:   make(chan struct{}),
	}
	s.sequence.Store(uint32(uint16(rand.Uint32())))
	s.timestamp.Store(rand.Uint32())
	return s, nil
}

// LocalPort returns the bound local UDP port.
func (s *Session) LocalPort() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

// SSRC returns the session's constant synchronisation source identifier.
func (s *Session) SSRC() uint32 { return s.ssrc }

// SetRemote records the far-end RTP endpoint, parsed from the SDP answer.
func (s *Session) SetRemote(addr *net.UDPAddr) {
	s.remoteMu.Lock()
	s.remote = addr
	s.remoteMu.Unlock()
}

// SetTee installs a non-blocking observer invoked for every packet sent or
// received. The observer must not block; the Recording Pipeline is
// responsible for its own buffering and drop policy (§4.8) — the transport
// loop itself never waits on it.
func (s *Session) SetTee(fn func(CapturedPacket)) {
	s.teeMu.Lock()
	s.tee = fn
	s.teeMu.Unlock()
}

func (s *Session) emitTee(p CapturedPacket) {
	s.teeMu.RLock()
	fn := s.tee
	s.teeMu.RUnlock()
	if fn != nil {
		fn(p)
	}
}

// SetDTMFHandler installs the callback invoked with each digit detected
// from inbound RFC 4733 telephone-event packets. The handler is called
// synchronously from the receive loop and must not block.
func (s *Session) SetDTMFHandler(fn func(rune)) {
	s.dtmfMu.Lock()
	s.dtmfHandler = fn
	s.dtmfMu.Unlock()
}

func (s *Session) emitDTMF(digit rune) {
	s.dtmfMu.RLock()
	fn := s.dtmfHandler
	s.dtmfMu.RUnlock()
	if fn != nil {
		fn(digit)
	}
}

// Frames returns the channel of decoded incoming audio frames. Capacity is
// bounded; on a full channel the receive loop drops the newest frame
// rather than blocking the socket read.
func (s *Session) Frames() <-chan DecodedFrame { return s.frames }

// Start launches the receive loop. It is idempotent; a second call is a
// no-op while already running.
func (s *Session) Start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	go s.receiveLoop(ctx)
}

// Stop ends the receive loop and closes the socket. The receive loop exits
// at its next read (closing the socket unblocks it) or the next select on
// ctx.Done.
func (s *Session) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.conn.Close()
	<-s.done
}

func (s *Session) receiveLoop(ctx context.Context) {
	defer close(s.done)
	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("rtp receive error", "error", err)
			return
		}
		if n < 12 {
			continue
		}

		var pkt pionrtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			s.logger.Debug("dropping malformed rtp packet", "error", err)
			continue
		}
		if pkt.Version != 2 {
			continue
		}

		if pkt.PayloadType == PayloadTypeTelephoneEvent {
			if digit, ok := s.dtmf.feed(pkt.Payload, pkt.Timestamp); ok {
				s.emitDTMF(digit)
			}
			continue
		}

		c, ok := codec.ForPayloadType(pkt.PayloadType)
		if !ok {
			c = s.codec
		}
		samples := c.Decode(pkt.Payload)

		now := time.Now()
		s.emitTee(CapturedPacket{
			Direction:  Incoming,
			Sequence:   pkt.SequenceNumber,
			Timestamp:  pkt.Timestamp,
			Payload:    append([]byte(nil), pkt.Payload...),
			Samples:    samples,
			CapturedAt: now,
		})

		frame := DecodedFrame{Samples: samples, Timestamp: pkt.Timestamp, Sequence: pkt.SequenceNumber}
		select {
		case s.frames <- frame:
		default:
			// Drop-on-full is acceptable per §4.2; ordering is the
			// Mixer's responsibility, not the transport's.
		}
	}
}

// SendAudio encodes samples with the session's codec and writes one RTP
// datagram to the remote endpoint, advancing sequence (wrapping u16) and
// timestamp (wrapping u32 by the sample count) on the send side.
func (s *Session) SendAudio(samples []int16) error {
	s.remoteMu.RLock()
	remote := s.remote
	s.remoteMu.RUnlock()
	if remote == nil {
		return ErrNoRemote
	}

	payload := s.codec.Encode(samples)
	seq := uint16(s.sequence.Add(1) - 1)
	ts := s.timestamp.Add(uint32(len(samples))) - uint32(len(samples))

	pkt := pionrtp.Packet{
		Header: pionrtp.Header{
			Version:        2,
			PayloadType:    s.codec.PayloadType(),
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}

	out, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("rtp: marshal packet: %w", err)
	}
	if _, err := s.conn.WriteToUDP(out, remote); err != nil {
		return fmt.Errorf("rtp: send: %w", err)
	}

	s.emitTee(CapturedPacket{
		Direction:  Outgoing,
		Sequence:   seq,
		Timestamp:  ts,
		Payload:    payload,
		Samples:    samples,
		CapturedAt: time.Now(),
	})
	return nil
}

// SilenceFrame returns 160 zero samples — 20ms at 8kHz, the comfort-noise
// filler used while a call is active but the local side has nothing to say.
func SilenceFrame() []int16 {
	return make([]int16, 160)
}
