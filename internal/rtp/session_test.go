package rtp

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	pionrtp "github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxdial/callengine/internal/codec"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestHeaderRoundTrip covers P3: parse(serialize(h)) == h for CC=0, and the
// serialized form is exactly 12 bytes.
func TestHeaderRoundTrip(t *testing.T) {
	h := pionrtp.Header{
		Version:        2,
		PayloadType:    0,
		SequenceNumber: 4242,
		Timestamp:      160000,
		SSRC:           0xdeadbeef,
	}

	raw, err := h.Marshal()
	require.NoError(t, err)
	assert.Len(t, raw, 12)

	var parsed pionrtp.Header
	_, err = parsed.Unmarshal(raw)
	require.NoError(t, err)

	assert.Equal(t, h.Version, parsed.Version)
	assert.Equal(t, h.PayloadType, parsed.PayloadType)
	assert.Equal(t, h.SequenceNumber, parsed.SequenceNumber)
	assert.Equal(t, h.Timestamp, parsed.Timestamp)
	assert.Equal(t, h.SSRC, parsed.SSRC)
}

// TestPortAllocatorEvenAndInRange covers P6: all allocated ports are even
// and within [start, end].
func TestPortAllocatorEvenAndInRange(t *testing.T) {
	alloc := NewAllocator(30000, 30040)

	var conns []*net.UDPConn
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	for i := 0; i < 10; i++ {
		conn, err := alloc.Bind()
		require.NoError(t, err)
		conns = append(conns, conn)

		port := conn.LocalAddr().(*net.UDPAddr).Port
		assert.Equal(t, 0, port%2, "port %d must be even", port)
		assert.GreaterOrEqual(t, port, 30000)
		assert.LessOrEqual(t, port, 30040)
	}
}

// TestPortAllocatorSweepsOnConflict covers P12: when the suggested port is
// occupied, allocation still succeeds on a nearby port.
func TestPortAllocatorSweepsOnConflict(t *testing.T) {
	blocker, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: 30100})
	require.NoError(t, err)
	defer blocker.Close()

	alloc := NewAllocator(30100, 30120)
	conn, err := alloc.Bind()
	require.NoError(t, err)
	defer conn.Close()

	port := conn.LocalAddr().(*net.UDPAddr).Port
	assert.NotEqual(t, 30100, port)
	assert.Equal(t, 0, port%2)
}

func TestSessionSendRequiresRemote(t *testing.T) {
	alloc := NewAllocator(30200, 30220)
	sess, err := New(alloc, codec.PCMU(), testLogger())
	require.NoError(t, err)
	defer sess.conn.Close()

	err = sess.SendAudio(SilenceFrame())
	assert.ErrorIs(t, err, ErrNoRemote)
}

func TestSessionSendReceive(t *testing.T) {
	allocA := NewAllocator(30300, 30320)
	allocB := NewAllocator(30400, 30420)

	a, err := New(allocA, codec.PCMU(), testLogger())
	require.NoError(t, err)
	defer a.Stop()

	b, err := New(allocB, codec.PCMU(), testLogger())
	require.NoError(t, err)
	defer b.Stop()

	a.SetRemote(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: b.LocalPort()})
	b.Start(t.Context())

	samples := []int16{100, 200, 300}
	require.NoError(t, a.SendAudio(samples))

	frame := <-b.Frames()
	assert.Equal(t, len(samples), len(frame.Samples))
}

func TestSessionDetectsTelephoneEvent(t *testing.T) {
	allocA := NewAllocator(30500, 30520)
	allocB := NewAllocator(30600, 30620)

	a, err := New(allocA, codec.PCMU(), testLogger())
	require.NoError(t, err)
	defer a.Stop()

	b, err := New(allocB, codec.PCMU(), testLogger())
	require.NoError(t, err)
	defer b.Stop()

	digits := make(chan rune, 4)
	b.SetDTMFHandler(func(d rune) { digits <- d })
	b.Start(t.Context())

	remote := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: b.LocalPort()}

	// event=5, End bit set, volume=10, duration=800
	payload := []byte{5, 0x80 | 10, 0x03, 0x20}
	pkt := pionrtp.Packet{
		Header: pionrtp.Header{
			Version: 2, PayloadType: PayloadTypeTelephoneEvent,
			SequenceNumber: 1, Timestamp: 1600, SSRC: 42,
		},
		Payload: payload,
	}
	raw, err := pkt.Marshal()
	require.NoError(t, err)

	conn, err := net.DialUDP("udp", nil, remote)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(raw)
	require.NoError(t, err)

	// retransmitted End packet for the same event/timestamp must be suppressed.
	_, err = conn.Write(raw)
	require.NoError(t, err)

	select {
	case d := <-digits:
		assert.Equal(t, '5', d)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dtmf digit")
	}

	select {
	case d := <-digits:
		t.Fatalf("unexpected duplicate digit %q", d)
	case <-time.After(100 * time.Millisecond):
	}
}
