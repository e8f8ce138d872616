package rtp

import "testing"

func TestDtmfEventDigit(t *testing.T) {
	cases := map[uint8]rune{0: '0', 9: '9', 10: '*', 11: '#', 12: 'A', 15: 'D'}
	for event, want := range cases {
		got, ok := dtmfEventDigit(event)
		if !ok || got != want {
			t.Errorf("event %d: got %q, %v; want %q", event, got, ok, want)
		}
	}
	if _, ok := dtmfEventDigit(16); ok {
		t.Error("event 16 should be invalid")
	}
}

func TestDtmfDetectorSuppressesRetransmittedEnd(t *testing.T) {
	var d dtmfDetector
	payload := []byte{7, 0x80, 0, 0}

	digit, ok := d.feed(payload, 1000)
	if !ok || digit != '7' {
		t.Fatalf("first end packet: got %q, %v", digit, ok)
	}

	if _, ok := d.feed(payload, 1000); ok {
		t.Fatal("retransmitted end packet should be suppressed")
	}

	if _, ok := d.feed([]byte{7, 0, 0, 0}, 1000); ok {
		t.Fatal("non-end packet should not emit a digit")
	}

	digit, ok = d.feed([]byte{9, 0x80, 0, 0}, 2000)
	if !ok || digit != '9' {
		t.Fatalf("new event: got %q, %v", digit, ok)
	}
}
