package sip

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/voxdial/callengine/internal/codec"
)

// OfferParams describes the local endpoint an SDP offer/answer advertises.
type OfferParams struct {
	LocalIP   string
	RTPPort   int
	Codec     codec.Codec
	SessionID uint64
	// Recvonly/Sendonly express hold semantics on a re-INVITE; the zero
	// value is sendrecv, the default for a freshly dialed or answered call.
	SendOnly bool
	RecvOnly bool
}

// BuildOffer renders a single-audio-m-line SDP offer naming only the
// session's negotiated codec, per the "no codec negotiation beyond what the
// configured codec supports" rule: one m-line, one rtpmap, ptime 20.
func BuildOffer(p OfferParams) ([]byte, error) {
	return buildSessionDescription(p)
}

// BuildAnswer renders the SDP answer to an inbound offer. It currently
// mirrors BuildOffer: the engine has exactly one configured codec and does
// not negotiate alternatives, so the answer always names that codec
// regardless of what else the offer listed.
func BuildAnswer(p OfferParams) ([]byte, error) {
	return buildSessionDescription(p)
}

func buildSessionDescription(p OfferParams) ([]byte, error) {
	direction := "sendrecv"
	switch {
	case p.SendOnly:
		direction = "sendonly"
	case p.RecvOnly:
		direction = "recvonly"
	}

	payloadType := strconv.Itoa(int(p.Codec.PayloadType()))
	rtpmap := fmt.Sprintf("%s %s/8000", payloadType, p.Codec.Name())

	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      p.SessionID,
			SessionVersion: p.SessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: p.LocalIP,
		},
		SessionName: "-",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: p.LocalIP},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: p.RTPPort},
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{payloadType},
				},
				Attributes: []sdp.Attribute{
					{Key: "rtpmap", Value: rtpmap},
					{Key: "ptime", Value: "20"},
					{Key: direction},
				},
			},
		},
	}

	return desc.Marshal()
}

// RemoteMedia is what the engine needs out of a peer's SDP offer or answer:
// where to send RTP and which codec to use for it.
type RemoteMedia struct {
	IP          string
	Port        int
	PayloadType uint8
	Codec       codec.Codec
	SendOnly    bool
	RecvOnly    bool
}

// ParseRemoteMedia extracts the single audio m-line's connection address,
// port, and codec from a peer's SDP body. It rejects bodies with no audio
// media or whose only payload type is not PCMU/PCMA, since the engine
// negotiates nothing else.
func ParseRemoteMedia(body []byte) (RemoteMedia, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return RemoteMedia{}, fmt.Errorf("sip: parsing sdp: %w", err)
	}

	var audio *sdp.MediaDescription
	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media == "audio" {
			audio = m
			break
		}
	}
	if audio == nil {
		return RemoteMedia{}, fmt.Errorf("sip: sdp has no audio media description")
	}

	ip := ""
	if audio.ConnectionInformation != nil && audio.ConnectionInformation.Address != nil {
		ip = audio.ConnectionInformation.Address.Address
	} else if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		ip = desc.ConnectionInformation.Address.Address
	}
	if ip == "" {
		return RemoteMedia{}, fmt.Errorf("sip: sdp has no connection address")
	}
	if net.ParseIP(ip) == nil {
		return RemoteMedia{}, fmt.Errorf("sip: sdp connection address %q is not a valid IP", ip)
	}

	var chosenPT uint8
	var c codec.Codec
	found := false
	for _, fmtStr := range audio.MediaName.Formats {
		pt, err := strconv.Atoi(fmtStr)
		if err != nil {
			continue
		}
		if cc, ok := codec.ForPayloadType(uint8(pt)); ok {
			chosenPT = uint8(pt)
			c = cc
			found = true
			break
		}
	}
	if !found {
		return RemoteMedia{}, fmt.Errorf("sip: sdp offers no supported codec (pcmu/pcma) among %v", audio.MediaName.Formats)
	}

	rm := RemoteMedia{
		IP:          ip,
		Port:        audio.MediaName.Port.Value,
		PayloadType: chosenPT,
		Codec:       c,
	}

	for _, attr := range audio.Attributes {
		switch strings.ToLower(attr.Key) {
		case "sendonly":
			rm.SendOnly = true
		case "recvonly":
			rm.RecvOnly = true
		}
	}

	return rm, nil
}
