package scheduler

import (
	"context"

	"github.com/voxdial/callengine/internal/sip"
)

// Dialer abstracts the SIP signaling needed to place an outbound call. The
// scheduler only needs to know whether the dial attempt was accepted and
// which SIP call-id now represents it; it never touches *sip.Call directly,
// so dispatched intent (campaign/lead/agent bookkeeping) stays decoupled
// from the live RTP/dialog machinery owned by the sip package.
type Dialer interface {
	Dial(ctx context.Context, to string) (callID string, err error)
}

// UserAgentDialer adapts *sip.UserAgent to the Dialer interface.
type UserAgentDialer struct {
	Agent *sip.UserAgent
}

func (d UserAgentDialer) Dial(ctx context.Context, to string) (string, error) {
	call, err := d.Agent.Dial(ctx, to)
	if err != nil {
		return "", err
	}
	return call.CallID, nil
}
