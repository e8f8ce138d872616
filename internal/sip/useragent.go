package sip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/icholy/digest"

	"github.com/voxdial/callengine/internal/codec"
	"github.com/voxdial/callengine/internal/config"
	"github.com/voxdial/callengine/internal/rtp"
)

// AgentState is the connection lifecycle of the trunk registration, as in
// "Disconnected -> Connecting -> Registering -> Registered", with Failed
// reachable from any non-terminal state.
type AgentState int

const (
	Disconnected AgentState = iota
	Connecting
	Registering
	Registered
	AgentFailed
)

func (s AgentState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Registering:
		return "registering"
	case Registered:
		return "registered"
	case AgentFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

// AgentEventKind discriminates the variants carried by AgentEvent.
type AgentEventKind int

const (
	AgentStateChanged AgentEventKind = iota
	AgentIncomingCall
	AgentCallStateChanged
	AgentError
)

// AgentEvent is delivered to subscribers of UserAgent.Events().
type AgentEvent struct {
	Kind      AgentEventKind
	State     AgentState
	CallID    string
	From      string
	To        string
	CallState CallState
	Err       error
}

const agentEventBuffer = 64

// initial registration gets bounded exponential backoff, then gives up; a
// scheduled refresh failure never retries (spec: "transition Failed and
// emit an Error event; do not auto-retry — let the operator/scheduler
// decide").
const maxInitialRegisterAttempts = 6

const (
	registerTimeout = 10 * time.Second
	inviteTimeout   = 32 * time.Second
)

var (
	// ErrNotRegistered is returned by Dial when the trunk is not currently
	// registered.
	ErrNotRegistered = errors.New("sip: user agent is not registered")
	// ErrCallNotFound is returned by Answer/Hangup for an unknown call id.
	ErrCallNotFound = errors.New("sip: call not found")
	// ErrAuthFailed is returned when the trunk rejects credentials twice.
	ErrAuthFailed = errors.New("sip: authentication failed")
)

type pendingInbound struct {
	tx      sip.ServerTransaction
	req     *sip.Request
	session *rtp.Session
	offer   RemoteMedia
}

// UserAgent is the SIP client half of the engine: it registers with a
// single upstream trunk and dials, answers, and hangs up calls over that
// trunk. It owns the sipgo transport, the RTP port allocator, and the table
// of calls currently in progress.
type UserAgent struct {
	cfg    *config.Config
	logger *slog.Logger

	ua     *sipgo.UserAgent
	srv    *sipgo.Server
	client *sipgo.Client

	rtpAlloc *rtp.Allocator
	codec    codec.Codec

	mu      sync.RWMutex
	state   AgentState
	localIP string

	callsMu  sync.RWMutex
	calls    map[string]*Call
	inbound  map[string]*pendingInbound

	guard *BruteForceGuard

	events chan AgentEvent

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewUserAgent builds a UserAgent bound to the SIP transport described by
// cfg, but does not start listening or registering — call Start then
// Register.
func NewUserAgent(cfg *config.Config, logger *slog.Logger) (*UserAgent, error) {
	logger = logger.With("component", "sip.useragent")

	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent("callengine"),
		sipgo.WithUserAgentHostname(cfg.SIPDomain),
	)
	if err != nil {
		return nil, fmt.Errorf("sip: creating user agent: %w", err)
	}

	srv, err := sipgo.NewServer(ua, sipgo.WithServerLogger(logger))
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("sip: creating server: %w", err)
	}

	client, err := sipgo.NewClient(ua, sipgo.WithClientLogger(logger))
	if err != nil {
		srv.Close()
		ua.Close()
		return nil, fmt.Errorf("sip: creating client: %w", err)
	}

	var c codec.Codec
	if cfg.SIPCodec == "PCMA" {
		c = codec.PCMA()
	} else {
		c = codec.PCMU()
	}

	rootCtx, cancel := context.WithCancel(context.Background())

	a := &UserAgent{
		cfg:        cfg,
		logger:     logger,
		ua:         ua,
		srv:        srv,
		client:     client,
		rtpAlloc:   rtp.NewAllocator(cfg.SIPRTPPortStart, cfg.SIPRTPPortEnd),
		codec:      c,
		state:      Disconnected,
		localIP:    cfg.LocalIP(),
		calls:      make(map[string]*Call),
		inbound:    make(map[string]*pendingInbound),
		guard:      NewBruteForceGuard(logger),
		events:     make(chan AgentEvent, agentEventBuffer),
		rootCtx:    rootCtx,
		rootCancel: cancel,
	}

	a.srv.OnInvite(a.handleInvite)
	a.srv.OnAck(a.handleAck)
	a.srv.OnBye(a.handleBye)
	a.srv.OnCancel(a.handleCancel)
	a.srv.OnOptions(a.handleOptions)

	return a, nil
}

// Start launches the transport listener for cfg.SIPTransport. It returns
// once the listener goroutine has been spawned; listener errors are logged,
// not returned, since they surface asynchronously after Start returns.
func (a *UserAgent) Start(ctx context.Context) error {
	addr := net.JoinHostPort(a.localIP, "5060")
	network := strings.ToLower(a.cfg.SIPTransport)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.srv.ListenAndServe(ctx, network, addr); err != nil && ctx.Err() == nil {
			a.logger.Error("sip transport listener stopped", "network", network, "addr", addr, "error", err)
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(failureWindow)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.guard.Cleanup()
			}
		}
	}()

	return nil
}

// checkInboundSource enforces the single-trunk trust model for inbound
// requests: anything not originating from the configured trunk host counts
// as a failed attempt against the brute-force guard. With no trunk
// configured (development), every source is accepted untracked.
func (a *UserAgent) checkInboundSource(req *sip.Request) bool {
	source := req.Source()
	if a.guard.IsBlocked(source) {
		a.logger.Warn("rejecting sip request from blocked source", "source", source)
		return false
	}
	if a.cfg.SIPTrunkHost == "" {
		return true
	}

	host, _, err := net.SplitHostPort(source)
	if err != nil {
		host = source
	}
	trusted, err := a.trunkIPs()
	if err != nil {
		a.logger.Warn("could not resolve trunk host for inbound trust check, accepting", "error", err)
		return true
	}
	for _, ip := range trusted {
		if ip == host {
			a.guard.RecordSuccess(source)
			return true
		}
	}

	a.logger.Warn("rejecting sip request from untrusted source", "source", source, "trunk_host", a.cfg.SIPTrunkHost)
	a.guard.RecordFailure(source)
	return false
}

func (a *UserAgent) trunkIPs() ([]string, error) {
	addrs, err := net.LookupHost(a.cfg.SIPTrunkHost)
	if err != nil {
		return nil, err
	}
	return addrs, nil
}

// Events returns the channel on which state transitions, incoming calls,
// call state changes, and errors are published.
func (a *UserAgent) Events() <-chan AgentEvent { return a.events }

func (a *UserAgent) emit(ev AgentEvent) {
	select {
	case a.events <- ev:
	default:
	}
}

// State returns the agent's current registration state.
func (a *UserAgent) State() AgentState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *UserAgent) setState(state AgentState) {
	a.mu.Lock()
	a.state = state
	a.mu.Unlock()
	a.emit(AgentEvent{Kind: AgentStateChanged, State: state})
}

// IsRegistered reports whether the agent currently holds a valid
// registration with the trunk.
func (a *UserAgent) IsRegistered() bool {
	return a.State() == Registered
}

// BlockedSources returns the sources currently blocked by the inbound
// brute-force guard, for admin visibility.
func (a *UserAgent) BlockedSources() []BlockedIPEntry {
	return a.guard.BlockedIPs()
}

// Register performs the initial REGISTER handshake against the configured
// trunk, retrying with bounded exponential backoff on failure, then
// launches a background refresh loop that re-registers at 0.75 x the
// granted expiry. Register returns once the initial attempt succeeds or
// the attempt budget is exhausted; refresh failures are reported solely
// through Events(), never by returning an error to a caller that has
// already moved on.
func (a *UserAgent) Register(ctx context.Context) error {
	if !a.cfg.TrunkConfigured() {
		return fmt.Errorf("sip: no trunk configured")
	}

	a.setState(Connecting)
	a.localIP = a.cfg.LocalIP()
	a.setState(Registering)

	bo := newBackoff()

	for attempt := 0; ; attempt++ {
		regCtx, cancel := context.WithTimeout(ctx, registerTimeout)
		expiry, err := a.sendRegister(regCtx, a.cfg.SIPRegisterExp)
		cancel()

		if err == nil {
			a.setState(Registered)
			a.wg.Add(1)
			go a.refreshLoop(expiry)
			return nil
		}

		if ctx.Err() != nil {
			a.setState(AgentFailed)
			return ctx.Err()
		}

		if attempt+1 >= maxInitialRegisterAttempts {
			a.logger.Error("sip registration exhausted retry budget", "attempts", attempt+1, "error", err)
			a.setState(AgentFailed)
			a.emit(AgentEvent{Kind: AgentError, Err: fmt.Errorf("sip: registration failed after %d attempts: %w", attempt+1, err)})
			return err
		}

		delay := bo.next()
		a.logger.Warn("sip registration attempt failed, retrying", "attempt", attempt+1, "retry_in", delay, "error", err)

		select {
		case <-ctx.Done():
			a.setState(AgentFailed)
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// refreshLoop re-registers at 0.75 x the granted expiry for the life of the
// agent. Unlike the initial registration phase, a refresh failure is not
// retried: it transitions the agent to Failed and emits an Error event,
// leaving the decision to re-attempt registration to the operator or
// scheduler.
func (a *UserAgent) refreshLoop(grantedExpiry int) {
	defer a.wg.Done()

	interval := refreshInterval(grantedExpiry)

	for {
		select {
		case <-a.rootCtx.Done():
			return
		case <-time.After(interval):
		}

		regCtx, cancel := context.WithTimeout(a.rootCtx, registerTimeout)
		expiry, err := a.sendRegister(regCtx, a.cfg.SIPRegisterExp)
		cancel()

		if err != nil {
			a.logger.Error("sip registration refresh failed", "error", err)
			a.setState(AgentFailed)
			a.emit(AgentEvent{Kind: AgentError, Err: fmt.Errorf("sip: registration refresh failed: %w", err)})
			return
		}

		interval = refreshInterval(expiry)
	}
}

func refreshInterval(grantedExpiry int) time.Duration {
	return time.Duration(float64(grantedExpiry)*0.75) * time.Second
}

// Unregister sends a best-effort REGISTER with Expires: 0 and transitions
// to Disconnected. The background refresh loop is stopped by cancelling
// rootCtx in Close, not here, so Unregister can be called while the agent
// stays otherwise alive (e.g. operator-initiated deregistration).
func (a *UserAgent) Unregister(ctx context.Context) error {
	unregCtx, cancel := context.WithTimeout(ctx, registerTimeout)
	defer cancel()

	_, err := a.sendRegister(unregCtx, 0)
	a.setState(Disconnected)
	return err
}

// Close hangs up all active calls, stops the refresh loop, and releases
// the SIP transport.
func (a *UserAgent) Close() {
	for _, callID := range a.ActiveCalls() {
		_ = a.Hangup(callID)
	}

	a.rootCancel()
	a.wg.Wait()

	a.srv.Close()
	a.client.Close()
	a.ua.Close()
}

// sendRegister sends a REGISTER request with digest-auth handling and
// returns the server-granted expiry.
func (a *UserAgent) sendRegister(ctx context.Context, expiry int) (int, error) {
	cfg := a.cfg

	recipientStr := fmt.Sprintf("sip:%s:%d", cfg.SIPTrunkHost, cfg.SIPTrunkPort)
	var recipient sip.Uri
	if err := sip.ParseUri(recipientStr, &recipient); err != nil {
		return 0, fmt.Errorf("parsing trunk uri: %w", err)
	}

	req := sip.NewRequest(sip.REGISTER, recipient)
	req.SetTransport(cfg.SIPTransport)

	aor := fmt.Sprintf("<sip:%s@%s>", cfg.SIPUsername, cfg.SIPDomain)
	req.AppendHeader(sip.NewHeader("From", aor))
	req.AppendHeader(sip.NewHeader("To", aor))
	req.AppendHeader(sip.NewHeader("Contact", fmt.Sprintf("<sip:%s@%s>", cfg.SIPUsername, a.ua.Hostname())))
	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(expiry)))

	tx, err := a.client.TransactionRequest(ctx, req, sipgo.ClientRequestRegisterBuild)
	if err != nil {
		return 0, fmt.Errorf("sending register: %w", err)
	}
	res, err := getResponse(ctx, tx)
	tx.Terminate()
	if err != nil {
		return 0, fmt.Errorf("waiting for register response: %w", err)
	}

	if res.StatusCode == 401 || res.StatusCode == 407 {
		res, err = a.authenticateAndResend(ctx, req, res, recipientStr)
		if err != nil {
			return 0, err
		}
	}

	if res.StatusCode != 200 {
		return 0, fmt.Errorf("register failed with status %d %s", res.StatusCode, res.Reason)
	}

	granted := expiry
	if contactHdr := res.GetHeader("Contact"); contactHdr != nil {
		if parsed := parseContactExpires(contactHdr.Value()); parsed > 0 {
			granted = parsed
		}
	} else if expiresHdr := res.GetHeader("Expires"); expiresHdr != nil {
		if parsed := parseExpiresHeader(expiresHdr.Value()); parsed > 0 {
			granted = parsed
		}
	}
	return granted, nil
}

// authenticateAndResend computes a digest response to a 401/407 challenge
// and resends req with the Authorization/Proxy-Authorization header
// attached. Used by both REGISTER and INVITE flows.
func (a *UserAgent) authenticateAndResend(ctx context.Context, req *sip.Request, challengeRes *sip.Response, recipientStr string) (*sip.Response, error) {
	authHeader := "WWW-Authenticate"
	authzHeader := "Authorization"
	if challengeRes.StatusCode == 407 {
		authHeader = "Proxy-Authenticate"
		authzHeader = "Proxy-Authorization"
	}

	wwwAuth := challengeRes.GetHeader(authHeader)
	if wwwAuth == nil {
		return nil, fmt.Errorf("received %d but no %s header", challengeRes.StatusCode, authHeader)
	}

	chal, err := digest.ParseChallenge(wwwAuth.Value())
	if err != nil {
		return nil, fmt.Errorf("parsing auth challenge: %w", err)
	}

	cred, err := digest.Digest(chal, digest.Options{
		Method:   req.Method.String(),
		URI:      recipientStr,
		Username: a.cfg.SIPUsername,
		Password: a.cfg.SIPPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("computing digest: %w", err)
	}

	authReq := req.Clone()
	authReq.RemoveHeader("Via")
	authReq.AppendHeader(sip.NewHeader(authzHeader, cred.String()))

	tx, err := a.client.TransactionRequest(ctx, authReq,
		sipgo.ClientRequestIncreaseCSEQ,
		sipgo.ClientRequestAddVia,
	)
	if err != nil {
		return nil, fmt.Errorf("sending authenticated request: %w", err)
	}
	defer tx.Terminate()

	res, err := getResponse(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("waiting for authenticated response: %w", err)
	}
	if res.StatusCode == 401 || res.StatusCode == 407 {
		return nil, ErrAuthFailed
	}
	return res, nil
}

// ActiveCalls returns the call IDs currently tracked by the agent.
func (a *UserAgent) ActiveCalls() []string {
	a.callsMu.RLock()
	defer a.callsMu.RUnlock()
	ids := make([]string, 0, len(a.calls))
	for id := range a.calls {
		ids = append(ids, id)
	}
	return ids
}

// GetCall looks up a call by id.
func (a *UserAgent) GetCall(callID string) (*Call, bool) {
	a.callsMu.RLock()
	defer a.callsMu.RUnlock()
	c, ok := a.calls[callID]
	return c, ok
}

func (a *UserAgent) storeCall(c *Call) {
	a.callsMu.Lock()
	a.calls[c.CallID] = c
	a.callsMu.Unlock()
}

func (a *UserAgent) removeCall(callID string) {
	a.callsMu.Lock()
	delete(a.calls, callID)
	delete(a.inbound, callID)
	a.callsMu.Unlock()
}

// Dial places an outbound call to "to" over the trunk. It returns
// immediately with the call in the Trying state; state transitions as the
// trunk responds arrive asynchronously and are published both on the
// returned Call's event channel and as AgentCallStateChanged events.
func (a *UserAgent) Dial(ctx context.Context, to string) (*Call, error) {
	if !a.IsRegistered() {
		return nil, ErrNotRegistered
	}

	session, err := rtp.New(a.rtpAlloc, a.codec, a.logger)
	if err != nil {
		return nil, fmt.Errorf("sip: allocating rtp session: %w", err)
	}

	callID := uuid.NewString()
	sdpOffer, err := BuildOffer(OfferParams{
		LocalIP:   a.localIP,
		RTPPort:   session.LocalPort(),
		Codec:     a.codec,
		SessionID: uint64(time.Now().UnixNano()),
	})
	if err != nil {
		session.Stop()
		return nil, fmt.Errorf("sip: building sdp offer: %w", err)
	}

	cfg := a.cfg
	recipientStr := fmt.Sprintf("sip:%s@%s:%d", to, cfg.SIPTrunkHost, cfg.SIPTrunkPort)
	var recipient sip.Uri
	if err := sip.ParseUri(recipientStr, &recipient); err != nil {
		session.Stop()
		return nil, fmt.Errorf("sip: parsing recipient uri: %w", err)
	}

	req := sip.NewRequest(sip.INVITE, recipient)
	req.SetTransport(cfg.SIPTransport)
	req.SetBody(sdpOffer)
	req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	req.AppendHeader(sip.NewHeader("Call-ID", callID))

	from := &sip.FromHeader{
		DisplayName: cfg.SIPCallerID,
		Address: sip.Uri{
			Scheme: "sip",
			User:   cfg.SIPCallerID,
			Host:   a.localIP,
		},
	}
	from.Params.Add("tag", sip.GenerateTagN(16))
	req.AppendHeader(from)

	local := net.JoinHostPort(a.localIP, strconv.Itoa(session.LocalPort()))
	call := NewOutboundCall(callID, callID, local, to)
	call.SetSession(session)
	a.storeCall(call)

	inviteCtx, cancel := context.WithTimeout(a.rootCtx, inviteTimeout)
	tx, err := a.client.TransactionRequest(inviteCtx, req, sipgo.ClientRequestBuild)
	if err != nil {
		cancel()
		session.Stop()
		a.removeCall(callID)
		return nil, fmt.Errorf("sip: sending invite: %w", err)
	}

	a.wg.Add(1)
	go a.watchOutboundInvite(inviteCtx, cancel, call, req, tx, recipientStr)

	return call, nil
}

func (a *UserAgent) watchOutboundInvite(ctx context.Context, cancel context.CancelFunc, call *Call, req *sip.Request, tx sip.ClientTransaction, recipientStr string) {
	defer a.wg.Done()
	defer cancel()

	ringingSent := false
	for {
		select {
		case <-ctx.Done():
			call.SetState(Failed)
			a.relayCallState(call)
			return
		case <-tx.Done():
			if err := tx.Err(); err != nil {
				call.SetState(Failed)
				a.relayCallState(call)
			}
			return
		case res := <-tx.Responses():
			switch {
			case res.StatusCode == 100:
				continue
			case res.StatusCode == 180 || res.StatusCode == 183:
				if !ringingSent {
					ringingSent = true
					call.SetState(Ringing)
					a.relayCallState(call)
				}
				if res.StatusCode == 183 && len(res.Body()) > 0 {
					if rm, err := ParseRemoteMedia(res.Body()); err == nil {
						call.Session().SetRemote(&net.UDPAddr{IP: net.ParseIP(rm.IP), Port: rm.Port})
					}
				}
			case res.StatusCode == 401 || res.StatusCode == 407:
				authRes, err := a.authenticateAndResend(ctx, req, res, recipientStr)
				if err != nil {
					call.SetState(Failed)
					a.relayCallState(call)
					return
				}
				if authRes.StatusCode >= 200 && authRes.StatusCode < 300 {
					a.finishOutboundAccept(call, req, authRes)
					return
				}
				call.SetState(Failed)
				a.relayCallState(call)
				return
			case res.StatusCode >= 200 && res.StatusCode < 300:
				a.finishOutboundAccept(call, req, res)
				return
			case res.StatusCode >= 300:
				call.SetState(Failed)
				a.relayCallState(call)
				return
			}
		}
	}
}

func (a *UserAgent) finishOutboundAccept(call *Call, req *sip.Request, res *sip.Response) {
	session := call.Session()
	if rm, err := ParseRemoteMedia(res.Body()); err == nil {
		session.SetRemote(&net.UDPAddr{IP: net.ParseIP(rm.IP), Port: rm.Port})
		session.Start(a.rootCtx)
	} else {
		a.logger.Error("failed to parse remote sdp", "call_id", call.CallID, "error", err)
	}

	_ = a.client.WriteRequest(buildACKFor2xx(req, res))

	call.SetState(Active)
	a.relayCallState(call)
}

func (a *UserAgent) relayCallState(call *Call) {
	a.emit(AgentEvent{Kind: AgentCallStateChanged, CallID: call.CallID, CallState: call.State()})
}

// Answer accepts a ringing inbound call, starting its RTP session and
// sending the 200 OK with the SDP answer.
func (a *UserAgent) Answer(callID string) error {
	call, ok := a.GetCall(callID)
	if !ok {
		return ErrCallNotFound
	}
	if call.State() != Ringing {
		return ErrInvalidState
	}

	a.callsMu.RLock()
	pending, ok := a.inbound[callID]
	a.callsMu.RUnlock()
	if !ok {
		return ErrCallNotFound
	}

	sdpAnswer, err := BuildOffer(OfferParams{
		LocalIP:   a.localIP,
		RTPPort:   pending.session.LocalPort(),
		Codec:     a.codec,
		SessionID: uint64(time.Now().UnixNano()),
	})
	if err != nil {
		return fmt.Errorf("sip: building sdp answer: %w", err)
	}

	res := sip.NewResponseFromRequest(pending.req, 200, "OK", sdpAnswer)
	res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	if err := pending.tx.Respond(res); err != nil {
		return fmt.Errorf("sip: sending 200 ok: %w", err)
	}

	pending.session.SetRemote(&net.UDPAddr{IP: net.ParseIP(pending.offer.IP), Port: pending.offer.Port})
	pending.session.Start(a.rootCtx)
	call.SetSession(pending.session)
	call.SetState(Active)
	a.relayCallState(call)
	return nil
}

// Hangup terminates a call: sends BYE for an active call, releases its RTP
// session, and removes it from the table. Hanging up an already-terminal
// call is a no-op, not an error.
func (a *UserAgent) Hangup(callID string) error {
	call, ok := a.GetCall(callID)
	if !ok {
		return ErrCallNotFound
	}

	state := call.State()
	if state == Ended || state == Failed {
		return nil
	}

	call.SetState(Terminating)

	if session := call.Session(); session != nil {
		session.Stop()
	}

	if state == Active || state == Held {
		a.sendBye(call)
	}

	call.SetState(Ended)
	a.relayCallState(call)
	a.removeCall(callID)
	return nil
}

func (a *UserAgent) sendBye(call *Call) {
	recipientStr := fmt.Sprintf("sip:%s@%s:%d", call.Remote, a.cfg.SIPTrunkHost, a.cfg.SIPTrunkPort)
	var recipient sip.Uri
	if err := sip.ParseUri(recipientStr, &recipient); err != nil {
		a.logger.Error("sip: parsing bye recipient", "call_id", call.CallID, "error", err)
		return
	}

	req := sip.NewRequest(sip.BYE, recipient)
	req.SetTransport(a.cfg.SIPTransport)
	req.AppendHeader(sip.NewHeader("Call-ID", call.SIPCallID))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := a.client.TransactionRequest(ctx, req, sipgo.ClientRequestBuild)
	if err != nil {
		a.logger.Warn("sip: sending bye failed", "call_id", call.CallID, "error", err)
		return
	}
	defer tx.Terminate()

	if _, err := getResponse(ctx, tx); err != nil {
		a.logger.Warn("sip: bye response wait failed", "call_id", call.CallID, "error", err)
	}
}

// handleInvite accepts an inbound INVITE: it allocates an RTP session,
// records a Ringing call, and surfaces an AgentIncomingCall event. The call
// is left ringing until Answer or Hangup is called.
func (a *UserAgent) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	if !a.checkInboundSource(req) {
		res := sip.NewResponseFromRequest(req, 403, "Forbidden", nil)
		_ = tx.Respond(res)
		return
	}

	callID := ""
	if cid := req.CallID(); cid != nil {
		callID = cid.Value()
	}
	if callID == "" {
		callID = uuid.NewString()
	}

	rm, err := ParseRemoteMedia(req.Body())
	if err != nil {
		res := sip.NewResponseFromRequest(req, 488, "Not Acceptable Here", nil)
		_ = tx.Respond(res)
		return
	}

	session, err := rtp.New(a.rtpAlloc, a.codec, a.logger)
	if err != nil {
		res := sip.NewResponseFromRequest(req, 500, "Server Internal Error", nil)
		_ = tx.Respond(res)
		return
	}

	from := req.From().Address.User
	to := req.To().Address.User
	local := net.JoinHostPort(a.localIP, strconv.Itoa(session.LocalPort()))

	call := NewInboundCall(callID, callID, local, from)
	a.storeCall(call)
	a.callsMu.Lock()
	a.inbound[callID] = &pendingInbound{tx: tx, req: req, session: session, offer: rm}
	a.callsMu.Unlock()

	ringing := sip.NewResponseFromRequest(req, 180, "Ringing", nil)
	_ = tx.Respond(ringing)

	a.emit(AgentEvent{Kind: AgentIncomingCall, CallID: callID, From: from, To: to})
}

func (a *UserAgent) handleAck(req *sip.Request, tx sip.ServerTransaction) {}

func (a *UserAgent) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := ""
	if cid := req.CallID(); cid != nil {
		callID = cid.Value()
	}
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	_ = tx.Respond(res)

	if call, ok := a.GetCall(callID); ok {
		if session := call.Session(); session != nil {
			session.Stop()
		}
		call.SetState(Ended)
		a.relayCallState(call)
		a.removeCall(callID)
	}
}

func (a *UserAgent) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	callID := ""
	if cid := req.CallID(); cid != nil {
		callID = cid.Value()
	}
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	_ = tx.Respond(res)

	if call, ok := a.GetCall(callID); ok {
		call.SetState(Failed)
		a.relayCallState(call)
		a.removeCall(callID)
	}
}

func (a *UserAgent) handleOptions(req *sip.Request, tx sip.ServerTransaction) {
	if !a.checkInboundSource(req) {
		res := sip.NewResponseFromRequest(req, 403, "Forbidden", nil)
		_ = tx.Respond(res)
		return
	}

	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	res.AppendHeader(sip.NewHeader("Accept", "application/sdp"))
	res.AppendHeader(sip.NewHeader("Allow", "INVITE, ACK, CANCEL, BYE, OPTIONS"))
	_ = tx.Respond(res)
}
