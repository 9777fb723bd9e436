package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"

	"github.com/stv0g/robot-teleop/common"
	"github.com/stv0g/robot-teleop/control"
	"github.com/stv0g/robot-teleop/telemetry"
)

type fakePeer struct {
	mu sync.Mutex

	handler PeerHandler
	open    bool
	closed  bool

	offerErr  error
	answerErr error

	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	sent       [][]byte
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	if p.offerErr != nil {
		return webrtc.SessionDescription{}, p.offerErr
	}

	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  "v=0\r\n",
	}, nil
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.answerErr != nil {
		return p.answerErr
	}

	p.remote = append(p.remote, desc)
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.open {
		return ErrChannelNotOpen
	}

	p.sent = append(p.sent, data)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	return nil
}

func (p *fakePeer) setOpen(open bool) {
	p.mu.Lock()
	p.open = open
	p.mu.Unlock()
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.closed
}

func (p *fakePeer) sentMessages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var msgs []string
	for _, d := range p.sent {
		msgs = append(msgs, string(d))
	}
	return msgs
}

func (p *fakePeer) remoteCandidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var cs []string
	for _, c := range p.candidates {
		cs = append(cs, c.Candidate)
	}
	return cs
}

func (p *fakePeer) remoteDescriptions() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.remote)
}

type fakeSignaler struct {
	mu sync.Mutex

	onMessage func(msg *common.SignalingMessage)
	onClose   func(err error)
	started   bool
	closed    bool

	sent []*common.SignalingMessage
}

func (f *fakeSignaler) OnSignalingMessage(cb func(msg *common.SignalingMessage)) {
	f.onMessage = cb
}

func (f *fakeSignaler) OnClose(cb func(err error)) {
	f.onClose = cb
}

func (f *fakeSignaler) Start() {
	f.started = true
}

func (f *fakeSignaler) SendSignalingMessage(msg *common.SignalingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSignaler) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}

func (f *fakeSignaler) deliver(msg *common.SignalingMessage) {
	f.onMessage(msg)
}

func (f *fakeSignaler) drop(err error) {
	f.onClose(err)
}

// offers returns the recipients of all sent offers.
func (f *fakeSignaler) offers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var to []string
	for _, m := range f.sent {
		if m.Message != nil && m.Message.Description != nil && m.Message.Description.Type == webrtc.SDPTypeOffer {
			to = append(to, m.To)
		}
	}
	return to
}

func (f *fakeSignaler) candidates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var cs []string
	for _, m := range f.sent {
		if m.Message != nil && m.Message.Candidate != nil {
			cs = append(cs, m.Message.Candidate.Candidate)
		}
	}
	return cs
}

type fakeInput struct {
	sample control.InputSample
}

func (f *fakeInput) Sample() (control.InputSample, bool) {
	return f.sample, true
}

type fakeObserver struct {
	peers []string
}

func (f *fakeObserver) OnTelemetry(peerID string, _ telemetry.Snapshot) bool {
	f.peers = append(f.peers, peerID)
	return true
}

// harness drives a Supervisor without Run so that events are processed on
// the test goroutine.
type harness struct {
	t *testing.T
	s *Supervisor

	mu         sync.Mutex
	signalers  []*fakeSignaler
	peers      []*fakePeer
	nextPeerFn func(p *fakePeer)
}

func newHarness(t *testing.T, configure func(o *Options)) *harness {
	h := &harness{t: t}

	opts := Options{
		Dial: func(ctx context.Context) (Signaler, error) {
			h.mu.Lock()
			defer h.mu.Unlock()

			sig := &fakeSignaler{}
			h.signalers = append(h.signalers, sig)
			return sig, nil
		},
		NewPeer: func(ph PeerHandler) (Peer, error) {
			h.mu.Lock()
			defer h.mu.Unlock()

			p := &fakePeer{handler: ph}
			if h.nextPeerFn != nil {
				h.nextPeerFn(p)
			}
			h.peers = append(h.peers, p)
			return p, nil
		},
		Control:        control.DefaultConfig(),
		ReconnectDelay: 10 * time.Millisecond,
	}

	if configure != nil {
		configure(&opts)
	}

	s, err := NewSupervisor(opts)
	require.NoError(t, err)

	t.Cleanup(func() {
		close(s.done)
	})

	h.s = s

	return h
}

// until processes queued events until cond holds.
func (h *harness) until(cond func() bool) {
	h.t.Helper()

	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case e := <-h.s.events:
			h.s.handle(e)
			h.s.publishStatus()
		case <-deadline:
			h.t.Fatal("condition not reached")
		}
	}
}

// drain processes all events which are already queued.
func (h *harness) drain() {
	for {
		select {
		case e := <-h.s.events:
			h.s.handle(e)
			h.s.publishStatus()
		default:
			return
		}
	}
}

func (h *harness) connect() *fakeSignaler {
	h.t.Helper()

	n := len(h.allSignalers())

	h.s.connect()
	h.until(func() bool {
		return h.s.sig != nil && len(h.allSignalers()) > n
	})

	sigs := h.allSignalers()
	sig := sigs[len(sigs)-1]
	require.True(h.t, sig.started)

	return sig
}

func (h *harness) allSignalers() []*fakeSignaler {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]*fakeSignaler(nil), h.signalers...)
}

func (h *harness) peer(i int) *fakePeer {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.peers[i]
}

func (h *harness) peerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.peers)
}

// offerTo connects, announces peer and waits for the first offer.
func (h *harness) offerTo(peer string) (*fakeSignaler, *fakePeer) {
	h.t.Helper()

	sig := h.connect()
	sig.deliver(common.NewPeersMessage([]string{peer}))
	h.until(func() bool {
		return len(sig.offers()) == 1
	})

	return sig, h.peer(h.peerCount() - 1)
}

func answerFrom(peer string) *common.SignalingMessage {
	return &common.SignalingMessage{
		Type: common.MessageTypeRTC,
		From: peer,
		Message: common.DescriptionPayload(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  "v=0\r\n",
		}),
	}
}

func candidateFrom(peer, candidate string) *common.SignalingMessage {
	return &common.SignalingMessage{
		Type: common.MessageTypeRTC,
		From: peer,
		Message: common.CandidatePayload(webrtc.ICECandidateInit{
			Candidate: candidate,
		}),
	}
}

func failureFrom(peer string) *common.SignalingMessage {
	return &common.SignalingMessage{
		Type:    common.MessageTypeRTC,
		From:    peer,
		Message: common.FailurePayload(),
	}
}
