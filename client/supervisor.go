package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"github.com/stv0g/robot-teleop/common"
	"github.com/stv0g/robot-teleop/control"
	"github.com/stv0g/robot-teleop/metrics"
	"github.com/stv0g/robot-teleop/telemetry"
)

const (
	DefaultReconnectDelay     = time.Second
	DefaultMaxRenegotiations  = 10
	DefaultNegotiationTimeout = 30 * time.Second

	eventQueueSize = 256
)

// Failure reasons as reported in status and metrics.
const (
	FailureICE        = "ice"
	FailureRemote     = "remote"
	FailureOffer      = "offer"
	FailureAnswer     = "answer"
	FailurePeer       = "peer"
	FailureTimeout    = "timeout"
	FailureSuperseded = "superseded"
)

var ErrSignalingClosed = errors.New("signaling connection is not open")

// Signaler is the relay connection used by the supervisor. It is
// implemented by *SignalingClient.
type Signaler interface {
	OnSignalingMessage(cb func(msg *common.SignalingMessage))
	OnClose(cb func(err error))
	Start()
	SendSignalingMessage(msg *common.SignalingMessage) error
	Close() error
}

// Dialer opens a new relay connection.
type Dialer func(ctx context.Context) (Signaler, error)

// TelemetryObserver receives the telemetry snapshot after every update.
type TelemetryObserver interface {
	OnTelemetry(peerID string, s telemetry.Snapshot) bool
}

type Options struct {
	Dial    Dialer
	NewPeer PeerFactory

	Input   control.InputSource
	Control control.Config
	Decoder *telemetry.Decoder

	// Robot pins the target instead of following the peer list.
	Robot string

	ReconnectDelay time.Duration

	// MaxRenegotiations bounds consecutive automatic renegotiations. Zero
	// means unbounded.
	MaxRenegotiations int

	// NegotiationTimeout fails a session which did not get an answer in
	// time. Zero disables it.
	NegotiationTimeout time.Duration

	Observers []TelemetryObserver
}

type SessionStatus struct {
	ID              uint64    `json:"id"`
	PeerID          string    `json:"peerId"`
	State           string    `json:"state"`
	ICEConnected    bool      `json:"iceConnected"`
	DataChannelOpen bool      `json:"dataChannelOpen"`
	Created         time.Time `json:"created"`

	// PendingCandidates counts remote candidates held until the answer.
	PendingCandidates int `json:"pendingCandidates"`
}

type Status struct {
	SignalingOpen bool           `json:"signalingOpen"`
	Peers         []string       `json:"peers"`
	Target        string         `json:"target,omitempty"`
	Session       *SessionStatus `json:"session,omitempty"`
	Failures      int            `json:"failures"`
	LastFailure   string         `json:"lastFailure,omitempty"`

	Factors   control.Factors    `json:"factors"`
	Frame     control.Frame      `json:"frame"`
	Telemetry telemetry.Snapshot `json:"telemetry"`
}

// Supervisor owns the relay connection and the active peer session. All
// state is mutated by the goroutine executing Run; other goroutines only
// post events.
type Supervisor struct {
	opts Options

	events chan event
	done   chan struct{}
	ctx    context.Context

	encoder *control.Encoder
	decoder *telemetry.Decoder

	sig    Signaler
	sigGen uint64

	session   *Session
	sessionID uint64

	peers       []string
	target      string
	pinned      string
	failures    int
	lastFailure string

	statusMu sync.RWMutex
	status   Status
}

func NewSupervisor(opts Options) (*Supervisor, error) {
	if opts.Dial == nil {
		return nil, errors.New("missing dialer")
	}
	if opts.NewPeer == nil {
		return nil, errors.New("missing peer factory")
	}

	if opts.Input == nil {
		opts.Input = control.NoInput{}
	}
	if opts.Decoder == nil {
		opts.Decoder = telemetry.NewDecoder()
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.MaxRenegotiations < 0 {
		opts.MaxRenegotiations = 0
	}

	s := &Supervisor{
		opts:    opts,
		events:  make(chan event, eventQueueSize),
		done:    make(chan struct{}),
		ctx:     context.Background(),
		encoder: control.NewEncoder(opts.Control),
		decoder: opts.Decoder,
		pinned:  opts.Robot,
		target:  opts.Robot,
	}

	s.publishStatus()

	return s, nil
}

// Run processes events until ctx is done. It must be called only once.
func (s *Supervisor) Run(ctx context.Context) error {
	s.ctx = ctx

	ticker := time.NewTicker(s.encoder.Interval())
	defer ticker.Stop()

	s.connect()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil

		case <-ticker.C:
			s.handleTick()
			s.publishStatus()

		case e := <-s.events:
			s.handle(e)
			s.publishStatus()
		}
	}
}

// SetTarget pins the robot to connect to. An active session with another
// robot is superseded. An empty ID returns to following the peer list.
func (s *Supervisor) SetTarget(peerID string) {
	s.post(targetSet{peerID: peerID})
}

// Status returns a copy of the current supervisor state.
func (s *Supervisor) Status() Status {
	s.statusMu.RLock()
	st := s.status
	s.statusMu.RUnlock()

	st.Peers = append([]string(nil), st.Peers...)
	if st.Session != nil {
		ss := *st.Session
		st.Session = &ss
	}
	st.Telemetry = s.decoder.Snapshot()

	return st
}

func (s *Supervisor) post(e event) bool {
	select {
	case s.events <- e:
		return true
	case <-s.done:
		return false
	}
}

func (s *Supervisor) handle(e event) {
	switch e := e.(type) {
	case signalingDialed:
		s.handleDialed(e)
	case signalingMessage:
		s.handleSignalingMessage(e)
	case signalingClosed:
		s.handleSignalingClosed(e)
	case reconnect:
		if e.gen == s.sigGen && s.sig == nil {
			s.connect()
		}
	case targetSet:
		s.handleTargetSet(e)

	case offerCreated:
		s.handleOfferCreated(e)
	case localCandidate:
		s.handleLocalCandidate(e)
	case iceStateChanged:
		s.handleICEStateChanged(e)
	case dataChannelOpened:
		if sess := s.current(e.id); sess != nil {
			sess.DataChannelOpen = true
		}
	case dataChannelClosed:
		if sess := s.current(e.id); sess != nil {
			sess.DataChannelOpen = false
		}
	case dataChannelMessage:
		if sess := s.current(e.id); sess != nil {
			s.handleTelemetry(sess, e.data)
		}
	case negotiationTimeout:
		if sess := s.current(e.id); sess != nil && sess.State == StateOffering {
			s.failSession(FailureTimeout)
		}

	default:
		logrus.Errorf("Unknown event: %T", e)
	}
}

// current returns the active session if it has the given ID.
func (s *Supervisor) current(id uint64) *Session {
	if s.session == nil || s.session.ID != id {
		logrus.Debugf("Discarding event of stale session %d", id)
		return nil
	}

	return s.session
}

func (s *Supervisor) connect() {
	s.sigGen++
	gen := s.sigGen

	go func() {
		sig, err := s.opts.Dial(s.ctx)
		if !s.post(signalingDialed{gen: gen, sig: sig, err: err}) && sig != nil {
			_ = sig.Close()
		}
	}()
}

func (s *Supervisor) scheduleReconnect() {
	gen := s.sigGen

	logrus.Infof("Reconnecting to signaling relay in %s", s.opts.ReconnectDelay)

	time.AfterFunc(s.opts.ReconnectDelay, func() {
		s.post(reconnect{gen: gen})
	})
}

func (s *Supervisor) handleDialed(e signalingDialed) {
	if e.gen != s.sigGen || s.sig != nil {
		if e.sig != nil {
			go e.sig.Close()
		}
		return
	}

	if e.err != nil {
		logrus.WithError(e.err).Error("Failed to connect to signaling relay")
		s.scheduleReconnect()
		return
	}

	gen := e.gen
	e.sig.OnSignalingMessage(func(msg *common.SignalingMessage) {
		s.post(signalingMessage{gen: gen, msg: msg})
	})
	e.sig.OnClose(func(err error) {
		s.post(signalingClosed{gen: gen, err: err})
	})
	e.sig.Start()

	s.sig = e.sig
	metrics.SignalingConnects.Inc()

	s.maybeOffer()
}

func (s *Supervisor) handleSignalingClosed(e signalingClosed) {
	if e.gen != s.sigGen || s.sig == nil {
		return
	}

	if e.err != nil {
		logrus.WithError(e.err).Warn("Lost connection to signaling relay")
	} else {
		logrus.Info("Signaling relay closed the connection")
	}

	s.sig = nil
	s.peers = nil
	metrics.SignalingDisconnects.Inc()

	s.scheduleReconnect()
}

func (s *Supervisor) handleSignalingMessage(e signalingMessage) {
	if e.gen != s.sigGen || s.sig == nil {
		return
	}

	metrics.SignalingMessages.WithLabelValues("in", string(e.msg.Type)).Inc()

	switch e.msg.Type {
	case common.MessageTypePeers:
		s.handlePeers(e.msg.PeerIDs)
	case common.MessageTypeRTC:
		s.handleRelay(e.msg)
	}
}

func (s *Supervisor) handlePeers(ids []string) {
	s.peers = append([]string(nil), ids...)

	logrus.Infof("Received peer list: %v", ids)

	target := ""
	if s.pinned != "" {
		for _, id := range ids {
			if id == s.pinned {
				target = id
				break
			}
		}
	} else if len(ids) > 0 {
		target = ids[0]
	}

	if target != s.target {
		logrus.Infof("Target changed: %q", target)
	}

	s.target = target
	if target != "" {
		s.failures = 0
	}

	s.maybeOffer()
}

func (s *Supervisor) handleTargetSet(e targetSet) {
	s.pinned = e.peerID
	s.failures = 0

	if e.peerID != "" {
		s.target = e.peerID
	} else if len(s.peers) > 0 {
		s.target = s.peers[0]
	} else {
		s.target = ""
	}

	logrus.Infof("Target set by operator: %q", s.target)

	if sess := s.session; sess != nil && sess.Active() && sess.PeerID != s.target && s.target != "" {
		logrus.Infof("Superseding session %d with %s", sess.ID, sess.PeerID)
		sess.Fail()
		metrics.SessionFailures.WithLabelValues(FailureSuperseded).Inc()
	}

	s.maybeOffer()
}

func (s *Supervisor) handleRelay(msg *common.SignalingMessage) {
	p := msg.Message
	if p == nil {
		return
	}

	sess := s.session

	if sess != nil && msg.From != "" && msg.From != sess.PeerID {
		logrus.Debugf("Ignoring %s from %s: session is with %s", p, msg.From, sess.PeerID)
		return
	}

	switch {
	case p.Failure:
		if sess != nil && sess.Active() {
			logrus.Warnf("Robot %s reported a failure", sess.PeerID)
			s.failSession(FailureRemote)
		} else if s.exhausted() {
			logrus.Debugf("Ignoring failure from %s: renegotiation limit reached", msg.From)
		} else {
			s.maybeOffer()
		}

	case p.Description != nil:
		if p.Description.Type != webrtc.SDPTypeAnswer {
			logrus.Warnf("Ignoring unexpected %s", p.Description.Type)
			return
		}

		if sess == nil {
			logrus.Debug("Ignoring answer without session")
			return
		}

		applied, err := sess.HandleAnswer(*p.Description)
		if err != nil {
			if applied {
				logrus.WithError(err).Warn("Failed to apply buffered candidates")
				return
			}

			logrus.WithError(err).Error("Failed to apply answer")
			s.failSession(FailureAnswer)
			return
		}

		if !applied {
			logrus.Debugf("Ignoring duplicate answer for session %d", sess.ID)
			return
		}

		logrus.Infof("Session %d with %s: answer applied", sess.ID, sess.PeerID)

	case p.Candidate != nil:
		if sess == nil {
			logrus.Debug("Ignoring candidate without session")
			return
		}

		accepted, err := sess.HandleCandidate(*p.Candidate)
		if err != nil {
			logrus.WithError(err).Warn("Failed to add remote candidate")
		} else if !accepted {
			logrus.Debugf("Ignoring candidate for %s session %d", sess.State, sess.ID)
		}
	}
}

// maybeOffer starts a new session if none is active and a target is known.
func (s *Supervisor) maybeOffer() {
	if s.sig == nil || s.target == "" {
		return
	}

	if s.session != nil && s.session.Active() {
		return
	}

	s.beginOffer(s.target)
}

func (s *Supervisor) beginOffer(peerID string) {
	s.sessionID++
	sess := NewSession(s.sessionID, peerID)
	s.session = sess

	metrics.Sessions.Inc()

	peer, err := s.opts.NewPeer(&sessionEvents{
		id:   sess.ID,
		post: s.post,
	})
	if err != nil {
		logrus.WithError(err).Error("Failed to create peer connection")
		sess.State = StateFailed
		s.failures++
		s.lastFailure = FailurePeer
		metrics.SessionFailures.WithLabelValues(FailurePeer).Inc()
		return
	}

	if err := sess.BeginOffer(peer); err != nil {
		logrus.WithError(err).Error("Failed to begin offer")
		sess.State = StateFailed
		_ = peer.Close()
		return
	}

	logrus.Infof("Session %d: offering to %s", sess.ID, peerID)

	id := sess.ID
	go func() {
		desc, err := peer.CreateOffer()
		s.post(offerCreated{id: id, desc: desc, err: err})
	}()

	if s.opts.NegotiationTimeout > 0 {
		time.AfterFunc(s.opts.NegotiationTimeout, func() {
			s.post(negotiationTimeout{id: id})
		})
	}
}

func (s *Supervisor) handleOfferCreated(e offerCreated) {
	sess := s.current(e.id)
	if sess == nil {
		return
	}

	if e.err != nil {
		logrus.WithError(e.err).Error("Failed to create offer")
		s.failSession(FailureOffer)
		return
	}

	pending, err := sess.OfferCreated()
	if err != nil {
		logrus.WithError(err).Warn("Ignoring offer")
		return
	}

	if err := s.send(common.NewRelayMessage(sess.PeerID, common.DescriptionPayload(e.desc))); err != nil {
		logrus.WithError(err).Error("Failed to send offer")
		return
	}

	for _, c := range pending {
		s.sendCandidate(sess, c)
	}
}

func (s *Supervisor) handleLocalCandidate(e localCandidate) {
	sess := s.current(e.id)
	if sess == nil {
		return
	}

	if sess.LocalCandidate(e.candidate) {
		s.sendCandidate(sess, e.candidate)
	}
}

func (s *Supervisor) sendCandidate(sess *Session, c webrtc.ICECandidateInit) {
	if err := s.send(common.NewRelayMessage(sess.PeerID, common.CandidatePayload(c))); err != nil {
		logrus.WithError(err).Warn("Failed to send candidate")
	}
}

func (s *Supervisor) handleICEStateChanged(e iceStateChanged) {
	sess := s.current(e.id)
	if sess == nil {
		return
	}

	switch e.state {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		sess.ICEConnected = true
		s.failures = 0
		s.lastFailure = ""

	case webrtc.ICEConnectionStateDisconnected:
		sess.ICEConnected = false
		logrus.Warnf("Session %d: ICE disconnected, waiting for recovery", sess.ID)

	case webrtc.ICEConnectionStateFailed:
		sess.ICEConnected = false
		s.failSession(FailureICE)
	}
}

// failSession fails the active session and renegotiates if allowed.
func (s *Supervisor) failSession(reason string) {
	sess := s.session
	if sess == nil || !sess.Fail() {
		return
	}

	s.failures++
	s.lastFailure = reason
	metrics.SessionFailures.WithLabelValues(reason).Inc()

	logrus.Warnf("Session %d with %s failed: %s", sess.ID, sess.PeerID, reason)

	if s.sig == nil || s.target == "" {
		return
	}

	if s.exhausted() {
		logrus.Errorf("Giving up after %d consecutive failures", s.failures)
		return
	}

	s.beginOffer(s.target)
}

// exhausted reports whether consecutive failures exceed MaxRenegotiations.
func (s *Supervisor) exhausted() bool {
	limit := s.opts.MaxRenegotiations
	return limit > 0 && s.failures > limit
}

func (s *Supervisor) send(msg *common.SignalingMessage) error {
	if s.sig == nil {
		return ErrSignalingClosed
	}

	if err := s.sig.SendSignalingMessage(msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Type, err)
	}

	metrics.SignalingMessages.WithLabelValues("out", string(msg.Type)).Inc()

	return nil
}

func (s *Supervisor) handleTick() {
	sample, ok := s.opts.Input.Sample()
	if !ok {
		sample = control.InputSample{}
	}

	out := s.encoder.Tick(sample)

	if err := s.sendData(out.Frame.Message()); err != nil {
		metrics.ControlFrames.WithLabelValues(metrics.ResultDropped).Inc()
	} else {
		metrics.ControlFrames.WithLabelValues(metrics.ResultSent).Inc()
	}

	if out.Light {
		if err := s.sendData(common.LightMessage{Type: common.DataTypeLight}); err != nil {
			logrus.WithError(err).Warn("Dropped light toggle")
			metrics.LightToggles.WithLabelValues(metrics.ResultDropped).Inc()
		} else {
			metrics.LightToggles.WithLabelValues(metrics.ResultSent).Inc()
		}
	}
}

func (s *Supervisor) sendData(v interface{}) error {
	if s.session == nil || !s.session.DataChannelOpen {
		return ErrChannelNotOpen
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return s.session.Send(data)
}

func (s *Supervisor) handleTelemetry(sess *Session, data []byte) {
	typ, err := s.decoder.Decode(data)
	if err != nil {
		if errors.Is(err, telemetry.ErrUnknownType) {
			logrus.Debugf("Ignoring data channel message: %s", err)
		} else {
			logrus.WithError(err).Warn("Dropping malformed telemetry")
		}
		metrics.MalformedMessages.WithLabelValues("datachannel").Inc()
		return
	}

	metrics.TelemetryFrames.WithLabelValues(typ).Inc()

	if len(s.opts.Observers) == 0 {
		return
	}

	snapshot := s.decoder.Snapshot()
	for _, o := range s.opts.Observers {
		o.OnTelemetry(sess.PeerID, snapshot)
	}
}

func (s *Supervisor) shutdown() {
	close(s.done)

	if s.session != nil {
		s.session.Fail()
	}

	if s.sig != nil {
		if err := s.sig.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close signaling connection")
		}
		s.sig = nil
	}

	s.publishStatus()
}

func (s *Supervisor) publishStatus() {
	st := Status{
		SignalingOpen: s.sig != nil,
		Peers:         s.peers,
		Target:        s.target,
		Failures:      s.failures,
		LastFailure:   s.lastFailure,
		Factors:       s.encoder.Factors(),
		Frame:         s.encoder.Last(),
	}

	state := StateNew
	if sess := s.session; sess != nil {
		state = sess.State
		st.Session = &SessionStatus{
			ID:              sess.ID,
			PeerID:          sess.PeerID,
			State:           sess.State.String(),
			ICEConnected:    sess.ICEConnected,
			DataChannelOpen: sess.DataChannelOpen,
			Created:         sess.Created,

			PendingCandidates: sess.PendingCandidates(),
		}
	}

	metrics.SessionState.Set(float64(state))

	s.statusMu.Lock()
	s.status = st
	s.statusMu.Unlock()
}
