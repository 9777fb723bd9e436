package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v3"
)

type State int

const (
	StateNew State = iota
	StateOffering
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOffering:
		return "offering"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

var ErrInvalidTransition = errors.New("invalid session state transition")

// Session is one negotiation attempt with a remote peer. A failed session
// is never reused; the supervisor creates a new one with a higher ID.
//
// Session is not safe for concurrent use.
type Session struct {
	ID      uint64
	PeerID  string
	State   State
	Created time.Time

	LocalDescriptionReady bool
	RemoteDescriptionSet  bool
	ICEConnected          bool
	DataChannelOpen       bool

	peer Peer

	// Remote candidates received before the answer was applied.
	pendingCandidates []webrtc.ICECandidateInit

	// Local candidates gathered before the offer was sent.
	pendingLocal []webrtc.ICECandidateInit
}

func NewSession(id uint64, peerID string) *Session {
	return &Session{
		ID:      id,
		PeerID:  peerID,
		State:   StateNew,
		Created: time.Now(),
	}
}

// Active reports whether the session is negotiating or connected.
func (s *Session) Active() bool {
	return s.State == StateOffering || s.State == StateConnected
}

// BeginOffer attaches the local endpoint and moves to Offering. The offer
// itself is created asynchronously by the caller.
func (s *Session) BeginOffer(peer Peer) error {
	if s.State != StateNew {
		return fmt.Errorf("%w: begin offer in state %s", ErrInvalidTransition, s.State)
	}

	s.peer = peer
	s.State = StateOffering

	return nil
}

// OfferCreated marks the local description as sent and returns the local
// candidates which were held back until now.
func (s *Session) OfferCreated() ([]webrtc.ICECandidateInit, error) {
	if s.State != StateOffering || s.LocalDescriptionReady {
		return nil, fmt.Errorf("%w: offer created in state %s", ErrInvalidTransition, s.State)
	}

	s.LocalDescriptionReady = true

	pending := s.pendingLocal
	s.pendingLocal = nil

	return pending, nil
}

// LocalCandidate reports whether a gathered candidate may be sent now.
// Candidates found before the offer went out are held back.
func (s *Session) LocalCandidate(c webrtc.ICECandidateInit) bool {
	if !s.Active() {
		return false
	}

	if !s.LocalDescriptionReady {
		s.pendingLocal = append(s.pendingLocal, c)
		return false
	}

	return true
}

// HandleAnswer applies the first answer of an offering session and flushes
// buffered candidates. Any later answer is ignored and reported as not
// applied.
func (s *Session) HandleAnswer(desc webrtc.SessionDescription) (bool, error) {
	if s.State != StateOffering || !s.LocalDescriptionReady || s.RemoteDescriptionSet {
		return false, nil
	}

	if desc.Type != webrtc.SDPTypeAnswer {
		return false, fmt.Errorf("%w: expected answer, got %s", ErrInvalidTransition, desc.Type)
	}

	if err := s.peer.SetRemoteDescription(desc); err != nil {
		return false, fmt.Errorf("failed to set remote description: %w", err)
	}

	s.RemoteDescriptionSet = true
	s.State = StateConnected

	pending := s.pendingCandidates
	s.pendingCandidates = nil

	var errs []error
	for _, c := range pending {
		if err := s.peer.AddICECandidate(c); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return true, fmt.Errorf("failed to add %d of %d buffered candidates: %w", len(errs), len(pending), errs[0])
	}

	return true, nil
}

// HandleCandidate applies a remote candidate or buffers it until the answer
// arrives. Candidates for an inactive session are ignored.
func (s *Session) HandleCandidate(c webrtc.ICECandidateInit) (bool, error) {
	if !s.Active() {
		return false, nil
	}

	if !s.RemoteDescriptionSet {
		s.pendingCandidates = append(s.pendingCandidates, c)
		return true, nil
	}

	if err := s.peer.AddICECandidate(c); err != nil {
		return true, fmt.Errorf("failed to add ICE candidate: %w", err)
	}

	return true, nil
}

// PendingCandidates returns the number of buffered remote candidates.
func (s *Session) PendingCandidates() int {
	return len(s.pendingCandidates)
}

// Send writes to the data channel of a connected session.
func (s *Session) Send(data []byte) error {
	if s.State != StateConnected || s.peer == nil {
		return ErrChannelNotOpen
	}

	return s.peer.Send(data)
}

// Fail moves an active session to Failed and releases its endpoint. It
// reports whether a transition took place.
func (s *Session) Fail() bool {
	if !s.Active() {
		return false
	}

	s.State = StateFailed
	s.DataChannelOpen = false
	s.pendingCandidates = nil
	s.pendingLocal = nil

	if s.peer != nil {
		// Closing may block on pion teardown.
		go func(p Peer) {
			_ = p.Close()
		}(s.peer)
		s.peer = nil
	}

	return true
}
