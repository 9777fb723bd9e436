package client

import (
	"github.com/pion/webrtc/v3"

	"github.com/stv0g/robot-teleop/common"
)

// event is anything processed by the supervisor loop.
type event interface{}

// Signaling connection events carry the generation of the connection they
// belong to.
type (
	signalingDialed struct {
		gen uint64
		sig Signaler
		err error
	}

	signalingMessage struct {
		gen uint64
		msg *common.SignalingMessage
	}

	signalingClosed struct {
		gen uint64
		err error
	}

	reconnect struct {
		gen uint64
	}
)

// Peer events carry the ID of the session they belong to.
type (
	offerCreated struct {
		id   uint64
		desc webrtc.SessionDescription
		err  error
	}

	localCandidate struct {
		id        uint64
		candidate webrtc.ICECandidateInit
	}

	iceStateChanged struct {
		id    uint64
		state webrtc.ICEConnectionState
	}

	dataChannelOpened struct {
		id uint64
	}

	dataChannelClosed struct {
		id uint64
	}

	dataChannelMessage struct {
		id   uint64
		data []byte
	}

	negotiationTimeout struct {
		id uint64
	}
)

type targetSet struct {
	peerID string
}

// sessionEvents turns the callbacks of a Peer into events tagged with the
// session ID.
type sessionEvents struct {
	id   uint64
	post func(e event) bool
}

func (h *sessionEvents) OnLocalCandidate(c webrtc.ICECandidateInit) {
	h.post(localCandidate{id: h.id, candidate: c})
}

func (h *sessionEvents) OnICEConnectionStateChange(state webrtc.ICEConnectionState) {
	h.post(iceStateChanged{id: h.id, state: state})
}

func (h *sessionEvents) OnDataChannelOpen() {
	h.post(dataChannelOpened{id: h.id})
}

func (h *sessionEvents) OnDataChannelClose() {
	h.post(dataChannelClosed{id: h.id})
}

func (h *sessionEvents) OnDataChannelMessage(data []byte) {
	h.post(dataChannelMessage{id: h.id, data: data})
}
