package common

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v3"
)

type MessageType string

const (
	MessageTypePeers MessageType = "peers"
	MessageTypeRTC   MessageType = "rtc"
)

// failureSentinel is sent in place of a structured payload when one side
// gave up on its peer connection.
const failureSentinel = "failure"

var ErrInvalidPayload = errors.New("invalid rtc payload")

// SignalingMessage is the envelope exchanged with the signaling relay.
type SignalingMessage struct {
	Type    MessageType `json:"type"`
	PeerIDs []string    `json:"peerIds,omitempty"`
	To      string      `json:"to,omitempty"`
	From    string      `json:"from,omitempty"`
	Message *RTCPayload `json:"message,omitempty"`
}

func NewPeersMessage(ids []string) *SignalingMessage {
	if ids == nil {
		ids = []string{}
	}

	return &SignalingMessage{
		Type:    MessageTypePeers,
		PeerIDs: ids,
	}
}

func NewRelayMessage(to string, payload *RTCPayload) *SignalingMessage {
	return &SignalingMessage{
		Type:    MessageTypeRTC,
		To:      to,
		Message: payload,
	}
}

func (m SignalingMessage) MarshalJSON() ([]byte, error) {
	type plain SignalingMessage

	if m.Type != MessageTypePeers {
		return json.Marshal(plain(m))
	}

	// Receivers index into peerIds, so an empty list is sent as [].
	ids := m.PeerIDs
	if ids == nil {
		ids = []string{}
	}

	return json.Marshal(struct {
		Type    MessageType `json:"type"`
		PeerIDs []string    `json:"peerIds"`
	}{m.Type, ids})
}

// ParseSignalingMessage decodes a message received from the relay.
// Messages without a type but with a payload are treated as rtc messages.
func ParseSignalingMessage(data []byte) (*SignalingMessage, error) {
	msg := &SignalingMessage{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, err
	}

	if msg.Type == "" && msg.Message != nil {
		msg.Type = MessageTypeRTC
	}

	switch msg.Type {
	case MessageTypePeers:
	case MessageTypeRTC:
		if msg.Message == nil {
			return nil, fmt.Errorf("rtc message without payload")
		}
	default:
		return nil, fmt.Errorf("unsupported message type %q", msg.Type)
	}

	return msg, nil
}

// RTCPayload is one of a session description, an ICE candidate or the
// failure sentinel.
type RTCPayload struct {
	Description *webrtc.SessionDescription
	Candidate   *webrtc.ICECandidateInit
	Failure     bool
}

func DescriptionPayload(desc webrtc.SessionDescription) *RTCPayload {
	return &RTCPayload{Description: &desc}
}

func CandidatePayload(c webrtc.ICECandidateInit) *RTCPayload {
	return &RTCPayload{Candidate: &c}
}

func FailurePayload() *RTCPayload {
	return &RTCPayload{Failure: true}
}

type sdp struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func (p RTCPayload) MarshalJSON() ([]byte, error) {
	switch {
	case p.Failure:
		return json.Marshal(failureSentinel)

	case p.Description != nil:
		return json.Marshal(sdp{
			Type: p.Description.Type.String(),
			SDP:  p.Description.SDP,
		})

	case p.Candidate != nil:
		return json.Marshal(candidate{
			Candidate:        p.Candidate.Candidate,
			SDPMid:           p.Candidate.SDPMid,
			SDPMLineIndex:    p.Candidate.SDPMLineIndex,
			UsernameFragment: p.Candidate.UsernameFragment,
		})
	}

	return nil, ErrInvalidPayload
}

func (p *RTCPayload) UnmarshalJSON(data []byte) error {
	*p = RTCPayload{}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s != failureSentinel {
			return fmt.Errorf("%w: unexpected string %q", ErrInvalidPayload, s)
		}

		p.Failure = true
		return nil
	}

	var raw struct {
		Candidate        string  `json:"candidate"`
		SDPMid           *string `json:"sdpMid"`
		SDPMLineIndex    *uint16 `json:"sdpMLineIndex"`
		UsernameFragment *string `json:"usernameFragment"`
		Type             string  `json:"type"`
		SDP              string  `json:"sdp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch {
	case raw.Candidate != "":
		p.Candidate = &webrtc.ICECandidateInit{
			Candidate:        raw.Candidate,
			SDPMid:           raw.SDPMid,
			SDPMLineIndex:    raw.SDPMLineIndex,
			UsernameFragment: raw.UsernameFragment,
		}

	case raw.SDP != "":
		t := webrtc.NewSDPType(raw.Type)
		if t != webrtc.SDPTypeOffer && t != webrtc.SDPTypeAnswer {
			return fmt.Errorf("%w: unsupported sdp type %q", ErrInvalidPayload, raw.Type)
		}
		p.Description = &webrtc.SessionDescription{
			Type: t,
			SDP:  raw.SDP,
		}

	default:
		return fmt.Errorf("%w: neither candidate nor description", ErrInvalidPayload)
	}

	return nil
}

func (p *RTCPayload) String() string {
	switch {
	case p == nil:
		return "<nil>"
	case p.Failure:
		return failureSentinel
	case p.Description != nil:
		return p.Description.Type.String()
	case p.Candidate != nil:
		return "candidate"
	}
	return "empty"
}
