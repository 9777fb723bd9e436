package client

import (
	"errors"
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"github.com/stv0g/robot-teleop/common"
)

var ErrChannelNotOpen = errors.New("data channel is not open")

// Peer is the local media and data endpoint of a single session.
type Peer interface {
	// CreateOffer creates an offer and applies it as local description.
	CreateOffer() (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error

	// Send writes a message to the data channel or fails with
	// ErrChannelNotOpen.
	Send(data []byte) error
	Close() error
}

// PeerHandler receives the asynchronous events of a Peer.
type PeerHandler interface {
	OnLocalCandidate(c webrtc.ICECandidateInit)
	OnICEConnectionStateChange(state webrtc.ICEConnectionState)
	OnDataChannelOpen()
	OnDataChannelClose()
	OnDataChannelMessage(data []byte)
}

// PeerFactory constructs a Peer reporting to h.
type PeerFactory func(h PeerHandler) (Peer, error)

// NewAPI returns a pion API with default codecs and interceptors logging
// through loggerFactory.
func NewAPI(loggerFactory logging.LoggerFactory) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	s := webrtc.SettingEngine{
		LoggerFactory: loggerFactory,
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(s),
	), nil
}

// NewPeerFactory returns a factory creating pion peer connections.
func NewPeerFactory(api *webrtc.API, iceServers []string) PeerFactory {
	config := webrtc.Configuration{}
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{
			{
				URLs: iceServers,
			},
		}
	}

	return func(h PeerHandler) (Peer, error) {
		return NewPeerConnection(api, config, h)
	}
}

// PeerConnection wraps a pion PeerConnection with a single data channel
// and a receive-only video transceiver.
type PeerConnection struct {
	*webrtc.PeerConnection

	dc      *webrtc.DataChannel
	handler PeerHandler
}

func NewPeerConnection(api *webrtc.API, config webrtc.Configuration, h PeerHandler) (*PeerConnection, error) {
	if api == nil {
		api = webrtc.NewAPI()
	}

	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	ppc := &PeerConnection{
		PeerConnection: pc,
		handler:        h,
	}

	ppc.PeerConnection.OnICEConnectionStateChange(ppc.OnICEConnectionStateChangeHandler)
	ppc.PeerConnection.OnConnectionStateChange(ppc.OnConnectionStateChangeHandler)
	ppc.PeerConnection.OnSignalingStateChange(ppc.OnSignalingStateChangeHandler)
	ppc.PeerConnection.OnICECandidate(ppc.OnICECandidateHandler)
	ppc.PeerConnection.OnTrack(ppc.OnTrackHandler)

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to add video transceiver: %w", err)
	}

	if ppc.dc, err = pc.CreateDataChannel(common.DataChannelLabel, nil); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to create datachannel: %w", err)
	}

	ppc.dc.OnOpen(ppc.OnDataChannelOpenHandler)
	ppc.dc.OnClose(ppc.OnDataChannelCloseHandler)
	ppc.dc.OnMessage(ppc.OnDataChannelMessageHandler)

	return ppc, nil
}

func (pc *PeerConnection) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := pc.PeerConnection.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}

	if err := pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}

	// Candidates are trickled, so the description is sent right away.
	return *pc.LocalDescription(), nil
}

func (pc *PeerConnection) Send(data []byte) error {
	if pc.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotOpen
	}

	return pc.dc.SendText(string(data))
}

func (pc *PeerConnection) OnICECandidateHandler(c *webrtc.ICECandidate) {
	if c == nil {
		logrus.Info("Candidate gathering concluded")
		return
	}

	logrus.Debugf("Found new candidate: %s", c)

	pc.handler.OnLocalCandidate(c.ToJSON())
}

func (pc *PeerConnection) OnSignalingStateChangeHandler(ss webrtc.SignalingState) {
	logrus.Debugf("Signaling State has changed: %s", ss.String())
}

func (pc *PeerConnection) OnConnectionStateChangeHandler(pcs webrtc.PeerConnectionState) {
	logrus.Infof("Connection State has changed: %s", pcs.String())
}

func (pc *PeerConnection) OnICEConnectionStateChangeHandler(connectionState webrtc.ICEConnectionState) {
	logrus.Infof("ICE Connection State has changed: %s", connectionState.String())

	pc.handler.OnICEConnectionStateChange(connectionState)
}

// OnTrackHandler drains received media. Rendering is left to other
// consumers of the stream.
func (pc *PeerConnection) OnTrackHandler(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	logrus.Infof("Received %s track: %s", track.Kind(), track.Codec().MimeType)

	go func() {
		for {
			if _, _, err := track.ReadRTP(); err != nil {
				return
			}
		}
	}()
}

func (pc *PeerConnection) OnDataChannelOpenHandler() {
	logrus.Info("Datachannel opened")

	pc.handler.OnDataChannelOpen()
}

func (pc *PeerConnection) OnDataChannelCloseHandler() {
	logrus.Info("Datachannel closed")

	pc.handler.OnDataChannelClose()
}

func (pc *PeerConnection) OnDataChannelMessageHandler(msg webrtc.DataChannelMessage) {
	// Copy because pion reuses internal buffers.
	data := append([]byte(nil), msg.Data...)

	pc.handler.OnDataChannelMessage(data)
}
