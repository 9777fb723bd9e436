package client

import (
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stv0g/robot-teleop/common"
	"github.com/stv0g/robot-teleop/control"
	"github.com/stv0g/robot-teleop/telemetry"
)

const loopbackTimeout = 10 * time.Second

// recordingHandler forwards the callbacks of a PeerConnection to channels.
type recordingHandler struct {
	candidates chan webrtc.ICECandidateInit
	states     chan webrtc.ICEConnectionState
	opened     chan struct{}
	messages   chan []byte
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		candidates: make(chan webrtc.ICECandidateInit, 64),
		states:     make(chan webrtc.ICEConnectionState, 16),
		opened:     make(chan struct{}, 1),
		messages:   make(chan []byte, 16),
	}
}

func (h *recordingHandler) OnLocalCandidate(c webrtc.ICECandidateInit) {
	h.candidates <- c
}

func (h *recordingHandler) OnICEConnectionStateChange(state webrtc.ICEConnectionState) {
	select {
	case h.states <- state:
	default:
	}
}

func (h *recordingHandler) OnDataChannelOpen() {
	h.opened <- struct{}{}
}

func (h *recordingHandler) OnDataChannelClose() {}

func (h *recordingHandler) OnDataChannelMessage(data []byte) {
	h.messages <- data
}

func TestPeerConnectionLoopback(t *testing.T) {
	api, err := NewAPI(NewLoggerFactory(nil))
	require.NoError(t, err)

	h := newRecordingHandler()

	op, err := NewPeerConnection(api, webrtc.Configuration{}, h)
	require.NoError(t, err)
	defer op.Close()

	assert.ErrorIs(t, op.Send([]byte(`{}`)), ErrChannelNotOpen)

	robot, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer robot.Close()

	robotChannel := make(chan *webrtc.DataChannel, 1)
	robotMessages := make(chan []byte, 16)

	robot.OnDataChannel(func(dc *webrtc.DataChannel) {
		assert.Equal(t, common.DataChannelLabel, dc.Label())

		dc.OnOpen(func() {
			robotChannel <- dc
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			robotMessages <- append([]byte(nil), msg.Data...)
		})
	})

	offer, err := op.CreateOffer()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)

	require.NoError(t, robot.SetRemoteDescription(offer))

	answer, err := robot.CreateAnswer(nil)
	require.NoError(t, err)

	// The operator gets the answer before the robot starts gathering.
	require.NoError(t, op.SetRemoteDescription(answer))

	robot.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			_ = op.AddICECandidate(c.ToJSON())
		}
	})
	require.NoError(t, robot.SetLocalDescription(answer))

	// Trickle the operator's candidates as they are reported.
	var trickled int32
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case c := <-h.candidates:
				if robot.AddICECandidate(c) == nil {
					atomic.AddInt32(&trickled, 1)
				}
			case <-done:
				return
			}
		}
	}()

	select {
	case <-h.opened:
	case <-time.After(loopbackTimeout):
		t.Fatal("data channel did not open")
	}

	var dc *webrtc.DataChannel
	select {
	case dc = <-robotChannel:
	case <-time.After(loopbackTimeout):
		t.Fatal("robot data channel did not open")
	}

	assert.Positive(t, atomic.LoadInt32(&trickled))

	// Operator to robot
	frame := control.NewEncoder(control.DefaultConfig()).Tick(control.InputSample{}).Frame.Message()

	data, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, op.Send(data))

	select {
	case got := <-robotMessages:
		var msg common.ControlMessage
		require.NoError(t, json.Unmarshal(got, &msg))
		assert.Equal(t, common.DataTypeControl, msg.Type)
		assert.Equal(t, 500, msg.Throttle)
		assert.Equal(t, 500, msg.Steering)
	case <-time.After(loopbackTimeout):
		t.Fatal("robot did not receive control frame")
	}

	// Robot to operator
	battery, err := json.Marshal(common.BatteryMessage{
		Type:     common.DataTypeBattery,
		VoltageA: 1250,
		VoltageB: 1180,
	})
	require.NoError(t, err)
	require.NoError(t, dc.SendText(string(battery)))

	select {
	case got := <-h.messages:
		dec := telemetry.NewDecoder()

		typ, err := dec.Decode(got)
		require.NoError(t, err)
		assert.Equal(t, common.DataTypeBattery, typ)

		snap := dec.Snapshot()
		require.NotNil(t, snap.Battery)
		assert.Equal(t, 12.5, snap.Battery.CellA)
		assert.Equal(t, 11.8, snap.Battery.CellB)
	case <-time.After(loopbackTimeout):
		t.Fatal("operator did not receive telemetry")
	}

	assert.Eventually(t, func() bool {
		for {
			select {
			case s := <-h.states:
				if s == webrtc.ICEConnectionStateConnected || s == webrtc.ICEConnectionStateCompleted {
					return true
				}
			default:
				return false
			}
		}
	}, loopbackTimeout, 10*time.Millisecond)
}

func TestLoggerFactoryUsesLogrus(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	l := NewLoggerFactory(logger).NewLogger("ice")
	l.Debugf("gathering %d candidates", 2)
	l.Trace("dropped")

	require.Len(t, hook.AllEntries(), 1)

	entry := hook.LastEntry()
	assert.Equal(t, logrus.DebugLevel, entry.Level)
	assert.Equal(t, "gathering 2 candidates", entry.Message)
	assert.Equal(t, "ice", entry.Data["scope"])
}
