package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stv0g/robot-teleop/common"
)

func dial(t *testing.T, srv *httptest.Server, id string) *websocket.Conn {
	t.Helper()

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + connectPath + "?id=" + id

	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}

func read(t *testing.T, conn *websocket.Conn) *common.SignalingMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	msg, err := common.ParseSignalingMessage(data)
	require.NoError(t, err)

	return msg
}

// expectPeers reads until a peer list equal to want arrives.
func expectPeers(t *testing.T, conn *websocket.Conn, want ...string) {
	t.Helper()

	if want == nil {
		want = []string{}
	}

	for {
		msg := read(t, conn)
		if msg.Type == common.MessageTypePeers && assert.ObjectsAreEqual(want, msg.PeerIDs) {
			return
		}
	}
}

func TestRelayPeerListsAndRouting(t *testing.T) {
	srv := httptest.NewServer(newMux(NewRelay()))
	defer srv.Close()

	op := dial(t, srv, "op")
	expectPeers(t, op)

	robot := dial(t, srv, "robot-1")
	expectPeers(t, robot, "op")
	expectPeers(t, op, "robot-1")

	offer := common.NewRelayMessage("robot-1", common.DescriptionPayload(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  "v=0\r\n",
	}))
	require.NoError(t, op.WriteJSON(offer))

	msg := read(t, robot)
	assert.Equal(t, common.MessageTypeRTC, msg.Type)
	assert.Equal(t, "op", msg.From)
	require.NotNil(t, msg.Message.Description)
	assert.Equal(t, webrtc.SDPTypeOffer, msg.Message.Description.Type)

	require.NoError(t, robot.WriteJSON(common.NewRelayMessage("op", common.CandidatePayload(webrtc.ICECandidateInit{
		Candidate: "candidate:1 1 udp 2130706431 10.0.0.2 5000 typ host",
	}))))

	msg = read(t, op)
	assert.Equal(t, "robot-1", msg.From)
	require.NotNil(t, msg.Message.Candidate)

	robot.Close()
	expectPeers(t, op)
}

func TestRelayRepliesFailureForUnknownPeer(t *testing.T) {
	srv := httptest.NewServer(newMux(NewRelay()))
	defer srv.Close()

	op := dial(t, srv, "op")
	expectPeers(t, op)

	require.NoError(t, op.WriteJSON(common.NewRelayMessage("ghost", common.DescriptionPayload(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  "v=0\r\n",
	}))))

	msg := read(t, op)
	assert.Equal(t, "ghost", msg.From)
	require.NotNil(t, msg.Message)
	assert.True(t, msg.Message.Failure)
}

func TestRelayDropsMalformedMessages(t *testing.T) {
	srv := httptest.NewServer(newMux(NewRelay()))
	defer srv.Close()

	op := dial(t, srv, "op")
	expectPeers(t, op)

	robot := dial(t, srv, "robot-1")
	expectPeers(t, op, "robot-1")
	expectPeers(t, robot, "op")

	require.NoError(t, op.WriteMessage(websocket.TextMessage, []byte(`{"type":"rtc","to":"robot-1"}`)))
	require.NoError(t, op.WriteJSON(common.NewRelayMessage("robot-1", common.FailurePayload())))

	// Only the well-formed message arrives.
	msg := read(t, robot)
	assert.Equal(t, "op", msg.From)
	assert.True(t, msg.Message.Failure)
}

func TestRelayReplacesConnectionWithSameID(t *testing.T) {
	relay := NewRelay()
	srv := httptest.NewServer(newMux(relay))
	defer srv.Close()

	first := dial(t, srv, "op")
	expectPeers(t, first)

	second := dial(t, srv, "op")
	expectPeers(t, second)

	// The first connection is closed by the relay.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	require.Eventually(t, func() bool {
		peers := relay.Peers()
		return len(peers) == 1 && peers[0].ID == "op"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRelayRequiresID(t *testing.T) {
	srv := httptest.NewServer(newMux(NewRelay()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + connectPath)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRelayAPI(t *testing.T) {
	srv := httptest.NewServer(newMux(NewRelay()))
	defer srv.Close()

	op := dial(t, srv, "op")
	expectPeers(t, op)

	resp, err := http.Get(srv.URL + "/api/v1/peers")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Peers, 1)
	assert.Equal(t, "op", body.Peers[0].ID)

	health, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer health.Body.Close()

	b, err := io.ReadAll(health.Body)
	require.NoError(t, err)
	assert.Equal(t, "OK", string(b))
}
