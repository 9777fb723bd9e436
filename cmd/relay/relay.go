package main

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/stv0g/robot-teleop/common"
)

// Relay forwards signaling messages between connected clients addressed by
// their ID.
type Relay struct {
	Created time.Time

	upgrader websocket.Upgrader

	connections      map[string]*Connection
	connectionsMutex sync.RWMutex
}

func NewRelay() *Relay {
	return &Relay{
		Created: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		connections: map[string]*Connection{},
	}
}

func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	id := req.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing id", http.StatusBadRequest)
		return
	}

	c, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		logrus.Errorf("Failed to upgrade: %s", err)
		return
	}

	conn := NewConnection(c, id, r)

	r.AddConnection(conn)
	conn.run()
}

// AddConnection registers c and replaces an older connection with the same
// ID.
func (r *Relay) AddConnection(c *Connection) {
	r.connectionsMutex.Lock()
	if old, ok := r.connections[c.ID]; ok {
		logrus.Warnf("Replacing connection of %s (%s)", old, old.Remote)
		old.Close()
	}
	r.connections[c.ID] = c
	r.connectionsMutex.Unlock()

	logrus.Infof("Connection opened: %s (%s)", c, c.Remote)

	metricConnectionsCreated.Inc()
	metricActiveConnections.Inc()

	r.SendPeerLists()
}

func (r *Relay) RemoveConnection(c *Connection) {
	r.connectionsMutex.Lock()
	cur, ok := r.connections[c.ID]
	if ok && cur == c {
		delete(r.connections, c.ID)
	}
	r.connectionsMutex.Unlock()

	metricActiveConnections.Dec()

	if ok && cur == c {
		logrus.Infof("Connection closed: %s", c)
		r.SendPeerLists()
	}
}

// SendPeerLists sends every client the IDs of all other clients.
func (r *Relay) SendPeerLists() {
	r.connectionsMutex.RLock()
	defer r.connectionsMutex.RUnlock()

	ids := r.ids()

	for _, c := range r.connections {
		others := make([]string, 0, len(ids))
		for _, id := range ids {
			if id != c.ID {
				others = append(others, id)
			}
		}

		if err := c.Send(common.NewPeersMessage(others)); err != nil {
			logrus.Warnf("Failed to send peer list to %s: %s", c, err)
		}
	}
}

// Route forwards an rtc message to its recipient. The sender gets a
// failure in reply if the recipient is unknown.
func (r *Relay) Route(msg *relayMessage) {
	msg.CollectMetrics()

	if msg.Type != common.MessageTypeRTC {
		logrus.Warnf("Ignoring %s message from %s", msg.Type, msg.Sender)
		return
	}

	out := *msg.SignalingMessage
	out.From = msg.Sender.ID

	r.connectionsMutex.RLock()
	dst, ok := r.connections[out.To]
	r.connectionsMutex.RUnlock()

	if !ok || dst == msg.Sender {
		metricMessagesUndeliverable.Inc()

		logrus.Warnf("Cannot deliver %s from %s: unknown peer %q", out.Message, out.From, out.To)

		// Never answer a failure with a failure.
		if out.Message.Failure {
			return
		}

		reply := common.NewRelayMessage(msg.Sender.ID, common.FailurePayload())
		reply.From = out.To

		if err := msg.Sender.Send(reply); err != nil {
			logrus.Warnf("Failed to send failure to %s: %s", msg.Sender, err)
		}
		return
	}

	logrus.Infof("Forwarding %s from %s to %s", out.Message, out.From, out.To)

	if err := dst.Send(&out); err != nil {
		logrus.Warnf("Failed to forward to %s: %s", dst, err)
	}
}

// Peers returns the connected clients ordered by ID.
func (r *Relay) Peers() []*Connection {
	r.connectionsMutex.RLock()
	defer r.connectionsMutex.RUnlock()

	conns := make([]*Connection, 0, len(r.connections))
	for _, id := range r.ids() {
		conns = append(conns, r.connections[id])
	}

	return conns
}

func (r *Relay) Close() error {
	r.connectionsMutex.Lock()
	defer r.connectionsMutex.Unlock()

	for _, c := range r.connections {
		if err := c.Close(); err != nil {
			return err
		}
	}

	return nil
}

// ids must be called with connectionsMutex held.
func (r *Relay) ids() []string {
	ids := make([]string, 0, len(r.connections))
	for id := range r.connections {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}
