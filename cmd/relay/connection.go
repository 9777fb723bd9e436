package main

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/stv0g/robot-teleop/common"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 << 10

	// Outbound messages queued per connection.
	sendQueueSize = 64
)

var errQueueFull = errors.New("send queue full")

type Connection struct {
	*websocket.Conn

	ID      string
	Remote  string
	Created time.Time

	relay *Relay

	messages chan *common.SignalingMessage
	done     chan struct{}
	once     sync.Once
}

func NewConnection(conn *websocket.Conn, id string, relay *Relay) *Connection {
	return &Connection{
		Conn:     conn,
		ID:       id,
		Remote:   conn.RemoteAddr().String(),
		Created:  time.Now(),
		relay:    relay,
		messages: make(chan *common.SignalingMessage, sendQueueSize),
		done:     make(chan struct{}),
	}
}

func (c *Connection) String() string {
	return c.ID
}

func (c *Connection) run() {
	go c.read()
	go c.write()
}

// Send queues a message without blocking.
func (c *Connection) Send(msg *common.SignalingMessage) error {
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}

	select {
	case c.messages <- msg:
		return nil
	default:
		return errQueueFull
	}
}

// Close stops the write pump which sends a close frame and closes the
// connection.
func (c *Connection) Close() error {
	c.once.Do(func() {
		close(c.done)
	})

	return nil
}

func (c *Connection) read() {
	defer func() {
		c.relay.RemoveConnection(c)
		c.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.Errorf("Error: %v", err)
			}
			break
		}

		logrus.Debugf("Read message from %s: %s", c, data)

		msg, err := common.ParseSignalingMessage(data)
		if err != nil {
			logrus.WithError(err).Warnf("Dropping malformed message from %s", c)
			metricMalformedMessages.Inc()
			continue
		}

		c.relay.Route(&relayMessage{
			SignalingMessage: msg,
			Sender:           c,
		})
	}
}

func (c *Connection) write() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		logrus.Infof("Connection closing: %s (%s)", c, c.Remote)

		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case msg := <-c.messages:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := c.Conn.WriteJSON(msg); err != nil {
				logrus.Errorf("Failed to send message to %s: %s", c, err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))

			logrus.Debug("Ping")
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logrus.Errorf("Failed to ping: %s", err)
				return
			}

		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))

			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := c.Conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
				logrus.Debugf("Failed to send close message: %s", err)
			}
			return
		}
	}
}
