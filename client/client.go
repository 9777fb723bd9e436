package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/stv0g/robot-teleop/common"
	"github.com/stv0g/robot-teleop/metrics"
)

const (
	// Time allowed to write a message to the relay.
	writeWait = 10 * time.Second

	// Time to wait for the relay to acknowledge a close.
	closeWait = time.Second

	// Maximum message size accepted from the relay.
	maxMessageSize = 64 << 10

	defaultSignalingPath = "/connect"
)

// SignalingURL returns the relay URL carrying the client ID as query
// parameter.
func SignalingURL(endpoint, clientID string) (*url.URL, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid signaling URL %q: %w", endpoint, err)
	}

	if u.Path == "" || u.Path == "/" {
		u.Path = defaultSignalingPath
	}

	q := u.Query()
	q.Set("id", clientID)
	u.RawQuery = q.Encode()

	return u, nil
}

// SignalingClient is a duplex connection to the signaling relay.
// It does not reconnect on its own.
type SignalingClient struct {
	*websocket.Conn

	writeMu sync.Mutex

	done    chan struct{}
	closing chan struct{}
	closed  chan struct{}
	once    sync.Once
	started bool

	callbacks      []func(msg *common.SignalingMessage)
	closeCallbacks []func(err error)
}

func DialSignaling(ctx context.Context, u *url.URL) (*SignalingClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", u.Redacted(), err)
	}

	logrus.Infof("Connected to signaling relay: %s", u.Redacted())

	return NewSignalingClient(conn), nil
}

func NewSignalingClient(conn *websocket.Conn) *SignalingClient {
	return &SignalingClient{
		Conn:    conn,
		done:    make(chan struct{}),
		closing: make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

// OnSignalingMessage registers a callback for inbound messages. Callbacks
// must be registered before Start.
func (c *SignalingClient) OnSignalingMessage(cb func(msg *common.SignalingMessage)) {
	c.callbacks = append(c.callbacks, cb)
}

// OnClose registers a callback invoked once the connection is lost.
func (c *SignalingClient) OnClose(cb func(err error)) {
	c.closeCallbacks = append(c.closeCallbacks, cb)
}

// Start begins delivering messages to the registered callbacks.
func (c *SignalingClient) Start() {
	c.started = true

	go c.read()
	go c.run()
}

func (c *SignalingClient) SendSignalingMessage(msg *common.SignalingMessage) error {
	logrus.Debugf("Sending message: %s to %s", msg.Message, msg.To)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}

	return c.Conn.WriteJSON(msg)
}

func (c *SignalingClient) Close() error {
	c.once.Do(func() {
		close(c.closing)
	})

	if !c.started {
		return c.Conn.Close()
	}

	<-c.closed

	return nil
}

func (c *SignalingClient) read() {
	var err error

	defer func() {
		close(c.done)

		for _, cb := range c.closeCallbacks {
			cb(err)
		}
	}()

	c.Conn.SetReadLimit(maxMessageSize)

	for {
		var data []byte
		if _, data, err = c.Conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logrus.Info("Signaling connection closed")
				err = nil
			} else if !errors.Is(err, websocket.ErrCloseSent) {
				logrus.Errorf("Failed to read: %s", err)
			}
			return
		}

		msg, perr := common.ParseSignalingMessage(data)
		if perr != nil {
			logrus.WithError(perr).Warnf("Dropping malformed signaling message: %s", data)
			metrics.MalformedMessages.WithLabelValues("signaling").Inc()
			continue
		}

		logrus.Debugf("Received message: %s", data)

		for _, cb := range c.callbacks {
			cb(msg)
		}
	}
}

func (c *SignalingClient) run() {
	defer close(c.closed)
	defer c.Conn.Close()

	select {
	case <-c.done:
		return

	case <-c.closing:
		logrus.Info("Closing signaling connection")

		// Cleanly close the connection by sending a close message and then
		// waiting (with timeout) for the server to close the connection.
		err := c.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		if err != nil {
			logrus.Errorf("Write close: %s", err)
			return
		}

		select {
		case <-c.done:
		case <-time.After(closeWait):
		}
	}
}
