package signaling

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/meetworks/sightline/pkg/common"
	"github.com/sirupsen/logrus"
)

var ErrChannelClosed = errors.New("signaling channel is closed")

const writeTimeout = 5 * time.Second

// Options for the signaling connection.
type Options struct {
	// WebSocket URL of the relay.
	URL string
	// How often to ping the relay. Zero disables the keepalive.
	PingInterval time.Duration
	// After which time without a pong the connection is considered dead.
	PingTimeout time.Duration
}

// Channel is the duplex signaling connection to the relay. Outbound messages
// are queued and written in order by a single writer goroutine; inbound
// messages are decoded and delivered on Incoming in arrival order. Any
// transport failure closes the channel for good: the session treats that as
// fatal and there is no automatic reconnect.
type Channel struct {
	logger *logrus.Entry
	conn   *websocket.Conn

	outbound chan []byte
	incoming chan Message
	done     chan struct{}
	flushed  chan struct{}
	pong     chan<- common.Pong

	closeOnce sync.Once
}

// Connect dials the relay and starts the read/write pumps.
func Connect(options Options, logger *logrus.Entry) (*Channel, error) {
	conn, _, err := websocket.DefaultDialer.Dial(options.URL, nil)
	if err != nil {
		return nil, err
	}

	c := &Channel{
		logger:   logger,
		conn:     conn,
		outbound: make(chan []byte, common.UnboundedChannelSize),
		incoming: make(chan Message, common.UnboundedChannelSize),
		done:     make(chan struct{}),
		flushed:  make(chan struct{}),
	}

	if options.PingInterval > 0 {
		heartbeat := common.Heartbeat{
			Interval:  options.PingInterval,
			Timeout:   options.PingTimeout,
			SendPing:  c.sendPing,
			OnTimeout: func() { c.fail(errors.New("relay stopped responding to pings")) },
		}
		c.pong = heartbeat.Start()
		conn.SetPongHandler(func(string) error {
			c.pong <- common.Pong{}
			return nil
		})
	}

	go c.readPump()
	go c.writePump()

	return c, nil
}

// Send queues a message for transmission. Messages are written in the exact
// order they were sent, which the negotiation protocol depends on.
func (c *Channel) Send(message Message) error {
	data, err := Marshal(message)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrChannelClosed
	case c.outbound <- data:
		return nil
	}
}

// Incoming is the stream of decoded messages from the relay. The channel is
// closed once the connection dies.
func (c *Channel) Incoming() <-chan Message {
	return c.incoming
}

// Done is closed when the transport has failed or Close was called.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close tears the connection down cleanly. Queued outbound messages are
// flushed first, so a final leave still reaches the relay. Safe to call
// from any state, any number of times.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.done)

		select {
		case <-c.flushed:
		case <-time.After(writeTimeout):
		}

		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout),
		)
		c.conn.Close()
	})
}

func (c *Channel) fail(err error) {
	c.closeOnce.Do(func() {
		c.logger.WithError(err).Error("signaling channel failed")
		close(c.done)
		c.conn.Close()
	})
}

func (c *Channel) sendPing() bool {
	err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
	return err == nil
}

func (c *Channel) readPump() {
	defer close(c.incoming)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}

		message, err := Unmarshal(data)
		if err != nil {
			// A malformed frame is a protocol violation, not a transport
			// failure. Skip it and keep reading.
			c.logger.WithError(err).Warn("dropping malformed signaling message")
			continue
		}

		select {
		case <-c.done:
			return
		case c.incoming <- message:
		}
	}
}

func (c *Channel) writePump() {
	defer close(c.flushed)

	for {
		select {
		case <-c.done:
			c.drainOutbound()
			return
		case data := <-c.outbound:
			if err := c.write(data); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

// Writes whatever was queued before the channel was closed. On a failed
// transport the writes error out immediately and the rest is dropped.
func (c *Channel) drainOutbound() {
	for {
		select {
		case data := <-c.outbound:
			if c.write(data) != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Channel) write(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
