package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/meetworks/sightline/pkg/common"
	"github.com/meetworks/sightline/pkg/signaling"
	"github.com/sirupsen/logrus"
)

const connectionWriteTimeout = 5 * time.Second

// connection wraps one client WebSocket. Outbound messages are queued and
// written in order by a single writer goroutine. A watchdog tears the
// connection down when the client goes silent for too long, so a dead socket
// never keeps a ghost participant in the meeting.
type connection struct {
	logger *logrus.Entry
	ws     *websocket.Conn

	outbound chan []byte
	done     chan struct{}
	watchdog *common.Watchdog

	closeOnce sync.Once
}

func newConnection(ws *websocket.Conn, clientTimeout time.Duration, logger *logrus.Entry) *connection {
	c := &connection{
		logger:   logger,
		ws:       ws,
		outbound: make(chan []byte, common.UnboundedChannelSize),
		done:     make(chan struct{}),
	}

	c.watchdog = common.NewWatchdog(clientTimeout, func() {
		logger.Warn("client went silent, dropping the connection")
		c.close()
	})
	c.watchdog.Start()

	// Pings count as liveness just like data frames. Gorilla answers them
	// with pongs on its own.
	pingHandler := ws.PingHandler()
	ws.SetPingHandler(func(data string) error {
		c.watchdog.Notify()
		return pingHandler(data)
	})

	go c.writePump()

	return c
}

// send queues a message for the client. Errors are confined to encoding; a
// dead connection just drops the message, the read loop notices separately.
func (c *connection) send(message signaling.Message) {
	data, err := signaling.Marshal(message)
	if err != nil {
		c.logger.WithError(err).Error("failed to marshal outbound message")
		return
	}

	select {
	case <-c.done:
	case c.outbound <- data:
	}
}

// readLoop delivers inbound messages to the handler, in arrival order, on the
// caller's goroutine. Returns when the connection dies. Malformed frames are
// skipped, transport errors are fatal.
func (c *connection) readLoop(handler func(signaling.Message)) {
	defer c.close()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Warn("client connection failed")
			}
			return
		}

		c.watchdog.Notify()

		message, err := signaling.Unmarshal(data)
		if err != nil {
			c.logger.WithError(err).Warn("skipping malformed signaling message")
			continue
		}

		handler(message)
	}
}

func (c *connection) closed() <-chan struct{} {
	return c.done
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.watchdog.Close()
		c.ws.Close()
	})
}

func (c *connection) writePump() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.outbound:
			c.ws.SetWriteDeadline(time.Now().Add(connectionWriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.WithError(err).Warn("failed to write to client")
				c.close()
				return
			}
		}
	}
}
