package websocket

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"sessionlink/pkg/interfaces"
	"sessionlink/pkg/types"
)

// Connection implements interfaces.Channel over a gorilla client conn
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no session logic in connection wrapper
type Connection struct {
	id           uint64
	conn         *websocket.Conn
	handler      interfaces.ChannelHandler
	writeCh      chan []byte
	writeTimeout time.Duration
	logger       *zap.Logger
	ctx          context.Context    // cancelled when the channel is torn down
	cancel       context.CancelFunc // for cleanup
	closeOnce    sync.Once
	local        atomic.Bool // set once Close is called; suppresses reporting
	startOnce    sync.Once
	readDone     chan struct{}
}

// NewConnection wraps an established conn. Inbound delivery waits for Start.
func NewConnection(id uint64, conn *websocket.Conn, handler interfaces.ChannelHandler, bufferSize int, writeTimeout time.Duration, logger *zap.Logger) *Connection {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           id,
		conn:         conn,
		handler:      handler,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		logger:       logger.With(zap.Uint64("channel", id)),
		ctx:          ctx,
		cancel:       cancel,
		readDone:     make(chan struct{}),
	}

	// Start the single writer goroutine
	go c.writeLoop()

	return c
}

// ID identifies the channel in logs
func (c *Connection) ID() uint64 {
	return c.id
}

// Start launches the read pump
func (c *Connection) Start() {
	c.startOnce.Do(func() {
		go c.readLoop()
	})
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.abort(err)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				// The read pump reports the failure once the socket is gone
				c.abort(err)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// readLoop maps gorilla read errors onto browser channel semantics:
// a close frame yields HandleClose(code), anything else yields
// HandleError followed by HandleClose(1006).
func (c *Connection) readLoop() {
	defer close(c.readDone)

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.reportReadError(err)
			return
		}
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			c.handler.HandleMessage(c, data)
		}
	}
}

func (c *Connection) reportReadError(err error) {
	if c.local.Load() {
		// Closed locally, nobody is waiting for this event
		return
	}
	c.cancel()
	_ = c.conn.Close()

	// TECHNICAL DISCOVERY: gorilla reports a dropped socket as CloseError 1006
	// even though no close frame arrived, so only other codes are peer closes
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure {
		c.logger.Debug("peer closed channel",
			zap.Int("code", closeErr.Code),
			zap.String("reason", types.DescribeCloseCode(closeErr.Code)))
		c.handler.HandleClose(c, closeErr.Code, closeErr.Text)
		return
	}

	c.logger.Debug("channel read failed", zap.Error(err))
	c.handler.HandleError(c, err)
	c.handler.HandleClose(c, types.CloseAbnormalClosure, "")
}

// abort drops the socket without a close frame. Later Sends fail at once and
// the read pump, now unblocked, reports the failure.
func (c *Connection) abort(err error) {
	if !c.local.Load() {
		c.logger.Debug("channel write failed", zap.Error(err))
	}
	c.cancel()
	_ = c.conn.Close()
}

// Send queues one text frame behind the writer goroutine
func (c *Connection) Send(data []byte) error {
	select {
	case <-c.ctx.Done():
		return interfaces.ErrChannelClosed
	default:
	}

	timer := time.NewTimer(c.writeTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return interfaces.ErrSendTimeout
	case <-c.ctx.Done():
		return interfaces.ErrChannelClosed
	}
}

// Close sends a close frame and releases the socket. Idempotent.
// ARCHITECTURAL DISCOVERY: Clean shutdown requires careful goroutine coordination
func (c *Connection) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.local.Store(true)
		alreadyDown := c.ctx.Err() != nil
		c.cancel()

		if !alreadyDown {
			// WriteControl may run concurrently with the writer goroutine
			msg := websocket.FormatCloseMessage(code, reason)
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
		}
		err = c.conn.Close()
		if alreadyDown {
			err = nil
		}
	})
	return err
}
