package realtime

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatapp/models"
)

var (
	// tuning parameters
	writeWait      = 10 * time.Second    // time allowed to write a message to the peer
	pongWait       = 60 * time.Second    // time allowed to read the next pong message from the peer
	pingInterval   = (pongWait * 9) / 10 // send pings to peer with this period
	maxMessageSize = 64 * 1024           // max inbound message size (64KB)
	sendBufSize    = 256                 // per-connection outbound buffer size
)

// Conn is a websocket connection for one user. Outbound events go through
// a buffered egress channel drained by the write pump; when the buffer is
// full the connection is closed rather than blocking the sender.
type Conn struct {
	id     string
	userID string
	ws     *websocket.Conn
	egress chan models.WebSocketMessage
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewConn wraps ws for userID. Call Run to start pumping.
func NewConn(userID string, ws *websocket.Conn, logger *zap.Logger) *Conn {
	return newConn(userID, ws, sendBufSize, logger)
}

func newConn(userID string, ws *websocket.Conn, bufSize int, logger *zap.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Conn{
		id:     id,
		userID: userID,
		ws:     ws,
		egress: make(chan models.WebSocketMessage, bufSize),
		logger: logger.With(zap.String("conn_id", id), zap.String("user_id", userID)),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.userID }

// Done is closed once the connection has been closed.
func (c *Conn) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Deliver enqueues ev without blocking. A full buffer kicks the client.
func (c *Conn) Deliver(ev models.WebSocketMessage) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}

	select {
	case c.egress <- ev:
		return true
	default:
		c.logger.Warn("egress full, disconnecting client")
		c.Close()
		return false
	}
}

// Close stops both pumps. Safe to call more than once.
func (c *Conn) Close() {
	c.once.Do(c.cancel)
}

// Run starts the write pump and reads inbound events until the connection
// closes, passing each decoded event to onEvent.
func (c *Conn) Run(onEvent func(models.WebSocketMessage)) {
	go c.writePump()
	c.readPump(onEvent)
}

func (c *Conn) readPump(onEvent func(models.WebSocketMessage)) {
	defer c.Close()

	c.ws.SetReadLimit(int64(maxMessageSize))
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var ev models.WebSocketMessage
		if err := c.ws.ReadJSON(&ev); err != nil {
			c.logReadError(err)
			return
		}
		if ev.Type == "" {
			continue
		}
		onEvent(ev)
	}
}

func (c *Conn) logReadError(err error) {
	if c.ctx.Err() != nil {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Debug("client closed connection")
		return
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		c.logger.Info("client timed out")
		return
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
		c.logger.Warn("websocket read error", zap.Error(err))
		return
	}
	c.logger.Debug("websocket read ended", zap.Error(err))
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case ev := <-c.egress:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(ev); err != nil {
				c.logger.Warn("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}
