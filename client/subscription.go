package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatapp/models"
)

// EventHandler consumes realtime events.
type EventHandler interface {
	HandleEvent(ev models.WebSocketMessage)
}

var (
	errNotConnected = errors.New("realtime channel not connected")
	// ErrUnauthorized is returned by Run when the server rejects the token.
	ErrUnauthorized = errors.New("realtime channel rejected session token")
)

// Subscription keeps one websocket open for the lifetime of a session,
// redialing with exponential backoff whenever it drops.
type Subscription struct {
	url     string
	token   string
	handler EventHandler
	dialer  *websocket.Dialer
	logger  *zap.Logger

	// OnConnect, when set, runs after every successful dial. Events missed
	// while disconnected are only recoverable by refetching.
	OnConnect func(ctx context.Context)

	initialInterval time.Duration
	maxInterval     time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewSubscription(url, token string, handler EventHandler, logger *zap.Logger) *Subscription {
	return &Subscription{
		url:             url,
		token:           token,
		handler:         handler,
		dialer:          &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:          logger,
		initialInterval: 500 * time.Millisecond,
		maxInterval:     30 * time.Second,
	}
}

func (s *Subscription) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialInterval
	b.MaxInterval = s.maxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(b, ctx)
}

// Run dials, pumps events into the handler, and redials until ctx is done.
func (s *Subscription) Run(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.token)

	for {
		var (
			conn     *websocket.Conn
			rejected bool
		)
		dial := func() error {
			c, resp, err := s.dialer.DialContext(ctx, s.url, header)
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
			if err != nil {
				if resp != nil && resp.StatusCode == http.StatusUnauthorized {
					rejected = true
					return nil
				}
				return err
			}
			conn = c
			return nil
		}
		notify := func(err error, wait time.Duration) {
			s.logger.Warn("realtime dial failed", zap.Duration("retry_in", wait), zap.Error(err))
		}

		if err := backoff.RetryNotify(dial, s.newBackOff(ctx), notify); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if rejected {
			return ErrUnauthorized
		}

		s.setConn(conn)
		s.logger.Info("realtime channel connected")
		if s.OnConnect != nil {
			s.OnConnect(ctx)
		}

		s.readLoop(ctx, conn)
		s.setConn(nil)

		if ctx.Err() != nil {
			return nil
		}
		s.logger.Info("realtime channel dropped, reconnecting")
	}
}

func (s *Subscription) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			s.mu.Unlock()
			_ = conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		var ev models.WebSocketMessage
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.logger.Warn("realtime read failed", zap.Error(err))
			}
			return
		}
		s.handler.HandleEvent(ev)
	}
}

func (s *Subscription) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
}

// SendTyping tells recipientID whether this user is typing.
func (s *Subscription) SendTyping(recipientID string, typing bool) error {
	ev, err := models.NewEvent(models.EventTyping, models.TypingPayload{RecipientID: recipientID, Typing: typing})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return errNotConnected
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteJSON(ev)
}
