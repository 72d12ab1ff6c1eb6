// Package realtime maintains the client's persistent socket channel: one
// connection per authenticated session, joined to the user's personal room
// and to at most one conversation room at a time. Delivery guarantees are
// the transport's responsibility; the channel only routes events.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

var ErrNotConnected = errors.New("realtime: not connected")

// Handler receives an event's raw payload. Handlers run on the read loop,
// so event order is preserved; they must not block.
type Handler func(data json.RawMessage)

type Channel struct {
	url    string
	logger logrus.FieldLogger

	mu       sync.Mutex
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	handlers map[string]map[int]Handler
	nextID   int
}

func NewChannel(socketURL string, logger logrus.FieldLogger) *Channel {
	return &Channel{
		url:      socketURL,
		logger:   logger,
		handlers: make(map[string]map[int]Handler),
	}
}

// Connect dials the socket endpoint and starts the read/write loops.
// The bearer token authenticates the connection.
func (c *Channel) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.url, err)
	}

	c.conn = conn
	c.send = make(chan []byte, sendBuffer)
	c.done = make(chan struct{})

	go c.readLoop(conn, c.done)
	go c.writeLoop(conn, c.send, c.done)
	return nil
}

// Close tears the connection down. Safe to call when not connected.
func (c *Channel) Close() {
	c.mu.Lock()
	conn := c.conn
	done := c.done
	c.conn = nil
	c.send = nil
	c.done = nil
	c.mu.Unlock()

	if conn == nil {
		return
	}
	close(done)
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	_ = conn.Close()
}

func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Channel) JoinRoom(roomID string) error {
	return c.Emit(EventJoinRoom, roomRef{RoomID: roomID})
}

func (c *Channel) LeaveRoom(roomID string) error {
	return c.Emit(EventLeaveRoom, roomRef{RoomID: roomID})
}

func (c *Channel) JoinUserRoom(userID string) error {
	return c.Emit(EventJoinUserRoom, userRoomRef{UserID: userID})
}

// SendRoomMessage notifies the peer of an already-persisted message.
func (c *Channel) SendRoomMessage(msg RoomMessage) error {
	return c.Emit(EventPrivateRoomChat, msg)
}

// Emit queues one event frame for delivery. A full send buffer means the
// connection has stalled; the frame is dropped with an error rather than
// blocking the caller.
func (c *Channel) Emit(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", event, err)
	}
	frame, err := json.Marshal(envelope{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("encoding %s frame: %w", event, err)
	}

	c.mu.Lock()
	send, done := c.send, c.done
	c.mu.Unlock()
	if send == nil {
		return ErrNotConnected
	}

	select {
	case send <- frame:
		return nil
	case <-done:
		return ErrNotConnected
	default:
		return fmt.Errorf("emit %s: send buffer full", event)
	}
}

// On registers a handler for the named event and returns its unsubscribe
// function. Teardown is deterministic: after unsubscribe returns, the
// handler is never invoked again.
func (c *Channel) On(event string, fn Handler) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]Handler)
	}
	c.handlers[event][id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.handlers[event], id)
		c.mu.Unlock()
	}
}

// OnRoomMessage registers a typed handler for privateRoomChat events.
func (c *Channel) OnRoomMessage(fn func(RoomMessage)) func() {
	return c.On(EventPrivateRoomChat, func(data json.RawMessage) {
		var msg RoomMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.WithError(err).Warn("dropping malformed privateRoomChat payload")
			return
		}
		fn(msg)
	})
}

// OnNewConversation registers a typed handler for newConversationWithMessage.
func (c *Channel) OnNewConversation(fn func(NewConversation)) func() {
	return c.On(EventNewConversation, func(data json.RawMessage) {
		var event NewConversation
		if err := json.Unmarshal(data, &event); err != nil {
			c.logger.WithError(err).Warn("dropping malformed newConversationWithMessage payload")
			return
		}
		fn(event)
	})
}

func (c *Channel) readLoop(conn *websocket.Conn, done chan struct{}) {
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
			default:
				c.logger.WithError(err).Debug("socket read loop ended")
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			c.logger.WithError(err).Warn("dropping malformed socket frame")
			continue
		}
		c.dispatch(env)
	}
}

func (c *Channel) dispatch(env envelope) {
	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.handlers[env.Event]))
	for _, fn := range c.handlers[env.Event] {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(env.Data)
	}
}

func (c *Channel) writeLoop(conn *websocket.Conn, send chan []byte, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case frame := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.WithError(err).Debug("socket write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
