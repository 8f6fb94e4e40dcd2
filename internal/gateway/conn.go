package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/codest0411/OneWise-b/internal/identity"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 70 * time.Second
	pingPeriod = 25 * time.Second

	sendBuffer = 64
)

// outbound is the wire shape for every server-to-client frame.
type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	Ack   *int64 `json:"ack,omitempty"`
}

// Conn wraps one websocket with its authenticated identity. Writes are
// serialized through a single writer goroutine; Send never blocks the caller
// past a full buffer, it drops instead (fire and forget).
type Conn struct {
	id     string
	user   identity.User
	ws     *websocket.Conn
	logger zerolog.Logger

	sendCh    chan outbound
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newConn(id string, user identity.User, ws *websocket.Conn, logger zerolog.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:     id,
		user:   user,
		ws:     ws,
		logger: logger,
		sendCh: make(chan outbound, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
	go c.writeLoop()
	return c
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.user.ID }

// Send queues an event frame for delivery.
func (c *Conn) Send(event string, payload any) {
	c.enqueue(outbound{Event: event, Data: payload})
}

// sendAck answers an inbound frame that asked for an acknowledgment.
func (c *Conn) sendAck(ackID int64, ok bool, message string) {
	data := map[string]any{"ok": ok}
	if message != "" {
		data["message"] = message
	}
	c.enqueue(outbound{Event: "ack", Ack: &ackID, Data: data})
}

func (c *Conn) enqueue(frame outbound) {
	select {
	case c.sendCh <- frame:
	case <-c.ctx.Done():
	default:
		c.logger.Warn().Str("event", frame.Event).Str("user_id", c.user.ID).Msg("send buffer full, frame dropped")
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.sendCh:
			data, err := json.Marshal(frame)
			if err != nil {
				c.logger.Error().Err(err).Str("event", frame.Event).Msg("encode frame")
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.cancel()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Close tears the connection down exactly once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.ws.Close()
	})
}
