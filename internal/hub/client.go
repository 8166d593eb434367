package hub

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/harmonicarena/roomsrv/internal/apperr"
	"github.com/harmonicarena/roomsrv/internal/logging"
	"github.com/harmonicarena/roomsrv/internal/ports"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// envelope is the wire message shape for every direction: clients send
// {"event": rpcName, "data": rpcArgs}, the hub sends {"event":
// eventKind, "data": eventPayload}.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Client represents one authenticated WebSocket connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID ports.UserID

	mu     sync.Mutex
	roomID ports.RoomID
	joined bool

	send      chan []byte
	closeOnce sync.Once
}

func (c *Client) setRoom(id ports.RoomID) {
	c.mu.Lock()
	c.roomID = id
	c.joined = true
	c.mu.Unlock()
}

func (c *Client) clearRoom() {
	c.mu.Lock()
	c.joined = false
	c.mu.Unlock()
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
		c.conn.Close()
	})
}

func (c *Client) sendEvent(event string, payload any) {
	ctx := context.Background()

	data, err := json.Marshal(payload)
	if err != nil {
		logging.Error(ctx, "failed to marshal event payload", zap.String("event", event), zap.Error(err))
		return
	}
	frame, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logging.Warn(ctx, "recovered sending to closed client", zap.Uint64("userID", uint64(c.userID)))
		}
	}()

	select {
	case c.send <- frame:
	default:
		logging.Warn(ctx, "client send buffer full, dropping event", zap.Uint64("userID", uint64(c.userID)), zap.String("event", event))
	}
}

func (c *Client) sendError(requestID string, err error) {
	c.sendEvent("error", map[string]string{
		"request_id": requestID,
		"code":       string(apperr.WireCode(err)),
		"error":      err.Error(),
	})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg envelope
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("", err)
			continue
		}

		if c.hub.rateLimiter != nil {
			userIDStr := strconv.FormatUint(uint64(c.userID), 10)
			if err := c.hub.rateLimiter.CheckMessage(context.Background(), userIDStr); err != nil {
				c.sendError(msg.Event, err)
				continue
			}
		}

		c.hub.dispatch(c, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
