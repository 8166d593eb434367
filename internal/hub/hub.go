// Package hub is the dispatch surface (C8): it authenticates incoming
// WebSocket connections, translates wire RPCs into C3-C7 room
// operations performed under a single Usage, and fans out the events
// those operations emit to the room group or the gameplay subgroup.
package hub

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/harmonicarena/roomsrv/internal/auth"
	"github.com/harmonicarena/roomsrv/internal/bus"
	"github.com/harmonicarena/roomsrv/internal/logging"
	"github.com/harmonicarena/roomsrv/internal/metrics"
	"github.com/harmonicarena/roomsrv/internal/ports"
	"github.com/harmonicarena/roomsrv/internal/ratelimit"
	"github.com/harmonicarena/roomsrv/internal/room"
	"github.com/harmonicarena/roomsrv/internal/spectator"
)

// TokenValidator is the narrow capability the hub needs from the auth
// package to authenticate an incoming connection.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.CustomClaims, error)
}

// Hub is the central coordinator: it owns the room registry, the
// countdown manager, and the directory of locally-connected clients.
type Hub struct {
	registry    *room.Registry
	countdowns  *room.Manager
	db          ports.DatabaseAccess
	spectators  *spectator.Tracker
	validator   TokenValidator
	bus         *bus.Service
	rateLimiter *ratelimit.RateLimiter
	log         *zap.Logger
	devMode     bool

	mu        sync.Mutex
	directory map[ports.UserID]*Client
}

// New constructs a Hub. rateLimiter and bus may be nil (rate limiting
// and cross-pod fanout are both optional). The spectator tracker has a
// circular dependency on the Hub (it needs the Hub as its Notifier) and
// must be supplied afterward via SetSpectators.
func New(
	registry *room.Registry,
	db ports.DatabaseAccess,
	validator TokenValidator,
	busService *bus.Service,
	rateLimiter *ratelimit.RateLimiter,
	devMode bool,
) *Hub {
	return &Hub{
		registry:    registry,
		countdowns:  room.NewManager(registry),
		db:          db,
		validator:   validator,
		bus:         busService,
		rateLimiter: rateLimiter,
		log:         logging.GetLogger(),
		devMode:     devMode,
		directory:   make(map[ports.UserID]*Client),
	}
}

// SetSpectators wires the spectator tracker in after both it and the Hub
// have been constructed, breaking their constructor cycle.
func (h *Hub) SetSpectators(s *spectator.Tracker) {
	h.spectators = s
}

// GetRoom satisfies room.HubContext so match-type strategies can inspect
// a sibling room without a back-pointer to the hub itself.
func (h *Hub) GetRoom(roomID ports.RoomID) *room.Room {
	u, err := h.registry.GetForUse(context.Background(), roomID)
	if err != nil {
		return nil
	}
	defer u.Release()
	return u.Room()
}

// NotifyRoomUpdated satisfies room.HubContext.
func (h *Hub) NotifyRoomUpdated(roomID ports.RoomID) {
	h.broadcastRoom(roomID, room.EventRoomUpdated, nil, nil)
}

// NotifyBeganPlaying and NotifyFinishedPlaying satisfy spectator.Notifier.
// Both are sent to every locally-connected client regardless of room,
// since spectators may be watching from outside the player's room view.
func (h *Hub) NotifyBeganPlaying(userID ports.UserID) {
	h.broadcastAll("user_began_playing", map[string]uint64{"user_id": uint64(userID)})
}

func (h *Hub) NotifyFinishedPlaying(userID ports.UserID, reason spectator.EndReason) {
	h.broadcastAll("user_finished_playing", map[string]any{"user_id": uint64(userID), "reason": reason})
}

// BroadcastBeatmapSetsUpdated satisfies broadcaster.Fanout.
func (h *Hub) BroadcastBeatmapSetsUpdated(update *ports.BeatmapSetUpdate) {
	h.broadcastAll("beatmap_sets_updated", update)
}

func (h *Hub) broadcastAll(event string, payload any) {
	h.mu.Lock()
	targets := make([]*Client, 0, len(h.directory))
	for _, c := range h.directory {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.sendEvent(event, payload)
	}
}

// ServeWs authenticates the caller and upgrades the connection.
func (h *Hub) ServeWs(c *gin.Context) {
	if h.rateLimiter != nil && !h.rateLimiter.CheckWebSocketConnect(c) {
		return
	}

	token, err := extractToken(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token not provided"})
		return
	}

	claims, err := h.validator.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	userID, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid subject claim"})
		return
	}

	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	if err := validateOrigin(c.Request, allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	conn, err := h.upgrade(c, allowedOrigins)
	if err != nil {
		logging.Error(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		userID: ports.UserID(userID),
		send:   make(chan []byte, 256),
	}

	h.mu.Lock()
	h.directory[client.userID] = client
	h.mu.Unlock()

	metrics.IncConnection()

	go client.writePump()
	go client.readPump()
}

func (h *Hub) upgrade(c *gin.Context, allowedOrigins []string) (*websocket.Conn, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, allowedOrigins) == nil
		},
		WriteBufferPool: &sync.Pool{
			New: func() any { return make([]byte, 4096) },
		},
	}
	return upgrader.Upgrade(c.Writer, c.Request, nil)
}

func extractToken(c *gin.Context) (string, error) {
	if t := c.Query("access_token"); t != "" {
		return t, nil
	}
	header := c.GetHeader("Sec-WebSocket-Protocol")
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part != "" && part != "access_token" {
			return part, nil
		}
	}
	return "", fmt.Errorf("token not provided")
}

func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin URL: %w", err)
	}

	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

// unregister removes the client from the directory and, if it was in a
// room, runs it through LeaveRoom.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.directory, c.userID)
	roomID := c.roomID
	inRoom := c.joined
	h.mu.Unlock()

	metrics.DecConnection()
	if h.spectators != nil {
		h.spectators.HandleDisconnect(c.userID)
	}

	if !inRoom {
		return
	}

	u, err := h.registry.GetForUse(context.Background(), roomID)
	if err != nil {
		return
	}
	sink := &fanoutSink{hub: h, usage: u}
	if err := room.LeaveRoom(u, sink, c.userID); err == nil && len(u.Room().Users) == 0 {
		if err := h.db.MarkRoomEnded(context.Background(), roomID, time.Now().UnixNano()); err != nil {
			logging.Error(context.Background(), "failed to mark room ended", zap.Uint64("roomID", uint64(roomID)), zap.Error(err))
		}
	}
	u.Release()
}

// broadcastRoom sends an event to every client currently connected for
// roomID that this pod owns, and mirrors it to other pods over the bus.
func (h *Hub) broadcastRoom(roomID ports.RoomID, kind room.EventKind, recipients []ports.UserID, payload any) {
	h.mu.Lock()
	var targets []*Client
	for _, c := range h.directory {
		if c.joined && c.roomID == roomID {
			if recipients == nil || containsUser(recipients, c.userID) {
				targets = append(targets, c)
			}
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.sendEvent(string(kind), payload)
	}

	if h.bus != nil {
		roleFilter := []string(nil)
		_ = h.bus.Publish(context.Background(), uint64(roomID), string(kind), payload, 0, roleFilter)
	}
}

func containsUser(ids []ports.UserID, id ports.UserID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Shutdown closes every locally-connected client, which drives each
// through LeaveRoom via the read pump's disconnect handling.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.directory))
	for _, c := range h.directory {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		remaining := len(h.directory)
		h.mu.Unlock()
		if remaining == 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}
