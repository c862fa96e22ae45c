// Package realtime carries battle events between websocket clients and the
// battle coordinator.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"codebattle/internal/apperr"
	"codebattle/internal/events"
	"codebattle/internal/models"
	"codebattle/internal/service"
)

// Coordinator is the battle API the hub forwards client events to.
type Coordinator interface {
	Create(ctx context.Context, in service.RoomSettings, creatorID string) (*models.Room, error)
	Join(ctx context.Context, roomID, userID string) (*models.Room, error)
	Leave(ctx context.Context, roomID, userID string) (*models.Room, error)
	RemoveMember(ctx context.Context, roomID, actorID, targetID string) (*models.Room, error)
	Delete(ctx context.Context, roomID, actorID string) error
	Disconnect(ctx context.Context, roomID, userID string)
}

type Config struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	SendBuffer     int
	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     256,
		RequestTimeout: 30 * time.Second,
	}
}

// binding ties a connection to the room it is watching.
type binding struct {
	roomID string
	userID string
}

type Hub struct {
	cfg    Config
	coord  Coordinator
	logger *slog.Logger

	mu       sync.RWMutex
	clients  map[uuid.UUID]*client
	sessions map[uuid.UUID]binding
	rooms    map[string]map[uuid.UUID]struct{}
}

func NewHub(cfg Config, logger *slog.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger.With("component", "realtime"),
		clients:  make(map[uuid.UUID]*client),
		sessions: make(map[uuid.UUID]binding),
		rooms:    make(map[string]map[uuid.UUID]struct{}),
	}
}

// Attach sets the coordinator. It must be called before Serve.
func (h *Hub) Attach(coord Coordinator) {
	h.coord = coord
}

// Serve runs the connection of an authenticated user until it closes.
func (h *Hub) Serve(conn *websocket.Conn, userID string) {
	c := &client{
		id:     uuid.New(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, h.cfg.SendBuffer),
		hub:    h,
	}
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump()
}

// Connections returns the number of open connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every connection.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
	h.logger.Debug("client connected", "conn_id", c.id, "user_id", c.userID)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	b, bound := h.sessions[c.id]
	h.unbindLocked(c.id)
	delete(h.clients, c.id)
	close(c.send)
	lastInRoom := bound && !h.userInRoomLocked(b.roomID, b.userID)
	h.mu.Unlock()

	c.close()
	h.logger.Debug("client disconnected", "conn_id", c.id, "user_id", c.userID)

	if lastInRoom {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.RequestTimeout)
		defer cancel()
		h.coord.Disconnect(ctx, b.roomID, b.userID)
	}
}

func (h *Hub) userInRoomLocked(roomID, userID string) bool {
	for id := range h.rooms[roomID] {
		if h.sessions[id].userID == userID {
			return true
		}
	}
	return false
}

// release treats a connection moving to another room like a disconnect from
// the old one, unless the user still has a connection bound there.
func (h *Hub) release(ctx context.Context, prev binding) {
	h.mu.RLock()
	stillThere := h.userInRoomLocked(prev.roomID, prev.userID)
	h.mu.RUnlock()
	if !stillThere {
		h.coord.Disconnect(ctx, prev.roomID, prev.userID)
	}
}

func (h *Hub) bind(c *client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unbindLocked(c.id)
	h.sessions[c.id] = binding{roomID: roomID, userID: c.userID}
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[uuid.UUID]struct{})
	}
	h.rooms[roomID][c.id] = struct{}{}
}

func (h *Hub) bindingOf(c *client) (binding, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	b, ok := h.sessions[c.id]
	return b, ok
}

func (h *Hub) unbindConn(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unbindLocked(c.id)
}

func (h *Hub) unbindLocked(id uuid.UUID) {
	b, ok := h.sessions[id]
	if !ok {
		return
	}
	delete(h.sessions, id)
	if conns := h.rooms[b.roomID]; conns != nil {
		delete(conns, id)
		if len(conns) == 0 {
			delete(h.rooms, b.roomID)
		}
	}
}

// Unbind detaches every connection of userID from roomID.
func (h *Hub) Unbind(roomID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.rooms[roomID] {
		if h.sessions[id].userID == userID {
			h.unbindLocked(id)
		}
	}
}

// CloseRoom detaches every connection from roomID.
func (h *Hub) CloseRoom(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.rooms[roomID] {
		delete(h.sessions, id)
	}
	delete(h.rooms, roomID)
}

// ToRoom sends msg to every connection bound to roomID.
func (h *Hub) ToRoom(roomID string, msg events.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode event", "type", msg.Type, "error", err)
		return
	}
	h.mu.RLock()
	targets := make([]*client, 0, len(h.rooms[roomID]))
	for id := range h.rooms[roomID] {
		if c, ok := h.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, data)
	}
}

// ToAll sends msg to every open connection.
func (h *Hub) ToAll(msg events.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode event", "type", msg.Type, "error", err)
		return
	}
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, data)
	}
}

// deliver queues data without blocking. A client whose queue is full is
// disconnected.
func (h *Hub) deliver(c *client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		h.logger.Warn("client too slow, dropping connection", "conn_id", c.id, "user_id", c.userID)
		c.close()
	}
}

func (h *Hub) fail(c *client, env events.Envelope, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindInternal, apperr.KindUnknown:
		h.logger.Error("event failed", "type", env.Type, "room_id", env.RoomID, "user_id", c.userID, "error", err)
	default:
		h.logger.Debug("event rejected", "type", env.Type, "room_id", env.RoomID, "user_id", c.userID, "error", err)
	}
	c.reply(events.New(events.Error, env.RoomID, events.ErrorPayload{
		Message: apperr.PublicMessage(err),
		Event:   env.Type,
	}))
}

// roomOf returns the room an event targets: the one it names, or the one the
// connection is bound to.
func (h *Hub) roomOf(c *client, env events.Envelope) (string, error) {
	if id := service.NormalizeRoomID(env.RoomID); id != "" {
		return id, nil
	}
	if b, ok := h.bindingOf(c); ok {
		return b.roomID, nil
	}
	return "", apperr.Validation("roomId is required")
}

func (h *Hub) handle(c *client, env events.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.RequestTimeout)
	defer cancel()

	switch env.Type {
	case events.Create:
		var in service.RoomSettings
		if err := decode(env.Data, &in); err != nil {
			h.fail(c, env, err)
			return
		}
		room, err := h.coord.Create(ctx, in, c.userID)
		if err != nil {
			h.fail(c, env, err)
			return
		}
		prev, hadPrev := h.bindingOf(c)
		h.bind(c, room.RoomID)
		if hadPrev {
			h.release(ctx, prev)
		}
		c.reply(events.New(events.Created, room.RoomID, events.RoomPayload{Room: room}))

	case events.Join:
		roomID := service.NormalizeRoomID(env.RoomID)
		if roomID == "" {
			h.fail(c, env, apperr.Validation("roomId is required"))
			return
		}
		// Bind first so the joiner also sees a ready-to-start caused by its own join.
		prev, hadPrev := h.bindingOf(c)
		h.bind(c, roomID)
		room, err := h.coord.Join(ctx, roomID, c.userID)
		if err != nil {
			if hadPrev {
				h.bind(c, prev.roomID)
			} else {
				h.unbindConn(c)
			}
			h.fail(c, env, err)
			return
		}
		if hadPrev && prev.roomID != roomID {
			h.release(ctx, prev)
		}
		c.reply(events.New(events.Joined, roomID, events.RoomPayload{Room: room}))

	case events.Leave:
		roomID, err := h.roomOf(c, env)
		if err != nil {
			h.fail(c, env, err)
			return
		}
		if _, err := h.coord.Leave(ctx, roomID, c.userID); err != nil {
			h.fail(c, env, err)
			return
		}
		if b, ok := h.bindingOf(c); ok && b.roomID == roomID {
			h.unbindConn(c)
		}
		c.reply(events.New(events.Ack, roomID, events.AckPayload{Event: env.Type}))

	case events.RemoveMember:
		roomID, err := h.roomOf(c, env)
		if err != nil {
			h.fail(c, env, err)
			return
		}
		var req events.RemoveMemberRequest
		if err := decode(env.Data, &req); err != nil {
			h.fail(c, env, err)
			return
		}
		if strings.TrimSpace(req.UserID) == "" {
			h.fail(c, env, apperr.Validation("userId is required"))
			return
		}
		if _, err := h.coord.RemoveMember(ctx, roomID, c.userID, req.UserID); err != nil {
			h.fail(c, env, err)
			return
		}
		c.reply(events.New(events.Ack, roomID, events.AckPayload{Event: env.Type}))

	case events.Delete:
		roomID, err := h.roomOf(c, env)
		if err != nil {
			h.fail(c, env, err)
			return
		}
		if err := h.coord.Delete(ctx, roomID, c.userID); err != nil {
			h.fail(c, env, err)
			return
		}
		c.reply(events.New(events.Ack, roomID, events.AckPayload{Event: env.Type}))

	default:
		h.fail(c, env, apperr.Validation("unknown event type"))
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return apperr.Validation("event data is required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Validation("malformed event data")
	}
	return nil
}
