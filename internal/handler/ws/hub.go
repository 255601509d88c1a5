package ws

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tunelink-backend/internal/database"
	"tunelink-backend/pkg/env"
	"tunelink-backend/pkg/logger"
	"tunelink-backend/pkg/metrics"
)

// fanoutChannel is the Redis Pub/Sub channel shared by all instances.
// Every event published by one instance is replayed on the others so a
// user connected elsewhere still receives it.
const fanoutChannel = "ws:fanout"

const (
	scopeUser   = "user"
	scopeRoom   = "room"
	scopeGlobal = "global"
)

// Event is the wire format for server-to-client messages.
type Event struct {
	Event     string      `json:"event"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// fanoutEnvelope wraps an Event for cross-instance delivery over Redis.
type fanoutEnvelope struct {
	Origin string          `json:"origin"`
	Scope  string          `json:"scope"`
	Target string          `json:"target,omitempty"`
	Except string          `json:"except,omitempty"`
	Data   json.RawMessage `json:"data"`
}

// Hub tracks connected clients and routes events to personal rooms
// (one per user), named rooms (live streams), or every connection.
// It satisfies the Broadcaster interfaces of the call and live services.
type Hub struct {
	// users maps a user ID to their open connections; a user with
	// several devices has several clients here
	users map[uuid.UUID]map[*Client]bool

	// rooms maps a room name (e.g. "live:<stream_id>") to its members
	rooms map[string]map[*Client]bool

	clients map[*Client]bool

	mu sync.RWMutex

	register   chan *Client
	unregister chan *Client

	redisClient *database.RedisClient

	// instanceID lets the fan-out subscriber drop its own messages
	instanceID string

	maxConnections int
	semaphore      chan struct{}

	metrics *metrics.Metrics
}

// NewHub creates a hub and starts its event loop. The Redis client may
// be nil in single-instance deployments and tests; cross-instance
// fan-out is then disabled.
func NewHub(redisClient *database.RedisClient, m *metrics.Metrics) *Hub {
	maxConns := env.GetInt("WS_MAX_CONNECTIONS", 10000)

	hub := &Hub{
		users:          make(map[uuid.UUID]map[*Client]bool),
		rooms:          make(map[string]map[*Client]bool),
		clients:        make(map[*Client]bool),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		redisClient:    redisClient,
		instanceID:     uuid.New().String(),
		maxConnections: maxConns,
		semaphore:      make(chan struct{}, maxConns),
		metrics:        m,
	}

	go hub.run()

	if redisClient != nil {
		go hub.subscribeFanout(context.Background())
	}

	return hub
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if h.users[client.userID] == nil {
				h.users[client.userID] = make(map[*Client]bool)
			}
			h.users[client.userID][client] = true
			h.mu.Unlock()

			if h.metrics != nil {
				h.metrics.IncrementWebSocketConnections()
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)

				if conns, ok := h.users[client.userID]; ok {
					delete(conns, client)
					if len(conns) == 0 {
						delete(h.users, client.userID)
					}
				}

				for room := range client.rooms {
					if members, ok := h.rooms[room]; ok {
						delete(members, client)
						if len(members) == 0 {
							delete(h.rooms, room)
						}
					}
				}

				close(client.send)
				close(client.done)
			}
			h.mu.Unlock()

			if h.metrics != nil {
				h.metrics.DecrementWebSocketConnections()
			}
		}
	}
}

// SendToUser delivers an event to every connection of a user, here and
// on other instances. Users with no open connection are skipped.
func (h *Hub) SendToUser(userID uuid.UUID, event string, payload interface{}) {
	data := h.encode(event, payload)
	if data == nil {
		return
	}
	h.deliverToUser(userID, event, data)
	h.publish(scopeUser, userID.String(), "", data)
}

// BroadcastToRoom delivers an event to every member of a named room.
func (h *Hub) BroadcastToRoom(room, event string, payload interface{}) {
	data := h.encode(event, payload)
	if data == nil {
		return
	}
	h.deliverToRoom(room, event, data, uuid.Nil)
	h.publish(scopeRoom, room, "", data)
}

// BroadcastToRoomExcept delivers a room event to everyone but its
// originator, so relayed comments and gifts do not echo back.
func (h *Hub) BroadcastToRoomExcept(room string, except uuid.UUID, event string, payload interface{}) {
	data := h.encode(event, payload)
	if data == nil {
		return
	}
	h.deliverToRoom(room, event, data, except)
	h.publish(scopeRoom, room, except.String(), data)
}

// BroadcastGlobal delivers an event to every connected client.
func (h *Hub) BroadcastGlobal(event string, payload interface{}) {
	data := h.encode(event, payload)
	if data == nil {
		return
	}
	h.deliverGlobal(event, data)
	h.publish(scopeGlobal, "", "", data)
}

// JoinRoom adds a client to a named room.
func (h *Hub) JoinRoom(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][client] = true
	client.rooms[room] = true
}

// LeaveRoom removes a client from a named room.
func (h *Hub) LeaveRoom(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// UserConnectionCount reports how many open connections a user has on
// this instance.
func (h *Hub) UserConnectionCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// RoomSize reports the number of members in a room on this instance.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) encode(event string, payload interface{}) []byte {
	data, err := json.Marshal(&Event{
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		logger.Error("Failed to encode event",
			zap.String("event", event),
			zap.Error(err))
		if h.metrics != nil {
			h.metrics.RecordWebSocketError("encode_failed")
		}
		return nil
	}
	return data
}

func (h *Hub) deliverToUser(userID uuid.UUID, event string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.users[userID] {
		client.enqueue(event, data)
	}
}

func (h *Hub) deliverToRoom(room, event string, data []byte, except uuid.UUID) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[room] {
		if except != uuid.Nil && client.userID == except {
			continue
		}
		client.enqueue(event, data)
	}
}

func (h *Hub) deliverGlobal(event string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		client.enqueue(event, data)
	}
}

// publish replays an event to other instances over Redis. Best-effort:
// a degraded Redis only loses cross-instance delivery.
func (h *Hub) publish(scope, target, except string, data []byte) {
	if h.redisClient == nil {
		return
	}

	envelope, err := json.Marshal(&fanoutEnvelope{
		Origin: h.instanceID,
		Scope:  scope,
		Target: target,
		Except: except,
		Data:   data,
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.redisClient.SafePublish(ctx, fanoutChannel, envelope).Err(); err != nil {
		logger.Warn("Failed to publish fan-out event",
			zap.String("scope", scope),
			zap.Error(err))
	}
}

// subscribeFanout consumes events published by other instances and
// replays them to local clients. Reconnects with backoff when the
// subscription drops.
func (h *Hub) subscribeFanout(ctx context.Context) {
	for {
		pubsub := h.redisClient.SafeSubscribe(ctx, fanoutChannel)
		if pubsub == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
				continue
			}
		}

		ch := pubsub.Channel()
	consume:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break consume
				}
				h.handleFanout([]byte(msg.Payload))
			}
		}

		pubsub.Close()
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (h *Hub) handleFanout(payload []byte) {
	var envelope fanoutEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		logger.Warn("Failed to decode fan-out envelope", zap.Error(err))
		return
	}

	// Skip our own messages; they were already delivered locally
	if envelope.Origin == h.instanceID {
		return
	}

	var event Event
	if err := json.Unmarshal(envelope.Data, &event); err != nil {
		return
	}

	switch envelope.Scope {
	case scopeUser:
		userID, err := uuid.Parse(envelope.Target)
		if err != nil {
			return
		}
		h.deliverToUser(userID, event.Event, envelope.Data)
	case scopeRoom:
		except := uuid.Nil
		if envelope.Except != "" {
			except, _ = uuid.Parse(envelope.Except)
		}
		h.deliverToRoom(envelope.Target, event.Event, envelope.Data, except)
	case scopeGlobal:
		h.deliverGlobal(event.Event, envelope.Data)
	}
}

// allowedOrigins returns the origin allowlist for the WebSocket
// upgrader, mirroring the CORS middleware configuration.
func allowedOrigins() map[string]bool {
	origins := map[string]bool{
		"http://localhost:3000": true,
		"http://localhost:8080": true,
		"http://127.0.0.1:3000": true,
		"http://127.0.0.1:8080": true,
	}

	if extra := env.GetString("CORS_ALLOWED_ORIGINS", ""); extra != "" {
		for _, origin := range strings.Split(extra, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				origins[origin] = true
			}
		}
	}

	return origins
}
