package ws

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tunelink-backend/internal/domain"
	callsvc "tunelink-backend/internal/service/call"
	livesvc "tunelink-backend/internal/service/live"
	"tunelink-backend/pkg/constants"
	apperrors "tunelink-backend/pkg/errors"
	"tunelink-backend/pkg/jwt"
	"tunelink-backend/pkg/logger"
)

// Client-to-server message types
const (
	MessageTypeCallUser   = "call_user"
	MessageTypeAcceptCall = "accept_call"
	MessageTypeRejectCall = "reject_call"
	MessageTypeEndCall    = "end_call"

	MessageTypeOffer  = "offer"
	MessageTypeAnswer = "answer"
	MessageTypeICE    = "ice_candidate"

	MessageTypeJoinLive  = "join_live"
	MessageTypeLeaveLive = "leave_live"

	MessageTypeLiveComment   = "live_comment"
	MessageTypeSendGift      = "send_gift"
	MessageTypeCoHostRequest = "co_host_request"
	MessageTypeAcceptCoHost  = "accept_co_host"
)

// Server-to-client reply events
const (
	EventCallAck         = "call_ack"
	EventCallError       = "call_error"
	EventLiveAck         = "live_ack"
	EventLiveError       = "live_error"
	EventPresenceChanged = "presence_changed"
)

// ClientMessage is the wire format for client-to-server messages.
// Fields beyond Type are populated per message type.
type ClientMessage struct {
	Type       string                 `json:"type"`
	CallID     uuid.UUID              `json:"call_id,omitempty"`
	StreamID   uuid.UUID              `json:"stream_id,omitempty"`
	TargetID   uuid.UUID              `json:"target_id,omitempty"`
	ReceiverID uuid.UUID              `json:"receiver_id,omitempty"`
	CallType   string                 `json:"call_type,omitempty"`
	SDP        string                 `json:"sdp,omitempty"`
	Candidate  map[string]interface{} `json:"candidate,omitempty"`
	Content    string                 `json:"content,omitempty"`
	GiftID     string                 `json:"gift_id,omitempty"`
}

// CallAPI is the slice of the call service the socket layer drives.
type CallAPI interface {
	Initiate(ctx context.Context, input *callsvc.InitiateInput) (*domain.CallSession, error)
	Accept(ctx context.Context, callID, actorID uuid.UUID) (*domain.CallSession, error)
	Reject(ctx context.Context, callID, actorID uuid.UUID) (*domain.CallSession, error)
	End(ctx context.Context, callID, actorID uuid.UUID) (*domain.CallSession, error)
}

// LiveAPI is the slice of the live service the socket layer drives.
type LiveAPI interface {
	Join(ctx context.Context, streamID, userID uuid.UUID) (int, error)
	Leave(ctx context.Context, streamID, userID uuid.UUID) (int, error)
}

// Presence records user availability on connect and disconnect.
type Presence interface {
	SetStatus(ctx context.Context, userID uuid.UUID, status domain.PresenceStatus) error
}

// Client is one WebSocket connection. A user may hold several.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	userID   uuid.UUID
	username string

	// rooms the client has joined; guarded by hub.mu
	rooms map[string]bool

	calls    CallAPI
	live     LiveAPI
	presence Presence

	// done is closed by the hub once the client is fully unregistered,
	// so the offline presence check sees the final connection count
	done chan struct{}

	releaseSlot func()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return false
		}
		return allowedOrigins()[origin]
	},
}

// ServeWS authenticates and upgrades a WebSocket connection. Identity
// comes from the JWT only; a client never names its own user ID. The
// token rides in the "token" query parameter (browsers cannot set
// headers on WebSocket requests) or the Authorization header.
func ServeWS(hub *Hub, jwtManager *jwt.JWTManager, calls CallAPI, live LiveAPI, presence Presence) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			header := c.GetHeader("Authorization")
			if strings.HasPrefix(header, "Bearer ") {
				token = strings.TrimPrefix(header, "Bearer ")
			}
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := jwtManager.ValidateToken(token)
		if err != nil || !claims.HasAudience(jwt.Audience) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		select {
		case hub.semaphore <- struct{}{}:
		default:
			logger.Warn("WebSocket connection rejected: at capacity",
				zap.Int("max_connections", hub.maxConnections))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server at capacity"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			<-hub.semaphore
			logger.Warn("WebSocket upgrade failed",
				zap.String("user_id", claims.UserID.String()),
				zap.Error(err))
			return
		}

		client := &Client{
			hub:      hub,
			conn:     conn,
			send:     make(chan []byte, 256),
			userID:   claims.UserID,
			username: claims.Username,
			rooms:    make(map[string]bool),
			done:     make(chan struct{}),
			calls:    calls,
			live:     live,
			presence: presence,
			releaseSlot: func() {
				<-hub.semaphore
			},
		}

		hub.register <- client
		client.markOnline()

		go client.writePump()
		go client.readPump()
	}
}

// enqueue hands a pre-encoded event to the client's write queue.
// A client that cannot keep up is dropped rather than blocking the hub.
func (c *Client) enqueue(event string, data []byte) {
	select {
	case c.send <- data:
		if c.hub.metrics != nil {
			c.hub.metrics.RecordWebSocketMessage(event, "outbound")
		}
	default:
		logger.Warn("Dropping slow WebSocket client",
			zap.String("user_id", c.userID.String()),
			zap.String("event", event))
		c.conn.Close()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		<-c.done
		c.conn.Close()
		c.releaseSlot()
		c.markOffline()
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval + constants.WebSocketWriteTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval + constants.WebSocketWriteTimeout))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Warn("Invalid WebSocket message",
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
			if c.hub.metrics != nil {
				c.hub.metrics.RecordWebSocketError("invalid_message")
			}
			continue
		}

		if c.hub.metrics != nil {
			c.hub.metrics.RecordWebSocketMessage(msg.Type, "inbound")
		}

		c.dispatch(&msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one inbound message. Call and live commands go
// through their services so state changes stay transactional; the
// WebRTC and room messages are pure relays.
func (c *Client) dispatch(msg *ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()

	switch msg.Type {
	case MessageTypeCallUser:
		session, err := c.calls.Initiate(ctx, &callsvc.InitiateInput{
			CallerID:   c.userID,
			CallerName: c.username,
			ReceiverID: msg.ReceiverID,
			CallType:   domain.CallType(msg.CallType),
		})
		c.replyCall(msg.Type, session, err)

	case MessageTypeAcceptCall:
		session, err := c.calls.Accept(ctx, msg.CallID, c.userID)
		c.replyCall(msg.Type, session, err)

	case MessageTypeRejectCall:
		session, err := c.calls.Reject(ctx, msg.CallID, c.userID)
		c.replyCall(msg.Type, session, err)

	case MessageTypeEndCall:
		session, err := c.calls.End(ctx, msg.CallID, c.userID)
		c.replyCall(msg.Type, session, err)

	case MessageTypeOffer, MessageTypeAnswer, MessageTypeICE:
		c.relaySignal(msg)

	case MessageTypeJoinLive:
		count, err := c.live.Join(ctx, msg.StreamID, c.userID)
		if err == nil {
			c.hub.JoinRoom(c, livesvc.StreamRoom(msg.StreamID))
		}
		c.replyLive(msg.Type, msg.StreamID, count, err)

	case MessageTypeLeaveLive:
		count, err := c.live.Leave(ctx, msg.StreamID, c.userID)
		c.hub.LeaveRoom(c, livesvc.StreamRoom(msg.StreamID))
		c.replyLive(msg.Type, msg.StreamID, count, err)

	case MessageTypeLiveComment:
		c.hub.BroadcastToRoomExcept(livesvc.StreamRoom(msg.StreamID), c.userID, MessageTypeLiveComment, map[string]interface{}{
			"stream_id": msg.StreamID,
			"sender_id": c.userID,
			"username":  c.username,
			"content":   msg.Content,
		})

	case MessageTypeSendGift:
		c.hub.BroadcastToRoomExcept(livesvc.StreamRoom(msg.StreamID), c.userID, MessageTypeSendGift, map[string]interface{}{
			"stream_id": msg.StreamID,
			"sender_id": c.userID,
			"username":  c.username,
			"gift_id":   msg.GiftID,
		})

	case MessageTypeCoHostRequest, MessageTypeAcceptCoHost:
		if msg.TargetID == uuid.Nil {
			return
		}
		c.hub.SendToUser(msg.TargetID, msg.Type, map[string]interface{}{
			"stream_id": msg.StreamID,
			"sender_id": c.userID,
			"username":  c.username,
		})

	default:
		logger.Debug("Unknown WebSocket message type",
			zap.String("type", msg.Type),
			zap.String("user_id", c.userID.String()))
	}
}

// relaySignal forwards an SDP offer/answer or ICE candidate to the
// target's personal room. Personal rooms exist from the moment a user
// connects, so candidates sent before the callee accepts still arrive.
func (c *Client) relaySignal(msg *ClientMessage) {
	if msg.TargetID == uuid.Nil {
		return
	}

	payload := map[string]interface{}{
		"call_id":   msg.CallID,
		"sender_id": c.userID,
	}
	switch msg.Type {
	case MessageTypeICE:
		payload["candidate"] = msg.Candidate
	default:
		payload["sdp"] = msg.SDP
	}

	c.hub.SendToUser(msg.TargetID, msg.Type, payload)
}

func (c *Client) replyCall(action string, session *domain.CallSession, err error) {
	if err != nil {
		c.replyError(EventCallError, action, err)
		return
	}
	c.reply(EventCallAck, map[string]interface{}{
		"action": action,
		"call":   session,
	})
}

func (c *Client) replyLive(action string, streamID uuid.UUID, viewerCount int, err error) {
	if err != nil {
		c.replyError(EventLiveError, action, err)
		return
	}
	c.reply(EventLiveAck, map[string]interface{}{
		"action":       action,
		"stream_id":    streamID,
		"viewer_count": viewerCount,
	})
}

func (c *Client) replyError(event, action string, err error) {
	code := apperrors.ErrCodeInternal
	message := "Internal error"

	var appErr *apperrors.AppError
	if stderrors.As(err, &appErr) {
		code = appErr.Code
		message = appErr.Message
	}

	c.reply(event, map[string]interface{}{
		"action":  action,
		"code":    code,
		"message": message,
	})
}

func (c *Client) reply(event string, payload interface{}) {
	data := c.hub.encode(event, payload)
	if data == nil {
		return
	}
	c.enqueue(event, data)
}

// markOnline records presence and announces it. Presence failures are
// logged but never block the connection.
func (c *Client) markOnline() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.presence.SetStatus(ctx, c.userID, domain.PresenceOnline); err != nil {
		logger.Warn("Failed to mark user online",
			zap.String("user_id", c.userID.String()),
			zap.Error(err))
	}

	c.hub.BroadcastGlobal(EventPresenceChanged, map[string]interface{}{
		"user_id": c.userID,
		"status":  domain.PresenceOnline,
	})
}

// markOffline runs after the last read; only the user's final
// connection on this instance flips them offline.
func (c *Client) markOffline() {
	if c.hub.UserConnectionCount(c.userID) > 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.presence.SetStatus(ctx, c.userID, domain.PresenceOffline); err != nil {
		logger.Warn("Failed to mark user offline",
			zap.String("user_id", c.userID.String()),
			zap.Error(err))
	}

	c.hub.BroadcastGlobal(EventPresenceChanged, map[string]interface{}{
		"user_id": c.userID,
		"status":  domain.PresenceOffline,
	})
}
