package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voicebridge-backend/internal/domain"
	"voicebridge-backend/internal/service/call"
	"voicebridge-backend/internal/service/chat"
	"voicebridge-backend/pkg/constants"
	"voicebridge-backend/pkg/env"
	apperrors "voicebridge-backend/pkg/errors"
	"voicebridge-backend/pkg/logger"
)

// PresenceService is the connection-lifecycle surface of the presence layer
type PresenceService interface {
	Connect(ctx context.Context, userID uuid.UUID, connectionID, instanceID string) error
	Heartbeat(ctx context.Context, userID uuid.UUID, connectionID, instanceID string) error
	Disconnect(ctx context.Context, userID uuid.UUID, connectionID string) (bool, error)
}

// ChatService is the message surface reachable from a connection
type ChatService interface {
	Send(ctx context.Context, input *chat.SendInput) (*domain.Message, error)
	MarkSeen(ctx context.Context, readerID, otherID uuid.UUID) (int, error)
}

// CallService is the signaling surface reachable from a connection
type CallService interface {
	Initiate(ctx context.Context, input *call.InitiateInput) (*domain.CallSession, error)
	Accept(ctx context.Context, calleeID, callID uuid.UUID, answer json.RawMessage) (*domain.CallSession, error)
	Decline(ctx context.Context, calleeID, callID uuid.UUID) error
	End(ctx context.Context, userID, callID uuid.UUID) error
	Timeout(ctx context.Context, userID, callID uuid.UUID) error
	RelayCandidate(ctx context.Context, senderID, callID uuid.UUID, candidate json.RawMessage) error
	CleanupDisconnect(ctx context.Context, userID uuid.UUID)
}

// Handler upgrades authenticated requests and dispatches their events
type Handler struct {
	hub      *Hub
	presence PresenceService
	chat     ChatService
	calls    CallService
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, presence PresenceService, chatSvc ChatService, callSvc CallService) *Handler {
	return &Handler{
		hub:      hub,
		presence: presence,
		chat:     chatSvc,
		calls:    callSvc,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		allowed := env.GetString("WS_ALLOWED_ORIGINS", "*")
		if allowed == "*" {
			return true
		}
		origin := r.Header.Get("Origin")
		for _, o := range strings.Split(allowed, ",") {
			if origin == strings.TrimSpace(o) {
				return true
			}
		}
		return false
	},
}

// Client represents one live WebSocket connection
type Client struct {
	hub          *Hub
	handler      *Handler
	conn         *websocket.Conn
	send         chan []byte
	userID       uuid.UUID
	connectionID string

	// sendMu guards send against the close that detaches a superseded
	// connection; the old connection's read loop can still be dispatching
	// when the replacement registers.
	sendMu     sync.Mutex
	sendClosed bool
}

// ServeWS handles WebSocket requests
func (h *Handler) ServeWS(c *gin.Context) {
	// Set by auth middleware before the upgrade
	userIDVal, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user_id"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed",
			zap.String("user_id", userID.String()), zap.Error(err))
		return
	}

	client := &Client{
		hub:          h.hub,
		handler:      h,
		conn:         conn,
		send:         make(chan []byte, 256),
		userID:       userID,
		connectionID: uuid.NewString(),
	}

	client.hub.register <- client

	// No registry entry means no routable session; the connection is useless.
	if err := h.presence.Connect(c.Request.Context(), userID, client.connectionID, h.hub.instanceID); err != nil {
		logger.Error("failed to establish session",
			zap.String("user_id", userID.String()), zap.Error(err))
		client.hub.unregister <- client
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()

	client.sendEvent(constants.EventConnected, &ConnectedPayload{ConnectionID: client.connectionID})
}

// Deliver queues a frame for the connection, dropping it if the client has
// stopped draining its buffer or has already been detached
func (c *Client) Deliver(frame []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.sendClosed {
		return
	}

	select {
	case c.send <- frame:
	default:
		logger.Warn("dropping frame for slow connection",
			zap.String("user_id", c.userID.String()))
	}
}

// closeSend detaches the client from delivery and signals writePump to close
// the socket. Safe to call more than once; only the hub loop calls it.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}

// readPump reads events from the WebSocket until the connection dies, then
// tears the session down
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
		c.teardown()
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("user_id", c.userID.String()), zap.Error(err))
			}
			break
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			logger.Warn("invalid frame from client",
				zap.String("user_id", c.userID.String()), zap.Error(err))
			continue
		}

		c.dispatch(&frame)
	}
}

// teardown runs the disconnect pipeline. Every step is best-effort: a
// failure to clean up must never block the socket from closing.
func (c *Client) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()

	removed, err := c.handler.presence.Disconnect(ctx, c.userID, c.connectionID)
	if err != nil {
		logger.Warn("disconnect cleanup failed",
			zap.String("user_id", c.userID.String()), zap.Error(err))
		return
	}
	if removed {
		c.handler.calls.CleanupDisconnect(ctx, c.userID)
	}
}

// writePump writes frames to the WebSocket
func (c *Client) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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

// dispatch routes one inbound frame to the owning service
func (c *Client) dispatch(frame *Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()

	c.hub.metrics.RecordWSEvent(frame.Event)

	switch frame.Event {
	case constants.EventHeartbeat:
		c.onHeartbeat(ctx)
	case constants.EventOneToOneMessage:
		c.onMessage(ctx, frame.Data)
	case constants.EventSeenMessage:
		c.onSeen(ctx, frame.Data)
	case constants.EventCallUser:
		c.onCallUser(ctx, frame.Data)
	case constants.EventAcceptCall:
		c.onAcceptCall(ctx, frame.Data)
	case constants.EventDeclineCall:
		c.onDeclineCall(ctx, frame.Data)
	case constants.EventEndCall:
		c.onEndCall(ctx, frame.Data)
	case constants.EventCallTimeout:
		c.onCallTimeout(ctx, frame.Data)
	case constants.EventIceCandidate:
		c.onIceCandidate(ctx, frame.Data)
	default:
		logger.Debug("unknown event",
			zap.String("event", frame.Event),
			zap.String("user_id", c.userID.String()))
	}
}

func (c *Client) onHeartbeat(ctx context.Context) {
	err := c.handler.presence.Heartbeat(ctx, c.userID, c.connectionID, c.hub.instanceID)
	if err != nil {
		logger.Warn("heartbeat failed",
			zap.String("user_id", c.userID.String()), zap.Error(err))
	}
}

func (c *Client) onMessage(ctx context.Context, data json.RawMessage) {
	var p MessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		logger.Warn("invalid message payload", zap.Error(err))
		return
	}

	to, phone := resolveTarget(p.To, p.ToPhone)
	_, err := c.handler.chat.Send(ctx, &chat.SendInput{
		SenderID:     c.userID,
		To:           to,
		ToPhone:      phone,
		Content:      p.Message,
		MessageType:  p.Type,
		MediaURL:     p.MediaURL,
		DurationSecs: p.Duration,
	})
	if err != nil {
		// Messaging has no error path back to the sender; durability is the
		// fallback and absence of delivery is invisible until history.
		logger.Warn("message send failed",
			zap.String("user_id", c.userID.String()), zap.Error(err))
	}
}

func (c *Client) onSeen(ctx context.Context, data json.RawMessage) {
	var p SeenPayload
	if err := json.Unmarshal(data, &p); err != nil {
		logger.Warn("invalid seen payload", zap.Error(err))
		return
	}

	if _, err := c.handler.chat.MarkSeen(ctx, c.userID, p.From); err != nil {
		logger.Warn("seen update failed",
			zap.String("user_id", c.userID.String()), zap.Error(err))
	}
}

func (c *Client) onCallUser(ctx context.Context, data json.RawMessage) {
	var p CallUserPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.sendCallError(uuid.Nil, "invalid call request")
		return
	}

	to, phone := resolveTarget(p.To, p.ToPhone)
	sess, err := c.handler.calls.Initiate(ctx, &call.InitiateInput{
		CallID:   p.CallID,
		CallerID: c.userID,
		To:       to,
		ToPhone:  phone,
		CallType: domain.CallType(p.CallType),
		Offer:    p.Offer,
	})
	if err != nil {
		c.sendCallError(p.CallID, apperrors.GetAppError(err).Message)
		return
	}

	c.sendEvent(constants.EventCallInitiated, &CallInitiatedPayload{
		CallID: sess.CallID,
		To:     sess.CalleeID,
	})
}

func (c *Client) onAcceptCall(ctx context.Context, data json.RawMessage) {
	var p AcceptCallPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.sendCallError(uuid.Nil, "invalid accept request")
		return
	}

	if _, err := c.handler.calls.Accept(ctx, c.userID, p.CallID, p.Answer); err != nil {
		c.sendCallError(p.CallID, apperrors.GetAppError(err).Message)
	}
}

func (c *Client) onDeclineCall(ctx context.Context, data json.RawMessage) {
	var p CallRefPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}

	// Stale declines are a normal race outcome, not an error to surface.
	if err := c.handler.calls.Decline(ctx, c.userID, p.CallID); err != nil {
		logger.Debug("decline dropped",
			zap.String("call_id", p.CallID.String()), zap.Error(err))
	}
}

func (c *Client) onEndCall(ctx context.Context, data json.RawMessage) {
	var p CallRefPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}

	if err := c.handler.calls.End(ctx, c.userID, p.CallID); err != nil {
		logger.Debug("end dropped",
			zap.String("call_id", p.CallID.String()), zap.Error(err))
	}
}

func (c *Client) onCallTimeout(ctx context.Context, data json.RawMessage) {
	var p CallRefPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}

	if err := c.handler.calls.Timeout(ctx, c.userID, p.CallID); err != nil {
		logger.Debug("timeout dropped",
			zap.String("call_id", p.CallID.String()), zap.Error(err))
	}
}

func (c *Client) onIceCandidate(ctx context.Context, data json.RawMessage) {
	var p IceCandidatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}

	if err := c.handler.calls.RelayCandidate(ctx, c.userID, p.CallID, p.Candidate); err != nil {
		logger.Warn("candidate relay failed",
			zap.String("call_id", p.CallID.String()), zap.Error(err))
	}
}

func (c *Client) sendEvent(event string, data any) {
	frame, err := EncodeFrame(event, data)
	if err != nil {
		logger.Warn("failed to encode frame",
			zap.String("event", event), zap.Error(err))
		return
	}
	c.Deliver(frame)
}

func (c *Client) sendCallError(callID uuid.UUID, message string) {
	c.sendEvent(constants.EventCallError, &CallErrorPayload{CallID: callID, Message: message})
}

// resolveTarget interprets the "to" field: a parseable uuid addresses a user
// by id, anything else is treated as a phone handle
func resolveTarget(to, toPhone string) (uuid.UUID, string) {
	if toPhone != "" {
		return uuid.Nil, toPhone
	}
	if id, err := uuid.Parse(to); err == nil {
		return id, ""
	}
	return uuid.Nil, to
}
