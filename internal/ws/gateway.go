package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"crisis-comms/internal/auth"
	"crisis-comms/internal/crisis"
	"crisis-comms/internal/messaging"
	"crisis-comms/internal/models"
	"crisis-comms/internal/observability"
)

// Gateway upgrades HTTP requests to websocket connections and dispatches
// inbound commands to the engines.
type Gateway struct {
	hub       *Hub
	verifier  auth.Verifier
	messaging *messaging.Engine
	crisis    *crisis.Engine
	upgrader  websocket.Upgrader
}

// NewGateway constructs a Gateway. allowedOrigin of "*" disables the origin
// check.
func NewGateway(hub *Hub, verifier auth.Verifier, msg *messaging.Engine, cr *crisis.Engine, allowedOrigin string) *Gateway {
	return &Gateway{
		hub:       hub,
		verifier:  verifier,
		messaging: msg,
		crisis:    cr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "*" {
					return true
				}
				return r.Header.Get("Origin") == allowedOrigin
			},
		},
	}
}

type inboundCommand struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type joinRoomCmd struct {
	RoomID      string              `json:"room_id"`
	Kind        models.RoomKind     `json:"kind"`
	DisplayName string              `json:"display_name"`
	Metadata    models.RoomMetadata `json:"metadata"`
}

type leaveRoomCmd struct {
	RoomID string `json:"room_id"`
}

type sendMessageCmd struct {
	RoomID      string              `json:"room_id"`
	Content     string              `json:"content"`
	Kind        models.MessageKind  `json:"kind"`
	ReplyTo     string              `json:"reply_to"`
	Attachments []models.Attachment `json:"attachments"`
}

type editMessageCmd struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

type deleteMessageCmd struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
}

type typingCmd struct {
	RoomID   string `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

type readReceiptCmd struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
}

type crisisAlertCmd struct {
	Severity models.Severity  `json:"severity"`
	Message  string           `json:"message"`
	Symptoms []string         `json:"symptoms"`
	Location *models.Location `json:"location"`
}

type crisisAcceptCmd struct {
	AlertID string `json:"alert_id"`
}

type crisisStatusCmd struct {
	AlertID string             `json:"alert_id"`
	Status  models.AlertStatus `json:"status"`
	Note    string             `json:"note"`
}

type shareLocationCmd struct {
	AlertID  string          `json:"alert_id"`
	Location models.Location `json:"location"`
}

// Handle authenticates the request, upgrades it and runs the connection's
// read loop.
func (g *Gateway) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("crisis-comms/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
	}
	token = strings.TrimPrefix(token, "Bearer ")

	identity, err := g.verifier.Verify(ctx, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	connID, err := g.hub.Register(conn, identity.UserID, identity.Role, info)
	if err != nil {
		conn.Close()
		return
	}

	go g.readLoop(context.Background(), conn, connID, identity)
}

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, connID string, identity auth.Identity) {
	defer func() {
		userID, joined, stillOnline := g.hub.Unregister(connID)
		if !stillOnline {
			g.messaging.MarkOffline(userID, joined)
		}
		conn.Close()
	}()

	for {
		var cmd inboundCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
			}
			return
		}
		g.hub.Touch(connID)
		observability.IncWSEvent(cmd.Event)
		g.dispatch(ctx, connID, identity, cmd)
	}
}

func (g *Gateway) dispatch(ctx context.Context, connID string, identity auth.Identity, cmd inboundCommand) {
	userID := identity.UserID
	role := identity.Role

	switch cmd.Event {
	case models.CmdHeartbeat:
		// Touch already happened; nothing else to do.

	case models.CmdJoinRoom:
		var p joinRoomCmd
		if !g.decode(userID, models.EvtRoomError, cmd.Payload, &p) {
			return
		}
		if !canJoin(userID, role, p.Kind, p.Metadata) {
			g.emitError(userID, models.EvtRoomError, "not allowed to join this room")
			return
		}
		g.hub.JoinRoom(connID, p.RoomID)
		snapshot, err := g.messaging.Join(userID, p.DisplayName, role, p.RoomID, p.Kind, p.Metadata)
		if err != nil {
			g.hub.LeaveRoom(connID, p.RoomID)
			g.emitError(userID, models.EvtRoomError, err.Error())
			return
		}
		g.hub.EmitToUser(userID, models.EvtRoomJoined, snapshot)

	case models.CmdLeaveRoom:
		var p leaveRoomCmd
		if !g.decode(userID, models.EvtRoomError, cmd.Payload, &p) {
			return
		}
		g.hub.LeaveRoom(connID, p.RoomID)
		if err := g.messaging.Leave(userID, p.RoomID); err != nil {
			g.emitError(userID, models.EvtRoomError, err.Error())
		}

	case models.CmdSendMessage:
		var p sendMessageCmd
		if !g.decode(userID, models.EvtMessageError, cmd.Payload, &p) {
			return
		}
		msg, err := g.messaging.Send(userID, p.RoomID, p.Content, p.Kind, p.ReplyTo, p.Attachments)
		if err != nil {
			g.emitError(userID, models.EvtMessageError, err.Error())
			return
		}
		g.hub.EmitToUser(userID, models.EvtMessageAck, models.MessageAckPayload{
			MessageID: msg.ID,
			RoomID:    msg.RoomID,
			Status:    msg.Status,
			CreatedAt: msg.CreatedAt,
		})

	case models.CmdEditMessage:
		var p editMessageCmd
		if !g.decode(userID, models.EvtMessageError, cmd.Payload, &p) {
			return
		}
		if _, err := g.messaging.Edit(userID, p.RoomID, p.MessageID, p.Content); err != nil {
			g.emitError(userID, models.EvtMessageError, err.Error())
		}

	case models.CmdDeleteMsg:
		var p deleteMessageCmd
		if !g.decode(userID, models.EvtMessageError, cmd.Payload, &p) {
			return
		}
		if err := g.messaging.Delete(userID, role, p.RoomID, p.MessageID); err != nil {
			g.emitError(userID, models.EvtMessageError, err.Error())
		}

	case models.CmdTyping:
		var p typingCmd
		if !g.decode(userID, models.EvtRoomError, cmd.Payload, &p) {
			return
		}
		if err := g.messaging.SetTyping(userID, p.RoomID, p.IsTyping); err != nil {
			g.emitError(userID, models.EvtRoomError, err.Error())
		}

	case models.CmdReadReceipt:
		var p readReceiptCmd
		if !g.decode(userID, models.EvtMessageError, cmd.Payload, &p) {
			return
		}
		if err := g.messaging.MarkRead(userID, p.RoomID, p.MessageID); err != nil {
			g.emitError(userID, models.EvtMessageError, err.Error())
		}

	case models.CmdCrisisAlert:
		var p crisisAlertCmd
		if !g.decode(userID, models.EvtCrisisError, cmd.Payload, &p) {
			return
		}
		if _, _, err := g.crisis.Trigger(ctx, userID, p.Severity, p.Message, p.Symptoms, p.Location); err != nil {
			g.emitError(userID, models.EvtCrisisError, err.Error())
		}

	case models.CmdCrisisAccept:
		var p crisisAcceptCmd
		if !g.decode(userID, models.EvtCrisisError, cmd.Payload, &p) {
			return
		}
		if _, err := g.crisis.Accept(ctx, userID, role, p.AlertID); err != nil {
			g.emitError(userID, models.EvtCrisisError, err.Error())
		}

	case models.CmdCrisisStatus:
		var p crisisStatusCmd
		if !g.decode(userID, models.EvtCrisisError, cmd.Payload, &p) {
			return
		}
		if err := g.crisis.UpdateStatus(ctx, userID, p.AlertID, p.Status, p.Note); err != nil {
			g.emitError(userID, models.EvtCrisisError, err.Error())
		}

	case models.CmdShareLoc:
		var p shareLocationCmd
		if !g.decode(userID, models.EvtCrisisError, cmd.Payload, &p) {
			return
		}
		if err := g.crisis.ShareLocation(ctx, userID, p.AlertID, p.Location); err != nil {
			g.emitError(userID, models.EvtCrisisError, err.Error())
		}

	default:
		g.emitError(userID, models.EvtMessageError, "unknown event "+cmd.Event)
	}
}

func (g *Gateway) decode(userID, errEvent string, raw json.RawMessage, out any) bool {
	if len(raw) == 0 {
		g.emitError(userID, errEvent, "missing payload")
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		g.emitError(userID, errEvent, "malformed payload")
		return false
	}
	return true
}

func (g *Gateway) emitError(userID, event, reason string) {
	g.hub.EmitToUser(userID, event, models.ErrorPayload{Error: reason})
}
