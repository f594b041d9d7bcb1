package rooms

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"chatgate/internal/app/envelope"
)

// Scope selects how conversation events are fanned out.
type Scope string

const (
	// ScopeGlobal sends every event to every connection. Clients filter by
	// conversation id.
	ScopeGlobal Scope = "global"
	// ScopeRoom sends conversation events to the conversation room and
	// request/response events to the requester only.
	ScopeRoom Scope = "room"
)

func ParseScope(raw string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ScopeGlobal:
		return ScopeGlobal, nil
	case ScopeRoom:
		return ScopeRoom, nil
	default:
		return "", fmt.Errorf("rooms: unknown broadcast scope %q", raw)
	}
}

// Transport delivers outbound events. Implementations own the room table.
type Transport interface {
	JoinRoom(connID, roomID string) error
	InRoom(connID, roomID string) bool
	BroadcastToAll(event string, payload any) error
	BroadcastToRoom(roomID, event string, payload any) error
	SendTo(connID, event string, payload any) error
}

// Coordinator decides who receives each outbound envelope.
type Coordinator struct {
	Transport Transport
	Scope     Scope
	Logger    *slog.Logger
}

// Join adds connID to the room of conversationID and acknowledges on event.
func (c *Coordinator) Join(ctx context.Context, connID, conversationID, event string) envelope.Envelope {
	conversationID = strings.TrimSpace(conversationID)
	env := envelope.OK("joined", map[string]string{"conversationId": conversationID})
	if conversationID == "" {
		env = envelope.Failure(http.StatusBadRequest, "conversation id is required")
	} else if err := c.Transport.JoinRoom(connID, conversationID); err != nil {
		env = envelope.FromError(err)
	}
	c.Reply(ctx, connID, event, env)
	return env
}

// Subscribe joins connID to a room without an acknowledgement.
func (c *Coordinator) Subscribe(ctx context.Context, connID, conversationID string) {
	if connID == "" || conversationID == "" {
		return
	}
	if err := c.Transport.JoinRoom(connID, conversationID); err != nil {
		c.logError(ctx, "join room", err, "conn_id", connID, "conversation_id", conversationID)
	}
}

// PublishConversation fans out a conversation-scoped event. Failures go back
// to the requester only. Successes reach every connection or, in room scope,
// the conversation room plus the requester when it is outside that room.
func (c *Coordinator) PublishConversation(ctx context.Context, connID, conversationID, event string, env envelope.Envelope) {
	if !env.OK() || conversationID == "" {
		if c.Scope == ScopeRoom {
			c.Reply(ctx, connID, event, env)
			return
		}
		c.PublishGlobal(ctx, event, env)
		return
	}
	if c.Scope == ScopeRoom {
		if err := c.Transport.BroadcastToRoom(conversationID, event, env); err != nil {
			c.logError(ctx, "broadcast to room", err, "event", event, "conversation_id", conversationID)
		}
		if connID != "" && !c.Transport.InRoom(connID, conversationID) {
			c.Reply(ctx, connID, event, env)
		}
		return
	}
	c.PublishGlobal(ctx, event, env)
}

// Reply answers a request/response event. Global scope keeps the broadcast
// behavior; room scope targets the requesting connection.
func (c *Coordinator) Reply(ctx context.Context, connID, event string, env envelope.Envelope) {
	if c.Scope == ScopeRoom && connID != "" {
		if err := c.Transport.SendTo(connID, event, env); err != nil {
			c.logError(ctx, "send to connection", err, "event", event, "conn_id", connID)
		}
		return
	}
	c.PublishGlobal(ctx, event, env)
}

// PublishGlobal sends env to every connection.
func (c *Coordinator) PublishGlobal(ctx context.Context, event string, env envelope.Envelope) {
	if err := c.Transport.BroadcastToAll(event, env); err != nil {
		c.logError(ctx, "broadcast", err, "event", event)
	}
}

func (c *Coordinator) logError(ctx context.Context, msg string, err error, args ...any) {
	if c.Logger == nil {
		return
	}
	c.Logger.ErrorContext(ctx, msg, append(args, "error", err)...)
}
