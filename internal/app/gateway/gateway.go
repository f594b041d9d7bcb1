package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	chatapp "chatgate/internal/app/chat"
	"chatgate/internal/app/commands"
	"chatgate/internal/app/envelope"
	"chatgate/internal/app/middleware"
	"chatgate/internal/app/queries"
	"chatgate/internal/app/relay"
	"chatgate/internal/app/rooms"
	domainchat "chatgate/internal/domain/chat"
)

// EventCounter observes handled inbound events.
type EventCounter interface {
	EventHandled(event string, code int)
}

// Gateway turns inbound events into commands and queries and hands every
// result to the room coordinator as exactly one envelope.
type Gateway struct {
	Commands  commands.Bus
	Queries   queries.Bus
	Rooms     *rooms.Coordinator
	Relay     *relay.Service
	Validator middleware.Validator
	Metrics   EventCounter
	Logger    *slog.Logger
}

type answeredKey struct{}

// Handle processes one inbound event for connID.
func (g *Gateway) Handle(ctx context.Context, connID, event string, data json.RawMessage) {
	reply := ReplyEvent(event)
	answered := new(bool)
	ctx = context.WithValue(ctx, answeredKey{}, answered)
	defer func() {
		if r := recover(); r != nil {
			g.logger().ErrorContext(ctx, "event handler panic", "event", event, "conn_id", connID, "panic", r, "answered", *answered)
			g.done(event, http.StatusInternalServerError)
			if !*answered {
				g.Rooms.Reply(ctx, connID, reply, envelope.Failure(http.StatusInternalServerError, "internal error"))
			}
		}
	}()

	var env envelope.Envelope
	switch event {
	case EventJoinRoom:
		env = g.joinRoom(ctx, connID, data)
	case EventSendRoomMessage:
		env = g.sendRoomMessage(ctx, connID, data)
	case EventRequestRoomMessage:
		env = g.requestRoomMessage(ctx, connID, data)
	case EventEditMessage:
		env = g.editMessage(ctx, connID, data)
	case EventDeleteMessage:
		env = g.deleteMessage(ctx, connID, data)
	case EventDeleteConversation:
		env = g.deleteConversation(ctx, connID, data)
	case EventRequestContactList:
		env = g.requestContactList(ctx, connID, data)
	case EventTyping:
		env = g.typing(ctx, connID, data)
	case EventSearchUserByName:
		env = g.searchUserByName(ctx, connID, data)
	case EventRequestNotification:
		env = g.requestNotification(ctx, connID, data)
	case EventMarkReadNotification:
		env = g.markReadNotification(ctx, connID, data)
	case EventRemoveNotification:
		env = g.removeNotification(ctx, connID, data)
	default:
		env = g.reply(ctx, connID, EventError, envelope.Failure(http.StatusBadRequest, fmt.Sprintf("unknown event %q", event)))
	}
	g.done(event, env.Code)
	if !env.OK() {
		level := slog.LevelWarn
		if env.Code >= http.StatusInternalServerError || env.Code == http.StatusConflict {
			level = slog.LevelError
		}
		g.logger().Log(ctx, level, "event failed", "event", event, "conn_id", connID, "code", env.Code, "message", env.Message)
	}
}

// decode unmarshals data into dst and runs tag validation.
func (g *Gateway) decode(ctx context.Context, data json.RawMessage, dst any) error {
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("%w: payload is required", domainchat.ErrValidation)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: malformed payload: %v", domainchat.ErrValidation, err)
	}
	if g.Validator == nil {
		return nil
	}
	return g.Validator.Validate(ctx, dst)
}

func (g *Gateway) joinRoom(ctx context.Context, connID string, data json.RawMessage) envelope.Envelope {
	var req joinRoomRequest
	if err := g.decode(ctx, data, &req); err != nil {
		return g.reply(ctx, connID, EventJoinedRoom, envelope.FromError(err))
	}
	env := g.Rooms.Join(ctx, connID, req.RoomID, EventJoinedRoom)
	markAnswered(ctx)
	return env
}

func (g *Gateway) sendRoomMessage(ctx context.Context, connID string, data json.RawMessage) envelope.Envelope {
	var req sendRoomMessageRequest
	if err := g.decode(ctx, data, &req); err != nil {
		return g.publish(ctx, connID, "", EventReceiveRoomMessage, envelope.FromError(err))
	}
	target, err := domainchat.TargetFor(req.ConversationID, req.Members)
	if err != nil {
		return g.publish(ctx, connID, "", EventReceiveRoomMessage, envelope.FromError(err))
	}
	view, err := commands.Dispatch[chatapp.SendMessageCommand, chatapp.ConversationView](ctx, g.Commands,
		chatapp.SendMessageCommand{Target: target, Draft: req.Message.draft()})
	if err != nil {
		return g.publish(ctx, connID, "", EventReceiveRoomMessage, envelope.FromError(err))
	}

	// every successful send joins the sender, not only the one that created
	// the conversation
	g.Rooms.Subscribe(ctx, connID, view.ConversationID)
	env := envelope.OK("message sent", view)
	if view.Created {
		env = envelope.Created("conversation created", view)
	}
	g.publish(ctx, connID, view.ConversationID, EventReceiveRoomMessage, env)
	g.notify(ctx, view)
	return env
}

// notify relays the newest message to every member ref of the conversation,
// resolved by the directory or not.
func (g *Gateway) notify(ctx context.Context, view chatapp.ConversationView) {
	if g.Relay == nil || len(view.Messages) == 0 {
		return
	}
	last := view.Messages[len(view.Messages)-1]
	g.Relay.NotifyMessage(ctx, view.ConversationID, view.MemberRefs, domainchat.Message{
		ID:        last.ID,
		Sender:    last.Sender,
		Body:      last.Body,
		CreatedAt: last.CreatedAt,
	})
}

func (g *Gateway) requestRoomMessage(ctx context.Context, connID string, data json.RawMessage) envelope.Envelope {
	var req requestRoomMessageRequest
	if err := g.decode(ctx, data, &req); err != nil {
		return g.reply(ctx, connID, EventReceiveRoomMessage, envelope.FromError(err))
	}
	var (
		view chatapp.ConversationView
		err  error
	)
	switch {
	case strings.TrimSpace(req.ID) != "":
		view, err = queries.Ask[chatapp.FetchConversationQuery, chatapp.ConversationView](ctx, g.Queries,
			chatapp.FetchConversationQuery{ConversationID: strings.TrimSpace(req.ID)})
	case len(req.Members) > 0:
		view, err = queries.Ask[chatapp.FetchByMembersQuery, chatapp.ConversationView](ctx, g.Queries,
			chatapp.FetchByMembersQuery{Members: req.Members})
	default:
		err = fmt.Errorf("%w: id or members is required", domainchat.ErrValidation)
	}
	if err != nil {
		return g.reply(ctx, connID, EventReceiveRoomMessage, envelope.FromError(err))
	}
	return g.reply(ctx, connID, EventReceiveRoomMessage, envelope.OK("messages", view))
}

func (g *Gateway) editMessage(ctx context.Context, connID string, data json.RawMessage) envelope.Envelope {
	var req editMessageRequest
	if err := g.decode(ctx, data, &req); err != nil {
		return g.publish(ctx, connID, "", EventEditMessageResult, envelope.FromError(err))
	}
	ref, err := commands.Dispatch[chatapp.EditMessageCommand, chatapp.MessageRef](ctx, g.Commands, chatapp.EditMessageCommand{
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
		Body:           domainchat.Body{Text: req.Text, Attachments: req.Attachments},
	})
	if err != nil {
		return g.publish(ctx, connID, "", EventEditMessageResult, envelope.FromError(err))
	}
	return g.publish(ctx, connID, ref.ConversationID, EventEditMessageResult, envelope.Created("message edited", ref))
}

func (g *Gateway) deleteMessage(ctx context.Context, connID string, data json.RawMessage) envelope.Envelope {
	var req deleteMessageRequest
	if err := g.decode(ctx, data, &req); err != nil {
		return g.publish(ctx, connID, "", EventDeleteMessageResult, envelope.FromError(err))
	}
	ref, err := commands.Dispatch[chatapp.DeleteMessageCommand, chatapp.MessageRef](ctx, g.Commands, chatapp.DeleteMessageCommand{
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
	})
	if err != nil {
		return g.publish(ctx, connID, "", EventDeleteMessageResult, envelope.FromError(err))
	}
	return g.publish(ctx, connID, ref.ConversationID, EventDeleteMessageResult, envelope.Created("message deleted", ref))
}

func (g *Gateway) deleteConversation(ctx context.Context, connID string, data json.RawMessage) envelope.Envelope {
	var req deleteConversationRequest
	if err := g.decode(ctx, data, &req); err != nil {
		return g.publish(ctx, connID, "", EventDeleteConversationResult, envelope.FromError(err))
	}
	id, err := commands.Dispatch[chatapp.DeleteConversationCommand, string](ctx, g.Commands, chatapp.DeleteConversationCommand{
		ConversationID: req.ID,
	})
	if err != nil {
		return g.publish(ctx, connID, "", EventDeleteConversationResult, envelope.FromError(err))
	}
	return g.publish(ctx, connID, id, EventDeleteConversationResult,
		envelope.Created("conversation deleted", map[string]string{"conversationId": id}))
}

func (g *Gateway) requestContactList(ctx context.Context, connID string, data json.RawMessage) envelope.Envelope {
	var req domainchat.MemberRef
	if err := g.decode(ctx, data, &req); err != nil {
		return g.reply(ctx, connID, EventReceiveContactList, envelope.FromError(err))
	}
	entries, err := queries.Ask[chatapp.ContactListQuery, []chatapp.ContactListEntry](ctx, g.Queries, chatapp.ContactListQuery{Requester: req})
	if err != nil {
		return g.reply(ctx, connID, EventReceiveContactList, envelope.FromError(err))
	}
	if entries == nil {
		entries = []chatapp.ContactListEntry{}
	}
	return g.reply(ctx, connID, EventReceiveContactList, envelope.OK("contact list", entries))
}

func (g *Gateway) typing(ctx context.Context, connID string, data json.RawMessage) envelope.Envelope {
	var req typingRequest
	if err := g.decode(ctx, data, &req); err != nil {
		return g.reply(ctx, connID, EventIsTyping, envelope.FromError(err))
	}
	signal, err := g.relay().Typing(ctx, relay.TypingSignal{
		Sender:         req.Sender,
		ConversationID: req.ConversationID,
		IsTyping:       req.IsTyping,
	})
	if err != nil {
		return g.reply(ctx, connID, EventIsTyping, envelope.FromError(err))
	}
	env := envelope.OK("typing", signal)
	if signal.ConversationID != "" {
		return g.publish(ctx, connID, signal.ConversationID, EventIsTyping, env)
	}
	g.Rooms.PublishGlobal(ctx, EventIsTyping, env)
	markAnswered(ctx)
	return env
}

func (g *Gateway) searchUserByName(ctx context.Context, connID string, data json.RawMessage) envelope.Envelope {
	var req searchUserRequest
	if err := g.decode(ctx, data, &req); err != nil {
		return g.reply(ctx, connID, EventReceiveUserList, envelope.FromError(err))
	}
	profiles, err := g.relay().SearchUsers(ctx, req.Name)
	if err != nil {
		return g.reply(ctx, connID, EventReceiveUserList, envelope.FromError(err))
	}
	return g.reply(ctx, connID, EventReceiveUserList, envelope.OK("users", profiles))
}

func (g *Gateway) requestNotification(ctx context.Context, connID string, data json.RawMessage) envelope.Envelope {
	var req requestNotificationRequest
	if err := g.decode(ctx, data, &req); err != nil {
		return g.reply(ctx, connID, EventReceiveNotification, envelope.FromError(err))
	}
	items, err := g.relay().ListNotifications(ctx, domainchat.MemberRef{ID: req.ID, Type: req.Type}, req.Limit)
	if err != nil {
		return g.reply(ctx, connID, EventReceiveNotification, envelope.FromError(err))
	}
	return g.reply(ctx, connID, EventReceiveNotification, envelope.OK("notifications", items))
}

func (g *Gateway) markReadNotification(ctx context.Context, connID string, data json.RawMessage) envelope.Envelope {
	var req notificationIDRequest
	if err := g.decode(ctx, data, &req); err != nil {
		return g.reply(ctx, connID, EventMarkReadNotificationResult, envelope.FromError(err))
	}
	n, err := g.relay().MarkRead(ctx, req.ID)
	if err != nil {
		return g.reply(ctx, connID, EventMarkReadNotificationResult, envelope.FromError(err))
	}
	return g.reply(ctx, connID, EventMarkReadNotificationResult, envelope.OK("notification read", n))
}

func (g *Gateway) removeNotification(ctx context.Context, connID string, data json.RawMessage) envelope.Envelope {
	var req notificationIDRequest
	if err := g.decode(ctx, data, &req); err != nil {
		return g.reply(ctx, connID, EventRemoveNotificationResult, envelope.FromError(err))
	}
	id, err := g.relay().Remove(ctx, req.ID)
	if err != nil {
		return g.reply(ctx, connID, EventRemoveNotificationResult, envelope.FromError(err))
	}
	return g.reply(ctx, connID, EventRemoveNotificationResult, envelope.OK("notification removed", map[string]string{"id": id}))
}

func (g *Gateway) reply(ctx context.Context, connID, event string, env envelope.Envelope) envelope.Envelope {
	g.Rooms.Reply(ctx, connID, event, env)
	markAnswered(ctx)
	return env
}

func (g *Gateway) publish(ctx context.Context, connID, conversationID, event string, env envelope.Envelope) envelope.Envelope {
	g.Rooms.PublishConversation(ctx, connID, conversationID, event, env)
	markAnswered(ctx)
	return env
}

// markAnswered records that the current event has produced its envelope.
func markAnswered(ctx context.Context) {
	if answered, ok := ctx.Value(answeredKey{}).(*bool); ok {
		*answered = true
	}
}

func (g *Gateway) relay() *relay.Service {
	if g.Relay == nil {
		return &relay.Service{}
	}
	return g.Relay
}

// done counts a handled event. Names outside the inbound set share one
// label so clients cannot grow the metric's cardinality.
func (g *Gateway) done(event string, code int) {
	if g.Metrics == nil {
		return
	}
	if ReplyEvent(event) == EventError {
		event = eventUnknown
	}
	g.Metrics.EventHandled(event, code)
}

func (g *Gateway) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.New(slog.DiscardHandler)
}
