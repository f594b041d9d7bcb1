package chat

import (
	"context"

	"chatgate/internal/app/commands"
	"chatgate/internal/app/queries"
	domainchat "chatgate/internal/domain/chat"
)

const (
	sendMessageKey        = "chat.send_message"
	editMessageKey        = "chat.edit_message"
	deleteMessageKey      = "chat.delete_message"
	deleteConversationKey = "chat.delete_conversation"

	fetchConversationKey = "chat.fetch_conversation"
	fetchByMembersKey    = "chat.fetch_by_members"
	contactListKey       = "chat.contact_list"
)

// SendMessageCommand stores a message in the conversation picked by Target.
type SendMessageCommand struct {
	Target domainchat.SendTarget `validate:"required"`
	Draft  domainchat.Draft
}

func (SendMessageCommand) Key() string { return sendMessageKey }

type EditMessageCommand struct {
	ConversationID string `validate:"required"`
	MessageID      string `validate:"required"`
	Body           domainchat.Body
}

func (EditMessageCommand) Key() string { return editMessageKey }

type DeleteMessageCommand struct {
	ConversationID string `validate:"required"`
	MessageID      string `validate:"required"`
}

func (DeleteMessageCommand) Key() string { return deleteMessageKey }

type DeleteConversationCommand struct {
	ConversationID string `validate:"required"`
}

func (DeleteConversationCommand) Key() string { return deleteConversationKey }

type FetchConversationQuery struct {
	ConversationID string `validate:"required"`
}

func (FetchConversationQuery) Key() string { return fetchConversationKey }

type FetchByMembersQuery struct {
	Members []domainchat.MemberRef `validate:"min=2,dive"`
}

func (FetchByMembersQuery) Key() string { return fetchByMembersKey }

type ContactListQuery struct {
	Requester domainchat.MemberRef
}

func (ContactListQuery) Key() string { return contactListKey }

// Register wires the service onto both buses.
func Register(cmds *commands.InMemoryBus, qs *queries.InMemoryBus, svc *Service) {
	commands.RegisterHandler(cmds, sendMessageKey, commands.HandlerFunc[SendMessageCommand, ConversationView](
		func(ctx context.Context, cmd SendMessageCommand) (ConversationView, error) {
			return svc.Send(ctx, cmd.Target, cmd.Draft)
		}))
	commands.RegisterHandler(cmds, editMessageKey, commands.HandlerFunc[EditMessageCommand, MessageRef](
		func(ctx context.Context, cmd EditMessageCommand) (MessageRef, error) {
			return svc.EditMessage(ctx, cmd.ConversationID, cmd.MessageID, cmd.Body)
		}))
	commands.RegisterHandler(cmds, deleteMessageKey, commands.HandlerFunc[DeleteMessageCommand, MessageRef](
		func(ctx context.Context, cmd DeleteMessageCommand) (MessageRef, error) {
			return svc.SoftDeleteMessage(ctx, cmd.ConversationID, cmd.MessageID)
		}))
	commands.RegisterHandler(cmds, deleteConversationKey, commands.HandlerFunc[DeleteConversationCommand, string](
		func(ctx context.Context, cmd DeleteConversationCommand) (string, error) {
			return svc.SoftDeleteConversation(ctx, cmd.ConversationID)
		}))

	queries.RegisterHandler(qs, fetchConversationKey, queries.HandlerFunc[FetchConversationQuery, ConversationView](
		func(ctx context.Context, q FetchConversationQuery) (ConversationView, error) {
			return svc.FetchOrderedMessages(ctx, q.ConversationID)
		}))
	queries.RegisterHandler(qs, fetchByMembersKey, queries.HandlerFunc[FetchByMembersQuery, ConversationView](
		func(ctx context.Context, q FetchByMembersQuery) (ConversationView, error) {
			return svc.FetchByMembers(ctx, q.Members)
		}))
	queries.RegisterHandler(qs, contactListKey, queries.HandlerFunc[ContactListQuery, []ContactListEntry](
		func(ctx context.Context, q ContactListQuery) ([]ContactListEntry, error) {
			return svc.BuildContactList(ctx, q.Requester)
		}))
}
