package gateway

// Inbound event names.
const (
	EventJoinRoom             = "join_room"
	EventSendRoomMessage      = "send_room_message"
	EventRequestRoomMessage   = "request_room_message"
	EventEditMessage          = "edit_message"
	EventDeleteMessage        = "delete_message"
	EventDeleteConversation   = "delete_conversation"
	EventRequestContactList   = "request_contact_list"
	EventTyping               = "typing"
	EventSearchUserByName     = "search_user_by_name"
	EventRequestNotification  = "request_notification"
	EventMarkReadNotification = "mark_read_notification"
	EventRemoveNotification   = "remove_notification"
)

// Outbound event names.
const (
	EventJoinedRoom                 = "joined_room"
	EventReceiveRoomMessage         = "receive_room_message"
	EventEditMessageResult          = "edit_message_result"
	EventDeleteMessageResult        = "delete_message_result"
	EventDeleteConversationResult   = "delete_conversation_result"
	EventReceiveContactList         = "receive_contact_list"
	EventIsTyping                   = "is_typing"
	EventReceiveUserList            = "receive_user_list"
	EventReceiveNotification        = "receive_notification"
	EventMarkReadNotificationResult = "mark_read_notification_result"
	EventRemoveNotificationResult   = "remove_notification_result"
	EventError                      = "error"
)

// eventUnknown labels metrics for inbound names outside the set above.
const eventUnknown = "unknown"

// ReplyEvent returns the outbound name answering inbound.
func ReplyEvent(inbound string) string {
	switch inbound {
	case EventJoinRoom:
		return EventJoinedRoom
	case EventSendRoomMessage, EventRequestRoomMessage:
		return EventReceiveRoomMessage
	case EventEditMessage:
		return EventEditMessageResult
	case EventDeleteMessage:
		return EventDeleteMessageResult
	case EventDeleteConversation:
		return EventDeleteConversationResult
	case EventRequestContactList:
		return EventReceiveContactList
	case EventTyping:
		return EventIsTyping
	case EventSearchUserByName:
		return EventReceiveUserList
	case EventRequestNotification:
		return EventReceiveNotification
	case EventMarkReadNotification:
		return EventMarkReadNotificationResult
	case EventRemoveNotification:
		return EventRemoveNotificationResult
	default:
		return EventError
	}
}
