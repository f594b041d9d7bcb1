package chat

import (
	"fmt"
	"strings"
)

// SendTarget says where a message goes. It is decided once at the boundary:
// either NewConversation or ExistingConversation.
type SendTarget interface {
	sendTarget()
}

// NewConversation targets the member set of a conversation that may not
// exist yet.
type NewConversation struct {
	Members []MemberRef
}

// ExistingConversation targets a known conversation id.
type ExistingConversation struct {
	ConversationID string
}

func (NewConversation) sendTarget()      {}
func (ExistingConversation) sendTarget() {}

// TargetFor routes on the presence of a conversation id: a non-empty id always
// means an existing conversation, anything else means a new one.
func TargetFor(conversationID *string, members []MemberRef) (SendTarget, error) {
	if conversationID != nil && strings.TrimSpace(*conversationID) != "" {
		return ExistingConversation{ConversationID: strings.TrimSpace(*conversationID)}, nil
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: members are required when no conversation id is given", ErrValidation)
	}
	return NewConversation{Members: append([]MemberRef(nil), members...)}, nil
}
