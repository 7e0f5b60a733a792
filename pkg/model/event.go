package model

import "time"

type EventType string

const (
	EventNewMessage      EventType = "new-message"
	EventMessageRead     EventType = "message-read"
	EventNewConversation EventType = "new-conversation"
	EventTyping          EventType = "typing"
	EventPresence        EventType = "presence"
)

// ReadReceipt carries a mark-read notification. UpToMessageID of zero means
// everything in the conversation.
type ReadReceipt struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	UpToMessageID  int64  `json:"up_to_message_id,omitempty"`
}

// Event is the envelope pushed over the live channel. Delivery is scoped to
// the conversation's room unless Recipients is set, in which case it is
// routed to those users' connections directly (a new conversation has no
// room members yet).
type Event struct {
	Type           EventType     `json:"type"`
	ConversationID string        `json:"conversation_id"`
	UserID         string        `json:"user_id,omitempty"`
	ExcludeUserID  string        `json:"exclude_user_id,omitempty"`
	Recipients     []string      `json:"recipients,omitempty"`
	Message        *Message      `json:"message,omitempty"`
	Read           *ReadReceipt  `json:"read,omitempty"`
	Conversation   *Conversation `json:"conversation,omitempty"`
	Content        string        `json:"content,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

type RosterEventType string

const (
	RosterEnrolled      RosterEventType = "enrolled"
	RosterUnenrolled    RosterEventType = "unenrolled"
	RosterStatusChanged RosterEventType = "status_changed"
)

// RosterEvent is emitted by the enrollment/course collaborator.
type RosterEvent struct {
	Type     RosterEventType `json:"type"`
	CourseID string          `json:"course_id"`
	UserID   string          `json:"user_id,omitempty"`
	Role     Role            `json:"role,omitempty"`
	Status   string          `json:"status,omitempty"`
}
