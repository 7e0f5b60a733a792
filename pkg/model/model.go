package model

import "time"

type ConversationKind string

const (
	KindPrivate ConversationKind = "private"
	KindGroup   ConversationKind = "group"
)

type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Conversation is an addressable message thread. A private conversation has
// exactly two participants (one teacher, one student); a group conversation
// backs a course discussion group.
type Conversation struct {
	ID        string           `json:"id"`
	Kind      ConversationKind `json:"kind"`
	Title     string           `json:"title,omitempty"`
	CourseID  string           `json:"course_id,omitempty"`
	IsActive  bool             `json:"is_active"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Participant links a user to a conversation. Participants are soft-removed
// (IsActive=false) rather than deleted so message attribution survives.
type Participant struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Role           Role   `json:"role"`
	IsActive       bool   `json:"is_active"`
}

type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// Message ids are snowflakes: creation-time ordered with a sequence tiebreak,
// so ordering by id is the total order within a conversation.
type Message struct {
	ID             int64        `json:"id"`
	ConversationID string       `json:"conversation_id"`
	SenderID       string       `json:"sender_id"`
	SenderRole     Role         `json:"sender_role"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	ReadBy         []string     `json:"read_by"`
	Edited         bool         `json:"edited,omitempty"`
	EditedAt       *time.Time   `json:"edited_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// ReadByUser reports whether userID appears in the message's read set.
func (m *Message) ReadByUser(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// DiscussionGroup binds a course to its group conversation. At most one
// group exists per course; activation toggles rather than recreates.
type DiscussionGroup struct {
	ID             string `json:"id"`
	CourseID       string `json:"course_id"`
	ConversationID string `json:"conversation_id"`
	IsActive       bool   `json:"is_active"`
}

// Membership links a user to a discussion group. Active iff the enrollment
// and the group are both active.
type Membership struct {
	GroupID  string `json:"group_id"`
	UserID   string `json:"user_id"`
	Role     Role   `json:"role"`
	IsActive bool   `json:"is_active"`
}

// Enrollment mirrors the course roster supplied by the enrollment
// collaborator. It is the authoritative input for membership reconciliation.
type Enrollment struct {
	CourseID string `json:"course_id"`
	UserID   string `json:"user_id"`
	Role     Role   `json:"role"`
	IsActive bool   `json:"is_active"`
}

// ConversationSummary is a conversation annotated for the roster view.
type ConversationSummary struct {
	Conversation Conversation `json:"conversation"`
	UnreadCount  int          `json:"unread_count"`
	LastMessage  *Message     `json:"last_message,omitempty"`
}

// PrivatePairKey is the canonical key for the unordered (teacher, student)
// pair. The role split makes the pair canonical without sorting.
func PrivatePairKey(teacherID, studentID string) string {
	return teacherID + "|" + studentID
}
