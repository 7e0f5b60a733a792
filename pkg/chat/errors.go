package chat

import "errors"

var (
	// ErrNotAParticipant rejects an operation by a user without an active
	// participant row in the conversation.
	ErrNotAParticipant = errors.New("chat: not an active participant")

	// ErrConversationInactive rejects writes to a soft-deactivated
	// conversation. Reads of history remain allowed.
	ErrConversationInactive = errors.New("chat: conversation is inactive")

	// ErrInvalidPairing rejects a private conversation between a teacher
	// and a student who share no active course.
	ErrInvalidPairing = errors.New("chat: student is not enrolled in a course taught by this teacher")

	// ErrNotSender rejects an edit by anyone but the original sender.
	ErrNotSender = errors.New("chat: only the sender may edit a message")
)
