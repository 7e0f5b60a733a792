// Package chat validates and persists conversations, messages, and read
// receipts. All durable writes happen here, synchronously; the live push
// follows the write and is never allowed to fail it.
package chat

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rmehta/coursetalk/pkg/model"
	"github.com/rmehta/coursetalk/pkg/snowflake"
	"github.com/rmehta/coursetalk/pkg/store"
)

// Store is the durable surface the service needs. *store.Scylla satisfies
// it; tests supply an in-memory fake.
type Store interface {
	InsertConversation(ctx context.Context, c *model.Conversation) error
	Conversation(ctx context.Context, id string) (*model.Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error
	UpsertParticipant(ctx context.Context, p model.Participant) error
	Participant(ctx context.Context, conversationID, userID string) (*model.Participant, error)
	Participants(ctx context.Context, conversationID string) ([]model.Participant, error)
	ConversationsForUser(ctx context.Context, userID string) ([]model.Conversation, error)
	ClaimPrivatePair(ctx context.Context, pairKey, conversationID string) (string, bool, error)

	InsertMessage(ctx context.Context, m *model.Message) error
	Message(ctx context.Context, conversationID string, id int64) (*model.Message, error)
	Messages(ctx context.Context, conversationID string, afterID int64, limit int) ([]model.Message, error)
	LastMessage(ctx context.Context, conversationID string) (*model.Message, error)
	AddReadBy(ctx context.Context, conversationID string, id int64, userID string) error
	UnreadMessageIDs(ctx context.Context, conversationID, userID string, upTo int64) ([]int64, error)
	UnreadCount(ctx context.Context, conversationID, userID string) (int, error)
	UpdateMessageContent(ctx context.Context, conversationID string, id int64, content string, at time.Time) error

	SharesActiveCourse(ctx context.Context, teacherID, studentID string) (bool, error)
}

// Publisher pushes live events. Failures are logged and swallowed; the
// recipient catches up from the store on its next fetch.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

type Service struct {
	store Store
	pub   Publisher
	ids   *snowflake.Node
	log   *zap.Logger
	now   func() time.Time
}

func NewService(st Store, pub Publisher, ids *snowflake.Node, log *zap.Logger) *Service {
	return &Service{store: st, pub: pub, ids: ids, log: log, now: time.Now}
}

// CreatePrivateConversation returns the pair's existing private
// conversation or creates one. Concurrent calls for the same pair converge
// on a single conversation id.
func (s *Service) CreatePrivateConversation(ctx context.Context, teacherID, studentID string) (*model.Conversation, error) {
	ok, err := s.store.SharesActiveCourse(ctx, teacherID, studentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidPairing
	}

	now := s.now()
	conv := &model.Conversation{
		ID:        uuid.NewString(),
		Kind:      model.KindPrivate,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	winnerID, created, err := s.store.ClaimPrivatePair(ctx, model.PrivatePairKey(teacherID, studentID), conv.ID)
	if err != nil {
		return nil, err
	}
	if !created {
		existing, err := s.store.Conversation(ctx, winnerID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		// The pair row exists but the conversation behind it was never
		// written: a previous creator claimed the pair and then failed
		// mid-way. Finish the creation under the claimed id so retries
		// converge instead of wedging on the orphaned claim.
		conv.ID = winnerID
	}

	if err := s.store.InsertConversation(ctx, conv); err != nil {
		return nil, err
	}
	participants := []model.Participant{
		{ConversationID: conv.ID, UserID: teacherID, Role: model.RoleTeacher, IsActive: true},
		{ConversationID: conv.ID, UserID: studentID, Role: model.RoleStudent, IsActive: true},
	}
	for _, p := range participants {
		if err := s.store.UpsertParticipant(ctx, p); err != nil {
			return nil, err
		}
	}

	s.publish(ctx, model.Event{
		Type:           model.EventNewConversation,
		ConversationID: conv.ID,
		Recipients:     []string{teacherID, studentID},
		Conversation:   conv,
		Timestamp:      now,
	})
	return conv, nil
}

// SendMessage persists a message with the sender pre-marked as having read
// it, then pushes it to the other active participants.
func (s *Service) SendMessage(ctx context.Context, conversationID, senderID string, senderRole model.Role, content string, attachments []model.Attachment) (*model.Message, error) {
	conv, err := s.store.Conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsActive {
		return nil, ErrConversationInactive
	}
	p, err := s.store.Participant(ctx, conversationID, senderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotAParticipant
		}
		return nil, err
	}
	if !p.IsActive {
		return nil, ErrNotAParticipant
	}
	if conv.Kind == model.KindPrivate {
		// Unenrollment soft-removes the student's side of the pair; the
		// conversation is then closed for sending from either side.
		parts, err := s.store.Participants(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		for _, other := range parts {
			if other.UserID != senderID && !other.IsActive {
				return nil, ErrConversationInactive
			}
		}
	}

	now := s.now()
	msg := &model.Message{
		ID:             s.ids.Generate(),
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderRole:     senderRole,
		Content:        content,
		Attachments:    attachments,
		ReadBy:         []string{senderID},
		CreatedAt:      now,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.store.TouchConversation(ctx, conversationID, now); err != nil {
		s.log.Warn("failed to touch conversation", zap.String("conversation_id", conversationID), zap.Error(err))
	}

	s.publish(ctx, model.Event{
		Type:           model.EventNewMessage,
		ConversationID: conversationID,
		UserID:         senderID,
		ExcludeUserID:  senderID,
		Message:        msg,
		Timestamp:      now,
	})
	return msg, nil
}

// MarkRead adds userID to the read set of every unread message up to and
// including upTo (all unread when upTo is zero). Repeat calls are no-ops.
func (s *Service) MarkRead(ctx context.Context, conversationID, userID string, upTo int64) error {
	if _, err := s.store.Participant(ctx, conversationID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotAParticipant
		}
		return err
	}

	ids, err := s.store.UnreadMessageIDs(ctx, conversationID, userID, upTo)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		if err := s.store.AddReadBy(ctx, conversationID, id, userID); err != nil {
			return err
		}
	}

	s.publish(ctx, model.Event{
		Type:           model.EventMessageRead,
		ConversationID: conversationID,
		UserID:         userID,
		ExcludeUserID:  userID,
		Read:           &model.ReadReceipt{ConversationID: conversationID, UserID: userID, UpToMessageID: upTo},
		Timestamp:      s.now(),
	})
	return nil
}

// ListConversations returns the user's active conversations, most recently
// updated first, each annotated with unread count and last message.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	convs, err := s.store.ConversationsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]model.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		unread, err := s.store.UnreadCount(ctx, c.ID, userID)
		if err != nil {
			return nil, err
		}
		var last *model.Message
		if lm, err := s.store.LastMessage(ctx, c.ID); err == nil {
			last = lm
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		out = append(out, model.ConversationSummary{Conversation: c, UnreadCount: unread, LastMessage: last})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Conversation.UpdatedAt.After(out[j].Conversation.UpdatedAt)
	})
	return out, nil
}

// ListMessages pages a conversation oldest to newest. The caller must be a
// participant (active or soft-removed: history stays readable after
// removal, only sending is gated).
func (s *Service) ListMessages(ctx context.Context, conversationID, userID string, afterID int64, limit int) ([]model.Message, error) {
	if _, err := s.store.Participant(ctx, conversationID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotAParticipant
		}
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.Messages(ctx, conversationID, afterID, limit)
}

// EditMessage replaces a message's content and sets the edited flag. Only
// the original sender may edit; no history is kept beyond the flag.
func (s *Service) EditMessage(ctx context.Context, conversationID string, id int64, senderID, content string) (*model.Message, error) {
	msg, err := s.store.Message(ctx, conversationID, id)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != senderID {
		return nil, ErrNotSender
	}
	conv, err := s.store.Conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsActive {
		return nil, ErrConversationInactive
	}

	now := s.now()
	if err := s.store.UpdateMessageContent(ctx, conversationID, id, content, now); err != nil {
		return nil, err
	}
	msg.Content = content
	msg.Edited = true
	msg.EditedAt = &now

	// Edits ride the new-message event; clients reconcile by id so the
	// existing entry is replaced, not duplicated.
	s.publish(ctx, model.Event{
		Type:           model.EventNewMessage,
		ConversationID: conversationID,
		UserID:         senderID,
		ExcludeUserID:  senderID,
		Message:        msg,
		Timestamp:      now,
	})
	return msg, nil
}

func (s *Service) publish(ctx context.Context, ev model.Event) {
	if err := s.pub.Publish(ctx, ev); err != nil {
		// Transient delivery failure: the durable write already succeeded
		// and is never rolled back.
		s.log.Warn("live push failed",
			zap.String("type", string(ev.Type)),
			zap.String("conversation_id", ev.ConversationID),
			zap.Error(err))
	}
}
