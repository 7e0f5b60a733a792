// Package store is the durable side of the discussion subsystem: plain data
// access over ScyllaDB with no behavior beyond the schema's constraints.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/rmehta/coursetalk/pkg/db"
	"github.com/rmehta/coursetalk/pkg/model"
)

var (
	ErrNotFound = errors.New("store: not found")

	// ErrUnavailable wraps any durable-write or query failure. Callers treat
	// it as retryable; nothing is broadcast when it is returned.
	ErrUnavailable = errors.New("store: unavailable")
)

type Scylla struct {
	session *db.Session
}

func New(session *db.Session) *Scylla {
	return &Scylla{session: session}
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gocql.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (s *Scylla) InsertConversation(ctx context.Context, c *model.Conversation) error {
	q := `INSERT INTO conversations (id, kind, title, course_id, is_active, created_at, updated_at)
	      VALUES (?, ?, ?, ?, ?, ?, ?)`
	return wrap(s.session.Query(q,
		c.ID, string(c.Kind), c.Title, c.CourseID, c.IsActive, c.CreatedAt, c.UpdatedAt,
	).WithContext(ctx).Exec())
}

func (s *Scylla) Conversation(ctx context.Context, id string) (*model.Conversation, error) {
	var c model.Conversation
	var kind string
	q := `SELECT id, kind, title, course_id, is_active, created_at, updated_at
	      FROM conversations WHERE id = ?`
	err := s.session.Query(q, id).WithContext(ctx).Scan(
		&c.ID, &kind, &c.Title, &c.CourseID, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, wrap(err)
	}
	c.Kind = model.ConversationKind(kind)
	return &c, nil
}

func (s *Scylla) SetConversationActive(ctx context.Context, id string, active bool, at time.Time) error {
	q := `UPDATE conversations SET is_active = ?, updated_at = ? WHERE id = ?`
	return wrap(s.session.Query(q, active, at, id).WithContext(ctx).Exec())
}

func (s *Scylla) TouchConversation(ctx context.Context, id string, at time.Time) error {
	q := `UPDATE conversations SET updated_at = ? WHERE id = ?`
	return wrap(s.session.Query(q, at, id).WithContext(ctx).Exec())
}

// UpsertParticipant writes both the by-conversation row and the by-user
// mirror used by ConversationsForUser. The two tables are kept in step the
// same way on every write path.
func (s *Scylla) UpsertParticipant(ctx context.Context, p model.Participant) error {
	q1 := `INSERT INTO participants (conversation_id, user_id, role, is_active) VALUES (?, ?, ?, ?)`
	if err := s.session.Query(q1, p.ConversationID, p.UserID, string(p.Role), p.IsActive).WithContext(ctx).Exec(); err != nil {
		return wrap(err)
	}
	q2 := `INSERT INTO user_conversations (user_id, conversation_id, role, is_active) VALUES (?, ?, ?, ?)`
	return wrap(s.session.Query(q2, p.UserID, p.ConversationID, string(p.Role), p.IsActive).WithContext(ctx).Exec())
}

func (s *Scylla) Participant(ctx context.Context, conversationID, userID string) (*model.Participant, error) {
	var p model.Participant
	var role string
	q := `SELECT conversation_id, user_id, role, is_active FROM participants
	      WHERE conversation_id = ? AND user_id = ?`
	err := s.session.Query(q, conversationID, userID).WithContext(ctx).Scan(
		&p.ConversationID, &p.UserID, &role, &p.IsActive)
	if err != nil {
		return nil, wrap(err)
	}
	p.Role = model.Role(role)
	return &p, nil
}

func (s *Scylla) Participants(ctx context.Context, conversationID string) ([]model.Participant, error) {
	q := `SELECT conversation_id, user_id, role, is_active FROM participants WHERE conversation_id = ?`
	iter := s.session.Query(q, conversationID).WithContext(ctx).Iter()

	var out []model.Participant
	var p model.Participant
	var role string
	for iter.Scan(&p.ConversationID, &p.UserID, &role, &p.IsActive) {
		p.Role = model.Role(role)
		out = append(out, p)
	}
	if err := iter.Close(); err != nil {
		return nil, wrap(err)
	}
	return out, nil
}

// SetParticipantActive flips the soft-removal flag on both rows. The row is
// never deleted so message attribution survives.
func (s *Scylla) SetParticipantActive(ctx context.Context, conversationID, userID string, active bool) error {
	p, err := s.Participant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	p.IsActive = active
	return s.UpsertParticipant(ctx, *p)
}

// ConversationsForUser returns the conversations where the user has an
// active participant row.
func (s *Scylla) ConversationsForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	q := `SELECT conversation_id, is_active FROM user_conversations WHERE user_id = ?`
	iter := s.session.Query(q, userID).WithContext(ctx).Iter()

	var ids []string
	var id string
	var active bool
	for iter.Scan(&id, &active) {
		if active {
			ids = append(ids, id)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, wrap(err)
	}

	out := make([]model.Conversation, 0, len(ids))
	for _, cid := range ids {
		c, err := s.Conversation(ctx, cid)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

// ClaimPrivatePair claims the uniqueness slot for a (teacher, student) pair
// with a lightweight transaction. It returns the winning conversation id
// and whether this call created it; concurrent claimants converge on the
// same id.
func (s *Scylla) ClaimPrivatePair(ctx context.Context, pairKey, conversationID string) (string, bool, error) {
	q := `INSERT INTO private_pairs (pair_key, conversation_id) VALUES (?, ?) IF NOT EXISTS`
	var existingKey, existingID string
	applied, err := s.session.Query(q, pairKey, conversationID).WithContext(ctx).ScanCAS(&existingKey, &existingID)
	if err != nil {
		return "", false, wrap(err)
	}
	if applied {
		return conversationID, true, nil
	}
	return existingID, false, nil
}

func (s *Scylla) PrivateConversationID(ctx context.Context, pairKey string) (string, error) {
	var id string
	q := `SELECT conversation_id FROM private_pairs WHERE pair_key = ?`
	if err := s.session.Query(q, pairKey).WithContext(ctx).Scan(&id); err != nil {
		return "", wrap(err)
	}
	return id, nil
}
