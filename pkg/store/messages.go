package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rmehta/coursetalk/pkg/model"
)

// messages are clustered ascending by snowflake id inside the conversation
// partition, which is the creation-time total order clients render.

func (s *Scylla) InsertMessage(ctx context.Context, m *model.Message) error {
	var attachments string
	if len(m.Attachments) > 0 {
		raw, err := json.Marshal(m.Attachments)
		if err != nil {
			return wrap(err)
		}
		attachments = string(raw)
	}
	q := `INSERT INTO messages (conversation_id, id, sender_id, sender_role, content,
	        attachments, read_by, edited, edited_at, created_at)
	      VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	return wrap(s.session.Query(q,
		m.ConversationID, m.ID, m.SenderID, string(m.SenderRole), m.Content,
		attachments, m.ReadBy, m.Edited, m.EditedAt, m.CreatedAt,
	).WithContext(ctx).Exec())
}

const messageColumns = `conversation_id, id, sender_id, sender_role, content,
	attachments, read_by, edited, edited_at, created_at`

func scanMessage(scan func(...interface{}) bool) (*model.Message, bool) {
	var m model.Message
	var senderRole, attachments string
	var editedAt time.Time
	ok := scan(&m.ConversationID, &m.ID, &m.SenderID, &senderRole, &m.Content,
		&attachments, &m.ReadBy, &m.Edited, &editedAt, &m.CreatedAt)
	if !ok {
		return nil, false
	}
	m.SenderRole = model.Role(senderRole)
	if attachments != "" {
		_ = json.Unmarshal([]byte(attachments), &m.Attachments)
	}
	if !editedAt.IsZero() {
		m.EditedAt = &editedAt
	}
	return &m, true
}

func (s *Scylla) Message(ctx context.Context, conversationID string, id int64) (*model.Message, error) {
	q := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = ? AND id = ?`
	iter := s.session.Query(q, conversationID, id).WithContext(ctx).Iter()
	m, ok := scanMessage(iter.Scan)
	if err := iter.Close(); err != nil {
		return nil, wrap(err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return m, nil
}

// Messages returns up to limit messages with id > afterID, oldest to
// newest. afterID of zero starts from the beginning.
func (s *Scylla) Messages(ctx context.Context, conversationID string, afterID int64, limit int) ([]model.Message, error) {
	q := `SELECT ` + messageColumns + ` FROM messages
	      WHERE conversation_id = ? AND id > ? LIMIT ?`
	iter := s.session.Query(q, conversationID, afterID, limit).WithContext(ctx).Iter()

	var out []model.Message
	for {
		m, ok := scanMessage(iter.Scan)
		if !ok {
			break
		}
		out = append(out, *m)
	}
	if err := iter.Close(); err != nil {
		return nil, wrap(err)
	}
	return out, nil
}

func (s *Scylla) LastMessage(ctx context.Context, conversationID string) (*model.Message, error) {
	q := `SELECT ` + messageColumns + ` FROM messages
	      WHERE conversation_id = ? ORDER BY id DESC LIMIT 1`
	iter := s.session.Query(q, conversationID).WithContext(ctx).Iter()
	m, ok := scanMessage(iter.Scan)
	if err := iter.Close(); err != nil {
		return nil, wrap(err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return m, nil
}

// AddReadBy appends userID to the message's read set. Set union is atomic
// and idempotent on the server side, so the set only ever grows and
// repeated marks are no-ops.
func (s *Scylla) AddReadBy(ctx context.Context, conversationID string, id int64, userID string) error {
	q := `UPDATE messages SET read_by = read_by + ? WHERE conversation_id = ? AND id = ?`
	return wrap(s.session.Query(q, []string{userID}, conversationID, id).WithContext(ctx).Exec())
}

// UnreadMessageIDs lists message ids not yet read by userID, bounded by
// upTo when non-zero.
func (s *Scylla) UnreadMessageIDs(ctx context.Context, conversationID, userID string, upTo int64) ([]int64, error) {
	q := `SELECT id, read_by FROM messages WHERE conversation_id = ?`
	iter := s.session.Query(q, conversationID).WithContext(ctx).Iter()

	var out []int64
	var id int64
	var readBy []string
	for iter.Scan(&id, &readBy) {
		if upTo != 0 && id > upTo {
			continue
		}
		if !contains(readBy, userID) {
			out = append(out, id)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, wrap(err)
	}
	return out, nil
}

// UnreadCount is the number of messages whose read set excludes userID.
func (s *Scylla) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	ids, err := s.UnreadMessageIDs(ctx, conversationID, userID, 0)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *Scylla) UpdateMessageContent(ctx context.Context, conversationID string, id int64, content string, at time.Time) error {
	q := `UPDATE messages SET content = ?, edited = true, edited_at = ?
	      WHERE conversation_id = ? AND id = ?`
	return wrap(s.session.Query(q, content, at, conversationID, id).WithContext(ctx).Exec())
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
