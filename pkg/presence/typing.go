package presence

import (
	"sync"
	"time"

	"github.com/rmehta/coursetalk/pkg/model"
)

// A typing entry lives until an explicit stop or its expiry window passes.
// Entries are tombstoned (dead) under their own lock before removal, so a
// stop racing a sweep can never resurrect an expired entry: whoever marks
// the entry dead wins, and a later start creates a fresh entry.
type typingEntry struct {
	conversationID string
	userID         string

	mu      sync.Mutex
	expires time.Time
	dead    bool
}

func typingKey(conversationID, userID string) string {
	return conversationID + "|" + userID
}

// StartTyping records or refreshes the typing entry and broadcasts a
// typing-started event to the rest of the room.
func (c *Coordinator) StartTyping(conversationID, userID string) {
	key := typingKey(conversationID, userID)
	for {
		fresh := &typingEntry{conversationID: conversationID, userID: userID}
		entry, loaded := c.typing.LoadOrStore(key, fresh)
		te := entry.(*typingEntry)
		te.mu.Lock()
		if te.dead {
			te.mu.Unlock()
			c.typing.CompareAndDelete(key, te)
			continue
		}
		refresh := loaded
		te.expires = c.now().Add(c.window)
		te.mu.Unlock()

		if !refresh {
			c.Broadcast(conversationID, model.Event{
				Type:           model.EventTyping,
				ConversationID: conversationID,
				UserID:         userID,
				ExcludeUserID:  userID,
				Content:        "started",
				Timestamp:      c.now(),
			})
		}
		return
	}
}

// StopTyping removes the entry and broadcasts typing-stopped. Stopping an
// absent or already-expired entry is a no-op.
func (c *Coordinator) StopTyping(conversationID, userID string) {
	if c.expireTypingEntry(conversationID, userID) {
		c.broadcastTypingStopped(conversationID, userID)
	}
}

// expireTypingEntry tombstones and removes the entry, reporting whether it
// was alive.
func (c *Coordinator) expireTypingEntry(conversationID, userID string) bool {
	key := typingKey(conversationID, userID)
	entry, ok := c.typing.Load(key)
	if !ok {
		return false
	}
	te := entry.(*typingEntry)
	te.mu.Lock()
	if te.dead {
		te.mu.Unlock()
		return false
	}
	te.dead = true
	te.mu.Unlock()
	c.typing.CompareAndDelete(key, te)
	return true
}

// TypingUsers returns who is currently typing in a conversation, applying
// expiry lazily so a missed sweep never pins a stale indicator.
func (c *Coordinator) TypingUsers(conversationID string) []string {
	now := c.now()
	var out []string
	c.typing.Range(func(_, v interface{}) bool {
		te := v.(*typingEntry)
		if te.conversationID != conversationID {
			return true
		}
		te.mu.Lock()
		alive := !te.dead && te.expires.After(now)
		te.mu.Unlock()
		if alive {
			out = append(out, te.userID)
		}
		return true
	})
	return out
}

// sweepTyping expires every entry whose window has passed and broadcasts
// the stop the client never sent.
func (c *Coordinator) sweepTyping(now time.Time) {
	c.typing.Range(func(key, v interface{}) bool {
		te := v.(*typingEntry)
		te.mu.Lock()
		expired := !te.dead && !te.expires.After(now)
		if expired {
			te.dead = true
		}
		te.mu.Unlock()
		if expired {
			c.typing.CompareAndDelete(key, te)
			c.broadcastTypingStopped(te.conversationID, te.userID)
		}
		return true
	})
}

func (c *Coordinator) broadcastTypingStopped(conversationID, userID string) {
	c.Broadcast(conversationID, model.Event{
		Type:           model.EventTyping,
		ConversationID: conversationID,
		UserID:         userID,
		ExcludeUserID:  userID,
		Content:        "stopped",
		Timestamp:      c.now(),
	})
}
