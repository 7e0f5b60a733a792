// Package reconcile merges the three message sources a client sees — its
// own optimistic sends, server-confirmed fetches, and live pushes — into a
// single ordered view per conversation, keyed by message id.
package reconcile

import (
	"sort"
	"time"

	"github.com/rmehta/coursetalk/pkg/model"
)

// ViewMessage is a message as rendered: either server-confirmed (ID set)
// or locally pending (LocalID set, ID zero until resolved).
type ViewMessage struct {
	model.Message

	LocalID string
	Pending bool
	Failed  bool
}

type conversation struct {
	summary  model.Conversation
	open     bool
	unread   int
	messages []ViewMessage
	typing   map[string]time.Time
	online   map[string]bool
}

type State struct {
	selfID       string
	typingWindow time.Duration
	convs        map[string]*conversation
	now          func() time.Time
}

func NewState(selfID string, typingWindow time.Duration) *State {
	if typingWindow <= 0 {
		typingWindow = time.Second
	}
	return &State{
		selfID:       selfID,
		typingWindow: typingWindow,
		convs:        make(map[string]*conversation),
		now:          time.Now,
	}
}

func (s *State) conv(id string) *conversation {
	c, ok := s.convs[id]
	if !ok {
		c = &conversation{
			typing: make(map[string]time.Time),
			online: make(map[string]bool),
		}
		s.convs[id] = c
	}
	return c
}

// LoadConversations seeds the roster from an initial fetch.
func (s *State) LoadConversations(summaries []model.ConversationSummary) {
	for _, sum := range summaries {
		c := s.conv(sum.Conversation.ID)
		c.summary = sum.Conversation
		if !c.open {
			c.unread = sum.UnreadCount
		}
	}
}

// LoadMessages merges a fetched page into the view, deduplicating against
// anything already present (a push may have raced the fetch).
func (s *State) LoadMessages(conversationID string, msgs []model.Message) {
	c := s.conv(conversationID)
	for i := range msgs {
		c.upsertConfirmed(msgs[i])
	}
}

// AppendPending adds an optimistic message under a caller-chosen local id
// before the server round-trip resolves.
func (s *State) AppendPending(conversationID, localID, content string, attachments []model.Attachment) {
	c := s.conv(conversationID)
	c.messages = append(c.messages, ViewMessage{
		Message: model.Message{
			ConversationID: conversationID,
			SenderID:       s.selfID,
			Content:        content,
			Attachments:    attachments,
			CreatedAt:      s.now(),
		},
		LocalID: localID,
		Pending: true,
	})
}

// ResolvePending replaces the optimistic entry with the server's message.
// If the live push already delivered it, the pending entry is dropped
// instead of duplicated; if the pending entry is gone, the message is
// merged by id.
func (s *State) ResolvePending(conversationID, localID string, msg model.Message) {
	c := s.conv(conversationID)
	for i := range c.messages {
		if c.messages[i].LocalID == localID && c.messages[i].Pending {
			if c.indexByID(msg.ID) >= 0 {
				c.messages = append(c.messages[:i], c.messages[i+1:]...)
			} else {
				c.messages[i] = ViewMessage{Message: msg}
			}
			c.sortConfirmed()
			return
		}
	}
	c.upsertConfirmed(msg)
}

// FailPending marks the optimistic entry errored so the UI can offer a
// retry tied to the local id.
func (s *State) FailPending(conversationID, localID string) {
	c := s.conv(conversationID)
	for i := range c.messages {
		if c.messages[i].LocalID == localID {
			c.messages[i].Failed = true
			return
		}
	}
}

// RetryPending clears the error flag ahead of a resend.
func (s *State) RetryPending(conversationID, localID string) {
	c := s.conv(conversationID)
	for i := range c.messages {
		if c.messages[i].LocalID == localID {
			c.messages[i].Failed = false
			return
		}
	}
}

// ApplyEvent folds one live push into the view.
func (s *State) ApplyEvent(ev model.Event) {
	switch ev.Type {
	case model.EventNewMessage:
		if ev.Message == nil {
			return
		}
		s.applyMessage(*ev.Message)
	case model.EventMessageRead:
		if ev.Read == nil {
			return
		}
		s.applyRead(*ev.Read)
	case model.EventTyping:
		c := s.conv(ev.ConversationID)
		if ev.Content == "started" {
			c.typing[ev.UserID] = s.now().Add(s.typingWindow)
		} else {
			delete(c.typing, ev.UserID)
		}
	case model.EventNewConversation:
		if ev.Conversation == nil {
			return
		}
		c := s.conv(ev.Conversation.ID)
		c.summary = *ev.Conversation
	case model.EventPresence:
		c := s.conv(ev.ConversationID)
		c.online[ev.UserID] = ev.Content == "joined" || ev.Content == "online"
	}
}

func (s *State) applyMessage(msg model.Message) {
	c := s.conv(msg.ConversationID)

	// Server-side exclusion is an optimization only; pushes of our own
	// messages are dropped here defensively, by id.
	if msg.SenderID == s.selfID {
		if i := c.indexByID(msg.ID); i >= 0 {
			c.messages[i] = ViewMessage{Message: msg}
		}
		return
	}

	existed := c.indexByID(msg.ID) >= 0
	c.upsertConfirmed(msg)

	// Edits arrive as new-message for an id we already hold; they do not
	// re-count as unread. Unread only accumulates while not viewing.
	if !existed && !c.open {
		c.unread++
	}
}

func (s *State) applyRead(r model.ReadReceipt) {
	c := s.conv(r.ConversationID)
	for i := range c.messages {
		m := &c.messages[i]
		if m.Pending || (r.UpToMessageID != 0 && m.ID > r.UpToMessageID) {
			continue
		}
		if !m.ReadByUser(r.UserID) {
			m.ReadBy = append(m.ReadBy, r.UserID)
		}
	}
}

// Open marks the conversation as the one on screen; its unread counter
// drops to zero. Counters of every other conversation keep accumulating.
func (s *State) Open(conversationID string) {
	for id, c := range s.convs {
		c.open = id == conversationID
	}
	s.conv(conversationID).unread = 0
}

func (s *State) Close(conversationID string) {
	s.conv(conversationID).open = false
}

// Messages returns the merged ordered view: confirmed messages by id,
// pending entries after them in send order. Clients never reorder this.
func (s *State) Messages(conversationID string) []ViewMessage {
	c := s.conv(conversationID)
	out := make([]ViewMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

func (s *State) Unread(conversationID string) int {
	return s.conv(conversationID).unread
}

// Typing lists users with a live typing indicator, expiring lazily.
func (s *State) Typing(conversationID string) []string {
	c := s.conv(conversationID)
	now := s.now()
	var out []string
	for userID, expires := range c.typing {
		if expires.After(now) {
			out = append(out, userID)
		} else {
			delete(c.typing, userID)
		}
	}
	sort.Strings(out)
	return out
}

func (c *conversation) indexByID(id int64) int {
	if id == 0 {
		return -1
	}
	for i := range c.messages {
		if !c.messages[i].Pending && c.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *conversation) upsertConfirmed(msg model.Message) {
	if i := c.indexByID(msg.ID); i >= 0 {
		c.messages[i] = ViewMessage{Message: msg}
		return
	}
	c.messages = append(c.messages, ViewMessage{Message: msg})
	c.sortConfirmed()
}

// sortConfirmed keeps confirmed messages ordered by id with pending
// entries trailing in insertion order.
func (c *conversation) sortConfirmed() {
	sort.SliceStable(c.messages, func(i, j int) bool {
		a, b := c.messages[i], c.messages[j]
		if a.Pending != b.Pending {
			return !a.Pending
		}
		if a.Pending {
			return false
		}
		return a.ID < b.ID
	})
}
