// Package messaging is the Picked messaging core: two-party conversations,
// an append-only message log with read receipts, and the inbox view over both.
package messaging

import "time"

// Conversation is a two-party channel. Participants never change after creation.
type Conversation struct {
	ID           string
	Participants [2]string
	CreatedAt    time.Time
}

// Other returns the participant that is not profileID.
// ok is false when profileID is not a participant.
func (c Conversation) Other(profileID string) (string, bool) {
	switch profileID {
	case c.Participants[0]:
		return c.Participants[1], true
	case c.Participants[1]:
		return c.Participants[0], true
	}
	return "", false
}

// Participant links a profile to a conversation.
type Participant struct {
	ConversationID string
	ProfileID      string
}

// Message is one persisted message. ReadAt moves from nil to set exactly once.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"created_at"`
	ReadAt         *time.Time `json:"read_at"`
}

// Unread reports whether m is still unread from the point of view of readerID.
func (m Message) Unread(readerID string) bool {
	return m.SenderID != readerID && m.ReadAt == nil
}

// canonicalPair orders two profile ids so an unordered pair has one key.
func canonicalPair(a, b string) (low, high string) {
	if a < b {
		return a, b
	}
	return b, a
}
