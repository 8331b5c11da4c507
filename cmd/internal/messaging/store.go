package messaging

import (
	"context"
	"time"
)

// ConversationStore persists conversations and their participant links.
//
// Requirements:
//   - At most one conversation per unordered participant pair, even under concurrent creation
//   - Participant links are written together with the conversation
type ConversationStore interface {
	// ConversationIDsFor returns every conversation id profileID participates in.
	ConversationIDsFor(ctx context.Context, profileID string) ([]string, error)
	// SharedConversationIDs returns the subset of conversationIDs that profileID also participates in.
	SharedConversationIDs(ctx context.Context, conversationIDs []string, profileID string) ([]string, error)
	// CreateConversation creates the conversation for the pair, or returns the existing one.
	// created reports whether this call wrote it.
	CreateConversation(ctx context.Context, in CreateConversationInput) (conv Conversation, created bool, err error)
	// Participants returns the participant rows for conversationIDs.
	Participants(ctx context.Context, conversationIDs []string) ([]Participant, error)
	IsParticipant(ctx context.Context, conversationID, profileID string) (bool, error)
}

// CreateConversationInput describes a conversation creation request.
type CreateConversationInput struct {
	ID string
	A  string
	B  string
}

// MessageStore persists and queries messages.
//
// Requirements:
//   - created_at is assigned by the store and strictly increases within a conversation
//   - The sender must be a participant (ErrNotAuthorized otherwise)
//   - read_at is only ever set where it is null
type MessageStore interface {
	InsertMessage(ctx context.Context, in InsertMessageInput) (Message, error)
	// ListThread returns a conversation's messages ordered by created_at ASC.
	ListThread(ctx context.Context, conversationID string) ([]Message, error)
	// ListLatest returns messages across conversationIDs ordered by created_at DESC.
	ListLatest(ctx context.Context, conversationIDs []string) ([]Message, error)
	// MarkRead sets read_at on unread messages not sent by readerID. It returns how many
	// changed and the timestamp written; at is zero when n is zero.
	MarkRead(ctx context.Context, conversationID, readerID string) (n int64, at time.Time, err error)
	// LastReadAt returns the most recent read_at readerID set in the conversation.
	LastReadAt(ctx context.Context, conversationID, readerID string) (time.Time, bool, error)
}

// InsertMessageInput describes a message append request.
type InsertMessageInput struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
}

// Store is the full persistence boundary used by the service.
type Store interface {
	ConversationStore
	MessageStore
	Close() error
}
