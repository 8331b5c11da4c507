package messaging

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

const memMaxMessagesPerConversation = 10_000

// MemoryStore is the in-process Store used when no database is configured and in tests.
// A single mutex serializes writes, which closes the pair-creation race.
type MemoryStore struct {
	mu  sync.Mutex
	now func() time.Time

	convs   map[string]*memConv
	byPair  map[[2]string]string
	byOwner map[string][]string
	seq     int64
}

type memConv struct {
	conv Conversation
	msgs []memMsg // ordered by created_at
}

type memMsg struct {
	seq int64
	msg Message
}

// MemoryOption configures MemoryStore behavior.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the clock used for created_at and read_at.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore constructs an empty in-memory Store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		now:     func() time.Time { return time.Now().UTC() },
		convs:   make(map[string]*memConv),
		byPair:  make(map[[2]string]string),
		byOwner: make(map[string][]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) ConversationIDsFor(ctx context.Context, profileID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.byOwner[profileID]...), nil
}

func (s *MemoryStore) SharedConversationIDs(ctx context.Context, conversationIDs []string, profileID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, id := range conversationIDs {
		c := s.convs[id]
		if c == nil {
			continue
		}
		if _, ok := c.conv.Other(profileID); ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateConversation(ctx context.Context, in CreateConversationInput) (Conversation, bool, error) {
	if in.ID == "" || in.A == "" || in.B == "" || in.A == in.B {
		return Conversation{}, false, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, false, err
	}

	low, high := canonicalPair(in.A, in.B)
	key := [2]string{low, high}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byPair[key]; ok {
		return s.convs[id].conv, false, nil
	}

	conv := Conversation{
		ID:           in.ID,
		Participants: [2]string{in.A, in.B},
		CreatedAt:    s.now(),
	}
	s.convs[conv.ID] = &memConv{conv: conv}
	s.byPair[key] = conv.ID
	s.byOwner[in.A] = append(s.byOwner[in.A], conv.ID)
	s.byOwner[in.B] = append(s.byOwner[in.B], conv.ID)
	return conv, true, nil
}

func (s *MemoryStore) Participants(ctx context.Context, conversationIDs []string) ([]Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Participant, 0, 2*len(conversationIDs))
	for _, id := range conversationIDs {
		c := s.convs[id]
		if c == nil {
			continue
		}
		for _, p := range c.conv.Participants {
			out = append(out, Participant{ConversationID: id, ProfileID: p})
		}
	}
	return out, nil
}

func (s *MemoryStore) IsParticipant(ctx context.Context, conversationID, profileID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[conversationID]
	if c == nil {
		return false, nil
	}
	_, ok := c.conv.Other(profileID)
	return ok, nil
}

func (s *MemoryStore) InsertMessage(ctx context.Context, in InsertMessageInput) (Message, error) {
	if in.ID == "" || in.ConversationID == "" || in.SenderID == "" || in.Content == "" {
		return Message{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[in.ConversationID]
	if c == nil {
		return Message{}, ErrNotAuthorized
	}
	if _, ok := c.conv.Other(in.SenderID); !ok {
		return Message{}, ErrNotAuthorized
	}
	if len(c.msgs) >= memMaxMessagesPerConversation {
		return Message{}, errors.New("memory store: conversation is full")
	}

	now := s.now()
	if n := len(c.msgs); n > 0 {
		if last := c.msgs[n-1].msg.CreatedAt; !now.After(last) {
			now = last.Add(time.Microsecond)
		}
	}

	s.seq++
	m := Message{
		ID:             in.ID,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		CreatedAt:      now,
	}
	c.msgs = append(c.msgs, memMsg{seq: s.seq, msg: m})
	return m, nil
}

func (s *MemoryStore) ListThread(ctx context.Context, conversationID string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[conversationID]
	if c == nil {
		return nil, nil
	}
	out := make([]Message, 0, len(c.msgs))
	for _, mm := range c.msgs {
		out = append(out, copyMessage(mm.msg))
	}
	return out, nil
}

func (s *MemoryStore) ListLatest(ctx context.Context, conversationIDs []string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []memMsg
	for _, id := range conversationIDs {
		if c := s.convs[id]; c != nil {
			all = append(all, c.msgs...)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i].msg.CreatedAt, all[j].msg.CreatedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return all[i].seq > all[j].seq
	})

	out := make([]Message, 0, len(all))
	for _, mm := range all {
		out = append(out, copyMessage(mm.msg))
	}
	return out, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, conversationID, readerID string) (int64, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return 0, time.Time{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[conversationID]
	if c == nil {
		return 0, time.Time{}, nil
	}

	now := s.now()
	var n int64
	for i := range c.msgs {
		m := &c.msgs[i].msg
		if !m.Unread(readerID) {
			continue
		}
		at := now
		m.ReadAt = &at
		n++
	}
	if n == 0 {
		return 0, time.Time{}, nil
	}
	return n, now, nil
}

func (s *MemoryStore) LastReadAt(ctx context.Context, conversationID, readerID string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[conversationID]
	if c == nil {
		return time.Time{}, false, nil
	}

	var (
		last  time.Time
		found bool
	)
	for _, mm := range c.msgs {
		m := mm.msg
		if m.SenderID == readerID || m.ReadAt == nil {
			continue
		}
		if !found || m.ReadAt.After(last) {
			last = *m.ReadAt
			found = true
		}
	}
	return last, found, nil
}

func copyMessage(m Message) Message {
	if m.ReadAt != nil {
		at := *m.ReadAt
		m.ReadAt = &at
	}
	return m
}
