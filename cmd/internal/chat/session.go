// Package chat is the client-side state of one open conversation: history, optimistic
// sends and realtime inserts merged into a single de-duplicated list.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"picked/cmd/internal/directory"
	"picked/cmd/internal/messaging"

	"github.com/google/uuid"
)

// TempIDPrefix marks optimistic placeholders that the server has not confirmed yet.
const TempIDPrefix = "temp-"

// ErrSendInFlight is returned when a send is attempted while another is outstanding.
// The attempt is dropped, not queued.
var ErrSendInFlight = errors.New("chat: a send is already in flight")

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("chat: session closed")

// Backend is the messaging surface a session talks to.
type Backend interface {
	OpenThread(ctx context.Context, conversationID, viewerID string) (messaging.Thread, error)
	PostMessage(ctx context.Context, conversationID, senderID, content string) (messaging.Message, error)
	MarkRead(ctx context.Context, conversationID, readerID string) (int64, error)
}

// Subscriber delivers inserted messages for one conversation until unsubscribe is called.
type Subscriber interface {
	Subscribe(conversationID string, onInsert func(messaging.Message)) (unsubscribe func())
}

const defaultMarkReadTimeout = 10 * time.Second

// Session holds the visible message list for one conversation.
type Session struct {
	log            *slog.Logger
	backend        Backend
	conversationID string
	userID         string

	now            func() time.Time
	dispatch       func(func())
	markReadWithin time.Duration

	mu          sync.Mutex
	loaded      bool
	messages    []messaging.Message
	early       []messaging.Message
	counterpart *directory.ProfileSummary
	inFlight    bool
	closed      bool

	unsubscribe func()
	closeOnce   sync.Once
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the clock used for placeholder timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDispatcher overrides how fire-and-forget work (read marking) is run. Default: a goroutine.
func WithDispatcher(dispatch func(func())) Option {
	return func(s *Session) {
		if dispatch != nil {
			s.dispatch = dispatch
		}
	}
}

// WithMarkReadTimeout bounds each background read-marking call. Default: 10s.
func WithMarkReadTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.markReadWithin = d
		}
	}
}

// Open subscribes to the conversation, loads its history and counterpart, and returns the session.
// Inserts that arrive while the history is loading are merged once it lands.
func Open(ctx context.Context, backend Backend, sub Subscriber, conversationID, userID string, opts ...Option) (*Session, error) {
	s := &Session{
		log:            slog.Default(),
		backend:        backend,
		conversationID: conversationID,
		userID:         userID,
		now:            func() time.Time { return time.Now().UTC() },
		dispatch:       func(fn func()) { go fn() },
		markReadWithin: defaultMarkReadTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if sub != nil {
		s.unsubscribe = sub.Subscribe(conversationID, s.HandleInsert)
	}

	th, err := backend.OpenThread(ctx, conversationID, userID)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.mu.Lock()
	s.counterpart = th.Counterpart
	s.messages = append(make([]messaging.Message, 0, len(th.Messages)+len(s.early)), th.Messages...)
	needRead := false
	for _, m := range s.early {
		if s.indexOf(m.ID) < 0 {
			s.messages = append(s.messages, m)
			needRead = needRead || m.SenderID != userID
		}
	}
	s.early = nil
	s.loaded = true
	s.mu.Unlock()

	if needRead {
		s.dispatch(s.markRead)
	}
	return s, nil
}

// SendState is the lifecycle of one optimistic send.
type SendState int

const (
	SendPending SendState = iota
	SendConfirmed
	SendRolledBack
)

func (s SendState) String() string {
	switch s {
	case SendPending:
		return "pending"
	case SendConfirmed:
		return "confirmed"
	case SendRolledBack:
		return "rolled_back"
	}
	return "unknown"
}

// Send is the outcome of one optimistic send.
type Send struct {
	TempID string
	State  SendState
	// Message is the server copy once confirmed.
	Message messaging.Message
}

// Send appends a placeholder, posts the message, then swaps the placeholder for the
// server copy or removes it. Only one send may be outstanding at a time.
func (s *Session) Send(ctx context.Context, raw string) (Send, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return Send{}, messaging.ErrEmptyMessage
	}

	out := Send{TempID: TempIDPrefix + uuid.NewString(), State: SendPending}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Send{}, ErrClosed
	}
	if s.inFlight {
		s.mu.Unlock()
		return Send{}, ErrSendInFlight
	}
	s.inFlight = true
	s.messages = append(s.messages, messaging.Message{
		ID:             out.TempID,
		ConversationID: s.conversationID,
		SenderID:       s.userID,
		Content:        content,
		CreatedAt:      s.now(),
	})
	s.mu.Unlock()

	m, err := s.backend.PostMessage(ctx, s.conversationID, s.userID, content)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false

	i := s.indexOf(out.TempID)
	if err != nil {
		if i >= 0 {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
		}
		out.State = SendRolledBack
		return out, err
	}

	out.State = SendConfirmed
	out.Message = m
	switch {
	case i < 0:
		// Placeholder already gone; keep the server copy if realtime has not delivered it.
		if s.indexOf(m.ID) < 0 {
			s.messages = append(s.messages, m)
		}
	case s.indexOf(m.ID) >= 0:
		// Realtime delivered the real message first.
		s.messages = append(s.messages[:i], s.messages[i+1:]...)
	default:
		s.messages[i] = m
	}
	return out, nil
}

// Sending reports whether a send is outstanding (the send affordance is disabled).
func (s *Session) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// HandleInsert merges a realtime insert event. Duplicates by id are discarded.
// Inserts from the other participant trigger a fire-and-forget MarkRead.
func (s *Session) HandleInsert(m messaging.Message) {
	if m.ConversationID != s.conversationID || m.ID == "" {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if !s.loaded {
		for _, e := range s.early {
			if e.ID == m.ID {
				s.mu.Unlock()
				return
			}
		}
		s.early = append(s.early, m)
		s.mu.Unlock()
		return
	}
	if s.indexOf(m.ID) >= 0 {
		s.mu.Unlock()
		return
	}
	s.messages = append(s.messages, m)
	s.mu.Unlock()

	if m.SenderID != s.userID {
		s.dispatch(s.markRead)
	}
}

func (s *Session) markRead() {
	ctx, cancel := context.WithTimeout(context.Background(), s.markReadWithin)
	defer cancel()

	if _, err := s.backend.MarkRead(ctx, s.conversationID, s.userID); err != nil {
		s.log.Warn("chat.mark_read.fail", "conversation_id", s.conversationID, "err", err)
	}
}

// Messages returns a snapshot of the visible list.
func (s *Session) Messages() []messaging.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]messaging.Message(nil), s.messages...)
}

// Counterpart returns the other participant's profile, or nil when unknown.
func (s *Session) Counterpart() *directory.ProfileSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counterpart
}

// Items renders the visible list with sender and day grouping.
func (s *Session) Items(loc *time.Location) []Item {
	return Group(s.Messages(), s.userID, s.now(), loc)
}

// Close releases the realtime subscription. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		unsub := s.unsubscribe
		s.mu.Unlock()

		if unsub != nil {
			unsub()
		}
	})
}

// indexOf must be called with mu held.
func (s *Session) indexOf(id string) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}
