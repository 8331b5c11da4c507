package messaging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"picked/cmd/internal/directory"
	"picked/cmd/internal/notify"
)

const (
	// Max message text length (runes).
	MaxMessageChars = 4000

	DefaultStoreTimeout  = 5 * time.Second
	DefaultNotifyTimeout = 10 * time.Second
	DefaultIdleWindow    = 5 * time.Minute
)

// Publisher pushes a freshly persisted message to realtime subscribers.
type Publisher interface {
	Publish(ctx context.Context, m Message) error
}

// Config holds the service's timing policy.
type Config struct {
	// StoreTimeout bounds every individual store call.
	StoreTimeout time.Duration
	// NotifyTimeout bounds one background notification attempt.
	NotifyTimeout time.Duration
	// IdleWindow: the recipient is emailed only if they have not read anything in this window.
	IdleWindow time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		StoreTimeout:  DefaultStoreTimeout,
		NotifyTimeout: DefaultNotifyTimeout,
		IdleWindow:    DefaultIdleWindow,
	}
}

// Service orchestrates conversation lookup/creation, message persistence,
// read-marking and the outbound notification side effect.
//
// Operations are independent request/response calls; the only in-process state is
// the WaitGroup tracking background notifications.
type Service struct {
	log   *slog.Logger
	cfg   Config
	store Store

	profiles  directory.Reader
	notifier  notify.Notifier
	publisher Publisher
	metrics   *Metrics
	now       func() time.Time

	notifyWG sync.WaitGroup
}

// Option configures Service behavior.
type Option func(*Service)

func WithConfig(cfg Config) Option { return func(s *Service) { s.cfg = cfg } }

func WithProfiles(r directory.Reader) Option { return func(s *Service) { s.profiles = r } }

func WithNotifier(n notify.Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithPublisher(p Publisher) Option { return func(s *Service) { s.publisher = p } }

func WithMetrics(m *Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithClock overrides the clock used for ids and the idle-window check.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service over store.
func NewService(log *slog.Logger, store Store, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		log:   log,
		cfg:   DefaultConfig(),
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.cfg.StoreTimeout <= 0 {
		s.cfg.StoreTimeout = DefaultStoreTimeout
	}
	if s.cfg.NotifyTimeout <= 0 {
		s.cfg.NotifyTimeout = DefaultNotifyTimeout
	}
	if s.cfg.IdleWindow <= 0 {
		s.cfg.IdleWindow = DefaultIdleWindow
	}
	return s
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

// StartOrGetConversation returns the conversation between requesterID and otherID,
// creating it on first contact. Concurrent calls from either side converge on one id.
func (s *Service) StartOrGetConversation(ctx context.Context, requesterID, otherID string) (string, error) {
	const op = "messaging.StartOrGetConversation"

	requesterID = strings.TrimSpace(requesterID)
	otherID = strings.TrimSpace(otherID)
	if requesterID == "" {
		return "", opErr(op, ErrNotAuthenticated)
	}
	if otherID == "" {
		return "", opErr(op, ErrInvalidInput)
	}
	if requesterID == otherID {
		return "", opErr(op, ErrSelfConversation)
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	mine, err := s.store.ConversationIDsFor(ctx, requesterID)
	if err != nil {
		return "", storeErr(op, err)
	}
	if len(mine) > 0 {
		shared, err := s.store.SharedConversationIDs(ctx, mine, otherID)
		if err != nil {
			return "", storeErr(op, err)
		}
		if len(shared) > 0 {
			return shared[0], nil
		}
	}

	id, err := NewID(s.now())
	if err != nil {
		return "", storeErr(op, err)
	}
	conv, created, err := s.store.CreateConversation(ctx, CreateConversationInput{ID: id, A: requesterID, B: otherID})
	if err != nil {
		return "", storeErr(op, err)
	}
	if created {
		s.metrics.conversationCreated()
		s.log.Info("messaging.conversation.created", "conversation_id", conv.ID)
	}
	return conv.ID, nil
}

// PostMessage persists a message from senderID and returns it with its server id and timestamp.
// Realtime publish and email notification are best effort and never fail the send.
func (s *Service) PostMessage(ctx context.Context, conversationID, senderID, rawContent string) (Message, error) {
	const op = "messaging.PostMessage"

	senderID = strings.TrimSpace(senderID)
	conversationID = strings.TrimSpace(conversationID)
	if senderID == "" {
		return Message{}, opErr(op, ErrNotAuthenticated)
	}
	content := strings.TrimSpace(rawContent)
	if content == "" {
		return Message{}, opErr(op, ErrEmptyMessage)
	}
	if conversationID == "" || len([]rune(content)) > MaxMessageChars {
		return Message{}, opErr(op, ErrInvalidInput)
	}

	if err := s.authorize(ctx, op, conversationID, senderID); err != nil {
		return Message{}, err
	}

	id, err := NewID(s.now())
	if err != nil {
		return Message{}, storeErr(op, err)
	}

	sctx, cancel := s.storeCtx(ctx)
	m, err := s.store.InsertMessage(sctx, InsertMessageInput{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
	})
	cancel()
	if err != nil {
		return Message{}, storeErr(op, err)
	}
	s.metrics.messagePosted()

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, m); err != nil {
			s.log.Warn("messaging.publish.fail", "conversation_id", m.ConversationID, "message_id", m.ID, "err", err)
		}
	}

	s.notifyAsync(m)
	return m, nil
}

// MarkRead marks every unread message in the conversation not sent by readerID as read.
// It is idempotent and returns how many messages changed.
func (s *Service) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	const op = "messaging.MarkRead"

	readerID = strings.TrimSpace(readerID)
	conversationID = strings.TrimSpace(conversationID)
	if readerID == "" {
		return 0, opErr(op, ErrNotAuthenticated)
	}
	if conversationID == "" {
		return 0, opErr(op, ErrInvalidInput)
	}
	if err := s.authorize(ctx, op, conversationID, readerID); err != nil {
		return 0, err
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	n, _, err := s.store.MarkRead(ctx, conversationID, readerID)
	if err != nil {
		return 0, storeErr(op, err)
	}
	s.metrics.read(n)
	return n, nil
}

// Thread is an opened conversation as seen by one participant.
type Thread struct {
	ConversationID string
	CounterpartID  string
	// Counterpart is nil when the directory has no profile for CounterpartID.
	Counterpart *directory.ProfileSummary
	Messages    []Message
	Marked      int64
}

// OpenThread loads the history and counterpart of a conversation and marks it read for viewerID.
func (s *Service) OpenThread(ctx context.Context, conversationID, viewerID string) (Thread, error) {
	const op = "messaging.OpenThread"

	viewerID = strings.TrimSpace(viewerID)
	conversationID = strings.TrimSpace(conversationID)
	if viewerID == "" {
		return Thread{}, opErr(op, ErrNotAuthenticated)
	}
	if conversationID == "" {
		return Thread{}, opErr(op, ErrInvalidInput)
	}
	if err := s.authorize(ctx, op, conversationID, viewerID); err != nil {
		return Thread{}, err
	}

	th := Thread{ConversationID: conversationID}

	sctx, cancel := s.storeCtx(ctx)
	parts, err := s.store.Participants(sctx, []string{conversationID})
	cancel()
	if err != nil {
		return Thread{}, storeErr(op, err)
	}
	for _, p := range parts {
		if p.ProfileID != viewerID {
			th.CounterpartID = p.ProfileID
		}
	}

	if th.CounterpartID != "" && s.profiles != nil {
		sctx, cancel := s.storeCtx(ctx)
		th.Counterpart, err = s.profiles.Get(sctx, th.CounterpartID)
		cancel()
		if err != nil {
			s.log.Warn("messaging.thread.profile.fail", "conversation_id", conversationID, "err", err)
			th.Counterpart = nil
		}
	}

	sctx, cancel = s.storeCtx(ctx)
	th.Messages, err = s.store.ListThread(sctx, conversationID)
	cancel()
	if err != nil {
		return Thread{}, storeErr(op, err)
	}

	sctx, cancel = s.storeCtx(ctx)
	var readAt time.Time
	th.Marked, readAt, err = s.store.MarkRead(sctx, conversationID, viewerID)
	cancel()
	if err != nil {
		return Thread{}, storeErr(op, err)
	}
	s.metrics.read(th.Marked)

	// The history was read before marking; reflect the stored timestamp locally.
	if th.Marked > 0 {
		for i := range th.Messages {
			if th.Messages[i].Unread(viewerID) {
				at := readAt
				th.Messages[i].ReadAt = &at
			}
		}
	}
	return th, nil
}

// History returns the conversation's messages in ascending order without marking anything read.
func (s *Service) History(ctx context.Context, conversationID, viewerID string) ([]Message, error) {
	const op = "messaging.History"

	viewerID = strings.TrimSpace(viewerID)
	conversationID = strings.TrimSpace(conversationID)
	if viewerID == "" {
		return nil, opErr(op, ErrNotAuthenticated)
	}
	if conversationID == "" {
		return nil, opErr(op, ErrInvalidInput)
	}
	if err := s.authorize(ctx, op, conversationID, viewerID); err != nil {
		return nil, err
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	msgs, err := s.store.ListThread(ctx, conversationID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	return msgs, nil
}

// Authorize returns nil when profileID participates in conversationID.
func (s *Service) Authorize(ctx context.Context, conversationID, profileID string) error {
	return s.authorize(ctx, "messaging.Authorize", conversationID, profileID)
}

func (s *Service) authorize(ctx context.Context, op, conversationID, profileID string) error {
	if strings.TrimSpace(profileID) == "" {
		return opErr(op, ErrNotAuthenticated)
	}
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	ok, err := s.store.IsParticipant(ctx, conversationID, profileID)
	if err != nil {
		return storeErr(op, err)
	}
	if !ok {
		return opErr(op, ErrNotAuthorized)
	}
	return nil
}

// Wait blocks until in-flight notifications finish or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.notifyWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
