package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"picked/cmd/internal/directory"
	"picked/cmd/internal/notify"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type notifierStub struct {
	mu   sync.Mutex
	sent []notify.NewMessage
	err  error
}

func (n *notifierStub) NotifyNewMessage(_ context.Context, msg notify.NewMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *notifierStub) calls() []notify.NewMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.NewMessage(nil), n.sent...)
}

type publisherStub struct {
	mu  sync.Mutex
	got []Message
	err error
}

func (p *publisherStub) Publish(_ context.Context, m Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, m)
	return p.err
}

type fixture struct {
	svc      *Service
	store    *MemoryStore
	clock    *fakeClock
	notifier *notifierStub
	pub      *publisherStub
	metrics  *Metrics
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	clock := newFakeClock()
	store := NewMemoryStore(WithMemoryClock(clock.Now))
	profiles := directory.NewMemory(
		directory.Profile{ProfileSummary: directory.ProfileSummary{ID: "ana", FullName: "Ana Ruiz", Role: "player"}, Email: "ana@example.com"},
		directory.Profile{ProfileSummary: directory.ProfileSummary{ID: "bulls", FullName: "Bulls BC", Role: "team"}, Email: "coach@bulls.example"},
		directory.Profile{ProfileSummary: directory.ProfileSummary{ID: "noemail", FullName: "No Email"}},
	)
	n := &notifierStub{}
	pub := &publisherStub{}
	m := NewMetrics(prometheus.NewRegistry())

	svc := NewService(slog.New(slog.NewTextHandler(io.Discard, nil)), store,
		WithProfiles(profiles),
		WithNotifier(n),
		WithPublisher(pub),
		WithMetrics(m),
		WithClock(clock.Now),
	)
	return fixture{svc: svc, store: store, clock: clock, notifier: n, pub: pub, metrics: m}
}

func (f fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Wait(ctx))
}

func TestStartOrGetConversation_DedupBothDirections(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	x, err := f.svc.StartOrGetConversation(ctx, "ana", "bulls")
	require.NoError(t, err)
	require.NotEmpty(t, x)

	for i := 0; i < 3; i++ {
		again, err := f.svc.StartOrGetConversation(ctx, "ana", "bulls")
		require.NoError(t, err)
		require.Equal(t, x, again)

		reverse, err := f.svc.StartOrGetConversation(ctx, "bulls", "ana")
		require.NoError(t, err)
		require.Equal(t, x, reverse)
	}

	ids, err := f.store.ConversationIDsFor(ctx, "ana")
	require.NoError(t, err)
	require.Equal(t, []string{x}, ids)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.conversationsCreated))
}

func TestStartOrGetConversation_ConcurrentCallsConverge(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	const n = 64
	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make([]error, n)

	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			a, b := "ana", "bulls"
			if i%2 == 1 {
				a, b = b, a
			}
			ids[i], errs[i] = f.svc.StartOrGetConversation(context.Background(), a, b)
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, ids[0], ids[i], "call %d returned a different conversation", i)
	}

	mine, err := f.store.ConversationIDsFor(context.Background(), "bulls")
	require.NoError(t, err)
	require.Len(t, mine, 1)
}

func TestStartOrGetConversation_Validation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.StartOrGetConversation(ctx, "ana", "ana")
	require.ErrorIs(t, err, ErrSelfConversation)

	_, err = f.svc.StartOrGetConversation(ctx, "", "bulls")
	require.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = f.svc.StartOrGetConversation(ctx, "ana", "  ")
	require.ErrorIs(t, err, ErrInvalidInput)

	ids, err := f.store.ConversationIDsFor(ctx, "ana")
	require.NoError(t, err)
	require.Empty(t, ids, "rejected calls must not write")
}

func TestPostMessage_TrimsAndOrders(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.svc.StartOrGetConversation(ctx, "ana", "bulls")
	require.NoError(t, err)

	var sent []Message
	for i := 0; i < 5; i++ {
		m, err := f.svc.PostMessage(ctx, conv, "ana", fmt.Sprintf("  msg %d \n", i))
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("msg %d", i), m.Content)
		require.Nil(t, m.ReadAt)
		sent = append(sent, m)
	}
	f.drain(t)

	thread, err := f.svc.History(ctx, conv, "bulls")
	require.NoError(t, err)
	require.Len(t, thread, len(sent))
	for i := range thread {
		require.Equal(t, sent[i].ID, thread[i].ID)
		if i > 0 {
			require.True(t, thread[i].CreatedAt.After(thread[i-1].CreatedAt), "created_at must increase")
		}
	}

	f.pub.mu.Lock()
	require.Len(t, f.pub.got, len(sent))
	f.pub.mu.Unlock()
	require.Equal(t, 5.0, testutil.ToFloat64(f.metrics.messagesPosted))
}

func TestPostMessage_Rejections(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.svc.StartOrGetConversation(ctx, "ana", "bulls")
	require.NoError(t, err)

	_, err = f.svc.PostMessage(ctx, conv, "ana", "   ")
	require.ErrorIs(t, err, ErrEmptyMessage)

	_, err = f.svc.PostMessage(ctx, conv, "", "hi")
	require.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = f.svc.PostMessage(ctx, conv, "intruder", "hi")
	require.ErrorIs(t, err, ErrNotAuthorized)

	long := make([]rune, MaxMessageChars+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = f.svc.PostMessage(ctx, conv, "ana", string(long))
	require.ErrorIs(t, err, ErrInvalidInput)

	msgs, err := f.store.ListThread(ctx, conv)
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.Empty(t, f.notifier.calls())
}

func TestPostMessage_PublishFailureDoesNotFailSend(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.pub.err = errors.New("redis down")
	ctx := context.Background()

	conv, err := f.svc.StartOrGetConversation(ctx, "ana", "bulls")
	require.NoError(t, err)

	m, err := f.svc.PostMessage(ctx, conv, "ana", "hello")
	require.NoError(t, err)
	require.NotEmpty(t, m.ID)
	f.drain(t)
}

func TestMarkRead_IdempotentAndNeverSelf(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.svc.StartOrGetConversation(ctx, "ana", "bulls")
	require.NoError(t, err)

	_, err = f.svc.PostMessage(ctx, conv, "ana", "one")
	require.NoError(t, err)
	_, err = f.svc.PostMessage(ctx, conv, "bulls", "two")
	require.NoError(t, err)
	_, err = f.svc.PostMessage(ctx, conv, "ana", "three")
	require.NoError(t, err)
	f.drain(t)

	n, err := f.svc.MarkRead(ctx, conv, "bulls")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	before, err := f.store.ListThread(ctx, conv)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	n, err = f.svc.MarkRead(ctx, conv, "bulls")
	require.NoError(t, err)
	require.EqualValues(t, 0, n)

	after, err := f.store.ListThread(ctx, conv)
	require.NoError(t, err)
	require.Equal(t, before, after, "second MarkRead must not change any read_at")

	for _, m := range after {
		if m.SenderID == "bulls" {
			require.Nil(t, m.ReadAt, "reader's own message must stay unread")
		} else {
			require.NotNil(t, m.ReadAt)
		}
	}

	_, err = f.svc.MarkRead(ctx, conv, "intruder")
	require.ErrorIs(t, err, ErrNotAuthorized)
}

func TestNotification_SentWhenRecipientInactive(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.svc.StartOrGetConversation(ctx, "ana", "bulls")
	require.NoError(t, err)

	_, err = f.svc.PostMessage(ctx, conv, "ana", "Are tryouts still on?")
	require.NoError(t, err)
	f.drain(t)

	calls := f.notifier.calls()
	require.Len(t, calls, 1)
	require.Equal(t, notify.NewMessage{
		To:             "coach@bulls.example",
		SenderName:     "Ana Ruiz",
		Preview:        "Are tryouts still on?",
		ConversationID: conv,
	}, calls[0])
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.notifications.WithLabelValues(notifySent)))
}

func TestNotification_SkippedWhenRecipientReadRecently(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.svc.StartOrGetConversation(ctx, "ana", "bulls")
	require.NoError(t, err)

	_, err = f.svc.PostMessage(ctx, conv, "ana", "first")
	require.NoError(t, err)
	f.drain(t)
	require.Len(t, f.notifier.calls(), 1)

	_, err = f.svc.MarkRead(ctx, conv, "bulls")
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	_, err = f.svc.PostMessage(ctx, conv, "ana", "second")
	require.NoError(t, err)
	f.drain(t)
	require.Len(t, f.notifier.calls(), 1, "active recipient must not be emailed")
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.notifications.WithLabelValues(notifySkippedActive)))

	f.clock.Advance(10 * time.Minute)
	_, err = f.svc.PostMessage(ctx, conv, "ana", "third")
	require.NoError(t, err)
	f.drain(t)
	require.Len(t, f.notifier.calls(), 2, "idle recipient is emailed again")
}

func TestNotification_FailureAndMissingEmailAreSwallowed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.notifier.err = errors.New("provider down")
	ctx := context.Background()

	conv, err := f.svc.StartOrGetConversation(ctx, "ana", "bulls")
	require.NoError(t, err)
	_, err = f.svc.PostMessage(ctx, conv, "ana", "hi")
	require.NoError(t, err)

	other, err := f.svc.StartOrGetConversation(ctx, "ana", "noemail")
	require.NoError(t, err)
	_, err = f.svc.PostMessage(ctx, other, "ana", "hi")
	require.NoError(t, err)
	f.drain(t)

	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.notifications.WithLabelValues(notifyFailed)))
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.notifications.WithLabelValues(notifySkippedEmail)))
}

func TestOpenThread_MarksReadAndLoadsCounterpart(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.svc.StartOrGetConversation(ctx, "ana", "bulls")
	require.NoError(t, err)
	_, err = f.svc.PostMessage(ctx, conv, "ana", "hello")
	require.NoError(t, err)
	_, err = f.svc.PostMessage(ctx, conv, "bulls", "hey")
	require.NoError(t, err)
	f.drain(t)

	th, err := f.svc.OpenThread(ctx, conv, "bulls")
	require.NoError(t, err)
	require.Equal(t, "ana", th.CounterpartID)
	require.NotNil(t, th.Counterpart)
	require.Equal(t, "Ana Ruiz", th.Counterpart.FullName)
	require.EqualValues(t, 1, th.Marked)
	require.Len(t, th.Messages, 2)
	require.NotNil(t, th.Messages[0].ReadAt)
	require.Nil(t, th.Messages[1].ReadAt)

	_, err = f.svc.OpenThread(ctx, conv, "intruder")
	require.ErrorIs(t, err, ErrNotAuthorized)
}

func TestOpenThread_ReadAtMatchesStoredValue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	storeClock := newFakeClock()
	storeClock.Advance(7 * time.Minute)
	store := NewMemoryStore(WithMemoryClock(storeClock.Now))
	svc := NewService(slog.New(slog.NewTextHandler(io.Discard, nil)), store,
		WithClock(newFakeClock().Now),
	)

	conv, err := svc.StartOrGetConversation(ctx, "ana", "bulls")
	require.NoError(t, err)
	_, err = svc.PostMessage(ctx, conv, "ana", "hello")
	require.NoError(t, err)
	storeClock.Advance(time.Second)

	th, err := svc.OpenThread(ctx, conv, "bulls")
	require.NoError(t, err)
	require.Len(t, th.Messages, 1)
	require.NotNil(t, th.Messages[0].ReadAt)
	require.Equal(t, storeClock.Now(), *th.Messages[0].ReadAt)

	hist, err := svc.History(ctx, conv, "ana")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.NotNil(t, hist[0].ReadAt)
	require.True(t, hist[0].ReadAt.Equal(*th.Messages[0].ReadAt))
}

func TestHistory_Validation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.svc.StartOrGetConversation(ctx, "ana", "bulls")
	require.NoError(t, err)
	_, err = f.svc.PostMessage(ctx, conv, "ana", "hello")
	require.NoError(t, err)

	_, err = f.svc.History(ctx, "   ", "ana")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.History(ctx, conv, " ")
	require.ErrorIs(t, err, ErrNotAuthenticated)

	msgs, err := f.svc.History(ctx, "  "+conv+"\n", " ana ")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

type slowStore struct {
	*MemoryStore
}

func (s slowStore) ConversationIDsFor(ctx context.Context, _ string) ([]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type brokenStore struct {
	*MemoryStore
}

func (brokenStore) IsParticipant(context.Context, string, string) (bool, error) {
	return false, errors.New("connection refused")
}

func TestStoreFailuresAreClassified(t *testing.T) {
	t.Parallel()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	slow := NewService(log, slowStore{NewMemoryStore()}, WithConfig(Config{StoreTimeout: 20 * time.Millisecond}))
	_, err := slow.StartOrGetConversation(context.Background(), "ana", "bulls")
	require.ErrorIs(t, err, ErrTimeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, ErrTimeout, Kind(err))

	broken := NewService(log, brokenStore{NewMemoryStore()})
	_, err = broken.PostMessage(context.Background(), "conv", "ana", "hi")
	require.ErrorIs(t, err, ErrStore)
	require.NotErrorIs(t, err, ErrTimeout)
}

// A and B have no conversation; both open it, A writes, B reads, A's inbox shows it read.
func TestScenario_EndToEnd(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	inbox := NewInbox(nil, f.store, nil, 0)

	x, err := f.svc.StartOrGetConversation(ctx, "ana", "bulls")
	require.NoError(t, err)
	same, err := f.svc.StartOrGetConversation(ctx, "bulls", "ana")
	require.NoError(t, err)
	require.Equal(t, x, same)

	m1, err := f.svc.PostMessage(ctx, x, "ana", "Hi")
	require.NoError(t, err)
	require.Nil(t, m1.ReadAt)
	f.drain(t)

	f.pub.mu.Lock()
	require.Len(t, f.pub.got, 1)
	f.pub.mu.Unlock()

	_, err = f.svc.MarkRead(ctx, x, "bulls")
	require.NoError(t, err)

	rows, err := inbox.ListConversations(ctx, "ana")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, x, rows[0].ConversationID)
	require.Equal(t, 0, rows[0].UnreadCount)
	require.Equal(t, m1.ID, rows[0].LastMessage.ID)
}
