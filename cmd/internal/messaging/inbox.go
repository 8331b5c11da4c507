package messaging

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"picked/cmd/internal/directory"
)

// ConversationSummary is one inbox row.
type ConversationSummary struct {
	ConversationID string
	OtherID        string
	// Other is nil when the directory has no profile for OtherID.
	Other       *directory.ProfileSummary
	LastMessage Message
	UnreadCount int
}

// InboxStats backs the dashboard messages tile.
type InboxStats struct {
	Conversations int `json:"conversations"`
	Unread        int `json:"unread"`
}

// Inbox computes a user's conversation list from the stores. It is pull-only.
type Inbox struct {
	log      *slog.Logger
	store    Store
	profiles directory.Reader
	timeout  time.Duration
}

// NewInbox constructs an Inbox. profiles may be nil, in which case rows carry no profile.
func NewInbox(log *slog.Logger, store Store, profiles directory.Reader, storeTimeout time.Duration) *Inbox {
	if log == nil {
		log = slog.Default()
	}
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}
	return &Inbox{log: log, store: store, profiles: profiles, timeout: storeTimeout}
}

// ListConversations returns userID's conversations that have at least one message,
// most recent first.
func (in *Inbox) ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error) {
	const op = "messaging.ListConversations"

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, opErr(op, ErrNotAuthenticated)
	}

	ids, err := withTimeout(ctx, in.timeout, func(ctx context.Context) ([]string, error) {
		return in.store.ConversationIDsFor(ctx, userID)
	})
	if err != nil {
		return nil, storeErr(op, err)
	}
	if len(ids) == 0 {
		return []ConversationSummary{}, nil
	}

	parts, err := withTimeout(ctx, in.timeout, func(ctx context.Context) ([]Participant, error) {
		return in.store.Participants(ctx, ids)
	})
	if err != nil {
		return nil, storeErr(op, err)
	}
	others := otherParticipants(parts, userID)

	msgs, err := withTimeout(ctx, in.timeout, func(ctx context.Context) ([]Message, error) {
		return in.store.ListLatest(ctx, ids)
	})
	if err != nil {
		return nil, storeErr(op, err)
	}

	// One descending pass: the first message seen per conversation is its latest.
	latest := make(map[string]Message, len(ids))
	unread := make(map[string]int, len(ids))
	for _, m := range msgs {
		if _, ok := latest[m.ConversationID]; !ok {
			latest[m.ConversationID] = m
		}
		if m.Unread(userID) {
			unread[m.ConversationID]++
		}
	}

	otherIDs := make([]string, 0, len(others))
	for _, id := range ids {
		if o, ok := others[id]; ok {
			otherIDs = append(otherIDs, o)
		}
	}
	profiles := in.lookupProfiles(ctx, otherIDs)

	out := make([]ConversationSummary, 0, len(latest))
	for _, id := range ids {
		other, ok := others[id]
		if !ok {
			in.log.Warn("messaging.inbox.malformed_conversation", "conversation_id", id)
			continue
		}
		last, ok := latest[id]
		if !ok {
			continue
		}
		row := ConversationSummary{
			ConversationID: id,
			OtherID:        other,
			LastMessage:    last,
			UnreadCount:    unread[id],
		}
		if p, ok := profiles[other]; ok {
			p := p
			row.Other = &p
		}
		out = append(out, row)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessage.CreatedAt.After(out[j].LastMessage.CreatedAt)
	})
	return out, nil
}

// Stats counts visible conversations and total unread messages for userID.
func (in *Inbox) Stats(ctx context.Context, userID string) (InboxStats, error) {
	rows, err := in.ListConversations(ctx, userID)
	if err != nil {
		return InboxStats{}, err
	}
	st := InboxStats{Conversations: len(rows)}
	for _, r := range rows {
		st.Unread += r.UnreadCount
	}
	return st, nil
}

func (in *Inbox) lookupProfiles(ctx context.Context, ids []string) map[string]directory.ProfileSummary {
	if in.profiles == nil || len(ids) == 0 {
		return nil
	}
	profiles, err := withTimeout(ctx, in.timeout, func(ctx context.Context) (map[string]directory.ProfileSummary, error) {
		return in.profiles.GetMany(ctx, ids)
	})
	if err != nil {
		// Rows still render, just without counterpart identity.
		in.log.Warn("messaging.inbox.profiles.fail", "err", err)
		return nil
	}
	return profiles
}

// otherParticipants maps each conversation to its single participant that is not userID.
// Conversations with zero or several "other" participants are left out.
func otherParticipants(parts []Participant, userID string) map[string]string {
	found := make(map[string]string, len(parts)/2)
	bad := make(map[string]bool)
	for _, p := range parts {
		if p.ProfileID == userID {
			continue
		}
		if prev, ok := found[p.ConversationID]; ok && prev != p.ProfileID {
			bad[p.ConversationID] = true
			continue
		}
		found[p.ConversationID] = p.ProfileID
	}
	for id := range bad {
		delete(found, id)
	}
	return found
}

func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}

// FormatRelative renders t relative to now the way inbox rows show it.
func FormatRelative(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return strconv.Itoa(int(d/time.Minute)) + "m"
	case d < 24*time.Hour:
		return strconv.Itoa(int(d/time.Hour)) + "h"
	case d < 7*24*time.Hour:
		return strconv.Itoa(int(d/(24*time.Hour))) + "d"
	}
	return t.Format("2 Jan")
}

// UnreadBadge renders an unread count for a badge; zero renders as "".
func UnreadBadge(n int) string {
	switch {
	case n <= 0:
		return ""
	case n > 9:
		return "9+"
	}
	return strconv.Itoa(n)
}

// Preview returns the inbox preview line for the last message, prefixed when viewerID sent it.
func (s ConversationSummary) Preview(viewerID string) string {
	if s.LastMessage.SenderID == viewerID {
		return "You: " + s.LastMessage.Content
	}
	return s.LastMessage.Content
}
