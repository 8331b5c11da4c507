// Package api is the JSON HTTP surface over messaging: starting conversations, the inbox,
// opening threads, posting and read marking. Every route requires a bearer access token.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"picked/cmd/internal/auth"
	"picked/cmd/internal/chat"
	"picked/cmd/internal/directory"
	"picked/cmd/internal/messaging"

	"github.com/gorilla/mux"
)

// Messaging is the core surface used by the handlers.
type Messaging interface {
	StartOrGetConversation(ctx context.Context, requesterID, otherID string) (string, error)
	PostMessage(ctx context.Context, conversationID, senderID, content string) (messaging.Message, error)
	MarkRead(ctx context.Context, conversationID, readerID string) (int64, error)
	OpenThread(ctx context.Context, conversationID, viewerID string) (messaging.Thread, error)
}

// Inbox is the aggregator surface used by the handlers.
type Inbox interface {
	ListConversations(ctx context.Context, userID string) ([]messaging.ConversationSummary, error)
	Stats(ctx context.Context, userID string) (messaging.InboxStats, error)
}

// Handler serves /api/conversations.
type Handler struct {
	log      *slog.Logger
	svc      Messaging
	inbox    Inbox
	profiles directory.Reader
	authn    *auth.Authenticator

	now func() time.Time
	loc *time.Location
}

// Option configures a Handler.
type Option func(*Handler)

// WithClock overrides the clock used for relative times and day labels.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithLocation sets the zone used for day grouping. Default: UTC.
func WithLocation(loc *time.Location) Option {
	return func(h *Handler) {
		if loc != nil {
			h.loc = loc
		}
	}
}

// NewHandler constructs a Handler. profiles may be nil, which disables the sample-profile guard.
func NewHandler(log *slog.Logger, svc Messaging, inbox Inbox, profiles directory.Reader, authn *auth.Authenticator, opts ...Option) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		log:      log,
		svc:      svc,
		inbox:    inbox,
		profiles: profiles,
		authn:    authn,
		now:      func() time.Time { return time.Now().UTC() },
		loc:      time.UTC,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Register mounts the routes on r.
func (h *Handler) Register(r *mux.Router) {
	s := r.PathPrefix("/api/conversations").Subrouter()
	s.Use(h.authn.Middleware(h.rejectUnauthenticated))

	s.HandleFunc("", h.listConversations).Methods(http.MethodGet)
	s.HandleFunc("", h.startConversation).Methods(http.MethodPost)
	s.HandleFunc("/stats", h.stats).Methods(http.MethodGet)
	s.HandleFunc("/{id}", h.openThread).Methods(http.MethodGet)
	s.HandleFunc("/{id}/messages", h.postMessage).Methods(http.MethodPost)
	s.HandleFunc("/{id}/read", h.markRead).Methods(http.MethodPost)
}

func (h *Handler) rejectUnauthenticated(w http.ResponseWriter, _ *http.Request, err error) {
	status, code := statusFor(err)
	writeError(w, status, code, "missing or invalid access token")
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= 500 {
		h.log.Error("api.request.fail", "path", r.URL.Path, "code", code, "err", err)
	}
	writeError(w, status, code, publicMessage(status, err))
}

// ---- request/response shapes ----

type startConversationRequest struct {
	OtherID string `json:"other_id"`
}

type startConversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

type postMessageRequest struct {
	Content string `json:"content"`
}

type markReadResponse struct {
	Marked int64 `json:"marked"`
}

type inboxRow struct {
	ConversationID string                    `json:"conversation_id"`
	OtherID        string                    `json:"other_id"`
	Other          *directory.ProfileSummary `json:"other"`
	Subtitle       string                    `json:"subtitle,omitempty"`
	LastMessage    messaging.Message         `json:"last_message"`
	Preview        string                    `json:"preview"`
	RelativeTime   string                    `json:"relative_time"`
	UnreadCount    int                       `json:"unread_count"`
	UnreadBadge    string                    `json:"unread_badge,omitempty"`
}

type inboxResponse struct {
	Conversations []inboxRow `json:"conversations"`
}

type threadItem struct {
	DateLabel  string            `json:"date_label,omitempty"`
	Message    messaging.Message `json:"message"`
	Own        bool              `json:"own"`
	ShowAvatar bool              `json:"show_avatar"`
	Time       string            `json:"time"`
}

type threadResponse struct {
	ConversationID string                    `json:"conversation_id"`
	CounterpartID  string                    `json:"counterpart_id"`
	Counterpart    *directory.ProfileSummary `json:"counterpart"`
	Messages       []messaging.Message       `json:"messages"`
	Items          []threadItem              `json:"items"`
	Marked         int64                     `json:"marked"`
}

// ---- handlers ----

func (h *Handler) startConversation(w http.ResponseWriter, r *http.Request) {
	userID := auth.CurrentUserID(r.Context())

	var req startConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	otherID := strings.TrimSpace(req.OtherID)

	if err := h.guardSample(r.Context(), otherID); err != nil {
		h.fail(w, r, err)
		return
	}

	id, err := h.svc.StartOrGetConversation(r.Context(), userID, otherID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, startConversationResponse{ConversationID: id})
}

// guardSample refuses seeded demo profiles. Directory failures do not block the core call.
func (h *Handler) guardSample(ctx context.Context, otherID string) error {
	if h.profiles == nil || otherID == "" {
		return nil
	}
	p, err := h.profiles.Get(ctx, otherID)
	if err != nil {
		h.log.Warn("api.sample_guard.fail", "other_id", otherID, "err", err)
		return nil
	}
	if p != nil && p.IsSeed {
		return errSampleProfile
	}
	return nil
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	userID := auth.CurrentUserID(r.Context())

	rows, err := h.inbox.ListConversations(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	now := h.now()
	out := inboxResponse{Conversations: make([]inboxRow, 0, len(rows))}
	for _, row := range rows {
		ir := inboxRow{
			ConversationID: row.ConversationID,
			OtherID:        row.OtherID,
			Other:          row.Other,
			LastMessage:    row.LastMessage,
			Preview:        row.Preview(userID),
			RelativeTime:   messaging.FormatRelative(row.LastMessage.CreatedAt, now),
			UnreadCount:    row.UnreadCount,
			UnreadBadge:    messaging.UnreadBadge(row.UnreadCount),
		}
		if row.Other != nil {
			ir.Subtitle = row.Other.Subtitle()
		}
		out.Conversations = append(out.Conversations, ir)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.inbox.Stats(r.Context(), auth.CurrentUserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) openThread(w http.ResponseWriter, r *http.Request) {
	userID := auth.CurrentUserID(r.Context())

	th, err := h.svc.OpenThread(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	msgs := th.Messages
	if msgs == nil {
		msgs = []messaging.Message{}
	}
	grouped := chat.Group(msgs, userID, h.now(), h.loc)
	items := make([]threadItem, 0, len(grouped))
	for _, it := range grouped {
		items = append(items, threadItem{
			DateLabel:  it.DateLabel,
			Message:    it.Message,
			Own:        it.Own,
			ShowAvatar: it.ShowAvatar,
			Time:       it.Time,
		})
	}

	writeJSON(w, http.StatusOK, threadResponse{
		ConversationID: th.ConversationID,
		CounterpartID:  th.CounterpartID,
		Counterpart:    th.Counterpart,
		Messages:       msgs,
		Items:          items,
		Marked:         th.Marked,
	})
}

func (h *Handler) postMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	m, err := h.svc.PostMessage(r.Context(), mux.Vars(r)["id"], auth.CurrentUserID(r.Context()), req.Content)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.MarkRead(r.Context(), mux.Vars(r)["id"], auth.CurrentUserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, markReadResponse{Marked: n})
}
