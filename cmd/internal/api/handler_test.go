package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"picked/cmd/internal/auth"
	"picked/cmd/internal/directory"
	"picked/cmd/internal/messaging"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	router *mux.Router
	svc    *messaging.Service
	tokens auth.TokenManager
}

func newAPIFixture(t *testing.T) apiFixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := auth.DefaultConfig()
	cfg.PasetoV4SecretKeyHex = auth.GenerateSecretKeyHex()
	tokens, err := auth.NewPasetoV4PublicManager(cfg)
	require.NoError(t, err)

	profiles := directory.NewMemory(
		directory.Profile{ProfileSummary: directory.ProfileSummary{ID: "ana", FullName: "Ana Ruiz", Role: "player", Country: "Spain"}},
		directory.Profile{ProfileSummary: directory.ProfileSummary{ID: "bulls", FullName: "Bulls BC", Role: "team", Country: "Spain"}},
		directory.Profile{ProfileSummary: directory.ProfileSummary{ID: "demo", FullName: "Demo Club", Role: "team", IsSeed: true}},
	)
	store := messaging.NewMemoryStore()
	svc := messaging.NewService(log, store, messaging.WithProfiles(profiles))
	inbox := messaging.NewInbox(log, store, profiles, 0)

	r := mux.NewRouter()
	NewHandler(log, svc, inbox, profiles, auth.NewAuthenticator(tokens)).Register(r)
	return apiFixture{router: r, svc: svc, tokens: tokens}
}

func (f apiFixture) do(t *testing.T, userID, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if userID != "" {
		tok, _, err := f.tokens.Issue(userID, "sess-"+userID, time.Now().UTC())
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[errorResponse](t, rec).Error.Code
}

func TestAPI_RequiresToken(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	rec := f.do(t, "", http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "unauthorized", errorCode(t, rec))
}

func TestAPI_ConversationFlow(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	rec := f.do(t, "ana", http.MethodPost, "/api/conversations", startConversationRequest{OtherID: "bulls"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	convID := decodeBody[startConversationResponse](t, rec).ConversationID
	require.NotEmpty(t, convID)

	rec = f.do(t, "bulls", http.MethodPost, "/api/conversations", startConversationRequest{OtherID: "ana"})
	require.Equal(t, convID, decodeBody[startConversationResponse](t, rec).ConversationID)

	rec = f.do(t, "ana", http.MethodPost, "/api/conversations/"+convID+"/messages", postMessageRequest{Content: "  Hi coach  "})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	msg := decodeBody[messaging.Message](t, rec)
	require.Equal(t, "Hi coach", msg.Content)

	rec = f.do(t, "bulls", http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	inbox := decodeBody[inboxResponse](t, rec)
	require.Len(t, inbox.Conversations, 1)
	row := inbox.Conversations[0]
	require.Equal(t, "Hi coach", row.Preview)
	require.Equal(t, "1", row.UnreadBadge)
	require.Equal(t, "player · Spain", row.Subtitle)
	require.Equal(t, "now", row.RelativeTime)

	rec = f.do(t, "ana", http.MethodGet, "/api/conversations", nil)
	require.Equal(t, "You: Hi coach", decodeBody[inboxResponse](t, rec).Conversations[0].Preview)

	rec = f.do(t, "bulls", http.MethodGet, "/api/conversations/stats", nil)
	require.Equal(t, messaging.InboxStats{Conversations: 1, Unread: 1}, decodeBody[messaging.InboxStats](t, rec))

	rec = f.do(t, "bulls", http.MethodGet, "/api/conversations/"+convID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	th := decodeBody[threadResponse](t, rec)
	require.Equal(t, "ana", th.CounterpartID)
	require.Equal(t, "Ana Ruiz", th.Counterpart.FullName)
	require.EqualValues(t, 1, th.Marked)
	require.Len(t, th.Items, 1)
	require.Equal(t, "Today", th.Items[0].DateLabel)
	require.False(t, th.Items[0].Own)

	rec = f.do(t, "bulls", http.MethodPost, "/api/conversations/"+convID+"/read", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Zero(t, decodeBody[markReadResponse](t, rec).Marked)
}

func TestAPI_ErrorMapping(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	rec := f.do(t, "ana", http.MethodPost, "/api/conversations", startConversationRequest{OtherID: "ana"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "self_conversation", errorCode(t, rec))

	rec = f.do(t, "ana", http.MethodPost, "/api/conversations", startConversationRequest{OtherID: "demo"})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "sample_profile", errorCode(t, rec))

	rec = f.do(t, "ana", http.MethodPost, "/api/conversations", map[string]string{"other": "bulls"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "ana", http.MethodPost, "/api/conversations", startConversationRequest{OtherID: "bulls"})
	convID := decodeBody[startConversationResponse](t, rec).ConversationID

	rec = f.do(t, "ana", http.MethodPost, "/api/conversations/"+convID+"/messages", postMessageRequest{Content: "   "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "empty_message", errorCode(t, rec))

	rec = f.do(t, "mallory", http.MethodGet, "/api/conversations/"+convID, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, "mallory", http.MethodPost, "/api/conversations/"+convID+"/messages", postMessageRequest{Content: "hi"})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    error
		status int
	}{
		{messaging.OpError{Op: "x", Kind: messaging.ErrTimeout}, http.StatusGatewayTimeout},
		{messaging.OpError{Op: "x", Kind: messaging.ErrStore}, http.StatusServiceUnavailable},
		{messaging.OpError{Op: "x", Kind: messaging.ErrNotFound}, http.StatusNotFound},
		{messaging.OpError{Op: "x", Kind: messaging.ErrInvalidInput}, http.StatusBadRequest},
		{auth.ErrInvalidToken, http.StatusUnauthorized},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		got, _ := statusFor(tc.err)
		require.Equal(t, tc.status, got, tc.err.Error())
	}
	require.Equal(t, "Service Unavailable", publicMessage(http.StatusServiceUnavailable, io.EOF))
}
