// Package smoke drives a running picked server through one full conversation:
// REST start, websocket hello and join on two connections, send with ack,
// fan-out to the peer, read marking and history.
package smoke

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	v1 "picked/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const maxReadBytes = 1 << 20

// Options describe the two participants. TokenA and TokenB must be valid access
// tokens for the server under test; UserB is the profile id inside TokenB.
type Options struct {
	BaseURL string
	Origin  string
	TokenA  string
	TokenB  string
	UserB   string
	Text    string
	Timeout time.Duration
	HTTP    *http.Client
}

// Result is what a passing run observed.
type Result struct {
	ConversationID string
	MessageID      string
	Marked         int64
	HistoryLen     int
}

type peer struct {
	name  string
	conn  *websocket.Conn
	inbox chan v1.Envelope
	errCh chan error
	done  chan struct{}
}

// Run executes every step and stops at the first failure.
func Run(ctx context.Context, o Options) (Result, error) {
	if o.Timeout <= 0 {
		o.Timeout = 7 * time.Second
	}
	if o.HTTP == nil {
		o.HTTP = http.DefaultClient
	}
	if strings.TrimSpace(o.Text) == "" {
		o.Text = "smoke check"
	}
	base := strings.TrimRight(o.BaseURL, "/")

	var res Result
	convID, err := startConversation(ctx, o, base)
	if err != nil {
		return res, err
	}
	res.ConversationID = convID

	a, err := dial(ctx, o, base, "A", o.TokenA)
	if err != nil {
		return res, err
	}
	defer a.close()
	b, err := dial(ctx, o, base, "B", o.TokenB)
	if err != nil {
		return res, err
	}
	defer b.close()

	for _, p := range []*peer{a, b} {
		if err := p.send(ctx, o.Timeout, v1.TypeHello, v1.HelloPayload{}); err != nil {
			return res, err
		}
		if _, err := p.await(ctx, o.Timeout, v1.TypeHelloAck); err != nil {
			return res, err
		}
		if err := p.send(ctx, o.Timeout, v1.TypeConversationJoin, v1.ConversationJoinPayload{ConversationID: convID}); err != nil {
			return res, err
		}
		if _, err := p.await(ctx, o.Timeout, v1.TypeConversationJoin); err != nil {
			return res, err
		}
	}

	clientMsgID := uuid.NewString()
	if err := a.send(ctx, o.Timeout, v1.TypeMessageSend, v1.MessageSendPayload{
		ConversationID: convID, ClientMsgID: clientMsgID, Text: o.Text,
	}); err != nil {
		return res, err
	}
	var ack v1.MessageAckPayload
	if err := a.awaitInto(ctx, o.Timeout, v1.TypeMessageAck, &ack); err != nil {
		return res, err
	}
	if ack.ClientMsgID != clientMsgID || ack.Message.ID == "" {
		return res, fmt.Errorf("A: ack mismatch: %+v", ack)
	}
	res.MessageID = ack.Message.ID

	var fan v1.MessageNewPayload
	if err := b.awaitInto(ctx, o.Timeout, v1.TypeMessageNew, &fan); err != nil {
		return res, err
	}
	if fan.Message.ID != ack.Message.ID {
		return res, fmt.Errorf("B: fan-out id %q, want %q", fan.Message.ID, ack.Message.ID)
	}

	if err := b.send(ctx, o.Timeout, v1.TypeMessagesRead, v1.MessagesReadPayload{ConversationID: convID}); err != nil {
		return res, err
	}
	var read v1.MessagesReadPayload
	if err := b.awaitInto(ctx, o.Timeout, v1.TypeMessagesRead, &read); err != nil {
		return res, err
	}
	if read.Marked < 1 {
		return res, fmt.Errorf("B: messages_read marked %d, want >= 1", read.Marked)
	}
	res.Marked = read.Marked

	if err := a.send(ctx, o.Timeout, v1.TypeConversationHistoryFetch, v1.ConversationHistoryFetchPayload{ConversationID: convID}); err != nil {
		return res, err
	}
	var chunk v1.ConversationHistoryChunkPayload
	if err := a.awaitInto(ctx, o.Timeout, v1.TypeConversationHistoryChunk, &chunk); err != nil {
		return res, err
	}
	res.HistoryLen = len(chunk.Messages)
	for _, m := range chunk.Messages {
		if m.ID == res.MessageID {
			if m.ReadAt == nil {
				return res, errors.New("A: history shows the message unread after B marked it")
			}
			return res, nil
		}
	}
	return res, fmt.Errorf("A: history does not contain %s", res.MessageID)
}

func startConversation(ctx context.Context, o Options, base string) (string, error) {
	body, err := json.Marshal(map[string]string{"other_id": o.UserB})
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/conversations", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+o.TokenA)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("start conversation: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("start conversation: status %d", resp.StatusCode)
	}
	var out struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("start conversation: %w", err)
	}
	return out.ConversationID, nil
}

func wsURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func dial(ctx context.Context, o Options, base, name, token string) (*peer, error) {
	target, err := wsURL(base)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	if o.Origin != "" {
		h.Set("Origin", o.Origin)
	}

	dctx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()
	conn, resp, err := websocket.Dial(dctx, target, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
		HTTPClient:   o.HTTP,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%s: dial: %w", name, err)
	}
	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol")
		return nil, fmt.Errorf("%s: negotiated subprotocol %q", name, sp)
	}
	conn.SetReadLimit(maxReadBytes)

	p := &peer{name: name, conn: conn, inbox: make(chan v1.Envelope, 32), errCh: make(chan error, 1), done: make(chan struct{})}
	go p.readLoop(ctx)
	return p, nil
}

func (p *peer) readLoop(ctx context.Context) {
	for {
		_, b, err := p.conn.Read(ctx)
		if err != nil {
			p.errCh <- err
			return
		}
		var env v1.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			p.errCh <- fmt.Errorf("decode envelope: %w", err)
			return
		}
		select {
		case p.inbox <- env:
		case <-p.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *peer) close() {
	close(p.done)
	_ = p.conn.Close(websocket.StatusNormalClosure, "smoke done")
}

func (p *peer) send(ctx context.Context, timeout time.Duration, typ string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b, err := json.Marshal(v1.NewEnvelope(typ, uuid.NewString(), "", time.Now().UTC(), raw))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.conn.Write(ctx, websocket.MessageText, b); err != nil {
		return fmt.Errorf("%s: write %s: %w", p.name, typ, err)
	}
	return nil
}

// await skips unrelated envelopes until typ arrives. An error envelope fails the wait.
func (p *peer) await(ctx context.Context, timeout time.Duration, typ string) (v1.Envelope, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		select {
		case env := <-p.inbox:
			if env.Type == typ {
				return env, nil
			}
			if env.Type == v1.TypeError {
				var e v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &e)
				return env, fmt.Errorf("%s: waiting for %s: server error %s: %s", p.name, typ, e.Code, e.Message)
			}
		case err := <-p.errCh:
			return v1.Envelope{}, fmt.Errorf("%s: waiting for %s: %w", p.name, typ, err)
		case <-t.C:
			return v1.Envelope{}, fmt.Errorf("%s: timed out waiting for %s", p.name, typ)
		case <-ctx.Done():
			return v1.Envelope{}, ctx.Err()
		}
	}
}

func (p *peer) awaitInto(ctx context.Context, timeout time.Duration, typ string, out any) error {
	env, err := p.await(ctx, timeout, typ)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("%s: decode %s: %w", p.name, typ, err)
	}
	return nil
}
