package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"picked/cmd/internal/auth"
	"picked/cmd/internal/messaging"
	v1 "picked/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

// DefaultAllowedOrigins is the dev allowlist.
var DefaultAllowedOrigins = []string{"http://localhost", "http://127.0.0.1"}

// Messenger is the messaging surface the gateway drives.
type Messenger interface {
	Authorize(ctx context.Context, conversationID, profileID string) error
	PostMessage(ctx context.Context, conversationID, senderID, content string) (messaging.Message, error)
	MarkRead(ctx context.Context, conversationID, readerID string) (int64, error)
	History(ctx context.Context, conversationID, viewerID string) ([]messaging.Message, error)
}

// Authenticator resolves the caller of a handshake request.
type Authenticator interface {
	Authenticate(r *http.Request) (auth.Claims, error)
}

// GatewayConfig tunes the WebSocket gateway. Zero values fall back to defaults.
type GatewayConfig struct {
	OriginRequired bool
	AllowedOrigins []string
	// InsecureSkipVerify disables websocket.Accept's own origin check. Dev only.
	InsecureSkipVerify bool

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration
}

func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:    true,
		AllowedOrigins:    DefaultAllowedOrigins,
		WriteTimeout:      wsDefaultWriteTimeout,
		ReadIdleTimeout:   wsDefaultReadIdle,
		SendQueueSize:     wsDefaultSendQueueSize,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
	}
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	def := DefaultGatewayConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = def.ReadIdleTimeout
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = def.SendQueueSize
	}
	if c.SendQueueSize < wsMinSendQueueSize {
		c.SendQueueSize = wsMinSendQueueSize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = def.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = def.RateWindow
	}
	return c
}

// Gateway is the WebSocket entrypoint for realtime messaging.
//
// It authenticates the handshake, enforces origin policy, subprotocol selection,
// rate limits and heartbeats, and routes validated envelopes to the Messenger and Hub.
type Gateway struct {
	log     *slog.Logger
	hub     *Hub
	svc     Messenger
	authn   Authenticator
	metrics *Metrics
	cfg     GatewayConfig

	// websocket.Accept authorizes same-host origins itself; cross-origin needs host patterns.
	originPatterns []string
}

// NewGateway constructs a Gateway. m may be nil.
func NewGateway(log *slog.Logger, hub *Hub, svc Messenger, authn Authenticator, cfg GatewayConfig, m *Metrics) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log)
	}
	cfg = cfg.withDefaults()
	return &Gateway{
		log:            log,
		hub:            hub,
		svc:            svc,
		authn:          authn,
		metrics:        m,
		cfg:            cfg,
		originPatterns: deriveOriginPatterns(cfg.AllowedOrigins),
	}
}

// connState is the per-connection state shared by the read loop handlers.
type connState struct {
	client *Client

	mu          sync.Mutex
	joinedID    string
	unsubscribe func()
}

func (s *connState) joined() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joinedID
}

// switchTo replaces the current subscription. Passing "" just leaves.
func (s *connState) switchTo(convID string, unsub func()) {
	s.mu.Lock()
	prev := s.unsubscribe
	s.joinedID, s.unsubscribe = convID, unsub
	s.mu.Unlock()
	if prev != nil {
		prev()
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	if g.authn == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	claims, err := g.authn.Authenticate(r)
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// Server read/write timeouts would otherwise outlive the upgrade and cut the socket.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.InsecureSkipVerify,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)
	g.metrics.connOpened()
	defer g.metrics.connClosed()

	sessionID := newSessionID()
	st := &connState{client: NewClient(claims.UserID, sessionID, g.cfg.SendQueueSize)}
	client := st.client
	log := g.log.With("session_id", sessionID, "user_id", claims.UserID)
	log.Info("ws.connect")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	// shutdown is idempotent. The hub subscription goes first, then the client.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			st.switchTo("", nil)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := newWindowLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Queue():
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					log.Info("ws.ping.fail", "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.sendError(client, v1.CodeBadJSON, "invalid JSON")
				continue readLoop
			default:
				log.Info("ws.read.fail", "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if !rl.allow(time.Now().UTC()) {
			g.sendError(client, v1.CodeRateLimited, "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.sendError(client, v1.CodeBadEnvelope, err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeHello:
			g.reply(client, v1.TypeHelloAck, "", v1.HelloAckPayload{UserID: client.UserID, SessionID: client.SessionID})
		case v1.TypeConversationJoin:
			g.onJoin(ctx, st, env)
		case v1.TypeMessageSend:
			g.onMessageSend(ctx, st, env)
		case v1.TypeMessagesRead:
			g.onMessagesRead(ctx, st, env)
		case v1.TypeConversationHistoryFetch:
			g.onHistoryFetch(ctx, st, env)
		default:
			g.sendError(client, v1.CodeUnsupported, fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
	log.Info("ws.disconnect", "dropped", client.Dropped())
}

// ---- handlers ----

func (g *Gateway) onJoin(ctx context.Context, st *connState, env v1.Envelope) {
	var p v1.ConversationJoinPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.sendError(st.client, v1.CodeBadPayload, "invalid payload")
		return
	}
	convID := strings.TrimSpace(p.ConversationID)
	if convID == "" {
		g.sendError(st.client, v1.CodeBadPayload, "missing conversation_id")
		return
	}

	if err := g.svc.Authorize(ctx, convID, st.client.UserID); err != nil {
		g.sendServiceError(st.client, v1.CodeNotAuthorized, err)
		return
	}

	client := st.client
	unsub := g.hub.Subscribe(convID, func(m messaging.Message) {
		if !g.reply(client, v1.TypeMessageNew, m.ConversationID, v1.MessageNewPayload{Message: WireMessage(m)}) {
			g.log.Debug("ws.fanout.drop", "session_id", client.SessionID, "conversation_id", m.ConversationID)
		}
	})
	st.switchTo(convID, unsub)

	g.reply(client, v1.TypeConversationJoin, convID, v1.ConversationJoinPayload{ConversationID: convID})
}

func (g *Gateway) onMessageSend(ctx context.Context, st *connState, env v1.Envelope) {
	joined := st.joined()
	if joined == "" {
		g.sendError(st.client, v1.CodeNotJoined, "join first")
		return
	}

	var p v1.MessageSendPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.sendError(st.client, v1.CodeBadPayload, "invalid payload")
		return
	}
	if strings.TrimSpace(p.ConversationID) != joined {
		g.sendError(st.client, v1.CodeBadPayload, "invalid conversation_id")
		return
	}
	if strings.TrimSpace(p.ClientMsgID) == "" {
		g.sendError(st.client, v1.CodeBadPayload, "missing client_msg_id")
		return
	}

	// Fan-out to this connection's own subscription happens through the service publisher.
	m, err := g.svc.PostMessage(ctx, joined, st.client.UserID, p.Text)
	if err != nil {
		g.sendServiceError(st.client, v1.CodeSendFailed, err)
		return
	}

	g.reply(st.client, v1.TypeMessageAck, joined, v1.MessageAckPayload{
		ConversationID: joined,
		ClientMsgID:    p.ClientMsgID,
		Message:        WireMessage(m),
	})
}

func (g *Gateway) onMessagesRead(ctx context.Context, st *connState, env v1.Envelope) {
	var p v1.MessagesReadPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.sendError(st.client, v1.CodeBadPayload, "invalid payload")
		return
	}
	convID := strings.TrimSpace(p.ConversationID)
	if convID == "" {
		convID = st.joined()
	}
	if convID == "" {
		g.sendError(st.client, v1.CodeNotJoined, "join first")
		return
	}

	n, err := g.svc.MarkRead(ctx, convID, st.client.UserID)
	if err != nil {
		g.sendServiceError(st.client, v1.CodeReadFailed, err)
		return
	}
	g.reply(st.client, v1.TypeMessagesRead, convID, v1.MessagesReadPayload{ConversationID: convID, Marked: n})
}

func (g *Gateway) onHistoryFetch(ctx context.Context, st *connState, env v1.Envelope) {
	joined := st.joined()
	if joined == "" {
		g.sendError(st.client, v1.CodeNotJoined, "join first")
		return
	}

	var p v1.ConversationHistoryFetchPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.sendError(st.client, v1.CodeBadPayload, "invalid payload")
		return
	}
	if id := strings.TrimSpace(p.ConversationID); id != "" && id != joined {
		g.sendError(st.client, v1.CodeNotJoined, "not joined to conversation_id")
		return
	}

	msgs, err := g.svc.History(ctx, joined, st.client.UserID)
	if err != nil {
		g.sendServiceError(st.client, v1.CodeHistoryFailed, err)
		return
	}
	g.reply(st.client, v1.TypeConversationHistoryChunk, joined, v1.ConversationHistoryChunkPayload{
		ConversationID: joined,
		Messages:       wireMessages(msgs),
	})
}

// ---- send helpers ----

func (g *Gateway) reply(client *Client, typ, convID string, payload any) bool {
	b, err := json.Marshal(payload)
	if err != nil {
		g.log.Error("ws.encode.fail", "type", typ, "err", err)
		return false
	}
	return client.Offer(v1.NewEnvelope(typ, newEnvelopeID(), convID, time.Now().UTC(), b))
}

func (g *Gateway) sendError(client *Client, code, msg string) {
	_ = g.reply(client, v1.TypeError, "", v1.ErrorPayload{Code: code, Message: msg})
}

// sendServiceError maps messaging errors onto protocol codes; fallback is used for the rest.
func (g *Gateway) sendServiceError(client *Client, fallback string, err error) {
	code := fallback
	switch messaging.Kind(err) {
	case messaging.ErrNotAuthorized, messaging.ErrNotFound:
		code = v1.CodeNotAuthorized
	case messaging.ErrEmptyMessage, messaging.ErrInvalidInput:
		code = v1.CodeBadPayload
	}
	g.sendError(client, code, err.Error())
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)
	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*", origin == a:
			return nil
		case originHost != "" && originHost == originHostOnly(a):
			// Host match ignores scheme and port.
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = strings.TrimSpace(u.Host)
		if s == "" {
			return ""
		}
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatterns turns the allowlist into websocket.Accept host patterns so both checks agree.
func deriveOriginPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "*" {
			return []string{"*"}
		}
		if h == "" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
