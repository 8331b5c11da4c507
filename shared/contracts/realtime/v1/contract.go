// Package v1 defines the Picked realtime protocol v1 contract.
//
// It is shared between the server and clients and carries no project imports.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated during the WebSocket handshake.
const Subprotocol = "picked.realtime.v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the handshake with the authenticated identity (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeConversationJoin subscribes to a conversation (client -> server) and is echoed back.
	TypeConversationJoin = "conversation_join"

	// TypeMessageSend posts a message (client -> server).
	TypeMessageSend = "message_send"
	// TypeMessageAck returns the persisted message to the sender (server -> client).
	TypeMessageAck = "message_ack"
	// TypeMessageNew fans out an inserted message (server -> subscribers).
	TypeMessageNew = "message_new"

	// TypeMessagesRead marks the conversation read for the caller; echoed with the count.
	TypeMessagesRead = "messages_read"

	// TypeConversationHistoryFetch requests conversation history (client -> server).
	TypeConversationHistoryFetch = "conversation_history_fetch"
	// TypeConversationHistoryChunk returns the history (server -> client).
	TypeConversationHistoryChunk = "conversation_history_chunk"

	TypeError = "error"
)

// Error codes carried by ErrorPayload.Code.
const (
	CodeBadJSON       = "bad_json"
	CodeBadEnvelope   = "bad_envelope"
	CodeBadPayload    = "bad_payload"
	CodeNotJoined     = "not_joined"
	CodeNotAuthorized = "not_authorized"
	CodeSendFailed    = "send_failed"
	CodeReadFailed    = "read_failed"
	CodeHistoryFailed = "history_failed"
	CodeRateLimited   = "rate_limited"
	CodeUnsupported   = "unsupported"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	ConvID  string          `json:"conv_id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeConversationJoin,
		TypeMessageSend,
		TypeMessageAck,
		TypeMessageNew,
		TypeMessagesRead,
		TypeConversationHistoryFetch,
		TypeConversationHistoryChunk,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// NewEnvelope builds an envelope around an already-encoded payload.
func NewEnvelope(typ, id, convID string, ts time.Time, payload json.RawMessage) Envelope {
	return Envelope{V: Version, Type: typ, ID: id, ConvID: convID, TS: ts, Payload: payload}
}

// ---- Payloads ----

// Message is the wire form of a persisted message.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"created_at"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

type HelloPayload struct{}

type HelloAckPayload struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

type ConversationJoinPayload struct {
	ConversationID string `json:"conversation_id"`
}

type MessageSendPayload struct {
	ConversationID string `json:"conversation_id"`
	ClientMsgID    string `json:"client_msg_id"`
	Text           string `json:"text"`
}

type MessageAckPayload struct {
	ConversationID string  `json:"conversation_id"`
	ClientMsgID    string  `json:"client_msg_id"`
	Message        Message `json:"message"`
}

type MessageNewPayload struct {
	Message Message `json:"message"`
}

// MessagesReadPayload is sent by the client without Marked; the echo fills it in.
type MessagesReadPayload struct {
	ConversationID string `json:"conversation_id"`
	Marked         int64  `json:"marked"`
}

type ConversationHistoryFetchPayload struct {
	ConversationID string `json:"conversation_id"`
}

type ConversationHistoryChunkPayload struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
