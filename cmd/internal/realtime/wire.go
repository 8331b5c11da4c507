package realtime

import (
	"picked/cmd/internal/messaging"
	v1 "picked/shared/contracts/realtime/v1"
)

// WireMessage converts a stored message to its protocol form.
func WireMessage(m messaging.Message) v1.Message {
	return v1.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
		ReadAt:         m.ReadAt,
	}
}

// FromWire is the inverse of WireMessage.
func FromWire(w v1.Message) messaging.Message {
	return messaging.Message{
		ID:             w.ID,
		ConversationID: w.ConversationID,
		SenderID:       w.SenderID,
		Content:        w.Content,
		CreatedAt:      w.CreatedAt,
		ReadAt:         w.ReadAt,
	}
}

func wireMessages(ms []messaging.Message) []v1.Message {
	out := make([]v1.Message, 0, len(ms))
	for _, m := range ms {
		out = append(out, WireMessage(m))
	}
	return out
}
