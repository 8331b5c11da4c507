package messaging

import (
	"context"
	"fmt"

	"picked/cmd/internal/notify"
)

// notifyAsync emails the recipient of m in the background.
// The goroutine is detached from the request context; failures are logged and counted only.
func (s *Service) notifyAsync(m Message) {
	if s.notifier == nil || s.profiles == nil {
		return
	}

	s.notifyWG.Add(1)
	go func() {
		defer s.notifyWG.Done()
		defer func() {
			if r := recover(); r != nil {
				s.metrics.notification(notifyFailed)
				s.log.Error("messaging.notify.panic", "conversation_id", m.ConversationID, "panic", fmt.Sprint(r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.NotifyTimeout)
		defer cancel()

		result, err := s.notifyRecipient(ctx, m)
		s.metrics.notification(result)
		if err != nil {
			s.log.Warn("messaging.notify.fail",
				"conversation_id", m.ConversationID,
				"message_id", m.ID,
				"err", OpError{Op: "messaging.notify", Kind: ErrNotification, Err: err},
			)
			return
		}
		s.log.Debug("messaging.notify.done", "conversation_id", m.ConversationID, "result", result)
	}()
}

func (s *Service) notifyRecipient(ctx context.Context, m Message) (string, error) {
	parts, err := s.store.Participants(ctx, []string{m.ConversationID})
	if err != nil {
		return notifyFailed, err
	}
	recipient := ""
	for _, p := range parts {
		if p.ProfileID != m.SenderID {
			recipient = p.ProfileID
		}
	}
	if recipient == "" {
		return notifyFailed, fmt.Errorf("conversation %s has no recipient", m.ConversationID)
	}

	// A recent read receipt from the recipient is the presence proxy.
	last, ok, err := s.store.LastReadAt(ctx, m.ConversationID, recipient)
	if err != nil {
		return notifyFailed, err
	}
	if ok && s.now().Sub(last) < s.cfg.IdleWindow {
		return notifySkippedActive, nil
	}

	to, err := s.profiles.Email(ctx, recipient)
	if err != nil {
		return notifyFailed, err
	}
	if to == "" {
		return notifySkippedEmail, nil
	}

	senderName := "Someone"
	sender, err := s.profiles.Get(ctx, m.SenderID)
	if err != nil {
		return notifyFailed, err
	}
	if sender != nil {
		senderName = sender.DisplayName(senderName)
	}

	if err := s.notifier.NotifyNewMessage(ctx, notify.NewMessage{
		To:             to,
		SenderName:     senderName,
		Preview:        m.Content,
		ConversationID: m.ConversationID,
	}); err != nil {
		return notifyFailed, err
	}
	return notifySent, nil
}
