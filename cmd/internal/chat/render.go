package chat

import (
	"strings"
	"time"

	"picked/cmd/internal/messaging"
)

// Item is one rendered row of the thread view.
type Item struct {
	// DateLabel is set on the first message of each calendar day.
	DateLabel  string
	Message    messaging.Message
	Own        bool
	ShowAvatar bool
	Time       string
	Pending    bool
}

// Group lays out msgs for viewerID: a day separator whenever the local calendar day changes,
// and an avatar on the first message of each run from the same sender.
func Group(msgs []messaging.Message, viewerID string, now time.Time, loc *time.Location) []Item {
	if loc == nil {
		loc = time.UTC
	}

	out := make([]Item, 0, len(msgs))
	var prevDay, prevSender string
	for i, m := range msgs {
		local := m.CreatedAt.In(loc)
		day := local.Format("2006-01-02")

		it := Item{
			Message:    m,
			Own:        m.SenderID == viewerID,
			ShowAvatar: i == 0 || m.SenderID != prevSender,
			Time:       local.Format("15:04"),
			Pending:    strings.HasPrefix(m.ID, TempIDPrefix),
		}
		if i == 0 || day != prevDay {
			it.DateLabel = DayLabel(m.CreatedAt, now, loc)
		}

		out = append(out, it)
		prevDay, prevSender = day, m.SenderID
	}
	return out
}

// DayLabel names the calendar day of t as seen from now in loc.
func DayLabel(t, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	t, now = t.In(loc), now.In(loc)

	ty, tm, td := t.Date()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	switch day := time.Date(ty, tm, td, 0, 0, 0, 0, loc); {
	case day.Equal(today):
		return "Today"
	case day.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	}
	return t.Format("2 January 2006")
}
