package chat

import (
	"testing"
	"time"

	"picked/cmd/internal/messaging"

	"github.com/stretchr/testify/require"
)

func TestGroup_DaySeparatorsAndAvatars(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	at := func(d, h, m int) time.Time { return time.Date(2026, 10, d, h, m, 0, 0, time.UTC) }

	msgs := []messaging.Message{
		{ID: "1", SenderID: "bulls", CreatedAt: at(1, 9, 0)},
		{ID: "2", SenderID: "bulls", CreatedAt: at(1, 9, 1)},
		{ID: "3", SenderID: "ana", CreatedAt: at(13, 22, 0)},
		{ID: "4", SenderID: "ana", CreatedAt: at(14, 8, 5)},
		{ID: "5", SenderID: "bulls", CreatedAt: at(14, 8, 6)},
		{ID: TempIDPrefix + "x", SenderID: "ana", CreatedAt: at(14, 8, 7)},
	}

	items := Group(msgs, "ana", now, time.UTC)
	require.Len(t, items, len(msgs))

	labels := make([]string, len(items))
	avatars := make([]bool, len(items))
	for i, it := range items {
		labels[i] = it.DateLabel
		avatars[i] = it.ShowAvatar
	}
	require.Equal(t, []string{"1 October 2026", "", "Yesterday", "Today", "", ""}, labels)
	// A day change does not reset the run from the same sender.
	require.Equal(t, []bool{true, false, true, false, true, true}, avatars)

	require.False(t, items[0].Own)
	require.True(t, items[2].Own)
	require.Equal(t, "09:01", items[1].Time)
	require.True(t, items[5].Pending)
	require.False(t, items[4].Pending)
}

func TestGroup_UsesLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+3", 3*3600)
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	// 22:30 UTC on the 13th is already the 14th at UTC+3.
	msgs := []messaging.Message{{ID: "1", SenderID: "a", CreatedAt: time.Date(2026, 10, 13, 22, 30, 0, 0, time.UTC)}}

	require.Equal(t, "Yesterday", Group(msgs, "b", now, nil)[0].DateLabel)
	items := Group(msgs, "b", now, loc)
	require.Equal(t, "Today", items[0].DateLabel)
	require.Equal(t, "01:30", items[0].Time)
}

func TestGroup_Empty(t *testing.T) {
	t.Parallel()
	require.Empty(t, Group(nil, "ana", time.Now(), time.UTC))
}
