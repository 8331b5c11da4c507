package directory

import (
	"context"
	"testing"
)

func TestProfileSummary_Display(t *testing.T) {
	t.Parallel()

	cases := []struct {
		p        ProfileSummary
		name     string
		subtitle string
	}{
		{ProfileSummary{FullName: "Ana Ruiz", Role: "player", Country: "Spain"}, "Ana Ruiz", "player · Spain"},
		{ProfileSummary{FullName: "  ", Role: "team"}, "Someone", "team"},
		{ProfileSummary{}, "Someone", "user"},
		{ProfileSummary{Country: "Italy"}, "Someone", "user · Italy"},
	}
	for _, tc := range cases {
		if got := tc.p.DisplayName("Someone"); got != tc.name {
			t.Fatalf("DisplayName(%+v)=%q want=%q", tc.p, got, tc.name)
		}
		if got := tc.p.Subtitle(); got != tc.subtitle {
			t.Fatalf("Subtitle(%+v)=%q want=%q", tc.p, got, tc.subtitle)
		}
	}
}

func TestMemory_Reader(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := NewMemory(Profile{ProfileSummary: ProfileSummary{ID: "ana", FullName: "Ana"}, Email: "ana@example.com"})
	m.Put(Profile{ProfileSummary: ProfileSummary{ID: "demo", IsSeed: true}})

	p, err := m.Get(ctx, "ana")
	if err != nil || p == nil || p.FullName != "Ana" {
		t.Fatalf("Get(ana)=%+v err=%v", p, err)
	}
	if p, err := m.Get(ctx, "ghost"); err != nil || p != nil {
		t.Fatalf("Get(ghost)=%+v err=%v, want nil", p, err)
	}

	many, err := m.GetMany(ctx, []string{"ana", "demo", "ghost"})
	if err != nil {
		t.Fatalf("GetMany: %v", err)
	}
	if len(many) != 2 || !many["demo"].IsSeed {
		t.Fatalf("unexpected GetMany result: %+v", many)
	}

	if e, _ := m.Email(ctx, "ana"); e != "ana@example.com" {
		t.Fatalf("Email(ana)=%q", e)
	}
	if e, _ := m.Email(ctx, "demo"); e != "" {
		t.Fatalf("Email(demo)=%q, want empty", e)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := m.Get(cancelled, "ana"); err == nil {
		t.Fatalf("expected context error")
	}
}
