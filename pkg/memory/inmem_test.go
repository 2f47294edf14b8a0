package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/guru/pkg/memory"
)

func seed(t *testing.T, s *memory.InMemory, base time.Time) {
	t.Helper()
	ctx := context.Background()
	entries := []struct {
		session string
		entry   memory.TranscriptEntry
	}{
		{"s1", memory.TranscriptEntry{Speaker: "You", Role: memory.RoleUser, Text: "Guru, what is the weather like?", Addressed: true, Timestamp: base.Add(-10 * time.Minute)}},
		{"s1", memory.TranscriptEntry{Speaker: "Guru", Role: memory.RoleAssistant, Text: "Sunny with a light breeze.", Timestamp: base.Add(-9 * time.Minute)}},
		{"s1", memory.TranscriptEntry{Speaker: "You", Role: memory.RoleUser, Text: "And tomorrow's weather?", Timestamp: base.Add(-time.Minute)}},
		{"s2", memory.TranscriptEntry{Speaker: "You", Role: memory.RoleUser, Text: "Weather in Berlin", Timestamp: base.Add(-30 * time.Second)}},
	}
	for _, e := range entries {
		if err := s.WriteEntry(ctx, e.session, e.entry); err != nil {
			t.Fatalf("WriteEntry: %v", err)
		}
	}
}

func TestInMemory_GetRecent(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := memory.NewInMemory(memory.WithClock(func() time.Time { return now }))
	seed(t, s, now)

	got, err := s.GetRecent(context.Background(), "s1", 5*time.Minute)
	if err != nil {
		t.Fatalf("GetRecent: %v", err)
	}
	if len(got) != 1 || got[0].Text != "And tomorrow's weather?" {
		t.Errorf("GetRecent(5m) = %+v", got)
	}

	got, _ = s.GetRecent(context.Background(), "s1", time.Hour)
	if len(got) != 3 {
		t.Errorf("GetRecent(1h) returned %d entries, want 3", len(got))
	}

	got, _ = s.GetRecent(context.Background(), "missing", time.Hour)
	if got == nil || len(got) != 0 {
		t.Errorf("GetRecent(missing) = %v, want empty non-nil slice", got)
	}
}

func TestInMemory_Search(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := memory.NewInMemory(memory.WithClock(func() time.Time { return now }))
	seed(t, s, now)
	ctx := context.Background()

	tests := []struct {
		name  string
		query string
		opts  memory.SearchOpts
		want  []string
	}{
		{
			name:  "all sessions ordered by time",
			query: "WEATHER",
			want:  []string{"Guru, what is the weather like?", "And tomorrow's weather?", "Weather in Berlin"},
		},
		{
			name:  "single session",
			query: "weather",
			opts:  memory.SearchOpts{SessionID: "s2"},
			want:  []string{"Weather in Berlin"},
		},
		{
			name:  "every word must match",
			query: "tomorrow weather",
			want:  []string{"And tomorrow's weather?"},
		},
		{
			name:  "role filter",
			query: "",
			opts:  memory.SearchOpts{SessionID: "s1", Role: memory.RoleAssistant},
			want:  []string{"Sunny with a light breeze."},
		},
		{
			name:  "time window and limit",
			query: "weather",
			opts:  memory.SearchOpts{After: now.Add(-5 * time.Minute), Limit: 1},
			want:  []string{"And tomorrow's weather?"},
		},
		{
			name:  "no match",
			query: "snow",
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Search(ctx, tt.query, tt.opts)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if got == nil {
				t.Fatal("Search returned nil slice")
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Search returned %d entries, want %d: %+v", len(got), len(tt.want), got)
			}
			for i, w := range tt.want {
				if got[i].Text != w {
					t.Errorf("entry %d = %q, want %q", i, got[i].Text, w)
				}
			}
		})
	}
}
