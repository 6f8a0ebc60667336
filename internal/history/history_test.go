package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func seed(t *testing.T, s Store) {
	t.Helper()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	records := []Record{
		{ID: "user-1", SessionID: "s1", QuestionID: "q1", Role: RoleUser, Content: "कापूस?", CreatedAt: base},
		{ID: "bot-1", SessionID: "s1", QuestionID: "q1", Role: RoleBot, Content: "कापूस लागवड जून मध्ये", CreatedAt: base.Add(time.Second)},
		{ID: "user-2", SessionID: "s2", Role: RoleUser, Content: "other", CreatedAt: base},
		{ID: "user-3", SessionID: "s1", QuestionID: "q2", Role: RoleUser, Content: "पाऊस?", CreatedAt: base.Add(2 * time.Second)},
	}
	for _, r := range records {
		if err := s.SaveMessage(context.Background(), r); err != nil {
			t.Fatalf("SaveMessage(%s) error = %v", r.ID, err)
		}
	}
}

func assertHistory(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	all, err := s.SessionHistory(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("SessionHistory() error = %v", err)
	}
	if len(all) != 3 || all[0].ID != "user-1" || all[2].ID != "user-3" {
		t.Fatalf("SessionHistory() = %+v, want 3 chronological records", all)
	}
	if all[1].Role != RoleBot || all[1].QuestionID != "q1" {
		t.Fatalf("bot record = %+v", all[1])
	}

	last, err := s.SessionHistory(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("SessionHistory(limit) error = %v", err)
	}
	if len(last) != 2 || last[0].ID != "bot-1" || last[1].ID != "user-3" {
		t.Fatalf("SessionHistory(limit 2) = %+v, want the last two", last)
	}

	none, err := s.SessionHistory(ctx, "missing", 10)
	if err != nil || len(none) != 0 {
		t.Fatalf("SessionHistory(missing) = %v, %v, want empty", none, err)
	}
}

func TestInMemoryStore(t *testing.T) {
	s := NewInMemoryStore()
	seed(t, s)
	assertHistory(t, s)
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(ctx, sqliteScheme+filepath.Join(t.TempDir(), "db", "history.db"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Fatalf("NewStore() = %T, want *SQLiteStore", s)
	}
	seed(t, s)
	assertHistory(t, s)

	// Re-saving a message id replaces its content.
	if err := s.SaveMessage(ctx, Record{ID: "bot-1", SessionID: "s1", Role: RoleBot, Content: "updated", CreatedAt: time.Date(2025, 6, 1, 9, 0, 1, 0, time.UTC)}); err != nil {
		t.Fatalf("SaveMessage(update) error = %v", err)
	}
	all, err := s.SessionHistory(ctx, "s1", 0)
	if err != nil || len(all) != 3 || all[1].Content != "updated" {
		t.Fatalf("SessionHistory() after update = %+v, %v", all, err)
	}
}

func TestNewStoreDefaultsToMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "  ")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("NewStore() = %T, want *InMemoryStore", s)
	}
}
