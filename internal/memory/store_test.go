package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"clawgate/internal/domain"
)

func testStore(t *testing.T, maxHistory int) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(Config{
		DBPath:     filepath.Join(t.TempDir(), "nested", "clawgate.db"),
		MaxHistory: maxHistory,
		Logger:     testLogger(),
	})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func toolConversation() []domain.Message {
	return []domain.Message{
		{Role: domain.RoleUser, Content: "list files"},
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{ID: "call_1", Name: "shell", Arguments: `{"command":"ls"}`}}},
		{Role: domain.RoleTool, Content: "a.txt", ToolCallID: "call_1", ToolName: "shell"},
		{Role: domain.RoleAssistant, Content: "There is a.txt"},
	}
}

func TestSession_SaveLoadRoundTrip(t *testing.T) {
	s := testStore(t, 0)
	ctx := context.Background()

	err := s.SaveSession(ctx, domain.Session{ID: "telegram:1", SenderID: "42", ChannelID: "telegram:1", Messages: toolConversation()})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.LoadSession(ctx, "telegram:1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("loaded %d messages", len(got))
	}
	if tc := got[1].ToolCalls; len(tc) != 1 || tc[0].ID != "call_1" || tc[0].Arguments != `{"command":"ls"}` {
		t.Fatalf("tool calls = %+v", got[1].ToolCalls)
	}
	if got[2].ToolCallID != "call_1" || got[2].ToolName != "shell" || got[3].Content != "There is a.txt" {
		t.Fatalf("messages = %+v", got)
	}
}

func TestSession_SaveReplaces(t *testing.T) {
	s := testStore(t, 0)
	ctx := context.Background()
	s.SaveSession(ctx, domain.Session{ID: "cli", Messages: toolConversation()})
	s.SaveSession(ctx, domain.Session{ID: "cli", Messages: []domain.Message{{Role: "user", Content: "only"}}})

	got, _ := s.LoadSession(ctx, "cli")
	if len(got) != 1 || got[0].Content != "only" {
		t.Fatalf("got %+v", got)
	}
	if n, _ := s.SessionCount(ctx); n != 1 {
		t.Fatalf("session count = %d", n)
	}
}

func TestSession_UnknownIsEmpty(t *testing.T) {
	s := testStore(t, 0)
	got, err := s.LoadSession(context.Background(), "nope")
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestSession_Delete(t *testing.T) {
	s := testStore(t, 0)
	ctx := context.Background()
	s.SaveSession(ctx, domain.Session{ID: "cli", Messages: toolConversation()})
	if err := s.DeleteSession(ctx, "cli"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.LoadSession(ctx, "cli")
	if len(got) != 0 {
		t.Fatalf("history survived delete: %+v", got)
	}
}

func TestSession_TrimKeepsWholeTurns(t *testing.T) {
	s := testStore(t, 5)
	ctx := context.Background()
	// 8 messages; the last 5 start with a tool message, so trimming moves
	// forward to the next user message.
	msgs := append(toolConversation(), toolConversation()...)
	s.SaveSession(ctx, domain.Session{ID: "cli", Messages: msgs})

	got, _ := s.LoadSession(ctx, "cli")
	if len(got) != 4 || got[0].Role != domain.RoleUser {
		t.Fatalf("got %d messages starting with %q", len(got), got[0].Role)
	}
}

func TestTrimHistory(t *testing.T) {
	msgs := toolConversation()
	if got := trimHistory(msgs, 10); len(got) != 4 {
		t.Fatalf("under limit: %d", len(got))
	}
	if got := trimHistory(msgs, 2); len(got) != 0 {
		t.Fatalf("no user message in window should drop all, got %d", len(got))
	}
}

func TestMemory_StoreRecallForget(t *testing.T) {
	s := testStore(t, 0)
	ctx := context.Background()

	id1, err := s.Store(ctx, "Q: favourite coffee?\nA: dark roast espresso", []string{"prefs"})
	if err != nil {
		t.Fatal(err)
	}
	id2, _ := s.Store(ctx, "Deploy target is the staging cluster", nil)
	s.Store(ctx, "Espresso machine needs descaling", nil)

	got, err := s.Recall(ctx, "what about espresso roast?", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != id1 {
		t.Fatalf("recall = %+v", got)
	}
	if len(got[0].Tags) != 1 || got[0].Tags[0] != "prefs" {
		t.Fatalf("tags = %v", got[0].Tags)
	}
	if got[0].CreatedAt.IsZero() {
		t.Fatal("created_at not loaded")
	}

	if got, _ := s.Recall(ctx, "staging", 3); len(got) != 1 || got[0].ID != id2 {
		t.Fatalf("staging recall = %+v", got)
	}

	if err := s.Forget(ctx, id2); err != nil {
		t.Fatal(err)
	}
	if err := s.Forget(ctx, id2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second forget = %v", err)
	}
	if got, _ := s.Recall(ctx, "staging", 3); len(got) != 0 {
		t.Fatalf("forgotten memory recalled: %+v", got)
	}
}

func TestMemory_RecallLimitAndWildcards(t *testing.T) {
	s := testStore(t, 0)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.Store(ctx, "note about golang", nil)
	}
	s.Store(ctx, "100% sure", nil)

	if got, _ := s.Recall(ctx, "golang", 3); len(got) != 3 {
		t.Fatalf("limit not applied: %d", len(got))
	}
	if got, _ := s.Recall(ctx, "100%", 10); len(got) != 1 {
		t.Fatalf("numeric recall = %d", len(got))
	}
	if got, _ := s.Recall(ctx, "a an", 10); len(got) != 0 {
		t.Fatalf("short words only should recall nothing, got %d", len(got))
	}
}

func TestMemory_StoreRejectsEmpty(t *testing.T) {
	s := testStore(t, 0)
	if _, err := s.Store(context.Background(), "   ", nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestAudit_LogAndRecent(t *testing.T) {
	s := testStore(t, 0)
	ctx := context.Background()
	s.LogAudit(ctx, domain.AuditEntry{Action: "approval_denied", ToolName: "shell", Result: "denied"})
	s.LogAudit(ctx, domain.AuditEntry{Action: "command_blocked", ToolName: "shell", Command: "mkfs", Result: "blocked"})

	got, err := s.RecentAudit(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Action != "command_blocked" || got[0].Command != "mkfs" {
		t.Fatalf("audit = %+v", got)
	}
}

func TestKeywords(t *testing.T) {
	got := keywords("What about the Espresso, espresso & roast-level?")
	want := []string{"espresso", "roast-level"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`50%_off\`); got != `50\%\_off\\` {
		t.Fatalf("got %q", got)
	}
}
