package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"llmrouter/internal/core"
)

func TestAppendSystemText(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		text     string
		want     string
	}{
		{"first segment", "", "Be terse.", "Be terse."},
		{"second segment", "Be terse.", "Answer in French.", "Be terse.\nAnswer in French."},
		{"trims whitespace", "Be terse.", "  padded  ", "Be terse.\npadded"},
		{"blank text is a no-op", "Be terse.", "   ", "Be terse."},
		{"empty text is a no-op", "Be terse.", "", "Be terse."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AppendSystemText(tt.existing, tt.text); got != tt.want {
				t.Errorf("AppendSystemText(%q, %q) = %q, want %q", tt.existing, tt.text, got, tt.want)
			}
		})
	}
}

// exerciseStore runs the shared Store contract against a backend.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	conv := NewConversation("first conversation", "gpt-4o", "Be helpful.", "device-a")
	if err := s.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	t.Run("get scoped by device", func(t *testing.T) {
		got, err := s.GetConversation(ctx, conv.ID, "device-a")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Title != "first conversation" || got.Model != "gpt-4o" || got.SystemPrompt != "Be helpful." {
			t.Errorf("got %+v", got)
		}

		if _, err := s.GetConversation(ctx, conv.ID, "device-b"); !errors.Is(err, ErrNotFound) {
			t.Errorf("other device should see not found, got %v", err)
		}
	})

	t.Run("list scoped by device", func(t *testing.T) {
		other := NewConversation("other device", "gpt-4o", "", "device-b")
		if err := s.CreateConversation(ctx, other); err != nil {
			t.Fatalf("create: %v", err)
		}
		defer func() {
			_ = s.DeleteConversation(ctx, other.ID, "device-b")
		}()

		list, err := s.ListConversations(ctx, "device-a")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		for _, c := range list {
			if c.ID == other.ID {
				t.Error("conversation from another device leaked into the listing")
			}
		}
	})

	t.Run("messages round trip", func(t *testing.T) {
		user := NewMessage(conv.ID, core.RoleUser, "hello")
		if err := s.AppendMessage(ctx, user); err != nil {
			t.Fatalf("append: %v", err)
		}

		temp := 0.4
		assistant := NewMessage(conv.ID, core.RoleAssistant, "")
		assistant.Status = core.StatusPending
		assistant.Model = "gpt-4o"
		assistant.Temperature = &temp
		assistant.Reasoning = "low"
		if err := s.AppendMessage(ctx, assistant); err != nil {
			t.Fatalf("append: %v", err)
		}

		msgs, err := s.ListMessages(ctx, conv.ID)
		if err != nil {
			t.Fatalf("list messages: %v", err)
		}
		if len(msgs) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(msgs))
		}
		if msgs[0].Content != "hello" {
			t.Errorf("messages out of order: %+v", msgs)
		}
		if msgs[1].Temperature == nil || *msgs[1].Temperature != 0.4 {
			t.Errorf("temperature lost in round trip: %+v", msgs[1])
		}
		if msgs[1].Reasoning != "low" {
			t.Errorf("reasoning lost in round trip: %+v", msgs[1])
		}

		assistant.Content = "hi there"
		assistant.Status = core.StatusComplete
		assistant.InputTokens = 12
		assistant.OutputTokens = 3
		assistant.Cost = 0.00006
		if err := s.UpdateMessage(ctx, assistant); err != nil {
			t.Fatalf("update: %v", err)
		}

		got, err := s.GetMessage(ctx, assistant.ID)
		if err != nil {
			t.Fatalf("get message: %v", err)
		}
		if got.Content != "hi there" || got.Status != core.StatusComplete {
			t.Errorf("update lost: %+v", got)
		}
		if got.InputTokens != 12 || got.OutputTokens != 3 {
			t.Errorf("token counts lost: %+v", got)
		}
	})

	t.Run("stale pending query", func(t *testing.T) {
		stale := NewMessage(conv.ID, core.RoleAssistant, "")
		stale.Status = core.StatusPending
		stale.CreatedAt = time.Now().UTC().Add(-time.Hour)
		if err := s.AppendMessage(ctx, stale); err != nil {
			t.Fatalf("append: %v", err)
		}

		found, err := s.StalePendingMessages(ctx, time.Now().UTC().Add(-30*time.Minute))
		if err != nil {
			t.Fatalf("stale query: %v", err)
		}

		var sawStale bool
		for _, m := range found {
			if m.ID == stale.ID {
				sawStale = true
			}
			if m.Role != core.RoleAssistant || m.Status != core.StatusPending {
				t.Errorf("non-stale message returned: %+v", m)
			}
		}
		if !sawStale {
			t.Error("hour-old pending turn should be returned")
		}
	})

	t.Run("clone", func(t *testing.T) {
		clone, err := Clone(ctx, s, conv.ID, "device-a")
		if err != nil {
			t.Fatalf("clone: %v", err)
		}
		if clone.ID == conv.ID {
			t.Error("clone must get a fresh ID")
		}
		if clone.Title != "first conversation (copy)" {
			t.Errorf("clone title = %q", clone.Title)
		}
		if clone.SystemPrompt != "Be helpful." {
			t.Errorf("clone system prompt = %q", clone.SystemPrompt)
		}

		srcMsgs, _ := s.ListMessages(ctx, conv.ID)
		cloneMsgs, err := s.ListMessages(ctx, clone.ID)
		if err != nil {
			t.Fatalf("list clone messages: %v", err)
		}
		if len(cloneMsgs) != len(srcMsgs) {
			t.Fatalf("clone has %d messages, source has %d", len(cloneMsgs), len(srcMsgs))
		}
		for i := range cloneMsgs {
			if cloneMsgs[i].ID == srcMsgs[i].ID {
				t.Error("cloned message reuses source ID")
			}
			if cloneMsgs[i].Content != srcMsgs[i].Content {
				t.Errorf("clone content mismatch at %d", i)
			}
		}

		if _, err := Clone(ctx, s, conv.ID, "device-b"); !errors.Is(err, ErrNotFound) {
			t.Errorf("clone across devices should fail, got %v", err)
		}
	})

	t.Run("update conversation", func(t *testing.T) {
		conv.Title = "renamed"
		conv.SystemPrompt = AppendSystemText(conv.SystemPrompt, "Be terse.")
		conv.UpdatedAt = time.Now().UTC()
		if err := s.UpdateConversation(ctx, conv); err != nil {
			t.Fatalf("update: %v", err)
		}
		got, err := s.GetConversation(ctx, conv.ID, "device-a")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Title != "renamed" {
			t.Errorf("title = %q", got.Title)
		}
		if got.SystemPrompt != "Be helpful.\nBe terse." {
			t.Errorf("system prompt = %q", got.SystemPrompt)
		}
	})

	t.Run("delete cascades to messages", func(t *testing.T) {
		victim := NewConversation("to delete", "gpt-4o", "", "device-a")
		if err := s.CreateConversation(ctx, victim); err != nil {
			t.Fatalf("create: %v", err)
		}
		msg := NewMessage(victim.ID, core.RoleUser, "bye")
		if err := s.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("append: %v", err)
		}

		if err := s.DeleteConversation(ctx, victim.ID, "device-b"); !errors.Is(err, ErrNotFound) {
			t.Errorf("delete across devices should fail, got %v", err)
		}
		if err := s.DeleteConversation(ctx, victim.ID, "device-a"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := s.GetConversation(ctx, victim.ID, "device-a"); !errors.Is(err, ErrNotFound) {
			t.Errorf("deleted conversation should be gone, got %v", err)
		}
		msgs, err := s.ListMessages(ctx, victim.ID)
		if err != nil {
			t.Fatalf("list messages: %v", err)
		}
		if len(msgs) != 0 {
			t.Errorf("messages should be deleted with the conversation, got %d", len(msgs))
		}
	})
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	s, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	exerciseStore(t, s)
}
