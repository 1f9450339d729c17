package orchestrator

import (
	"strings"

	"llmrouter/internal/core"
	"llmrouter/internal/store"
)

// BuildHistory assembles the provider-facing message sequence for a new
// exchange. Only completed turns with non-empty content are replayed;
// pending and errored turns never leak into a request. When the
// conversation carries a system prompt it becomes the leading system turn.
// excludeID is the in-flight assistant turn, which is skipped regardless
// of status.
func BuildHistory(systemPrompt string, msgs []*store.Message, excludeID string) []core.Message {
	history := make([]core.Message, 0, len(msgs)+1)

	if strings.TrimSpace(systemPrompt) != "" {
		history = append(history, core.Message{
			Role:    core.RoleSystem,
			Content: systemPrompt,
		})
	}

	for _, m := range msgs {
		if m.ID == excludeID {
			continue
		}
		if m.Status != core.StatusComplete {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		history = append(history, core.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	return history
}
