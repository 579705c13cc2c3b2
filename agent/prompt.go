package agent

import (
	"fmt"
	"strings"

	"github.com/hupe1980/sentinelmesh/core"
	"github.com/hupe1980/sentinelmesh/internal/util"
	"github.com/hupe1980/sentinelmesh/model"
)

// buildSystemPrompt renders the profile template and appends the retrieved
// grounding context with provenance markers so the model can cite sources.
func buildSystemPrompt(profile core.AgentProfile, retrieved []core.RetrievalResult) string {
	rendered, err := util.RenderTemplate(profile.PromptTemplate, map[string]any{
		"Agent": string(profile.ID),
	})
	if err != nil {
		// Static profile templates are validated by tests; fall back to the
		// raw template rather than failing the query.
		rendered = profile.PromptTemplate
	}

	var sb strings.Builder
	sb.WriteString(rendered)
	if len(retrieved) == 0 {
		sb.WriteString("\n\nNo reference context is available for this query. State clearly when you are answering from general knowledge.")
		return sb.String()
	}

	sb.WriteString("\n\nReference context:\n")
	for i, r := range retrieved {
		label := string(r.Source)
		if r.Provenance != "" {
			label = fmt.Sprintf("%s, %s", label, r.Provenance)
		}
		fmt.Fprintf(&sb, "\n[%d] (%s)\n%s\n", i+1, label, r.Content)
	}
	sb.WriteString("\nGround your answer in the reference context where it applies.")
	return sb.String()
}

// buildMessages converts the recent session history plus the current query
// into the chat message sequence. Summary turns pass through like ordinary
// turns; they already carry the collapsed context.
func buildMessages(query string, history []core.Turn, maxTurns int) []model.Message {
	recent := history
	if maxTurns > 0 && len(recent) > maxTurns {
		recent = recent[len(recent)-maxTurns:]
	}
	messages := make([]model.Message, 0, len(recent)+1)
	for _, turn := range recent {
		role := "user"
		if turn.Role == core.RoleAgent {
			role = "assistant"
		}
		messages = append(messages, model.Message{Role: role, Content: turn.Content})
	}
	return append(messages, model.Message{Role: "user", Content: query})
}
