package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/sentinelmesh/core"
	"github.com/hupe1980/sentinelmesh/logging"
	"github.com/hupe1980/sentinelmesh/model"
	"github.com/hupe1980/sentinelmesh/retrieval"
)

// SummarizerOptions tune compaction.
type SummarizerOptions struct {
	// TokenBudget is the history size that triggers compaction.
	TokenBudget int
	// KeepRecent turns are never summarized away.
	KeepRecent int
	// CallTimeout bounds the summarization model call.
	CallTimeout time.Duration
	Logger      logging.Logger
}

// Summarizer collapses the oldest turns of an over-budget history into one
// synthetic summary turn. The most recent turns always survive verbatim so
// follow-up routing and short-range references keep working.
type Summarizer struct {
	m    model.Model
	opts SummarizerOptions
}

// NewSummarizer constructs a Summarizer around the given model.
func NewSummarizer(m model.Model, optFns ...func(o *SummarizerOptions)) *Summarizer {
	opts := SummarizerOptions{
		TokenBudget: 3000,
		KeepRecent:  4,
		CallTimeout: 20 * time.Second,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Summarizer{m: m, opts: opts}
}

// Compact returns a compacted history and true when compaction happened.
// Histories within budget, too short to compact, or hit by a summarization
// failure come back unchanged with false; compaction is an optimization and
// never loses the conversation.
func (s *Summarizer) Compact(ctx context.Context, turns []core.Turn) ([]core.Turn, bool) {
	if estimateHistoryTokens(turns) <= s.opts.TokenBudget {
		return turns, false
	}
	if len(turns) <= s.opts.KeepRecent+1 {
		return turns, false
	}

	prefix := turns[:len(turns)-s.opts.KeepRecent]
	recent := turns[len(turns)-s.opts.KeepRecent:]

	summary, err := s.summarize(ctx, prefix)
	if err != nil {
		s.opts.Logger.Warn("history summarization failed, keeping full history", "error", err)
		return turns, false
	}

	summaryTurn := core.Turn{
		Role:      core.RoleAgent,
		Content:   "Summary of earlier conversation:\n" + summary,
		Timestamp: prefix[len(prefix)-1].Timestamp,
		Agent:     core.LastAgent(prefix),
		Summary:   true,
	}
	compacted := make([]core.Turn, 0, len(recent)+1)
	compacted = append(compacted, summaryTurn)
	compacted = append(compacted, recent...)
	return compacted, true
}

func (s *Summarizer) summarize(ctx context.Context, turns []core.Turn) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()

	var sb strings.Builder
	for _, turn := range turns {
		fmt.Fprintf(&sb, "%s: %s\n", turn.Role, turn.Content)
	}

	resp, err := s.m.Generate(ctx, model.Request{
		System: "Summarize the following cybersecurity support conversation. Preserve open questions, named threats, affected systems, and decisions taken. Be concise.",
		Messages: []model.Message{
			{Role: "user", Content: sb.String()},
		},
		MaxTokens: 512,
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", fmt.Errorf("empty summary")
	}
	return resp.Text, nil
}

func estimateHistoryTokens(turns []core.Turn) int {
	total := 0
	for _, turn := range turns {
		total += retrieval.EstimateTokens(turn.Content)
	}
	return total
}
