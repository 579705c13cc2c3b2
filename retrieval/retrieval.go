// Package retrieval merges grounding context from the vector knowledge base
// and live web search behind a single Gateway. Agents never talk to a
// concrete store; they hand the Gateway a query and an agent profile and get
// back a relevance-ordered, budget-bounded result slice.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hupe1980/sentinelmesh/core"
	"github.com/hupe1980/sentinelmesh/logging"
)

// KnowledgeSearcher finds documents in the curated knowledge base, scoped to
// the given partitions.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query string, partitions []string, topK int) ([]core.RetrievalResult, error)
}

// WebSearcher finds current documents on the live web, restricted to trusted
// sources. The agent identity lets implementations bias the query toward the
// specialist's domain.
type WebSearcher interface {
	Search(ctx context.Context, query string, agent core.AgentID) ([]core.RetrievalResult, error)
}

// Options configure a Gateway.
type Options struct {
	// TopK bounds knowledge-base results per query.
	TopK int
	// RelevanceFloor below which the knowledge base alone is considered
	// insufficient and web search is attempted as a complement.
	RelevanceFloor float64
	// TokenBudget caps the merged context size. Lowest-relevance results are
	// dropped first when the budget is exceeded.
	TokenBudget int
	Logger      logging.Logger
}

// Gateway fans a query out to the configured sources and merges the results.
type Gateway struct {
	knowledge KnowledgeSearcher
	web       WebSearcher
	opts      Options
}

// NewGateway constructs a Gateway. Either searcher may be nil; a Gateway
// with no sources returns empty results and callers cap confidence
// accordingly.
func NewGateway(knowledge KnowledgeSearcher, web WebSearcher, optFns ...func(o *Options)) *Gateway {
	opts := Options{
		TopK:           5,
		RelevanceFloor: 0.45,
		TokenBudget:    2000,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Gateway{knowledge: knowledge, web: web, opts: opts}
}

// Retrieve gathers grounding context for query on behalf of the given agent.
// The knowledge base is always consulted first; web search runs when the
// profile's keywords fire or the knowledge base comes back thin. A single
// source failing degrades to the other source's results; only when every
// configured source fails does Retrieve return core.ErrRetrieval.
func (g *Gateway) Retrieve(ctx context.Context, query string, profile core.AgentProfile) ([]core.RetrievalResult, error) {
	var (
		merged  []core.RetrievalResult
		kbErr   error
		webErr  error
		kbBest  float64
		sources int
	)

	if g.knowledge != nil {
		sources++
		start := time.Now()
		results, err := g.knowledge.Search(ctx, query, profile.KnowledgeFilter, g.opts.TopK)
		g.logSearch("knowledge_base", len(results), time.Since(start), err)
		if err != nil {
			kbErr = err
			g.opts.Logger.Warn("knowledge base search failed", "agent", profile.ID, "error", err)
		} else {
			for _, r := range results {
				if r.Relevance > kbBest {
					kbBest = r.Relevance
				}
			}
			merged = append(merged, results...)
		}
	}

	if g.web != nil && g.shouldSearchWeb(query, profile, kbBest, kbErr) {
		sources++
		start := time.Now()
		results, err := g.web.Search(ctx, query, profile.ID)
		g.logSearch("web", len(results), time.Since(start), err)
		if err != nil {
			webErr = err
			g.opts.Logger.Warn("web search failed", "agent", profile.ID, "error", err)
		} else {
			merged = append(merged, results...)
		}
	}

	if sources > 0 && len(merged) == 0 && (kbErr != nil || webErr != nil) {
		if g.knowledge != nil && kbErr == nil {
			// The knowledge base answered with zero hits; that is a valid
			// empty result, not a failure.
			return nil, nil
		}
		return nil, fmt.Errorf("%w: all retrieval sources failed", core.ErrRetrieval)
	}

	ordered := orderResults(merged)
	return truncateToBudget(ordered, g.opts.TokenBudget), nil
}

func (g *Gateway) logSearch(source string, results int, dur time.Duration, err error) {
	if sl, ok := g.opts.Logger.(*logging.SentinelLogger); ok {
		sl.LogRetrieval(source, results, dur, err)
	}
}

// shouldSearchWeb decides whether live search complements the knowledge
// base for this query.
func (g *Gateway) shouldSearchWeb(query string, profile core.AgentProfile, kbBest float64, kbErr error) bool {
	if g.knowledge == nil || kbErr != nil {
		return true
	}
	if kbBest < g.opts.RelevanceFloor {
		return true
	}
	lower := strings.ToLower(query)
	for _, kw := range profile.WebSearchKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// orderResults sorts by relevance descending; knowledge-base results win
// ties so curated content stays ahead of the open web.
func orderResults(results []core.RetrievalResult) []core.RetrievalResult {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Relevance != results[j].Relevance {
			return results[i].Relevance > results[j].Relevance
		}
		return results[i].Source == core.SourceKnowledgeBase && results[j].Source == core.SourceWeb
	})
	return results
}

// truncateToBudget drops results once the estimated token total exceeds the
// budget. Results arrive ordered by relevance, so the least relevant are the
// ones cut.
func truncateToBudget(results []core.RetrievalResult, budget int) []core.RetrievalResult {
	if budget <= 0 {
		return results
	}
	total := 0
	for i, r := range results {
		total += EstimateTokens(r.Content)
		if total > budget {
			return results[:i]
		}
	}
	return results
}

// EstimateTokens approximates the token count of text. Four characters per
// token is close enough for budgeting; exact counts are a provider detail.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
