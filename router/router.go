// Package router classifies incoming queries to specialist agents. Keyword
// scoring over the agent profiles is the primary signal; a small model
// assists only when keywords are silent, so routing stays fast and cheap for
// the common case.
package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/sentinelmesh/core"
	"github.com/hupe1980/sentinelmesh/logging"
	"github.com/hupe1980/sentinelmesh/model"
)

// followUpPhrases flag short continuations of an earlier exchange.
var followUpPhrases = []string{
	"what about", "how about", "tell me more", "and ", "also",
	" it", " that", " this",
}

// highStakesIndicators elevate a query to consultation even when a single
// specialist matches.
var highStakesIndicators = []string{
	"critical", "severe", "serious", "major", "significant",
	"important", "crucial", "vital", "essential",
	"sensitive", "confidential", "restricted",
	"emergency", "urgent", "immediate", "priority",
	"high-risk", "high-value", "high-impact", "high-stakes",
}

// Decision is the routing outcome for one query.
type Decision struct {
	// Candidates is ordered by descending score; the first entry is the
	// primary agent. Never empty.
	Candidates []core.Candidate
	// FollowUp reports that the query continues a prior exchange and the
	// primary was inherited from it.
	FollowUp bool
	// HighStakes reports that the query used urgency language and deserves
	// a second opinion regardless of keyword spread.
	HighStakes bool
	// Fallback reports that no signal cleared the confidence floor and the
	// primary is the default specialist.
	Fallback bool
}

// Options configure a Router.
type Options struct {
	// Floor is the minimum keyword score accepted as a routing signal.
	Floor float64
	// AssistTimeout bounds the model-assisted classification call.
	AssistTimeout time.Duration
	Logger        logging.Logger
}

// Router maps queries to specialist candidates.
type Router struct {
	registry *core.Registry
	assist   model.Model
	opts     Options
}

// New constructs a Router. assist may be nil to disable model-assisted
// classification; keyword scoring then falls straight through to the
// default specialist.
func New(registry *core.Registry, assist model.Model, optFns ...func(o *Options)) *Router {
	opts := Options{
		Floor:         0.35,
		AssistTimeout: 5 * time.Second,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Router{registry: registry, assist: assist, opts: opts}
}

// Route classifies query. override names an agent the client picked
// explicitly; it bypasses classification entirely and becomes the sole
// candidate. Otherwise a follow-up query inherits the agent that answered
// last. history is the session so far, used for follow-up detection only.
func (r *Router) Route(ctx context.Context, query string, override core.AgentID, history []core.Turn) Decision {
	decision := r.route(ctx, query, override, history)
	if sl, ok := r.opts.Logger.(*logging.SentinelLogger); ok {
		primary := decision.Candidates[0]
		sl.LogRouting(string(primary.Agent), primary.Confidence, decision.FollowUp)
	}
	return decision
}

func (r *Router) route(ctx context.Context, query string, override core.AgentID, history []core.Turn) Decision {
	if override.IsSpecialist() {
		return Decision{
			Candidates: []core.Candidate{{Agent: override, Confidence: 1.0}},
		}
	}

	if r.isFollowUp(query, history) {
		if prior := core.LastAgent(history); prior.IsSpecialist() {
			r.opts.Logger.Debug("routing follow-up to prior agent", "agent", prior)
			return Decision{
				Candidates: []core.Candidate{{Agent: prior, Confidence: 0.9}},
				FollowUp:   true,
			}
		}
	}

	highStakes := containsAny(strings.ToLower(query), highStakesIndicators)

	candidates := r.keywordCandidates(query)
	if len(candidates) > 0 && candidates[0].Confidence >= r.opts.Floor {
		return Decision{Candidates: candidates, HighStakes: highStakes}
	}

	if agent, ok := r.assistClassify(ctx, query); ok {
		return Decision{
			Candidates: []core.Candidate{{Agent: agent, Confidence: 0.5}},
			HighStakes: highStakes,
		}
	}

	fallback := r.registry.IDs()[0]
	r.opts.Logger.Warn("routing fell back to default specialist",
		"agent", fallback,
		"error", fmt.Errorf("%w: no keyword or model signal", core.ErrClassification))
	return Decision{
		Candidates: []core.Candidate{{Agent: fallback, Confidence: r.opts.Floor}},
		HighStakes: highStakes,
		Fallback:   true,
	}
}

// keywordCandidates scores every profile's routing keywords against the
// query. Scores grow with distinct keyword hits and saturate at 1.0; ties
// resolve by registry priority because IDs() is priority ordered and the
// sort is stable.
func (r *Router) keywordCandidates(query string) []core.Candidate {
	lower := strings.ToLower(query)
	var candidates []core.Candidate
	for _, id := range r.registry.IDs() {
		profile, ok := r.registry.Get(id)
		if !ok {
			continue
		}
		hits := 0
		for _, kw := range profile.RoutingKeywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		score := 0.4 + 0.2*float64(hits)
		if score > 1.0 {
			score = 1.0
		}
		candidates = append(candidates, core.Candidate{Agent: id, Confidence: score})
	}
	sortCandidates(candidates)
	return candidates
}

// sortCandidates orders by descending confidence; insertion order breaks
// ties, which is registry priority order.
func sortCandidates(candidates []core.Candidate) {
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].Confidence > candidates[j-1].Confidence; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}
}

// isFollowUp applies the cheap heuristic: a short query containing a
// continuation phrase, in a session that already has history.
func (r *Router) isFollowUp(query string, history []core.Turn) bool {
	if len(history) == 0 {
		return false
	}
	if len(strings.Fields(query)) >= 7 {
		return false
	}
	return containsAny(strings.ToLower(query), followUpPhrases)
}

// assistClassify asks the small model to name the best specialist. Any
// failure or unrecognized answer is treated as no signal; routing never
// fails a query.
func (r *Router) assistClassify(ctx context.Context, query string) (core.AgentID, bool) {
	if r.assist == nil {
		return core.AgentAuto, false
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.AssistTimeout)
	defer cancel()

	names := strings.Join(agentNames(r.registry), ", ")
	resp, err := r.assist.Generate(ctx, model.Request{
		System: "You are a cybersecurity routing agent. Determine which specialist agent is best suited to answer the user's query. Respond with only the agent name, one of: " + names + ".",
		Messages: []model.Message{
			{Role: "user", Content: query},
		},
		MaxTokens:   16,
		Temperature: model.ZeroTemperature(),
	})
	if err != nil {
		r.opts.Logger.Warn("model-assisted routing failed", "error", err)
		return core.AgentAuto, false
	}
	answer := strings.ToLower(strings.TrimSpace(resp.Text))
	for _, id := range r.registry.IDs() {
		if answer == string(id) {
			return id, true
		}
	}
	r.opts.Logger.Warn("model-assisted routing returned unknown agent", "answer", answer)
	return core.AgentAuto, false
}

func agentNames(registry *core.Registry) []string {
	ids := registry.IDs()
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = string(id)
	}
	return names
}

func containsAny(s string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}
