package core

import (
	"fmt"
	"sort"
)

// AgentID identifies a specialist agent. The set of concrete specialists is
// fixed at compile time; AgentAuto is a routing directive, not a specialist.
type AgentID string

const (
	// AgentAuto requests automatic classification by the Router.
	AgentAuto AgentID = "auto"
	// AgentIncidentResponse handles detection, containment, eradication and
	// recovery questions.
	AgentIncidentResponse AgentID = "incident_response"
	// AgentThreatIntelligence handles threat actors, campaigns, IOCs and TTPs.
	AgentThreatIntelligence AgentID = "threat_intelligence"
	// AgentPrevention handles frameworks, controls and proactive hardening.
	AgentPrevention AgentID = "prevention"
)

// SharedKnowledgePartition is the knowledge-base partition visible to every
// specialist in addition to its own.
const SharedKnowledgePartition = "shared"

// ParseAgentID validates a wire-level agent string. The empty string maps to
// AgentAuto so clients may omit the field.
func ParseAgentID(s string) (AgentID, error) {
	switch AgentID(s) {
	case "", AgentAuto:
		return AgentAuto, nil
	case AgentIncidentResponse, AgentThreatIntelligence, AgentPrevention:
		return AgentID(s), nil
	default:
		return "", fmt.Errorf("unknown agent %q", s)
	}
}

// IsSpecialist reports whether the id names a concrete specialist (i.e. not
// the auto directive).
func (id AgentID) IsSpecialist() bool {
	switch id {
	case AgentIncidentResponse, AgentThreatIntelligence, AgentPrevention:
		return true
	default:
		return false
	}
}

// AgentProfile is the static registry entry that parameterizes the single
// generic specialist executor. Two specialists differ only by profile, never
// by algorithm.
type AgentProfile struct {
	ID AgentID

	// Priority breaks routing-confidence ties; lower wins.
	Priority int

	// KnowledgeFilter lists the knowledge-base partitions this agent may
	// retrieve from. It always contains the agent's own partition plus the
	// shared partition.
	KnowledgeFilter []string

	// PromptTemplate is the system prompt template rendered per invocation
	// (text/template syntax).
	PromptTemplate string

	// WebSearchKeywords trigger a live web search when one of them appears
	// in the query. They capture the "needs current information" heuristic.
	WebSearchKeywords []string

	// RoutingKeywords weigh classification toward this agent.
	RoutingKeywords []string
}

// Registry holds the immutable set of agent profiles. It is constructed once
// at startup and safely shared between goroutines afterwards.
type Registry struct {
	profiles map[AgentID]AgentProfile
	order    []AgentID // priority order
}

// NewRegistry builds a registry from the given profiles. It rejects
// duplicates, non-specialist ids and empty input so the "candidates never
// empty" invariant can hold downstream.
func NewRegistry(profiles ...AgentProfile) (*Registry, error) {
	if len(profiles) == 0 {
		return nil, fmt.Errorf("agent registry requires at least one profile")
	}
	r := &Registry{profiles: make(map[AgentID]AgentProfile, len(profiles))}
	for _, p := range profiles {
		if !p.ID.IsSpecialist() {
			return nil, fmt.Errorf("profile id %q is not a specialist", p.ID)
		}
		if _, dup := r.profiles[p.ID]; dup {
			return nil, fmt.Errorf("duplicate profile %q", p.ID)
		}
		r.profiles[p.ID] = p
		r.order = append(r.order, p.ID)
	}
	sort.SliceStable(r.order, func(i, j int) bool {
		return r.profiles[r.order[i]].Priority < r.profiles[r.order[j]].Priority
	})
	return r, nil
}

// Get returns the profile for id.
func (r *Registry) Get(id AgentID) (AgentProfile, bool) {
	p, ok := r.profiles[id]
	return p, ok
}

// IDs returns all registered agent ids in declared priority order.
func (r *Registry) IDs() []AgentID {
	out := make([]AgentID, len(r.order))
	copy(out, r.order)
	return out
}

// Remaining returns all registered ids except the given ones, preserving
// priority order. Used to select consulting agents when the Router produced
// a single candidate.
func (r *Registry) Remaining(exclude ...AgentID) []AgentID {
	skip := make(map[AgentID]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	var out []AgentID
	for _, id := range r.order {
		if !skip[id] {
			out = append(out, id)
		}
	}
	return out
}

// Priority returns the declared priority for id; unknown ids sort last.
func (r *Registry) Priority(id AgentID) int {
	if p, ok := r.profiles[id]; ok {
		return p.Priority
	}
	return int(^uint(0) >> 1)
}

// DefaultRegistry returns the built-in cybersecurity specialist set.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(
		AgentProfile{
			ID:              AgentIncidentResponse,
			Priority:        0,
			KnowledgeFilter: []string{string(AgentIncidentResponse), SharedKnowledgePartition},
			PromptTemplate: `You are an expert incident response specialist.
Based on the provided context, offer clear, actionable guidance for cybersecurity incident response.
Focus on detection, containment, eradication, recovery, and post-incident analysis.
Format your response using markdown for better readability.`,
			WebSearchKeywords: []string{
				"latest", "recent", "new", "emerging", "current", "today", "now",
				"zero-day", "zero day", "0day", "cve", "alert", "advisory",
			},
			RoutingKeywords: []string{
				"incident", "breach", "attack", "compromise", "response", "respond",
				"remediation", "containment", "contain", "recovery", "outbreak",
				"infected", "forensics", "eradication",
			},
		},
		AgentProfile{
			ID:              AgentThreatIntelligence,
			Priority:        1,
			KnowledgeFilter: []string{string(AgentThreatIntelligence), SharedKnowledgePartition},
			PromptTemplate: `You are an expert threat intelligence analyst.
Based on the provided context, provide detailed threat intelligence analysis.
Include IOCs (Indicators of Compromise), TTPs (Tactics, Techniques, Procedures),
attribution information, and defensive recommendations. Format your response using markdown.`,
			WebSearchKeywords: []string{
				"latest", "recent", "new", "emerging", "current", "today", "now",
				"apt", "campaign", "ioc", "ttp", "threat actor",
			},
			RoutingKeywords: []string{
				"threat", "actor", "campaign", "ioc", "ttp", "vulnerability",
				"exploit", "malware", "advisory", "report", "apt", "attribution",
				"indicator",
			},
		},
		AgentProfile{
			ID:              AgentPrevention,
			Priority:        2,
			KnowledgeFilter: []string{string(AgentPrevention), SharedKnowledgePartition},
			PromptTemplate: `You are an expert cybersecurity architect and prevention specialist.
Based on the provided context, provide comprehensive security frameworks,
preventive measures, best practices, and implementation guidance.
Focus on proactive security measures and risk mitigation strategies. Format your response using markdown.`,
			WebSearchKeywords: []string{
				"latest", "recent", "new", "emerging", "current", "today", "now",
				"framework", "standard", "guideline",
			},
			RoutingKeywords: []string{
				"prevent", "prevention", "framework", "policy", "best practice",
				"control", "guideline", "architecture", "design", "mitigation",
				"harden", "hardening", "compliance", "baseline",
			},
		},
	)
	if err != nil {
		panic(err) // static profiles above are always valid
	}
	return r
}
