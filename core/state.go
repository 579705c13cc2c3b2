package core

// CollaborationMode reports how an answer was produced.
type CollaborationMode string

const (
	// ModeSingleAgent means the primary specialist answered alone.
	ModeSingleAgent CollaborationMode = "single_agent"
	// ModeConsultation means the remaining Router candidates were consulted.
	ModeConsultation CollaborationMode = "consultation"
	// ModeMultiPerspective means every other registered specialist was
	// consulted because the Router produced only one candidate.
	ModeMultiPerspective CollaborationMode = "multi_perspective"
)

// Candidate pairs an agent with its routing confidence. Candidates are
// ordered by descending confidence, priority breaking ties.
type Candidate struct {
	Agent      AgentID `json:"agent"`
	Confidence float64 `json:"routing_confidence"`
}

// Collaboration captures the multi-agent consultation outcome attached to a
// query state. Consulting is non-empty exactly when Mode is not
// ModeSingleAgent.
type Collaboration struct {
	Mode       CollaborationMode `json:"mode"`
	Primary    AgentID           `json:"primary_agent"`
	Consulting []AgentID         `json:"consulting_agents,omitempty"`

	// ThoughtProcess is the ordered observability trace: classification
	// decision, consultation trigger, per-agent confidences, merge decision.
	ThoughtProcess []string `json:"thought_process,omitempty"`
}

// Active reports whether any consultation happened.
func (c Collaboration) Active() bool { return c.Mode != ModeSingleAgent && c.Mode != "" }

// QueryState is the transient per-invocation context threaded through the
// engine's state machine. It is owned by a single goroutine and never shared.
type QueryState struct {
	Query       string
	SessionID   string
	History     []Turn
	ModelChoice string

	// Candidates is the Router output; never empty after routing.
	Candidates []Candidate

	Retrieved []RetrievalResult
	Response  string

	// Confidence is always within [0,1].
	Confidence float64

	Collaboration Collaboration

	// Degraded is set when a provider failure forced a fallback answer.
	Degraded bool
	// Durable is cleared when the turn could not be persisted.
	Durable bool
}

// Primary returns the highest ranked candidate. Callers must only invoke it
// after routing succeeded (candidates non-empty).
func (s *QueryState) Primary() Candidate { return s.Candidates[0] }

// Trace appends a step to the collaboration thought process.
func (s *QueryState) Trace(step string) {
	s.Collaboration.ThoughtProcess = append(s.Collaboration.ThoughtProcess, step)
}
