// Package collab decides whether a primary answer stands alone or gets a
// second opinion, runs consulting specialists in parallel, and merges the
// results. Consultation triggers on exactly one condition: primary
// confidence below the configured threshold. Consulting agents never consult
// further, so collaboration depth is bounded at one.
package collab

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/sentinelmesh/agent"
	"github.com/hupe1980/sentinelmesh/core"
	"github.com/hupe1980/sentinelmesh/logging"
	"github.com/hupe1980/sentinelmesh/model"
	"github.com/hupe1980/sentinelmesh/router"
)

// Options configure a Coordinator.
type Options struct {
	// Threshold is T: a primary answer below it triggers consultation.
	Threshold float64
	// ConsultTimeout bounds each consulting specialist. A consultant that
	// misses it is skipped, never waited for.
	ConsultTimeout time.Duration
	Logger         logging.Logger
}

// Outcome is the final product of one query's collaboration lifecycle.
type Outcome struct {
	// Answer is the winning answer after any merge.
	Answer *agent.Answer
	// Collaboration describes what happened for the client and the logs.
	Collaboration core.Collaboration
}

// Coordinator owns the collaboration decision for every query.
type Coordinator struct {
	registry    *core.Registry
	specialists map[core.AgentID]*agent.Specialist
	opts        Options
}

// NewCoordinator constructs a Coordinator over the full specialist set. Every
// registry id must have a matching specialist.
func NewCoordinator(registry *core.Registry, specialists map[core.AgentID]*agent.Specialist, optFns ...func(o *Options)) (*Coordinator, error) {
	opts := Options{
		Threshold:      0.6,
		ConsultTimeout: 45 * time.Second,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	for _, id := range registry.IDs() {
		if _, ok := specialists[id]; !ok {
			return nil, fmt.Errorf("no specialist registered for agent %s", id)
		}
	}
	return &Coordinator{registry: registry, specialists: specialists, opts: opts}, nil
}

// Run executes the primary specialist and, when its confidence falls below
// the threshold, fans out to consulting specialists and merges. decision
// comes from the Router and is never empty.
func (c *Coordinator) Run(ctx context.Context, m model.Model, query string, history []core.Turn, decision router.Decision) (*Outcome, error) {
	primary := decision.Candidates[0].Agent
	state := newFSM()

	trace := []string{fmt.Sprintf("routed to %s (confidence %.2f)", primary, decision.Candidates[0].Confidence)}
	if decision.FollowUp {
		trace = append(trace, "follow-up query, inherited prior agent")
	}
	if decision.HighStakes {
		trace = append(trace, "high-stakes language detected")
	}

	primaryAnswer, err := c.specialists[primary].Answer(ctx, m, query, history)
	if err != nil {
		return nil, err
	}
	trace = append(trace, fmt.Sprintf("%s answered with confidence %.2f", primary, primaryAnswer.Confidence))

	if primaryAnswer.Confidence >= c.opts.Threshold {
		if err := state.to(StateSingleAgent); err != nil {
			return nil, err
		}
		return &Outcome{
			Answer: primaryAnswer,
			Collaboration: core.Collaboration{
				Mode:           core.ModeSingleAgent,
				Primary:        primary,
				ThoughtProcess: append(trace, "confidence above threshold, no consultation"),
			},
		}, nil
	}

	mode, consulting := c.consultingSet(decision)
	if len(consulting) == 0 {
		// Nobody to consult, e.g. a single-specialist registry. The low
		// confidence stands and the outcome stays single-agent.
		if err := state.to(StateSingleAgent); err != nil {
			return nil, err
		}
		return &Outcome{
			Answer: primaryAnswer,
			Collaboration: core.Collaboration{
				Mode:           core.ModeSingleAgent,
				Primary:        primary,
				ThoughtProcess: append(trace, "confidence below threshold but no other specialists registered"),
			},
		}, nil
	}
	trace = append(trace, fmt.Sprintf("confidence below %.2f, consulting %s (%s)", c.opts.Threshold, joinAgents(consulting), mode))

	if err := state.to(StateActive); err != nil {
		return nil, err
	}
	answers := c.consult(ctx, m, query, history, consulting)
	if err := state.to(StateMerged); err != nil {
		return nil, err
	}

	merged, mergeTrace := merge(primaryAnswer, answers)
	trace = append(trace, mergeTrace...)

	return &Outcome{
		Answer: merged,
		Collaboration: core.Collaboration{
			Mode:           mode,
			Primary:        primary,
			Consulting:     consulting,
			ThoughtProcess: trace,
		},
	}, nil
}

// consultingSet picks who to ask for a second opinion. Additional router
// candidates mean the query itself spanned domains (consultation); a single
// candidate means the primary was simply unsure, so every other specialist
// weighs in (multi-perspective).
func (c *Coordinator) consultingSet(decision router.Decision) (core.CollaborationMode, []core.AgentID) {
	primary := decision.Candidates[0].Agent
	if len(decision.Candidates) > 1 {
		consulting := make([]core.AgentID, 0, len(decision.Candidates)-1)
		for _, cand := range decision.Candidates[1:] {
			consulting = append(consulting, cand.Agent)
		}
		return core.ModeConsultation, consulting
	}
	return core.ModeMultiPerspective, c.registry.Remaining(primary)
}

// consult runs every consulting specialist concurrently. Failures and
// timeouts drop that consultant's answer; the merge works with whatever
// arrived.
func (c *Coordinator) consult(ctx context.Context, m model.Model, query string, history []core.Turn, consulting []core.AgentID) []*agent.Answer {
	var wg sync.WaitGroup
	results := make(chan *agent.Answer, len(consulting))

	for _, id := range consulting {
		wg.Add(1)
		go func(id core.AgentID) {
			defer wg.Done()

			consultCtx, cancel := context.WithTimeout(ctx, c.opts.ConsultTimeout)
			defer cancel()

			answer, err := c.specialists[id].Answer(consultCtx, m, query, history)
			if err != nil {
				c.opts.Logger.Warn("consulting agent failed", "agent", id, "error", err)
				return
			}
			results <- answer
		}(id)
	}

	wg.Wait()
	close(results)

	answers := make([]*agent.Answer, 0, len(consulting))
	for answer := range results {
		answers = append(answers, answer)
	}
	return answers
}

// merge folds consulting answers into a final one. The best consulting
// answer takes the lead only when strictly more confident than the primary;
// every non-leading answer survives as a labeled supporting perspective so
// no consulted work is discarded silently.
func merge(primary *agent.Answer, consulting []*agent.Answer) (*agent.Answer, []string) {
	lead := primary
	for _, answer := range consulting {
		if answer.Confidence > lead.Confidence {
			lead = answer
		}
	}

	var trace []string
	if lead != primary {
		trace = append(trace, fmt.Sprintf("%s answer (%.2f) replaced primary (%.2f)", lead.Agent, lead.Confidence, primary.Confidence))
	} else {
		trace = append(trace, fmt.Sprintf("primary answer retained at confidence %.2f", primary.Confidence))
	}

	var sb strings.Builder
	sb.WriteString(lead.Text)

	appendSupporting := func(answer *agent.Answer) {
		if answer == lead || strings.TrimSpace(answer.Text) == "" {
			return
		}
		fmt.Fprintf(&sb, "\n\n---\n**Perspective from %s** (confidence %.2f):\n\n%s", answer.Agent, answer.Confidence, answer.Text)
		trace = append(trace, fmt.Sprintf("kept %s perspective as supporting note", answer.Agent))
	}
	appendSupporting(primary)
	for _, answer := range consulting {
		appendSupporting(answer)
	}

	merged := *lead
	merged.Text = sb.String()
	for _, answer := range append([]*agent.Answer{primary}, consulting...) {
		if answer.Degraded {
			merged.Degraded = true
		}
	}
	return &merged, trace
}

func joinAgents(ids []core.AgentID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}
