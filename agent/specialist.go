// Package agent implements the specialist executor. Every specialist runs
// the same pipeline: retrieve grounding context, build a domain prompt,
// generate, then score confidence. Specialists differ only by their profile;
// there is one algorithm, parameterized.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/sentinelmesh/confidence"
	"github.com/hupe1980/sentinelmesh/core"
	"github.com/hupe1980/sentinelmesh/logging"
	"github.com/hupe1980/sentinelmesh/model"
	"github.com/hupe1980/sentinelmesh/retrieval"
)

// Answer is the outcome of one specialist invocation.
type Answer struct {
	Agent      core.AgentID
	Text       string
	Confidence float64
	Retrieved  []core.RetrievalResult
	// Degraded reports that a dependency failed along the way and the answer
	// was produced on reduced inputs.
	Degraded bool
}

// Options configure a Specialist.
type Options struct {
	// MaxHistoryTurns bounds how much session history enters the prompt.
	MaxHistoryTurns int
	// ModelTimeout bounds each generation call.
	ModelTimeout time.Duration
	// RetryDelay before the single retry of a failed generation.
	RetryDelay time.Duration
	// Rater is the model used for answer self-assessment. Nil scores on the
	// retrieval signal alone.
	Rater  model.Model
	Logger logging.Logger
}

// Specialist executes one agent profile against queries.
type Specialist struct {
	profile core.AgentProfile
	gateway *retrieval.Gateway
	scorer  *confidence.Scorer
	opts    Options
}

// NewSpecialist constructs the executor for profile. gateway and scorer are
// shared across specialists.
func NewSpecialist(profile core.AgentProfile, gateway *retrieval.Gateway, scorer *confidence.Scorer, optFns ...func(o *Options)) *Specialist {
	opts := Options{
		MaxHistoryTurns: 10,
		ModelTimeout:    30 * time.Second,
		RetryDelay:      500 * time.Millisecond,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Specialist{profile: profile, gateway: gateway, scorer: scorer, opts: opts}
}

// ID returns the specialist's agent id.
func (s *Specialist) ID() core.AgentID { return s.profile.ID }

// Answer runs the full pipeline for query using m. history is the session
// so far, oldest first. A retrieval failure degrades to a model-only answer
// with capped confidence; a model failure is retried once and then surfaces
// as core.ErrModel.
func (s *Specialist) Answer(ctx context.Context, m model.Model, query string, history []core.Turn) (*Answer, error) {
	degraded := false

	retrieved, err := s.gateway.Retrieve(ctx, query, s.profile)
	if err != nil {
		s.opts.Logger.Warn("retrieval failed, answering model-only", "agent", s.profile.ID, "error", err)
		degraded = true
		retrieved = nil
	}

	req := model.Request{
		System:   buildSystemPrompt(s.profile, retrieved),
		Messages: buildMessages(query, history, s.opts.MaxHistoryTurns),
	}

	resp, genErr := s.generate(ctx, m, req)
	if genErr != nil {
		return nil, fmt.Errorf("%w: agent %s: %v", core.ErrModel, s.profile.ID, genErr)
	}

	score := s.scorer.Score(ctx, s.opts.Rater, query, resp.Text, retrieved)

	return &Answer{
		Agent:      s.profile.ID,
		Text:       resp.Text,
		Confidence: score,
		Retrieved:  retrieved,
		Degraded:   degraded,
	}, nil
}

// generate performs one bounded model call with a single retry. Context
// cancellation is terminal; only provider errors are retried.
func (s *Specialist) generate(ctx context.Context, m model.Model, req model.Request) (*model.Response, error) {
	resp, err := s.call(ctx, m, req)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	s.opts.Logger.Warn("model call failed, retrying once", "agent", s.profile.ID, "error", err)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.opts.RetryDelay):
	}
	return s.call(ctx, m, req)
}

func (s *Specialist) call(ctx context.Context, m model.Model, req model.Request) (*model.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.ModelTimeout)
	defer cancel()

	start := time.Now()
	resp, err := m.Generate(callCtx, req)
	s.logCall(m, time.Since(start), err)
	return resp, err
}

func (s *Specialist) logCall(m model.Model, dur time.Duration, err error) {
	if sl, ok := s.opts.Logger.(*logging.SentinelLogger); ok {
		sl.LogModelCall(m.Info().Name, dur, err == nil, err)
	}
}
