// Package sentinelmesh provides a high-level façade over the query engine
// and its collaborators (router, specialists, retrieval, sessions) enabling
// rapid construction of a cybersecurity Q&A service. Most applications
// interact with this package by:
//  1. Creating a Mesh via New() with a model registry (optionally overriding
//     the default in-memory services)
//  2. Calling Ask() per query, or mounting server.Server for network access
//
// The façade delegates orchestration to engine.Engine while keeping setup
// ergonomics concise. All defaults are safe for local development and
// testing; production deployments supply the durable SQLite session store,
// the pgvector knowledge base and live web search.
package sentinelmesh

import (
	"context"
	"time"

	"github.com/hupe1980/sentinelmesh/agent"
	"github.com/hupe1980/sentinelmesh/collab"
	"github.com/hupe1980/sentinelmesh/confidence"
	"github.com/hupe1980/sentinelmesh/core"
	"github.com/hupe1980/sentinelmesh/engine"
	"github.com/hupe1980/sentinelmesh/logging"
	"github.com/hupe1980/sentinelmesh/model"
	"github.com/hupe1980/sentinelmesh/retrieval"
	"github.com/hupe1980/sentinelmesh/router"
)

// Version is the library version.
const Version = "0.1.0"

// Options configures a Mesh instance.
type Options struct {
	// Registry is the specialist set. Defaults to core.DefaultRegistry().
	Registry *core.Registry

	// Knowledge and Web feed the retrieval gateway. Both default to nil,
	// which yields model-only answers with capped confidence.
	Knowledge retrieval.KnowledgeSearcher
	Web       retrieval.WebSearcher

	// Store is the durable session store. Defaults to in-memory.
	Store core.SessionStore

	// RouterModel assists classification when keywords are silent. Nil
	// disables the assist.
	RouterModel model.Model
	// RaterModel grades answers for the confidence blend. Nil scores on
	// retrieval alone.
	RaterModel model.Model

	// CollaborationThreshold is T.
	CollaborationThreshold float64
	// ConfidenceWeights blend retrieval and self-rating signals.
	RetrievalWeight  float64
	SelfRatingWeight float64

	// ModelTimeout bounds each generation call.
	ModelTimeout time.Duration

	// Logger defaults to NoOp so the library carries no logging setup.
	Logger logging.Logger
}

// Mesh is the high-level façade aggregating the engine and its services.
type Mesh struct {
	engine *engine.Engine
	opts   Options
}

// New creates a Mesh around the given model registry. Any unset service is
// replaced by a safe default.
func New(models *model.Registry, optFns ...func(o *Options)) (*Mesh, error) {
	opts := Options{
		Registry:               core.DefaultRegistry(),
		CollaborationThreshold: 0.6,
		RetrievalWeight:        0.6,
		SelfRatingWeight:       0.4,
		ModelTimeout:           30 * time.Second,
		Logger:                 logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	gateway := retrieval.NewGateway(opts.Knowledge, opts.Web, func(o *retrieval.Options) {
		o.Logger = opts.Logger
	})
	scorer := confidence.NewScorer(func(o *confidence.Options) {
		o.RetrievalWeight = opts.RetrievalWeight
		o.SelfRatingWeight = opts.SelfRatingWeight
		o.Logger = opts.Logger
	})

	specialists := make(map[core.AgentID]*agent.Specialist)
	for _, id := range opts.Registry.IDs() {
		profile, _ := opts.Registry.Get(id)
		specialists[id] = agent.NewSpecialist(profile, gateway, scorer, func(o *agent.Options) {
			o.ModelTimeout = opts.ModelTimeout
			o.Rater = opts.RaterModel
			o.Logger = opts.Logger
		})
	}

	coordinator, err := collab.NewCoordinator(opts.Registry, specialists, func(o *collab.Options) {
		o.Threshold = opts.CollaborationThreshold
		o.Logger = opts.Logger
	})
	if err != nil {
		return nil, err
	}

	rt := router.New(opts.Registry, opts.RouterModel, func(o *router.Options) {
		o.Logger = opts.Logger
	})

	eng := engine.New(models, rt, coordinator,
		engine.WithStore(opts.Store),
		engine.WithLogger(opts.Logger),
	)
	return &Mesh{engine: eng, opts: opts}, nil
}

// Ask runs one query end to end.
func (m *Mesh) Ask(ctx context.Context, req engine.Request) (*engine.Result, error) {
	return m.engine.Handle(ctx, req)
}

// Engine exposes the underlying engine, e.g. for mounting the server.
func (m *Mesh) Engine() *engine.Engine { return m.engine }
