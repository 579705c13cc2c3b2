// Package engine orchestrates the full query workflow: session resolution,
// routing, specialist execution with optional collaboration, and durable
// persistence. It is the only package that sees a query end to end; the
// server layer stays a thin protocol adapter on top of it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/sentinelmesh/collab"
	"github.com/hupe1980/sentinelmesh/core"
	"github.com/hupe1980/sentinelmesh/logging"
	"github.com/hupe1980/sentinelmesh/model"
	"github.com/hupe1980/sentinelmesh/router"
	"github.com/hupe1980/sentinelmesh/session"
)

// fallbackAnswer is served when the model provider fails past its retry.
const fallbackAnswer = "I'm currently unable to generate a complete answer due to a temporary problem with the language model provider. Please try again shortly. If this is an active security incident, engage your incident response process directly rather than waiting."

// Request is one user query entering the engine.
type Request struct {
	// Query is the user's question. Must be non-empty.
	Query string
	// SessionID resumes an existing session; empty starts a new one.
	SessionID string
	// Model names the registry entry to answer with; empty uses the default.
	Model string
	// Agent optionally pins a specialist; empty or "auto" routes.
	Agent string
}

// Result is the engine's answer to one Request.
type Result struct {
	SessionID     string
	Response      string
	Agent         core.AgentID
	Confidence    float64
	ModelUsed     string
	Collaboration core.Collaboration
	// Degraded reports that some dependency failed and the answer was
	// produced on reduced inputs or is a fixed fallback.
	Degraded bool
	// Durable reports whether this exchange reached the durable store.
	Durable bool
}

// Options configures an Engine.
type Options struct {
	// Store is the durable session store. Defaults to in-memory.
	Store core.SessionStore
	// QueryTimeout bounds one complete query workflow.
	QueryTimeout time.Duration
	Logger       logging.Logger
}

// WithStore sets the durable session store.
func WithStore(store core.SessionStore) func(o *Options) {
	return func(o *Options) { o.Store = store }
}

// WithQueryTimeout bounds the end-to-end query workflow.
func WithQueryTimeout(d time.Duration) func(o *Options) {
	return func(o *Options) { o.QueryTimeout = d }
}

// WithLogger sets the engine logger.
func WithLogger(logger logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = logger }
}

// Engine wires the router, coordinator, model registry and session stores
// into the query workflow.
type Engine struct {
	models      *model.Registry
	router      *router.Router
	coordinator *collab.Coordinator
	store       core.SessionStore
	// fallback absorbs session traffic while the durable store is failing,
	// so a multi-turn conversation survives a store outage at the cost of
	// durability.
	fallback *session.InMemoryStore
	opts     Options

	// mu guards locks. Concurrent workflows for the same session id are
	// serialized so their turn pairs land in arrival order.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs an Engine.
func New(models *model.Registry, rt *router.Router, coordinator *collab.Coordinator, optFns ...func(o *Options)) *Engine {
	opts := Options{
		QueryTimeout: 2 * time.Minute,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Store == nil {
		opts.Store = session.NewInMemoryStore()
	}
	return &Engine{
		models:      models,
		router:      rt,
		coordinator: coordinator,
		store:       opts.Store,
		fallback:    session.NewInMemoryStore(),
		opts:        opts,
		locks:       make(map[string]*sync.Mutex),
	}
}

// sessionLock returns the mutex serializing workflows for one session.
func (e *Engine) sessionLock(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[sessionID] = lock
	}
	return lock
}

// Handle executes one query end to end. It only returns an error for
// requests that cannot be processed at all (empty query, unknown agent,
// unknown session); provider and store failures degrade the Result instead.
func (e *Engine) Handle(ctx context.Context, req Request) (*Result, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	override, err := core.ParseAgentID(req.Agent)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.QueryTimeout)
	defer cancel()

	// Serialize the whole workflow per session so a second query cannot
	// read history or append turns while an earlier one is in flight. A
	// fresh session id cannot be contended, so empty ids skip the lock.
	if req.SessionID != "" {
		lock := e.sessionLock(req.SessionID)
		lock.Lock()
		defer lock.Unlock()
	}

	sessionID, history, durable, err := e.resolveSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	m, modelName := e.models.Resolve(req.Model)
	logger := e.opts.Logger

	decision := e.router.Route(ctx, req.Query, override, history)
	logger.Debug("routed query",
		"session", sessionID,
		"primary", decision.Candidates[0].Agent,
		"candidates", len(decision.Candidates),
		"follow_up", decision.FollowUp,
	)

	result := &Result{
		SessionID: sessionID,
		ModelUsed: modelName,
		Durable:   durable,
	}

	outcome, err := e.coordinator.Run(ctx, m, req.Query, history, decision)
	switch {
	case err == nil:
		result.Response = outcome.Answer.Text
		result.Agent = outcome.Answer.Agent
		result.Confidence = outcome.Answer.Confidence
		result.Collaboration = outcome.Collaboration
		result.Degraded = outcome.Answer.Degraded
	case ctx.Err() != nil:
		// The workflow was aborted; partial state is not persisted.
		return nil, ctx.Err()
	case errors.Is(err, core.ErrModel):
		logger.Error("model provider failed, serving fallback answer", "session", sessionID, "error", err)
		result.Response = fallbackAnswer
		result.Agent = decision.Candidates[0].Agent
		result.Confidence = 0
		result.Collaboration = core.Collaboration{
			Mode:           core.ModeSingleAgent,
			Primary:        decision.Candidates[0].Agent,
			ThoughtProcess: []string{"model provider unavailable, fixed fallback served"},
		}
		result.Degraded = true
	default:
		return nil, err
	}

	e.persist(ctx, result, req.Query)
	return result, nil
}

// History returns the stored turn log for a session, consulting the
// degradation fallback when the durable store does not know the id.
func (e *Engine) History(ctx context.Context, sessionID string) ([]core.Turn, error) {
	turns, err := e.store.History(ctx, sessionID)
	if err == nil {
		return turns, nil
	}
	if fbTurns, fbErr := e.fallback.History(ctx, sessionID); fbErr == nil {
		return fbTurns, nil
	}
	return nil, err
}

// Clear removes a session from both stores.
func (e *Engine) Clear(ctx context.Context, sessionID string) error {
	_ = e.fallback.Clear(ctx, sessionID)
	err := e.store.Clear(ctx, sessionID)
	e.mu.Lock()
	delete(e.locks, sessionID)
	e.mu.Unlock()
	return err
}

// resolveSession loads or creates the session. A failing durable store is
// degraded to the in-memory fallback rather than refusing the query; the
// returned bool reports durability.
func (e *Engine) resolveSession(ctx context.Context, sessionID string) (string, []core.Turn, bool, error) {
	if sessionID == "" {
		id, err := e.store.Create(ctx)
		if err == nil {
			return id, nil, true, nil
		}
		e.opts.Logger.Error("durable store create failed, degrading to memory", "error", err)
		id, err = e.fallback.Create(ctx)
		if err != nil {
			return "", nil, false, err
		}
		return id, nil, false, nil
	}

	history, err := e.store.History(ctx, sessionID)
	if err == nil {
		return sessionID, history, true, nil
	}
	if history, fbErr := e.fallback.History(ctx, sessionID); fbErr == nil {
		return sessionID, history, false, nil
	}
	if errors.Is(err, core.ErrSessionNotFound) {
		return "", nil, false, err
	}
	// The durable store is down but the conversation can continue in
	// memory from an empty history.
	e.opts.Logger.Error("durable store read failed, degrading to memory", "session", sessionID, "error", err)
	return sessionID, nil, false, nil
}

// persist appends the user and agent turns. Store failures flip Durable off
// and land the turns in the fallback so follow-ups still see them.
func (e *Engine) persist(ctx context.Context, result *Result, query string) {
	if ctx.Err() != nil {
		// Aborted mid-workflow; the exchange never happened as far as the
		// session is concerned.
		return
	}
	turns := []core.Turn{
		core.NewUserTurn(query),
		core.NewAgentTurn(result.Agent, result.Response),
	}
	store := core.SessionStore(e.store)
	if !result.Durable {
		store = e.fallback
	}
	for i, turn := range turns {
		if err := store.Append(ctx, result.SessionID, turn); err != nil {
			e.opts.Logger.Error("turn persistence failed, degrading to memory", "session", result.SessionID, "error", err)
			result.Durable = false
			for _, rest := range turns[i:] {
				if fbErr := e.fallback.Append(ctx, result.SessionID, rest); fbErr != nil {
					e.opts.Logger.Error("fallback persistence failed, turn lost", "session", result.SessionID, "error", fbErr)
				}
			}
			return
		}
	}
}
