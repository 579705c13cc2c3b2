package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sentinelmesh/agent"
	"github.com/hupe1980/sentinelmesh/collab"
	"github.com/hupe1980/sentinelmesh/confidence"
	"github.com/hupe1980/sentinelmesh/core"
	"github.com/hupe1980/sentinelmesh/model"
	"github.com/hupe1980/sentinelmesh/retrieval"
	"github.com/hupe1980/sentinelmesh/router"
)

type fixedKnowledge struct {
	relevance float64
}

func (f fixedKnowledge) Search(context.Context, string, []string, int) ([]core.RetrievalResult, error) {
	return []core.RetrievalResult{{
		Content:   "playbook entry",
		Source:    core.SourceKnowledgeBase,
		Relevance: f.relevance,
	}}, nil
}

func newEngine(t *testing.T, m model.Model, optFns ...func(o *Options)) *Engine {
	t.Helper()
	registry := core.DefaultRegistry()
	gateway := retrieval.NewGateway(fixedKnowledge{relevance: 0.9}, nil)
	scorer := confidence.NewScorer()

	specialists := make(map[core.AgentID]*agent.Specialist)
	for _, id := range registry.IDs() {
		profile, ok := registry.Get(id)
		require.True(t, ok)
		specialists[id] = agent.NewSpecialist(profile, gateway, scorer, func(o *agent.Options) {
			o.RetryDelay = time.Millisecond
		})
	}
	coordinator, err := collab.NewCoordinator(registry, specialists)
	require.NoError(t, err)

	models, err := model.NewRegistry("mock", map[string]model.Model{"mock": m})
	require.NoError(t, err)

	return New(models, router.New(registry, nil), coordinator, optFns...)
}

func TestHandleSingleAgentFlow(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	m.AddResponse("How do I contain a ransomware outbreak?", "Isolate hosts, preserve evidence.")
	e := newEngine(t, m)

	result, err := e.Handle(context.Background(), Request{Query: "How do I contain a ransomware outbreak?"})
	require.NoError(t, err)

	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, core.AgentIncidentResponse, result.Agent)
	assert.Equal(t, "Isolate hosts, preserve evidence.", result.Response)
	assert.Equal(t, "mock", result.ModelUsed)
	assert.Equal(t, core.ModeSingleAgent, result.Collaboration.Mode)
	assert.True(t, result.Durable)
	assert.False(t, result.Degraded)
	assert.InDelta(t, 0.9, result.Confidence, 1e-9)

	history, err := e.History(context.Background(), result.SessionID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, core.RoleUser, history[0].Role)
	assert.Equal(t, core.AgentIncidentResponse, history[1].Agent)
}

func TestHandleFollowUpStaysWithAgent(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	e := newEngine(t, m)

	first, err := e.Handle(context.Background(), Request{Query: "What threat actors target hospitals?"})
	require.NoError(t, err)
	assert.Equal(t, core.AgentThreatIntelligence, first.Agent)

	second, err := e.Handle(context.Background(), Request{
		Query:     "tell me more",
		SessionID: first.SessionID,
	})
	require.NoError(t, err)
	assert.Equal(t, core.AgentThreatIntelligence, second.Agent)

	history, err := e.History(context.Background(), first.SessionID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestHandleExplicitAgent(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	e := newEngine(t, m)

	result, err := e.Handle(context.Background(), Request{
		Query: "How do I contain a ransomware outbreak?",
		Agent: "prevention",
	})
	require.NoError(t, err)
	assert.Equal(t, core.AgentPrevention, result.Agent)
}

func TestHandleModelFailureServesFallback(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	m.SetError(errors.New("provider down"))
	e := newEngine(t, m)

	result, err := e.Handle(context.Background(), Request{Query: "contain the breach"})
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Zero(t, result.Confidence)
	assert.Contains(t, result.Response, "temporary problem")

	// The failed exchange is still recorded for continuity.
	history, err := e.History(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

// slowModel delays each generation so concurrent workflows overlap.
type slowModel struct {
	*model.MockModel
	delay time.Duration
}

func (s slowModel) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.delay):
	}
	return s.MockModel.Generate(ctx, req)
}

func TestHandleSerializesConcurrentQueriesPerSession(t *testing.T) {
	m := slowModel{MockModel: model.NewMockModel("mock", "mock"), delay: 20 * time.Millisecond}
	e := newEngine(t, m)

	first, err := e.Handle(context.Background(), Request{Query: "contain the breach"})
	require.NoError(t, err)

	queries := []string{"what about backups?", "what about logging?"}
	var wg sync.WaitGroup
	for _, q := range queries {
		wg.Add(1)
		go func(q string) {
			defer wg.Done()
			_, err := e.Handle(context.Background(), Request{Query: q, SessionID: first.SessionID})
			assert.NoError(t, err)
		}(q)
	}
	wg.Wait()

	history, err := e.History(context.Background(), first.SessionID)
	require.NoError(t, err)
	require.Len(t, history, 6)

	// Turn pairs must not interleave: every user turn is directly followed
	// by the agent turn answering that exact query.
	for i := 0; i < len(history); i += 2 {
		assert.Equal(t, core.RoleUser, history[i].Role)
		assert.Equal(t, core.RoleAgent, history[i+1].Role)
		assert.Contains(t, history[i+1].Content, history[i].Content)
	}
}

func TestHandleCancelledContextAbortsWithoutPersisting(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	m.AddResponse("contain the breach", "Isolate and investigate.")
	e := newEngine(t, m)

	first, err := e.Handle(context.Background(), Request{Query: "contain the breach"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = e.Handle(ctx, Request{Query: "what about backups?", SessionID: first.SessionID})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// The aborted exchange leaves no trace in the session.
	history, err := e.History(context.Background(), first.SessionID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestHandleValidation(t *testing.T) {
	e := newEngine(t, model.NewMockModel("mock", "mock"))

	_, err := e.Handle(context.Background(), Request{})
	assert.Error(t, err)

	_, err = e.Handle(context.Background(), Request{Query: "q", Agent: "astrologer"})
	assert.Error(t, err)

	_, err = e.Handle(context.Background(), Request{Query: "q", SessionID: "no-such-session"})
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestHandleUnknownModelFallsBackToDefault(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	e := newEngine(t, m)

	result, err := e.Handle(context.Background(), Request{Query: "contain the breach", Model: "gpt-unknown"})
	require.NoError(t, err)
	assert.Equal(t, "mock", result.ModelUsed)
}

// failingStore simulates a durable store outage.
type failingStore struct{}

func (failingStore) Create(context.Context) (string, error) {
	return "", core.ErrPersistence
}

func (failingStore) Append(context.Context, string, core.Turn) error {
	return core.ErrPersistence
}

func (failingStore) History(context.Context, string) ([]core.Turn, error) {
	return nil, core.ErrPersistence
}

func (failingStore) Clear(context.Context, string) error { return core.ErrPersistence }

func (failingStore) Close() error { return nil }

func TestHandleStoreOutageDegradesToMemory(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	e := newEngine(t, m, WithStore(failingStore{}))

	result, err := e.Handle(context.Background(), Request{Query: "contain the breach"})
	require.NoError(t, err)
	assert.False(t, result.Durable)
	assert.NotEmpty(t, result.SessionID)

	// Follow-ups continue against the in-memory fallback.
	second, err := e.Handle(context.Background(), Request{
		Query:     "tell me more",
		SessionID: result.SessionID,
	})
	require.NoError(t, err)
	assert.False(t, second.Durable)

	history, err := e.History(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestClearRemovesSession(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	e := newEngine(t, m)

	result, err := e.Handle(context.Background(), Request{Query: "contain the breach"})
	require.NoError(t, err)

	require.NoError(t, e.Clear(context.Background(), result.SessionID))
	_, err = e.History(context.Background(), result.SessionID)
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}
