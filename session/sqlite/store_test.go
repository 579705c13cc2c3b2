package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sentinelmesh/core"
	"github.com/hupe1980/sentinelmesh/model"
	"github.com/hupe1980/sentinelmesh/session"
)

func newTestStore(t *testing.T, optFns ...func(o *Options)) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "sessions.db"), optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Append(ctx, id, core.NewUserTurn("what is lateral movement?")))
	require.NoError(t, store.Append(ctx, id, core.NewAgentTurn(core.AgentThreatIntelligence, "Lateral movement is...")))

	history, err := store.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, core.RoleUser, history[0].Role)
	assert.Equal(t, "what is lateral movement?", history[0].Content)
	assert.Equal(t, core.AgentThreatIntelligence, history[1].Agent)
	assert.False(t, history[0].Summary)
}

func TestStoreHistorySurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")

	store, err := NewStore(path)
	require.NoError(t, err)
	id, err := store.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, id, core.NewUserTurn("persist me")))
	require.NoError(t, store.Close())

	reopened, err := NewStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	history, err := reopened.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "persist me", history[0].Content)
}

func TestStoreAppendUnknownSession(t *testing.T) {
	store := newTestStore(t)
	err := store.Append(context.Background(), "missing", core.NewUserTurn("q"))
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestStoreHistoryUnknownSession(t *testing.T) {
	store := newTestStore(t)
	_, err := store.History(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestStoreClearRemovesTurns(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, id, core.NewUserTurn("q")))

	require.NoError(t, store.Clear(ctx, id))
	_, err = store.History(ctx, id)
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestStoreConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := store.Create(ctx)
			if !assert.NoError(t, err) {
				return
			}
			for j := 0; j < 5; j++ {
				assert.NoError(t, store.Append(ctx, id, core.NewUserTurn(fmt.Sprintf("s%d t%d", i, j))))
			}
			history, err := store.History(ctx, id)
			if assert.NoError(t, err) {
				assert.Len(t, history, 5)
			}
		}(i)
	}
	wg.Wait()
}

func TestStoreCompactsOverBudgetHistory(t *testing.T) {
	ctx := context.Background()
	m := model.NewMockModel("summarizer", "mock")
	sum := session.NewSummarizer(m, func(o *session.SummarizerOptions) {
		o.TokenBudget = 50
		o.KeepRecent = 2
	})
	store := newTestStore(t, func(o *Options) { o.Summarizer = sum })

	id, err := store.Create(ctx)
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		require.NoError(t, store.Append(ctx, id, core.NewUserTurn(strings.Repeat("word ", 20))))
	}

	history, err := store.History(ctx, id)
	require.NoError(t, err)
	assert.Less(t, len(history), 8)
	assert.True(t, history[0].Summary)
	assert.Equal(t, core.RoleAgent, history[0].Role)
}
