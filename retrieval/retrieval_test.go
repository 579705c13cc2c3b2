package retrieval

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sentinelmesh/core"
	"github.com/hupe1980/sentinelmesh/logging"
)

type stubKnowledge struct {
	results    []core.RetrievalResult
	err        error
	partitions []string
}

func (s *stubKnowledge) Search(_ context.Context, _ string, partitions []string, _ int) ([]core.RetrievalResult, error) {
	s.partitions = partitions
	return s.results, s.err
}

type stubWeb struct {
	results []core.RetrievalResult
	err     error
	called  bool
}

func (s *stubWeb) Search(context.Context, string, core.AgentID) ([]core.RetrievalResult, error) {
	s.called = true
	return s.results, s.err
}

func kbResult(content string, relevance float64) core.RetrievalResult {
	return core.RetrievalResult{Content: content, Source: core.SourceKnowledgeBase, Relevance: relevance}
}

func webResult(content string, relevance float64) core.RetrievalResult {
	return core.RetrievalResult{Content: content, Source: core.SourceWeb, Relevance: relevance}
}

func testProfile() core.AgentProfile {
	return core.AgentProfile{
		ID:                core.AgentThreatIntelligence,
		KnowledgeFilter:   []string{"threat_intelligence", core.SharedKnowledgePartition},
		WebSearchKeywords: []string{"latest", "recent", "cve"},
	}
}

func TestRetrieveKnowledgeOnly(t *testing.T) {
	kb := &stubKnowledge{results: []core.RetrievalResult{kbResult("doc", 0.9)}}
	web := &stubWeb{}
	g := NewGateway(kb, web)

	results, err := g.Retrieve(context.Background(), "describe lateral movement", testProfile())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, web.called, "confident knowledge hits should not trigger web search")
	assert.Equal(t, []string{"threat_intelligence", core.SharedKnowledgePartition}, kb.partitions)
}

func TestRetrieveWebOnKeyword(t *testing.T) {
	kb := &stubKnowledge{results: []core.RetrievalResult{kbResult("doc", 0.9)}}
	web := &stubWeb{results: []core.RetrievalResult{webResult("advisory", 0.8)}}
	g := NewGateway(kb, web)

	results, err := g.Retrieve(context.Background(), "latest CVE affecting OpenSSL", testProfile())
	require.NoError(t, err)
	assert.True(t, web.called)
	assert.Len(t, results, 2)
}

func TestRetrieveWebOnThinKnowledge(t *testing.T) {
	kb := &stubKnowledge{results: []core.RetrievalResult{kbResult("weak", 0.2)}}
	web := &stubWeb{results: []core.RetrievalResult{webResult("advisory", 0.8)}}
	g := NewGateway(kb, web)

	results, err := g.Retrieve(context.Background(), "obscure malware family", testProfile())
	require.NoError(t, err)
	assert.True(t, web.called)
	// Higher relevance first regardless of source.
	assert.Equal(t, core.SourceWeb, results[0].Source)
}

func TestRetrieveOrderingPrefersKnowledgeOnTies(t *testing.T) {
	results := orderResults([]core.RetrievalResult{
		webResult("w", 0.7),
		kbResult("k", 0.7),
	})
	assert.Equal(t, core.SourceKnowledgeBase, results[0].Source)
	assert.Equal(t, core.SourceWeb, results[1].Source)
}

func TestRetrieveDegradesToWebOnKnowledgeFailure(t *testing.T) {
	kb := &stubKnowledge{err: errors.New("connection refused")}
	web := &stubWeb{results: []core.RetrievalResult{webResult("advisory", 0.8)}}
	g := NewGateway(kb, web)

	results, err := g.Retrieve(context.Background(), "anything", testProfile())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.SourceWeb, results[0].Source)
}

func TestRetrieveAllSourcesFailed(t *testing.T) {
	kb := &stubKnowledge{err: errors.New("down")}
	web := &stubWeb{err: errors.New("also down")}
	g := NewGateway(kb, web)

	_, err := g.Retrieve(context.Background(), "anything", testProfile())
	assert.ErrorIs(t, err, core.ErrRetrieval)
}

func TestRetrieveEmptyKnowledgeIsNotFailure(t *testing.T) {
	kb := &stubKnowledge{}
	g := NewGateway(kb, nil)

	results, err := g.Retrieve(context.Background(), "anything", testProfile())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieveNoSources(t *testing.T) {
	g := NewGateway(nil, nil)

	results, err := g.Retrieve(context.Background(), "anything", testProfile())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestTruncateToBudgetDropsLowestRelevance(t *testing.T) {
	big := strings.Repeat("x", 400) // ~100 tokens each
	results := []core.RetrievalResult{
		kbResult(big, 0.9),
		kbResult(big, 0.8),
		kbResult(big, 0.1),
	}
	kept := truncateToBudget(results, 250)
	require.Len(t, kept, 2)
	assert.Equal(t, 0.9, kept[0].Relevance)
	assert.Equal(t, 0.8, kept[1].Relevance)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("a", 100)))
}

func TestRetrieveEmitsStructuredLog(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.LogLevelDebug,
		Format: "json",
		Output: &buf,
	})
	kb := &stubKnowledge{results: []core.RetrievalResult{kbResult("doc", 0.9)}}
	g := NewGateway(kb, nil, func(o *Options) {
		o.Logger = logger
	})

	_, err := g.Retrieve(context.Background(), "describe lateral movement", testProfile())
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "Retrieval completed")
	assert.Contains(t, buf.String(), `"source":"knowledge_base"`)
	assert.Contains(t, buf.String(), `"results":1`)
}
