package confidence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/sentinelmesh/core"
	"github.com/hupe1980/sentinelmesh/model"
)

func kb(relevance float64) core.RetrievalResult {
	return core.RetrievalResult{Content: "doc", Source: core.SourceKnowledgeBase, Relevance: relevance}
}

func TestScoreRetrievalOnlyWithoutRater(t *testing.T) {
	s := NewScorer()
	score := s.Score(context.Background(), nil, "q", "a", []core.RetrievalResult{kb(0.8), kb(0.6)})
	assert.InDelta(t, 0.7, score, 1e-9)
}

func TestScoreBlendsSelfRating(t *testing.T) {
	rater := NewMockRater(t, "90")
	s := NewScorer()

	score := s.Score(context.Background(), rater, "q", "a", []core.RetrievalResult{kb(0.5)})
	// 0.6*0.5 + 0.4*0.9 = 0.66
	assert.InDelta(t, 0.66, score, 1e-9)
}

func TestScoreCapsWithoutRetrieval(t *testing.T) {
	rater := NewMockRater(t, "100")
	s := NewScorer()

	score := s.Score(context.Background(), rater, "q", "a", nil)
	assert.Equal(t, 0.5, score)
}

func TestScoreFallsBackOnRaterFailure(t *testing.T) {
	rater := model.NewMockModel("mock", "mock")
	rater.SetError(errors.New("model down"))
	s := NewScorer()

	score := s.Score(context.Background(), rater, "q", "a", []core.RetrievalResult{kb(0.8)})
	assert.InDelta(t, 0.8, score, 1e-9)
}

func TestScoreFallsBackOnGibberishRating(t *testing.T) {
	rater := NewMockRater(t, "pretty good I think")
	s := NewScorer()

	score := s.Score(context.Background(), rater, "q", "a", []core.RetrievalResult{kb(0.8)})
	assert.InDelta(t, 0.8, score, 1e-9)
}

func TestScoreTopKAverage(t *testing.T) {
	s := NewScorer(func(o *Options) { o.TopK = 2 })
	score := s.Score(context.Background(), nil, "q", "a", []core.RetrievalResult{kb(1.0), kb(0.8), kb(0.1)})
	assert.InDelta(t, 0.9, score, 1e-9)
}

func TestScoreClamped(t *testing.T) {
	s := NewScorer()
	score := s.Score(context.Background(), nil, "q", "a", []core.RetrievalResult{kb(1.4)})
	assert.Equal(t, 1.0, score)
}

// NewMockRater returns a mock model that answers every rating prompt with
// the given text.
func NewMockRater(t *testing.T, text string) model.Model {
	t.Helper()
	return ratingModel{text: text}
}

type ratingModel struct{ text string }

func (m ratingModel) Generate(context.Context, model.Request) (*model.Response, error) {
	return &model.Response{Text: m.text, FinishReason: "stop"}, nil
}

func (m ratingModel) Info() model.Info {
	return model.Info{Name: "rating-mock", Provider: "mock"}
}
