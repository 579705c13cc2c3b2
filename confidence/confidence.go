// Package confidence turns retrieval quality and model self-assessment into
// a single score in [0,1]. The score drives the collaboration decision, so
// it errs low: missing signals cap the score rather than inflating it.
package confidence

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/hupe1980/sentinelmesh/core"
	"github.com/hupe1980/sentinelmesh/logging"
	"github.com/hupe1980/sentinelmesh/model"
)

// Options configure a Scorer.
type Options struct {
	// RetrievalWeight and SelfRatingWeight blend the two signals. They are
	// renormalized, so only their ratio matters.
	RetrievalWeight  float64
	SelfRatingWeight float64
	// NoRetrievalCeiling caps the score when an answer has no grounding
	// context at all.
	NoRetrievalCeiling float64
	// TopK bounds how many retrieval results feed the relevance average.
	TopK   int
	Logger logging.Logger
}

// Scorer computes answer confidence.
type Scorer struct {
	opts Options
}

// NewScorer constructs a Scorer with the default 60/40 blend.
func NewScorer(optFns ...func(o *Options)) *Scorer {
	opts := Options{
		RetrievalWeight:    0.6,
		SelfRatingWeight:   0.4,
		NoRetrievalCeiling: 0.5,
		TopK:               3,
		Logger:             logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Scorer{opts: opts}
}

// Score blends the average relevance of the top retrieval results with the
// model's own 0-100 rating of its answer. rater may be nil to skip
// self-assessment; a failed or unparseable rating falls back to the
// retrieval signal alone. Results arrive ordered by relevance.
func (s *Scorer) Score(ctx context.Context, rater model.Model, query, answer string, retrieved []core.RetrievalResult) float64 {
	retrievalScore, grounded := s.retrievalScore(retrieved)

	score := retrievalScore
	if rating, ok := s.selfRating(ctx, rater, query, answer); ok {
		rw := s.opts.RetrievalWeight
		sw := s.opts.SelfRatingWeight
		score = (rw*retrievalScore + sw*rating) / (rw + sw)
	}

	if !grounded && score > s.opts.NoRetrievalCeiling {
		score = s.opts.NoRetrievalCeiling
	}
	return clamp01(score)
}

// retrievalScore averages the top results' relevance. The second return
// reports whether any grounding context exists.
func (s *Scorer) retrievalScore(retrieved []core.RetrievalResult) (float64, bool) {
	if len(retrieved) == 0 {
		return 0, false
	}
	n := len(retrieved)
	if s.opts.TopK > 0 && n > s.opts.TopK {
		n = s.opts.TopK
	}
	var sum float64
	for _, r := range retrieved[:n] {
		sum += r.Relevance
	}
	return sum / float64(n), true
}

// ratingPattern accepts a bare integer, optionally followed by punctuation.
// Anything wordier is treated as no signal rather than guessed at.
var ratingPattern = regexp.MustCompile(`^\s*(\d{1,3})\s*[.%]?\s*$`)

// selfRating asks the model to grade its own answer on a 0-100 scale. The
// call is pinned to temperature zero and a tiny token budget.
func (s *Scorer) selfRating(ctx context.Context, rater model.Model, query, answer string) (float64, bool) {
	if rater == nil {
		return 0, false
	}
	prompt := fmt.Sprintf(
		"Rate how well the following answer addresses the question, as an integer from 0 to 100. Respond with the number only.\n\nQuestion: %s\n\nAnswer: %s",
		query, answer,
	)
	resp, err := rater.Generate(ctx, model.Request{
		Messages:    []model.Message{{Role: "user", Content: prompt}},
		MaxTokens:   8,
		Temperature: model.ZeroTemperature(),
	})
	if err != nil {
		s.opts.Logger.Warn("self-rating call failed", "error", err)
		return 0, false
	}
	match := ratingPattern.FindStringSubmatch(resp.Text)
	if match == nil {
		s.opts.Logger.Warn("self-rating response not numeric", "text", resp.Text)
		return 0, false
	}
	rating, err := strconv.Atoi(match[1])
	if err != nil || rating > 100 {
		return 0, false
	}
	return float64(rating) / 100, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
