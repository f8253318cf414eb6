// Package judge scores candidate results for a junction and picks a winner.
//
// Evaluate is pure: the same junction and candidates always yield the same
// decision, regardless of the order candidates arrived in.
package judge

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mattjoyce/tourguide/internal/capability"
	"github.com/mattjoyce/tourguide/internal/errs"
	"github.com/mattjoyce/tourguide/internal/route"
)

// NoContestants is the rationale recorded when the window closed with nothing to judge.
const NoContestants = "no contestants available"

// Weights is the scoring table for one category. Freshness rewards fast answers.
type Weights struct {
	Relevance  float64 `json:"relevance" yaml:"relevance"`
	Quality    float64 `json:"quality" yaml:"quality"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Freshness  float64 `json:"freshness" yaml:"freshness"`
}

func (w Weights) sum() float64 {
	return w.Relevance + w.Quality + w.Confidence + w.Freshness
}

// DefaultWeights is applied to any category without its own entry.
var DefaultWeights = Weights{Relevance: 0.5, Quality: 0.3, Confidence: 0.2}

// Config is the judge's fixed scoring policy.
type Config struct {
	Weights map[capability.Category]Weights
	// TieOrder ranks categories for equal scores; earlier wins.
	TieOrder []capability.Category
	// FreshnessHorizon is the latency at which the freshness component reaches zero.
	FreshnessHorizon time.Duration
}

// Score is one row of the per-candidate score table.
type Score struct {
	WorkerID string              `json:"worker_id"`
	Category capability.Category `json:"category"`
	Score    float64             `json:"score"`
	Eligible bool                `json:"eligible"`
}

// Decision is the judge's verdict for one junction.
type Decision struct {
	JunctionID   int                `json:"junction_id"`
	Winner       *capability.Result `json:"winner"`
	WinningScore float64            `json:"winning_score"`
	Rationale    string             `json:"rationale"`
	Scores       []Score            `json:"scores"`
	// Degraded is set when no usable candidate arrived.
	Degraded bool `json:"degraded"`
}

// Judge applies a Config.
type Judge struct {
	weights map[capability.Category]Weights
	rank    map[capability.Category]int
	horizon time.Duration
}

// New validates cfg and builds a Judge. Missing categories in TieOrder are appended
// in the default order so every category has a rank.
func New(cfg Config) (*Judge, error) {
	j := &Judge{
		weights: make(map[capability.Category]Weights, len(capability.Categories)),
		rank:    make(map[capability.Category]int, len(capability.Categories)),
		horizon: cfg.FreshnessHorizon,
	}
	if j.horizon <= 0 {
		j.horizon = time.Second
	}

	for cat, w := range cfg.Weights {
		if _, err := capability.ParseCategory(string(cat)); err != nil {
			return nil, errs.Config("judge", "weights", err.Error())
		}
		if w.Relevance < 0 || w.Quality < 0 || w.Confidence < 0 || w.Freshness < 0 {
			return nil, errs.Config("judge", "weights."+string(cat), "weights must not be negative")
		}
		if w.sum() == 0 {
			return nil, errs.Config("judge", "weights."+string(cat), "weights must not all be zero")
		}
		j.weights[cat] = w
	}
	for _, cat := range capability.Categories {
		if _, ok := j.weights[cat]; !ok {
			j.weights[cat] = DefaultWeights
		}
	}

	order := append([]capability.Category{}, cfg.TieOrder...)
	order = append(order, capability.Categories...)
	for _, cat := range order {
		if _, err := capability.ParseCategory(string(cat)); err != nil {
			return nil, errs.Config("judge", "tie_order", err.Error())
		}
		if _, seen := j.rank[cat]; !seen {
			j.rank[cat] = len(j.rank)
		}
	}
	return j, nil
}

// Default returns a judge with default weights and tie order.
func Default() *Judge {
	j, _ := New(Config{})
	return j
}

// ScoreOf computes a candidate's overall score on a 0..100 scale. Failed candidates score 0.
func (j *Judge) ScoreOf(c capability.Result) float64 {
	if c.Failed() {
		return 0
	}
	w, ok := j.weights[c.Category]
	if !ok {
		w = DefaultWeights
	}
	fresh := 0.0
	if w.Freshness > 0 {
		fresh = 100 * math.Max(0, 1-float64(c.Latency)/float64(j.horizon))
	}
	raw := w.Relevance*c.Relevance + w.Quality*c.Quality + w.Confidence*c.Confidence + w.Freshness*fresh
	score := raw / w.sum()
	return math.Round(math.Max(0, math.Min(100, score))*100) / 100
}

func (j *Judge) rankOf(c capability.Category) int {
	if r, ok := j.rank[c]; ok {
		return r
	}
	return len(j.rank)
}

// Evaluate scores every candidate and picks the winner.
// The returned decision holds copies; candidates is not modified.
func (j *Judge) Evaluate(junction route.Junction, candidates []capability.Result) Decision {
	d := Decision{JunctionID: junction.ID, Scores: make([]Score, 0, len(candidates))}
	if len(candidates) == 0 {
		d.Rationale = NoContestants
		d.Degraded = true
		return d
	}

	scored := make([]capability.Result, len(candidates))
	copy(scored, candidates)
	for i := range scored {
		scored[i].OverallScore = j.ScoreOf(scored[i])
	}

	sort.SliceStable(scored, func(a, b int) bool {
		return j.less(scored[a], scored[b])
	})

	for _, c := range scored {
		d.Scores = append(d.Scores, Score{
			WorkerID: c.WorkerID,
			Category: c.Category,
			Score:    c.OverallScore,
			Eligible: !c.Failed(),
		})
	}

	var eligible []capability.Result
	for _, c := range scored {
		if !c.Failed() {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		d.Rationale = fmt.Sprintf("all %d contestants failed", len(scored))
		d.Degraded = true
		return d
	}

	winner := eligible[0]
	d.Winner = &winner
	d.WinningScore = winner.OverallScore
	d.Rationale = rationale(eligible)
	return d
}

// less orders by score descending, then tie rank, then worker id. Failed candidates sort last.
func (j *Judge) less(a, b capability.Result) bool {
	if a.Failed() != b.Failed() {
		return !a.Failed()
	}
	if a.OverallScore != b.OverallScore {
		return a.OverallScore > b.OverallScore
	}
	if ra, rb := j.rankOf(a.Category), j.rankOf(b.Category); ra != rb {
		return ra < rb
	}
	return a.WorkerID < b.WorkerID
}

func rationale(ranked []capability.Result) string {
	w := ranked[0]
	if len(ranked) == 1 {
		return fmt.Sprintf("%s (%s) wins by default with %.1f", w.WorkerID, w.Category, w.OverallScore)
	}
	runnerUp := ranked[1]
	margin := w.OverallScore - runnerUp.OverallScore
	switch {
	case margin == 0:
		return fmt.Sprintf("%s (%s) ties %s at %.1f and wins the tie-break", w.WorkerID, w.Category, runnerUp.WorkerID, w.OverallScore)
	case margin >= 10:
		return fmt.Sprintf("%s (%s) wins decisively with %.1f, %.1f ahead of %s", w.WorkerID, w.Category, w.OverallScore, margin, runnerUp.WorkerID)
	default:
		return fmt.Sprintf("%s (%s) narrowly wins with %.1f, %.1f ahead of %s", w.WorkerID, w.Category, w.OverallScore, margin, runnerUp.WorkerID)
	}
}
