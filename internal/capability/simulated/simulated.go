// Package simulated provides offline content workers with seeded, reproducible output.
// They stand in for real video, music and history providers in demos and tests.
package simulated

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"github.com/mattjoyce/tourguide/internal/capability"
	"github.com/mattjoyce/tourguide/internal/route"
)

// ErrSimulatedFailure is returned when a worker rolls a failure.
var ErrSimulatedFailure = errors.New("simulated provider failure")

// Options tunes a simulated worker.
type Options struct {
	// Latency is the base time spent per junction.
	Latency time.Duration
	// Jitter adds up to this much extra latency.
	Jitter time.Duration
	// FailureRate is the probability in [0,1] of returning an error.
	FailureRate float64
	// Seed makes the output reproducible across runs.
	Seed uint64
}

type template struct {
	title       string
	description string
	host        string
	path        string
}

var templates = map[capability.Category][]template{
	capability.CategoryVideo: {
		{"Driving along %s", "Dashcam footage of %s.", "www.youtube.com", "/results?search_query="},
		{"%s walking tour", "A street-level walk through %s.", "www.youtube.com", "/results?search_query="},
		{"%s from above", "Drone footage over %s.", "www.youtube.com", "/results?search_query="},
	},
	capability.CategoryMusic: {
		{"Songs about %s", "A playlist inspired by %s.", "open.spotify.com", "/search/"},
		{"%s radio", "Local artists from around %s.", "open.spotify.com", "/search/"},
		{"Road trip: %s", "Upbeat tracks for the drive past %s.", "open.spotify.com", "/search/"},
	},
	capability.CategoryHistory: {
		{"History of %s", "How %s came to be.", "en.wikipedia.org", "/wiki/Special:Search?search="},
		{"%s through the ages", "Notable events that happened around %s.", "en.wikipedia.org", "/wiki/Special:Search?search="},
		{"The story behind %s", "Who %s is named after and why.", "en.wikipedia.org", "/wiki/Special:Search?search="},
	},
}

// Worker is a simulated provider for a single category.
type Worker struct {
	id       string
	category capability.Category
	opts     Options
}

// New creates a simulated worker.
func New(id string, category capability.Category, opts Options) *Worker {
	return &Worker{id: id, category: category, opts: opts}
}

// Defaults returns one worker per category with short latencies.
func Defaults(seed uint64) []capability.Worker {
	return []capability.Worker{
		New("video", capability.CategoryVideo, Options{Latency: 40 * time.Millisecond, Jitter: 60 * time.Millisecond, Seed: seed}),
		New("music", capability.CategoryMusic, Options{Latency: 30 * time.Millisecond, Jitter: 50 * time.Millisecond, Seed: seed}),
		New("history", capability.CategoryHistory, Options{Latency: 50 * time.Millisecond, Jitter: 80 * time.Millisecond, Seed: seed}),
	}
}

func (w *Worker) ID() string                    { return w.id }
func (w *Worker) Category() capability.Category { return w.category }

func (w *Worker) rng(junctionID int) *rand.Rand {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s/%d", w.id, junctionID)
	return rand.New(rand.NewPCG(w.opts.Seed, h.Sum64()))
}

// Process waits out the simulated latency, then returns a recommendation.
func (w *Worker) Process(ctx context.Context, j route.Junction) (capability.Result, error) {
	start := time.Now()
	rng := w.rng(j.ID)

	delay := w.opts.Latency
	if w.opts.Jitter > 0 {
		delay += time.Duration(rng.Int64N(int64(w.opts.Jitter)))
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return capability.Result{}, ctx.Err()
	}

	if w.opts.FailureRate > 0 && rng.Float64() < w.opts.FailureRate {
		return capability.Result{}, ErrSimulatedFailure
	}

	terms := j.SearchTerms()
	subject := j.Label()
	if len(terms) > 0 {
		subject = terms[rng.IntN(len(terms))]
	}
	if subject == "" {
		subject = fmt.Sprintf("junction %d", j.ID)
	}
	choices := templates[w.category]
	tpl := choices[rng.IntN(len(choices))]

	// Richer junction descriptions make for more relevant matches.
	relevance := 45 + rng.Float64()*35
	if j.StreetName != "" {
		relevance += 8
	}
	if len(j.Landmarks) > 0 {
		relevance += 7
	}

	return capability.Result{
		WorkerID:    w.id,
		Category:    w.category,
		JunctionID:  j.ID,
		Title:       fmt.Sprintf(tpl.title, subject),
		Description: fmt.Sprintf(tpl.description, subject),
		URL:         "https://" + tpl.host + tpl.path + url.QueryEscape(strings.ToLower(subject)),
		Relevance:   min(relevance, 100),
		Quality:     40 + rng.Float64()*55,
		Confidence:  35 + rng.Float64()*60,
		Latency:     time.Since(start),
	}, nil
}
