package config

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mattjoyce/tourguide/internal/capability"
	"github.com/mattjoyce/tourguide/internal/capability/httpworker"
	"github.com/mattjoyce/tourguide/internal/capability/simulated"
	"github.com/mattjoyce/tourguide/internal/judge"
	"github.com/mattjoyce/tourguide/internal/tempo"
)

// Roster is the set of workers built from config.
type Roster struct {
	*capability.Roster
	// Remote holds the http workers so callers can report breaker state.
	Remote []*httpworker.Worker
}

// BuildRoster constructs every enabled worker in id order. client may be nil.
func BuildRoster(cfg *Config, client *http.Client, logger *slog.Logger) (*Roster, error) {
	var (
		workers []capability.Worker
		remote  []*httpworker.Worker
	)
	for _, id := range sortedWorkerIDs(cfg.Workers) {
		wc := cfg.Workers[id]
		if !wc.Enabled {
			continue
		}
		cat, err := capability.ParseCategory(wc.Category)
		if err != nil {
			return nil, fmt.Errorf("worker %s: %w", id, err)
		}

		switch wc.Kind {
		case WorkerKindHTTP:
			hc := httpworker.Config{
				ID:            id,
				Category:      cat,
				Endpoint:      wc.Endpoint,
				APIKey:        wc.APIKey,
				RatePerSecond: wc.RatePerSecond,
				Burst:         wc.Burst,
				MaxAttempts:   wc.MaxAttempts,
			}
			if wc.Breaker != nil {
				hc.BreakerThreshold = wc.Breaker.Threshold
				hc.BreakerReset = wc.Breaker.ResetAfter
			}
			w, err := httpworker.New(hc, client, logger)
			if err != nil {
				return nil, err
			}
			workers = append(workers, w)
			remote = append(remote, w)
		default:
			workers = append(workers, simulated.New(id, cat, simulated.Options{
				Latency:     time.Duration(wc.LatencyMS) * time.Millisecond,
				Jitter:      time.Duration(wc.JitterMS) * time.Millisecond,
				FailureRate: wc.FailureRate,
				Seed:        wc.Seed,
			}))
		}
	}

	roster, err := capability.NewRoster(workers...)
	if err != nil {
		return nil, err
	}
	return &Roster{Roster: roster, Remote: remote}, nil
}

// BuildJudge constructs the judge from the scoring policy.
func BuildJudge(cfg *Config) (*judge.Judge, error) {
	jc := judge.Config{
		Weights:          make(map[capability.Category]judge.Weights, len(cfg.Judge.Weights)),
		FreshnessHorizon: seconds(cfg.Judge.FreshnessHorizonSeconds),
	}
	for cat, w := range cfg.Judge.Weights {
		jc.Weights[capability.Category(cat)] = w
	}
	for _, cat := range cfg.Judge.TieOrder {
		jc.TieOrder = append(jc.TieOrder, capability.Category(cat))
	}
	return judge.New(jc)
}

// TempoConfig converts the tempo section into a controller config.
func (c *Config) TempoConfig() tempo.Config {
	mode, _ := tempo.ParseMode(c.Tempo.Mode)
	return tempo.Config{
		Mode:        mode,
		Interval:    seconds(c.Tempo.JunctionIntervalSeconds),
		TimeScale:   c.Tempo.TimeScale,
		PreDispatch: seconds(c.Tempo.PreDispatchSeconds),
	}
}

// AgentTimeout is the per-junction collection window.
func (c *Config) AgentTimeout() time.Duration {
	return seconds(c.Processor.AgentTimeoutSeconds)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
