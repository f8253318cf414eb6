// Package httpworker adapts a remote JSON content provider to capability.Worker.
//
// The provider receives POST {endpoint} with {"category": ..., "junction": {...}}
// and answers with a single recommendation object.
package httpworker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/mattjoyce/tourguide/internal/capability"
	"github.com/mattjoyce/tourguide/internal/route"
)

// Config describes one remote provider.
type Config struct {
	ID       string
	Category capability.Category
	Endpoint string
	APIKey   string

	// RatePerSecond and Burst bound outgoing requests. Zero disables limiting.
	RatePerSecond float64
	Burst         int

	// BreakerThreshold consecutive failures open the breaker for BreakerReset.
	BreakerThreshold uint32
	BreakerReset     time.Duration

	// MaxAttempts bounds retries of transient failures inside one junction window.
	MaxAttempts int
	Backoff     time.Duration
}

type request struct {
	Category capability.Category `json:"category"`
	Junction route.Junction      `json:"junction"`
}

type response struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	URL         string  `json:"url"`
	Relevance   float64 `json:"relevance"`
	Quality     float64 `json:"quality"`
	Confidence  float64 `json:"confidence"`
}

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.Code, e.Body)
}

// Worker calls a remote provider, guarded by a rate limiter and a circuit breaker.
type Worker struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[capability.Result]
	logger  *slog.Logger
}

// New builds a Worker. client may be nil to use a default client.
func New(cfg Config, client *http.Client, logger *slog.Logger) (*Worker, error) {
	if cfg.ID == "" {
		return nil, errors.New("httpworker: id is required")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("httpworker %s: endpoint is required", cfg.ID)
	}
	if client == nil {
		client = &http.Client{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerReset <= 0 {
		cfg.BreakerReset = 30 * time.Second
	}

	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
		if burst <= 0 {
			burst = 1
		}
	}

	w := &Worker{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With("component", "httpworker", "worker", cfg.ID),
	}
	w.breaker = gobreaker.NewCircuitBreaker[capability.Result](gobreaker.Settings{
		Name:    cfg.ID,
		Timeout: cfg.BreakerReset,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		// A closed junction window is not the provider's fault.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			w.logger.Warn("Circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	})
	return w, nil
}

func (w *Worker) ID() string                    { return w.cfg.ID }
func (w *Worker) Category() capability.Category { return w.cfg.Category }

// BreakerState reports the circuit breaker state for diagnostics.
func (w *Worker) BreakerState() string {
	return w.breaker.State().String()
}

// Process asks the provider for a recommendation for j.
func (w *Worker) Process(ctx context.Context, j route.Junction) (capability.Result, error) {
	start := time.Now()
	if err := w.limiter.Wait(ctx); err != nil {
		return capability.Result{}, fmt.Errorf("rate limit wait: %w", err)
	}
	res, err := w.breaker.Execute(func() (capability.Result, error) {
		return w.call(ctx, j)
	})
	if err != nil {
		return capability.Result{}, err
	}
	res.Latency = time.Since(start)
	return res, nil
}

func (w *Worker) call(ctx context.Context, j route.Junction) (capability.Result, error) {
	body, err := json.Marshal(request{Category: w.cfg.Category, Junction: j})
	if err != nil {
		return capability.Result{}, fmt.Errorf("encode request: %w", err)
	}

	resp, err := w.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.Endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if w.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+w.cfg.APIKey)
		}
		return req, nil
	})
	if err != nil {
		return capability.Result{}, err
	}
	defer resp.Body.Close()

	var payload response
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return capability.Result{}, fmt.Errorf("decode response: %w", err)
	}
	if payload.Title == "" {
		return capability.Result{}, errors.New("provider returned no title")
	}

	return capability.Result{
		WorkerID:    w.cfg.ID,
		Category:    w.cfg.Category,
		JunctionID:  j.ID,
		Title:       payload.Title,
		Description: payload.Description,
		URL:         payload.URL,
		Relevance:   clamp(payload.Relevance),
		Quality:     clamp(payload.Quality),
		Confidence:  clamp(payload.Confidence),
	}, nil
}

func (w *Worker) do(req *http.Request) (*http.Response, error) {
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &httpStatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

// doWithRetry retries network errors and 429/5xx responses with exponential backoff
// until the attempts run out or ctx is done.
func (w *Worker) doWithRetry(ctx context.Context, makeReq func() (*http.Request, error)) (*http.Response, error) {
	backoff := w.cfg.Backoff
	var lastErr error

	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		req, err := makeReq()
		if err != nil {
			return nil, fmt.Errorf("make request: %w", err)
		}
		resp, err := w.do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !retryable(err) || attempt == w.cfg.MaxAttempts {
			return nil, lastErr
		}
		w.logger.Debug("Retrying provider request", "attempt", attempt, "error", err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return nil, lastErr
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var he *httpStatusError
	if errors.As(err, &he) {
		switch he.Code {
		case http.StatusTooManyRequests, 500, 502, 503, 504:
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func clamp(v float64) float64 {
	return max(0, min(100, v))
}
