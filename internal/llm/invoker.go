// Package llm wraps single calls to a generative provider with per-call
// timeout, retry with exponential backoff, structured-output parsing, and
// fallback values. Invoke never fails at the model level: when retries are
// exhausted it degrades to partial extraction and then to the caller's
// fallback, so a half-broken structured response beats a ragged full default.
package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/paperlens/paperlens/internal/provider"
)

// Tier is a named invoker configuration. The invoker itself is tier-agnostic;
// callers pick fast (low latency, cheap model) or deep (longer timeout, one
// more retry, higher-quality model).
type Tier struct {
	Name       string
	Model      string
	Timeout    time.Duration
	MaxRetries int // retry attempts after the first call
	Backoff    time.Duration
}

// FastTier returns the low-latency configuration for the given model.
func FastTier(model string) Tier {
	return Tier{Name: "fast", Model: model, Timeout: 30 * time.Second, MaxRetries: 2, Backoff: time.Second}
}

// DeepTier returns the high-quality configuration for the given model.
func DeepTier(model string) Tier {
	return Tier{Name: "deep", Model: model, Timeout: 60 * time.Second, MaxRetries: 3, Backoff: time.Second}
}

// Source says how a Result's value was obtained.
type Source int

const (
	// SourceParsed means the model output parsed cleanly.
	SourceParsed Source = iota
	// SourcePartial means the output failed strict parsing but some fields
	// were recovered from the last attempt's raw text.
	SourcePartial
	// SourceFallback means the caller-supplied fallback value was used.
	SourceFallback
)

func (s Source) String() string {
	switch s {
	case SourceParsed:
		return "parsed"
	case SourcePartial:
		return "partial"
	default:
		return "fallback"
	}
}

// Result is the outcome of an Invoke call. Value is always usable.
type Result[T any] struct {
	Value    T
	Source   Source
	Attempts int // provider calls actually made
}

// UsedFallback reports whether the caller's fallback value was returned.
func (r Result[T]) UsedFallback() bool {
	return r.Source == SourceFallback
}

// outcome classifies one attempt so the retry policy is a visible decision,
// not exception plumbing.
type outcome int

const (
	outcomeOK outcome = iota
	outcomeRetryable
	outcomeFatal
)

// Invoke calls the provider with tier's model, parsing the response with
// parse. On provider error, timeout, or parse failure it retries up to
// tier.MaxRetries times with doubling backoff. After the last attempt, the
// last raw output goes through partial (when non-nil) before fallback wins.
// Cancellation of ctx stops retrying at the next checkpoint; the per-attempt
// timeout is the only preemptive mechanism.
func Invoke[T any](
	ctx context.Context,
	p provider.LLM,
	tier Tier,
	prompt string,
	parse func(string) (T, error),
	partial func(string) (T, bool),
	fallback T,
) Result[T] {
	logger := slog.Default()
	var lastRaw string
	attempts := 0

	for try := 0; try <= tier.MaxRetries; try++ {
		// Cooperative checkpoint: do not start a retry after cancellation.
		if try > 0 {
			if err := WaitBackoff(ctx, tier.Backoff<<(try-1)); err != nil {
				break
			}
		}
		attempts++

		value, raw, out, err := attempt(ctx, p, tier, prompt, parse)
		if raw != "" {
			lastRaw = raw
		}
		switch out {
		case outcomeOK:
			return Result[T]{Value: value, Source: SourceParsed, Attempts: attempts}
		case outcomeFatal:
			logger.Warn("llm call aborted", "tier", tier.Name, "model", tier.Model, "error", err)
			try = tier.MaxRetries // no more retries
		default:
			logger.Warn("llm call failed, will retry",
				"tier", tier.Name, "model", tier.Model,
				"attempt", attempts, "max_attempts", tier.MaxRetries+1, "error", err)
		}
	}

	if lastRaw != "" && partial != nil {
		if value, ok := partial(lastRaw); ok {
			logger.Info("recovered partial structured output", "tier", tier.Name, "model", tier.Model)
			return Result[T]{Value: value, Source: SourcePartial, Attempts: attempts}
		}
	}

	logger.Warn("llm retries exhausted, using fallback", "tier", tier.Name, "model", tier.Model, "attempts", attempts)
	return Result[T]{Value: fallback, Source: SourceFallback, Attempts: attempts}
}

// InvokeText is Invoke for calls whose result is the raw text itself.
func InvokeText(ctx context.Context, p provider.LLM, tier Tier, prompt, fallback string) Result[string] {
	return Invoke(ctx, p, tier, prompt,
		func(raw string) (string, error) {
			if raw == "" {
				return "", errors.New("empty response")
			}
			return raw, nil
		},
		nil,
		fallback,
	)
}

func attempt[T any](
	ctx context.Context,
	p provider.LLM,
	tier Tier,
	prompt string,
	parse func(string) (T, error),
) (value T, raw string, out outcome, err error) {
	callCtx, cancel := context.WithTimeout(ctx, tier.Timeout)
	defer cancel()

	resp, err := p.Generate(callCtx, provider.GenerateRequest{Model: tier.Model, Prompt: prompt})
	if err != nil {
		if ctx.Err() != nil {
			// The caller went away; retrying would be wasted spend.
			return value, "", outcomeFatal, ctx.Err()
		}
		return value, "", outcomeRetryable, err
	}

	parsed, err := parse(resp.Text)
	if err != nil {
		return value, resp.Text, outcomeRetryable, err
	}
	return parsed, resp.Text, outcomeOK, nil
}

// WaitBackoff sleeps for d or until ctx is cancelled, whichever comes first.
// It is the shared retry checkpoint for every provider-facing loop.
func WaitBackoff(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
