package modelclient

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
)

// FallbackPolicy matches a candidate's extracted status code against glob
// patterns, per spec.md §4.H: allow-match proceeds to the next candidate,
// deny-match aborts the whole chain, otherwise the default policy applies.
type FallbackPolicy struct {
	Allow   []string
	Deny    []string
	Default string // "continue" or "abort"; "continue" if empty
}

// StatusError lets a Provider attach a structured HTTP-like status code to
// an error, so the fallback chain need not guess from the error string.
type StatusError struct {
	Status int
	Err    error
}

func (e *StatusError) Error() string { return e.Err.Error() }
func (e *StatusError) Unwrap() error { return e.Err }

var statusPattern = regexp.MustCompile(`\b([1-5][0-9]{2})\b`)

// extractStatus pulls an HTTP-like status code out of err: a *StatusError
// first, else a heuristic scan of the error string, else 500.
func extractStatus(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	if m := statusPattern.FindString(err.Error()); m != "" {
		if n, convErr := strconv.Atoi(m); convErr == nil {
			return n
		}
	}
	return 500
}

func matchesAny(patterns []string, status string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, status); ok {
			return true
		}
	}
	return false
}

// Chain resolves [primary, ...primary's fallback_models] in order, invoking
// call against each until one succeeds. Failures are filtered through the
// failing candidate's FallbackPolicy before moving on.
type Chain struct {
	registry  *ConfigRegistry
	providers map[string]Provider
}

// NewChain builds a fallback chain over registry's resolved configs,
// dispatching by each config's Provider tag into providers.
func NewChain(registry *ConfigRegistry, providers map[string]Provider) *Chain {
	return &Chain{registry: registry, providers: providers}
}

func (c *Chain) candidates(primary string) ([]string, error) {
	cfg, err := c.registry.Resolve(primary)
	if err != nil {
		return nil, err
	}
	return append([]string{primary}, cfg.FallbackModels...), nil
}

// Invoke runs call against each candidate in order per spec.md's fallback
// policy, returning the first success or the last error if all are
// exhausted.
func (c *Chain) Invoke(ctx context.Context, primary string, call func(context.Context, ResolvedConfig, Provider) (Response, error)) (Response, error) {
	candidates, err := c.candidates(primary)
	if err != nil {
		return Response{}, err
	}

	var lastErr error
	for _, alias := range candidates {
		cfg, err := c.registry.Resolve(alias)
		if err != nil {
			lastErr = err
			continue
		}
		provider, ok := c.providers[cfg.Provider]
		if !ok {
			lastErr = fmt.Errorf("modelclient: no provider registered for tag %q (alias %q)", cfg.Provider, alias)
			continue
		}

		resp, err := call(ctx, cfg, provider)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		status := strconv.Itoa(extractStatus(err))
		policy := cfg.FallbackPolicy
		switch {
		case matchesAny(policy.Allow, status):
			continue
		case matchesAny(policy.Deny, status):
			return Response{}, fmt.Errorf("modelclient: fallback chain aborted by deny policy on %q (status %s): %w", alias, status, err)
		case policy.Default == "abort":
			return Response{}, fmt.Errorf("modelclient: fallback chain aborted by default policy on %q: %w", alias, err)
		default:
			continue
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("modelclient: no candidates for alias %q", primary)
	}
	return Response{}, lastErr
}
