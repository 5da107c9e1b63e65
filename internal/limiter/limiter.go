// Package limiter implements fixed-window request counting per client
// identifier. The window is deliberately fixed rather than sliding or
// token-bucket shaped: O(1) state per identifier and a predictable reset
// boundary are worth the classic double-burst imprecision for
// abuse-prevention (this is not billing-grade accounting).
package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/raakeshmj/imagegate/internal/reliability"
)

var ErrUnknownClass = errors.New("unknown rate limit class")

// Endpoint classes. Each maps to its own budget in the Registry and its
// own identifier namespace, so an IP exhausting the token budget does not
// touch its image budget.
const (
	ClassImage      = "image"
	ClassToken      = "image-token"
	ClassTokenBatch = "image-token-batch"
	ClassAPI        = "api"
	ClassLogin      = "login"
)

// Config is one fixed-window budget.
type Config struct {
	MaxRequests int
	Window      time.Duration
}

// Result reports one admission decision.
type Result struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
}

// RetryAfter is the client-facing wait, rounded up to whole seconds and
// never below 1 for a denied request.
func (r Result) RetryAfter(now time.Time) int {
	secs := int((r.ResetTime.Sub(now) + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Store counts a request against an identifier's current window and
// reports the decision. Implementations own their tables exclusively and
// must be safe for concurrent use.
type Store interface {
	Check(ctx context.Context, identifier string, cfg Config) (Result, error)
}

// Limiter resolves a class to its budget and asks the store. Store errors
// (a Redis outage, never the memory store) fail open: availability beats
// perfect enforcement for an abuse limiter, and the denial is logged so
// the gap is visible.
type Limiter struct {
	store    Store
	registry *Registry
	strategy reliability.FailureStrategy
	log      zerolog.Logger
}

func New(store Store, registry *Registry, log zerolog.Logger) *Limiter {
	return &Limiter{
		store:    store,
		registry: registry,
		strategy: reliability.FailOpen,
		log:      log.With().Str("component", "limiter").Logger(),
	}
}

// Check counts one request from identifier against the class budget.
// The store key is namespaced as "<class>:<identifier>".
func (l *Limiter) Check(ctx context.Context, class, identifier string) (Result, error) {
	cfg, ok := l.registry.Get(class)
	if !ok {
		return Result{}, ErrUnknownClass
	}

	res, err := l.store.Check(ctx, class+":"+identifier, cfg)
	if err != nil {
		if reliability.ShouldAllow(l.strategy, err) {
			l.log.Warn().Err(err).Str("class", class).Msg("rate limit store unavailable, failing open")
			return Result{Allowed: true, Remaining: cfg.MaxRequests - 1, ResetTime: time.Now().Add(cfg.Window)}, nil
		}
		return Result{}, err
	}
	return res, nil
}
