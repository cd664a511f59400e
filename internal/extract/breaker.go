// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package extract

import (
	"context"

	"github.com/ManuGH/streamkeeper/internal/media"
	"github.com/ManuGH/streamkeeper/internal/resilience"
	"github.com/ManuGH/streamkeeper/internal/resolver"
)

// Guarded runs every extraction through a circuit breaker.
type Guarded struct {
	next    resolver.Extractor
	breaker *resilience.CircuitBreaker
}

// NewGuarded wraps next with cb. Build cb with
// resilience.WithFailurePredicate(Countable) so client-side rejections do not
// trip it.
func NewGuarded(next resolver.Extractor, cb *resilience.CircuitBreaker) *Guarded {
	return &Guarded{next: next, breaker: cb}
}

// Resolve implements resolver.Extractor.
func (g *Guarded) Resolve(ctx context.Context, videoID string) (*media.ResolvedStreams, error) {
	var out *media.ResolvedStreams
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.next.Resolve(ctx, videoID)
		return err
	})
	return out, err
}

// Breaker exposes the breaker for health reporting.
func (g *Guarded) Breaker() *resilience.CircuitBreaker { return g.breaker }
