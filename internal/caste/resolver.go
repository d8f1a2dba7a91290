package caste

import (
	"context"

	"github.com/tphakala/voterimport/internal/logger"
)

// ResolutionRecorder receives per-lookup hit/miss outcomes.
type ResolutionRecorder interface {
	RecordResolution(hit bool)
}

// Resolver maps normalized surnames to categories. It never fails: empty,
// unmapped and unloadable lookups all resolve to Unknown.
type Resolver struct {
	cache   Cache
	log     logger.Logger
	metrics ResolutionRecorder
}

// Option configures a Resolver
type Option func(*Resolver)

// WithLogger sets the resolver logger
func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// WithMetrics sets the hit/miss recorder
func WithMetrics(m ResolutionRecorder) Option {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver creates a resolver over cache.
func NewResolver(cache Cache, opts ...Option) *Resolver {
	r := &Resolver{cache: cache}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Global().Module("caste")
	}
	return r
}

// Resolve returns the category for a normalized surname.
func (r *Resolver) Resolve(ctx context.Context, normalized string) Category {
	if normalized == "" {
		return Unknown
	}

	mappings, err := r.cache.Get(ctx)
	if err != nil {
		r.log.WithContext(ctx).Warn("surname mappings unavailable, resolving as unknown", logger.Error(err))
		return Unknown
	}

	c, ok := mappings[normalized]
	if r.metrics != nil {
		r.metrics.RecordResolution(ok)
	}
	if !ok {
		r.log.Trace("surname not mapped", logger.String("surname", normalized))
		return Unknown
	}
	return c
}

// Unresolved returns the subset of surnames that resolve to Unknown.
func (r *Resolver) Unresolved(ctx context.Context, surnames []string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, s := range surnames {
		if r.Resolve(ctx, s) == Unknown {
			out[s] = struct{}{}
		}
	}
	return out
}

// Invalidate drops the cached snapshot.
func (r *Resolver) Invalidate() {
	r.cache.Invalidate()
}

// Reload forces a snapshot reload.
func (r *Resolver) Reload(ctx context.Context) error {
	if err := r.cache.Reload(ctx); err != nil {
		return err
	}
	r.log.Info("surname mappings reloaded")
	return nil
}
