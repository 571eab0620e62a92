package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const sweepInterval = time.Minute

// Factory builds the engine for a user.
type Factory func(ctx context.Context, userID string) (*Engine, error)

// Registry keeps one Engine per user in memory. The store stays the source
// of truth, so idle engines are dropped and rebuilt on the next request.
type Registry struct {
	factory Factory
	ttl     time.Duration
	logger  *slog.Logger

	mu      sync.RWMutex
	engines map[string]*Engine
	loads   singleflight.Group
}

// NewRegistry creates a registry whose engines expire after ttl of inactivity.
func NewRegistry(factory Factory, ttl time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		factory: factory,
		ttl:     ttl,
		logger:  logger,
		engines: make(map[string]*Engine),
	}
}

// Get returns the user's engine, building it on first use. Concurrent first
// requests for the same user share one build.
func (r *Registry) Get(ctx context.Context, userID string) (*Engine, error) {
	if userID == "" {
		return nil, ErrAuthMissing
	}

	r.mu.RLock()
	e, ok := r.engines[userID]
	r.mu.RUnlock()
	if ok {
		return e, nil
	}

	v, err, _ := r.loads.Do(userID, func() (any, error) {
		r.mu.RLock()
		existing, ok := r.engines[userID]
		r.mu.RUnlock()
		if ok {
			return existing, nil
		}

		// the engine outlives the request that triggered the load
		e, err := r.factory(context.WithoutCancel(ctx), userID)
		if e == nil {
			return nil, err
		}
		if err != nil {
			r.logger.Warn("chat engine loaded with store failures", "user_id", userID, "error", err)
		}

		r.mu.Lock()
		r.engines[userID] = e
		r.mu.Unlock()
		r.logger.Info("chat engine registered", "user_id", userID)
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Engine), nil
}

// Evict closes and forgets the user's engine.
func (r *Registry) Evict(userID string) {
	r.mu.Lock()
	e, ok := r.engines[userID]
	delete(r.engines, userID)
	r.mu.Unlock()

	if ok {
		e.Close()
		r.logger.Info("chat engine evicted", "user_id", userID)
	}
}

// Len returns the number of live engines.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.engines)
}

// Sweep evicts every engine idle for at least the TTL and returns how many went.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	var expired []*Engine
	for userID, e := range r.engines {
		if e.Idle(now, r.ttl) {
			expired = append(expired, e)
			delete(r.engines, userID)
		}
	}
	r.mu.Unlock()

	for _, e := range expired {
		e.Close()
	}
	if len(expired) > 0 {
		r.logger.Info("idle chat engines evicted", "count", len(expired))
	}
	return len(expired)
}

// Run sweeps idle engines until ctx is done, then closes every engine.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	r.logger.Info("engine sweeper started", "interval", sweepInterval, "ttl", r.ttl)

	for {
		select {
		case now := <-ticker.C:
			r.Sweep(now)
		case <-ctx.Done():
			r.logger.Info("engine sweeper shutting down", "reason", ctx.Err())
			r.closeAll()
			return nil
		}
	}
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	engines := r.engines
	r.engines = make(map[string]*Engine)
	r.mu.Unlock()

	for _, e := range engines {
		e.Close()
	}
}
