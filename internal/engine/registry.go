package engine

import (
	"context"
	"log/slog"
	"sync"
)

// Factory builds a fully wired engine for a circle. The registry uses it the
// first time a circle is seen.
type Factory func(circleID string) *Engine

// Registry owns one engine instance per monitored circle. Circles are
// isolated by construction: each engine has its own state, signal store and
// queue, with no shared mutable state between them.
type Registry struct {
	mu      sync.Mutex
	engines map[string]*Engine
	cancels map[string]context.CancelFunc
	factory Factory
}

// NewRegistry creates a registry with the given engine factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		engines: make(map[string]*Engine),
		cancels: make(map[string]context.CancelFunc),
		factory: factory,
	}
}

// Get returns the engine for a circle if monitoring has started for it.
func (r *Registry) Get(circleID string) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	eng, ok := r.engines[circleID]
	return eng, ok
}

// GetOrCreate returns the circle's engine, creating (but not starting) it on
// first use.
func (r *Registry) GetOrCreate(circleID string) *Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	if eng, ok := r.engines[circleID]; ok {
		return eng
	}
	eng := r.factory(circleID)
	r.engines[circleID] = eng
	slog.Info("engine.Registry: engine created", "circle_id", circleID)
	return eng
}

// Start begins the tick loop for a circle's engine. Starting an already
// running circle is a no-op.
func (r *Registry) Start(ctx context.Context, circleID string) *Engine {
	eng := r.GetOrCreate(circleID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, running := r.cancels[circleID]; running {
		return eng
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancels[circleID] = cancel
	go eng.Run(runCtx)
	return eng
}

// Stop halts monitoring for a circle. The engine and its state remain
// registered so monitoring can resume.
func (r *Registry) Stop(circleID string) {
	r.mu.Lock()
	cancel, ok := r.cancels[circleID]
	if ok {
		delete(r.cancels, circleID)
	}
	r.mu.Unlock()
	if ok {
		cancel()
		slog.Info("engine.Registry: monitoring stopped", "circle_id", circleID)
	}
}

// StopAll halts monitoring for every circle.
func (r *Registry) StopAll() {
	r.mu.Lock()
	cancels := r.cancels
	r.cancels = make(map[string]context.CancelFunc)
	r.mu.Unlock()
	for circleID, cancel := range cancels {
		cancel()
		slog.Debug("engine.Registry: monitoring stopped", "circle_id", circleID)
	}
}

// Each calls fn for every registered engine.
func (r *Registry) Each(fn func(circleID string, eng *Engine)) {
	r.mu.Lock()
	snapshot := make(map[string]*Engine, len(r.engines))
	for id, eng := range r.engines {
		snapshot[id] = eng
	}
	r.mu.Unlock()
	for id, eng := range snapshot {
		fn(id, eng)
	}
}
