// Package signals provides the signal store and collector transport for the
// proactive engine.
//
// The store holds the most recent value per signal type. Collectors push
// updates concurrently with engine ticks; the evaluator always reads a
// point-in-time snapshot, never the live map.
package signals

import (
	"log/slog"
	"maps"
	"sync"

	"github.com/Karuna-AI/karuna-proactive/internal/models"
)

// Store holds the latest known signal per type for one circle.
type Store struct {
	mu      sync.RWMutex
	current map[models.SignalType]models.Signal
}

// NewStore creates an empty signal store.
func NewStore() *Store {
	return &Store{current: make(map[models.SignalType]models.Signal)}
}

// Update overwrites the entry for the signal's type. Last-write-wins is
// decided by the signal timestamp, not arrival order, so out-of-order
// delivery from asynchronous collectors is tolerated: a stale update is
// dropped silently.
func (s *Store) Update(sig models.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.current[sig.Type]; ok && sig.Timestamp.Before(existing.Timestamp) {
		slog.Debug("signals.Store.Update: dropping stale signal", "type", sig.Type,
			"incoming", sig.Timestamp, "current", existing.Timestamp)
		return
	}
	s.current[sig.Type] = sig
	slog.Debug("signals.Store.Update: stored signal", "type", sig.Type, "timestamp", sig.Timestamp)
}

// Snapshot returns a point-in-time copy of all current signals. The returned
// map and nested value maps are independent of the store, so a tick never
// observes a signal changing mid-evaluation.
func (s *Store) Snapshot() map[models.SignalType]models.Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(map[models.SignalType]models.Signal, len(s.current))
	for t, sig := range s.current {
		copied := sig
		if sig.Value != nil {
			copied.Value = maps.Clone(sig.Value)
		}
		if sig.Metadata != nil {
			copied.Metadata = maps.Clone(sig.Metadata)
		}
		snap[t] = copied
	}
	return snap
}

// Get returns the current signal of the given type, if present.
func (s *Store) Get(t models.SignalType) (models.Signal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.current[t]
	return sig, ok
}

// Len returns the number of signal types currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.current)
}
