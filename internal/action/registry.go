package action

import (
	"fmt"
	"sync"

	"github.com/myrqyry/obs-copilot-sub005/internal/rule"
)

// Registry maps action types to their sinks.
// It is safe for concurrent reads; Register should only be called at startup.
type Registry struct {
	mu    sync.RWMutex
	sinks map[rule.ActionType]Sink
}

// NewRegistry creates a Registry holding sinks.
func NewRegistry(sinks ...Sink) *Registry {
	r := &Registry{sinks: make(map[rule.ActionType]Sink)}
	for _, s := range sinks {
		r.Register(s)
	}
	return r
}

// Register adds a sink. Panics on duplicate type to surface misconfiguration early.
func (r *Registry) Register(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sinks[s.Type()]; exists {
		panic(fmt.Sprintf("action registry: duplicate type %q", s.Type()))
	}
	r.sinks[s.Type()] = s
}

// Get returns the sink for the given type.
func (r *Registry) Get(actionType rule.ActionType) (Sink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sinks[actionType]
	if !ok {
		return nil, fmt.Errorf("no sink registered for action type %q", actionType)
	}
	return s, nil
}

// Availability reports, per registered type, whether its sink can take actions now.
func (r *Registry) Availability() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.sinks))
	for k, s := range r.sinks {
		out[string(k)] = s.Available()
	}
	return out
}
