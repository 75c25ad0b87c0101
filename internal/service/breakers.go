package service

import (
	"sync"

	"github.com/sentinelgate/ruleengine/internal/domain/breaker"
	"github.com/sentinelgate/ruleengine/internal/domain/rule"
)

// breakerRegistry lazily creates and holds one Breaker per rule id, matching
// spec §5's "circuit-breaker state mutated only by the post-evaluation hook
// for each rule, under a per-rule lock."
type breakerRegistry struct {
	cfg breaker.Config

	mu       sync.Mutex
	breakers map[rule.ID]*breaker.Breaker
}

func newBreakerRegistry(cfg breaker.Config) *breakerRegistry {
	return &breakerRegistry{cfg: cfg, breakers: make(map[rule.ID]*breaker.Breaker)}
}

func (r *breakerRegistry) get(id rule.ID) *breaker.Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[id]
	if !ok {
		b = breaker.New(r.cfg, nil)
		r.breakers[id] = b
	}
	return b
}

func (r *breakerRegistry) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers = make(map[rule.ID]*breaker.Breaker)
}
