package recovery

import (
	"sync"
	"time"

	"github.com/cuemby/swarmd/pkg/types"
)

// DefaultCircuitThreshold is the consecutive-failure count that trips a
// breaker from Closed to Open.
const DefaultCircuitThreshold = 5

// DefaultCircuitTimeout is how long a breaker stays Open before probing
// HalfOpen.
const DefaultCircuitTimeout = 60 * time.Second

// circuitBreakers tracks one breaker per AgentId, transitioning
// Closed->Open->HalfOpen->{Closed,Open} per the recorded outcomes.
type circuitBreakers struct {
	mu       sync.Mutex
	breakers map[string]*types.CircuitBreaker
}

func newCircuitBreakers() *circuitBreakers {
	return &circuitBreakers{breakers: make(map[string]*types.CircuitBreaker)}
}

func (c *circuitBreakers) get(agentID string) *types.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(agentID)
}

func (c *circuitBreakers) getLocked(agentID string) *types.CircuitBreaker {
	cb, ok := c.breakers[agentID]
	if !ok {
		cb = &types.CircuitBreaker{
			AgentID:   agentID,
			State:     types.CircuitClosed,
			Threshold: DefaultCircuitThreshold,
			Timeout:   DefaultCircuitTimeout,
		}
		c.breakers[agentID] = cb
	}
	return cb
}

// state resolves Open->HalfOpen transitions lazily, as of now, before
// reporting the breaker's position.
func (c *circuitBreakers) state(agentID string, now time.Time) types.CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb := c.getLocked(agentID)
	c.maybeHalfOpen(cb, now)
	return cb.State
}

func (c *circuitBreakers) maybeHalfOpen(cb *types.CircuitBreaker, now time.Time) {
	if cb.State == types.CircuitOpen && !cb.HalfOpenAt.IsZero() && !now.Before(cb.HalfOpenAt) {
		cb.State = types.CircuitHalfOpen
	}
}

// recordFailure advances the breaker on a failed task/health signal from
// agentID.
func (c *circuitBreakers) recordFailure(agentID string, now time.Time) types.CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb := c.getLocked(agentID)
	c.maybeHalfOpen(cb, now)

	cb.LastFailure = now
	switch cb.State {
	case types.CircuitHalfOpen:
		cb.State = types.CircuitOpen
		cb.HalfOpenAt = now.Add(cb.Timeout)
		cb.FailureCount++
	case types.CircuitClosed:
		cb.FailureCount++
		if cb.FailureCount >= cb.Threshold {
			cb.State = types.CircuitOpen
			cb.HalfOpenAt = now.Add(cb.Timeout)
		}
	case types.CircuitOpen:
		// already open; nothing further to do until timeout elapses
	}
	return cb.State
}

// recordSuccess advances the breaker on a successful task from agentID.
func (c *circuitBreakers) recordSuccess(agentID string, now time.Time) types.CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb := c.getLocked(agentID)
	c.maybeHalfOpen(cb, now)

	switch cb.State {
	case types.CircuitHalfOpen:
		cb.State = types.CircuitClosed
		cb.FailureCount = 0
	case types.CircuitClosed:
		cb.FailureCount = 0
	case types.CircuitOpen:
		// a success can't reach an agent whose circuit is open
	}
	return cb.State
}

// snapshot returns the resolved state of every tracked breaker, as of now.
func (c *circuitBreakers) snapshot(now time.Time) map[string]types.CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]types.CircuitState, len(c.breakers))
	for id, cb := range c.breakers {
		c.maybeHalfOpen(cb, now)
		out[id] = cb.State
	}
	return out
}
