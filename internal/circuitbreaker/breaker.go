// Package circuitbreaker stops calls to a failing dependency until it has
// had time to recover. Each key gets its own circuit.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State of a single circuit.
type State int

const (
	// StateClosed passes requests through.
	StateClosed State = iota
	// StateOpen rejects requests outright.
	StateOpen
	// StateHalfOpen lets one probe through to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var breakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "parcelpeer",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit state transitions by key, from-state, and to-state.",
}, []string{"key", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(breakerTransitions)
}

type circuit struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker tracks consecutive failures per key. A circuit opens once failures
// reach the threshold, stays open for openFor, then half-opens to admit a
// single probe. A successful probe closes it; a failed probe reopens it.
type Breaker struct {
	mu        sync.Mutex
	circuits  map[string]*circuit
	threshold int
	openFor   time.Duration
}

// New returns a Breaker. Non-positive arguments fall back to 5 failures and
// 30 seconds.
func New(threshold int, openFor time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{
		circuits:  make(map[string]*circuit),
		threshold: threshold,
		openFor:   openFor,
	}
}

// Allow reports whether a request for key may proceed. An open circuit whose
// cool-off has elapsed moves to half-open and admits the caller as the probe.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return true
	}

	switch c.state {
	case StateOpen:
		if time.Since(c.lastFailure) >= b.openFor {
			b.setState(key, c, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		// A probe is already in flight.
		return false
	default:
		return true
	}
}

// RecordSuccess clears the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return
	}
	if c.state == StateHalfOpen {
		b.setState(key, c, StateClosed)
	}
	c.failures = 0
}

// RecordFailure counts a failure. Reaching the threshold, or failing while
// half-open, opens the circuit.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{state: StateClosed}
		b.circuits[key] = c
	}

	c.failures++
	c.lastFailure = time.Now()

	switch {
	case c.state == StateHalfOpen:
		b.setState(key, c, StateOpen)
	case c.state == StateClosed && c.failures >= b.threshold:
		b.setState(key, c, StateOpen)
	}
}

// State returns the circuit state for key. Unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.circuits[key]; ok {
		return c.state
	}
	return StateClosed
}

// setState records a transition. Caller holds b.mu.
func (b *Breaker) setState(key string, c *circuit, to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	breakerTransitions.WithLabelValues(key, from.String(), to.String()).Inc()
}
