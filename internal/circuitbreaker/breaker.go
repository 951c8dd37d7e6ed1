// Package circuitbreaker stops calling an endpoint after repeated failures
// and probes it again once a cool-down has passed. Webhook delivery keys
// circuits by endpoint URL.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrOpen is returned by Do while the circuit for a key is open.
var ErrOpen = errors.New("circuitbreaker: circuit open")

// State of one circuit.
type State int

const (
	StateClosed   State = iota // calls flow
	StateOpen                  // calls rejected until the cool-down ends
	StateHalfOpen              // one probe in flight
)

var stateNames = [...]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half_open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

var transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "paygate",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by target state.",
}, []string{"to_state"})

func init() {
	prometheus.MustRegister(transitions)
}

// ChangeFunc observes transitions. It runs with the breaker unlocked.
type ChangeFunc func(key string, from, to State)

type circuit struct {
	state    State
	failures int
	openedAt time.Time
}

// Breaker holds one circuit per key. A missing key is a closed circuit
// with no failures.
type Breaker struct {
	mu       sync.Mutex
	circuits map[string]*circuit

	threshold int
	cooldown  time.Duration
	now       func() time.Time
	onChange  ChangeFunc
}

// New opens a circuit after threshold consecutive failures and keeps it
// open for cooldown before admitting a probe.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		circuits:  make(map[string]*circuit),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// WithClock overrides the time source.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// OnStateChange registers fn for every transition.
func (b *Breaker) OnStateChange(fn ChangeFunc) *Breaker {
	b.onChange = fn
	return b
}

// Do runs fn unless the circuit for key is open, and records the result.
func (b *Breaker) Do(key string, fn func() error) error {
	if !b.Allow(key) {
		return ErrOpen
	}
	err := fn()
	b.record(key, err == nil)
	return err
}

// Allow reports whether a call to key may proceed. An open circuit past its
// cool-down turns half-open and admits exactly one probe.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	c := b.circuits[key]
	if c == nil || c.state == StateClosed {
		b.mu.Unlock()
		return true
	}
	if c.state == StateHalfOpen || b.now().Sub(c.openedAt) < b.cooldown {
		b.mu.Unlock()
		return false
	}
	notify := b.move(key, c, StateHalfOpen)
	b.mu.Unlock()
	notify()
	return true
}

// RecordSuccess closes the circuit and clears the failure count.
func (b *Breaker) RecordSuccess(key string) { b.record(key, true) }

// RecordFailure counts a failure. A failed probe reopens immediately.
func (b *Breaker) RecordFailure(key string) { b.record(key, false) }

func (b *Breaker) record(key string, ok bool) {
	b.mu.Lock()
	c := b.circuits[key]
	if c == nil {
		if ok {
			b.mu.Unlock()
			return
		}
		c = &circuit{}
		b.circuits[key] = c
	}

	notify := func() {}
	switch {
	case ok:
		c.failures = 0
		notify = b.move(key, c, StateClosed)
	default:
		c.failures++
		if c.state == StateHalfOpen || (c.state == StateClosed && c.failures >= b.threshold) {
			c.openedAt = b.now()
			notify = b.move(key, c, StateOpen)
		}
	}
	b.mu.Unlock()
	notify()
}

// State returns the current state for key.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c := b.circuits[key]; c != nil {
		return c.state
	}
	return StateClosed
}

// move changes c's state under b.mu and returns the observer call to make
// after unlocking.
func (b *Breaker) move(key string, c *circuit, to State) func() {
	from := c.state
	if from == to {
		return func() {}
	}
	c.state = to
	transitions.WithLabelValues(to.String()).Inc()
	if fn := b.onChange; fn != nil {
		return func() { fn(key, from, to) }
	}
	return func() {}
}
