// Package health runs named subsystem probes for the /health endpoints.
package health

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"
)

// DefaultTimeout bounds each probe when the registry has no explicit timeout.
const DefaultTimeout = 2 * time.Second

// ErrNotRunning is reported by Loop probes whose loop has stopped.
var ErrNotRunning = errors.New("not running")

// Status is the outcome of one probe.
type Status struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

// Checker probes a subsystem. A nil error means healthy.
type Checker func(ctx context.Context) error

type probe struct {
	name  string
	check Checker
}

// Registry holds probes in registration order.
type Registry struct {
	mu      sync.RWMutex
	probes  []probe
	timeout time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{timeout: DefaultTimeout}
}

// WithTimeout sets the per-probe deadline.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a probe. Registering a name twice replaces the earlier probe.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.probes {
		if r.probes[i].name == name {
			r.probes[i].check = check
			return
		}
	}
	r.probes = append(r.probes, probe{name: name, check: check})
}

// CheckAll runs every probe concurrently, each under the registry timeout,
// and reports results in registration order.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	probes := append([]probe(nil), r.probes...)
	timeout := r.timeout
	r.mu.RUnlock()

	statuses := make([]Status, len(probes))
	var wg sync.WaitGroup
	for i, p := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			statuses[i] = run(ctx, p, timeout)
		}()
	}
	wg.Wait()

	healthy := true
	for _, s := range statuses {
		healthy = healthy && s.Healthy
	}
	return healthy, statuses
}

func run(ctx context.Context, p probe, timeout time.Duration) Status {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	errc := make(chan error, 1)
	go func() { errc <- p.check(ctx) }()

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		err = ctx.Err()
	}

	st := Status{Name: p.name, Healthy: err == nil, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		st.Detail = err.Error()
	}
	return st
}

// Database pings db.
func Database(db *sql.DB) Checker {
	return db.PingContext
}

// Loop reports whether a background loop such as the expiry timer is running.
func Loop(running func() bool) Checker {
	return func(context.Context) error {
		if !running() {
			return ErrNotRunning
		}
		return nil
	}
}
