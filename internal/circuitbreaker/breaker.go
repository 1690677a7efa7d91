// Package circuitbreaker stops sending tasks to a remote backend that keeps
// failing, and probes it again after a cool-down.
//
// A breaker is Closed while the failure rate over a sliding window stays
// below Config.ErrorPct. It then opens and rejects calls for OpenDuration,
// after which HalfOpenProbes calls are let through. If all probes succeed
// it closes again; any failed probe reopens it.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Do while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
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

// Config holds the circuit breaker configuration.
type Config struct {
	ErrorPct       float64       `json:"error_pct" yaml:"errorPct"`
	WindowDuration time.Duration `json:"window" yaml:"window"`
	OpenDuration   time.Duration `json:"open_duration" yaml:"openDuration"`
	HalfOpenProbes int           `json:"half_open_probes" yaml:"halfOpenProbes"`
	// MinRequests is the number of outcomes in the window before the error
	// rate is evaluated.
	MinRequests int `json:"min_requests" yaml:"minRequests"`
}

// Enabled reports whether cfg describes a usable breaker.
func (c Config) Enabled() bool {
	return c.ErrorPct > 0 && c.WindowDuration > 0 && c.OpenDuration > 0
}

// maxWindowEntries caps each window slice.
const maxWindowEntries = 10000

// Breaker guards one remote target.
type Breaker struct {
	mu        sync.Mutex
	cfg       Config
	now       func() time.Time
	state     State
	successes []time.Time
	failures  []time.Time
	openedAt  time.Time
	probes    int
	probesOK  int
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Allow reports whether a call may proceed. In half-open state each allowed
// call consumes one probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeHalfOpen()
	switch b.state {
	case StateOpen:
		return false
	case StateHalfOpen:
		if b.probes >= b.cfg.HalfOpenProbes {
			return false
		}
		b.probes++
	}
	return true
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		now := b.now()
		b.successes = append(b.successes, now)
		b.trim(now)
	case StateHalfOpen:
		b.probesOK++
		if b.probesOK >= b.cfg.HalfOpenProbes {
			b.state = StateClosed
			b.successes = b.successes[:0]
			b.failures = b.failures[:0]
		}
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case StateClosed:
		b.failures = append(b.failures, now)
		b.trim(now)
		if b.tripped() {
			b.open(now)
		}
	case StateHalfOpen:
		b.open(now)
	}
}

// Do runs fn if the breaker allows it and records the outcome. Errors for
// which countable returns false pass through without being recorded.
func (b *Breaker) Do(fn func() error, countable func(error) bool) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn()
	switch {
	case err == nil:
		b.RecordSuccess()
	case countable == nil || countable(err):
		b.RecordFailure()
	}
	return err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

func (b *Breaker) open(now time.Time) {
	b.state = StateOpen
	b.openedAt = now
}

func (b *Breaker) maybeHalfOpen() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.OpenDuration {
		b.state = StateHalfOpen
		b.probes = 0
		b.probesOK = 0
	}
}

func (b *Breaker) tripped() bool {
	total := len(b.successes) + len(b.failures)
	if total == 0 || total < b.cfg.MinRequests {
		return false
	}
	return float64(len(b.failures))/float64(total)*100 >= b.cfg.ErrorPct
}

func (b *Breaker) trim(now time.Time) {
	cutoff := now.Add(-b.cfg.WindowDuration)
	b.successes = trimBefore(b.successes, cutoff)
	b.failures = trimBefore(b.failures, cutoff)
	if n := len(b.successes); n > maxWindowEntries {
		b.successes = b.successes[n-maxWindowEntries:]
	}
	if n := len(b.failures); n > maxWindowEntries {
		b.failures = b.failures[n-maxWindowEntries:]
	}
}

func trimBefore(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	copy(times, times[i:])
	return times[:len(times)-i]
}

// Registry holds one breaker per target.
type Registry struct {
	cfg      Config
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry handing out breakers with cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for target, creating it on first use. It returns
// nil when the registry's config disables breaking.
func (r *Registry) Get(target string) *Breaker {
	if !r.cfg.Enabled() {
		return nil
	}
	r.mu.RLock()
	b, ok := r.breakers[target]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[target]; ok {
		return b
	}
	b = New(r.cfg)
	r.breakers[target] = b
	return b
}

// Snapshot returns the state of every breaker by target.
func (r *Registry) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.breakers))
	for id, b := range r.breakers {
		out[id] = b.State().String()
	}
	return out
}
