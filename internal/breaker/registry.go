// Package breaker tracks the health of named external dependencies and fails
// fast while one of them is unhealthy.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrCircuitOpen       = errors.New("circuit open")
	ErrNotRegistered     = errors.New("circuit not registered")
	ErrAlreadyRegistered = errors.New("circuit already registered with different options")
)

// State is the breaker state of a single circuit.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Options controls the thresholds of one circuit. Zero values take defaults.
type Options struct {
	FailureThreshold int           `mapstructure:"failure_threshold" json:"failureThreshold"`
	SuccessThreshold int           `mapstructure:"success_threshold" json:"successThreshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout" json:"openTimeout"`
	// MonitoringWindow, when set, restarts the consecutive failure count if the
	// previous failure is older than the window.
	MonitoringWindow time.Duration `mapstructure:"monitoring_window" json:"monitoringWindow"`
}

const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 2
	DefaultOpenTimeout      = 60 * time.Second
)

func (o Options) withDefaults() Options {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = DefaultFailureThreshold
	}
	if o.SuccessThreshold <= 0 {
		o.SuccessThreshold = DefaultSuccessThreshold
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = DefaultOpenTimeout
	}
	if o.MonitoringWindow < 0 {
		o.MonitoringWindow = 0
	}
	return o
}

// Snapshot is a point-in-time copy of a circuit entry.
type Snapshot struct {
	Name                 string     `json:"name"`
	State                State      `json:"state"`
	Options              Options    `json:"options"`
	ConsecutiveFailures  int        `json:"consecutiveFailures"`
	ConsecutiveSuccesses int        `json:"consecutiveSuccesses"`
	TotalFailures        int64      `json:"totalFailures"`
	TotalSuccesses       int64      `json:"totalSuccesses"`
	LastFailureAt        *time.Time `json:"lastFailureAt,omitempty"`
	LastSuccessAt        *time.Time `json:"lastSuccessAt,omitempty"`
	StateChangedAt       time.Time  `json:"stateChangedAt"`
}

// entry is guarded by its own mutex so unrelated circuits never contend.
type entry struct {
	mu   sync.Mutex
	name string
	opts Options

	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	totalFailures        int64
	totalSuccesses       int64
	lastFailureAt        time.Time
	lastSuccessAt        time.Time
	stateChangedAt       time.Time

	// generation changes on every transition; outcomes of calls admitted
	// under an older generation are dropped.
	generation uint64
	// trials counts HALF_OPEN calls in flight, capped at SuccessThreshold.
	trials int
}

// StateHook observes every state transition. It is called with the entry lock
// held, so it must not call back into the registry.
type StateHook func(name string, from, to State)

// Registry owns every circuit of the process.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
	log     *zap.Logger
	hooks   []StateHook
}

type RegistryOption func(*Registry)

func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func WithLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

func WithStateHook(h StateHook) RegistryOption {
	return func(r *Registry) { r.hooks = append(r.hooks, h) }
}

func New(opts ...RegistryOption) *Registry {
	r := &Registry{entries: map[string]*entry{}, now: time.Now, log: zap.NewNop()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register creates a CLOSED circuit. Registering the same name again with the
// same options is a no-op; different options require Unregister first.
func (r *Registry) Register(name string, opts Options) error {
	opts = opts.withDefaults()
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		if e.opts == opts {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	r.entries[name] = &entry{name: name, opts: opts, state: StateClosed, stateChangedAt: r.now()}
	r.log.Debug("circuit registered", zap.String("circuit", name),
		zap.Int("failure_threshold", opts.FailureThreshold),
		zap.Int("success_threshold", opts.SuccessThreshold),
		zap.Duration("open_timeout", opts.OpenTimeout))
	return nil
}

func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.entries, name)
	r.mu.Unlock()
}

func (r *Registry) get(name string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	return e, nil
}

// Execute runs fn through the named circuit. While the circuit is OPEN fn is
// not invoked; while HALF_OPEN at most SuccessThreshold trial calls run at once
// and the rest are rejected with ErrCircuitOpen. An outcome is only recorded if
// the circuit has not changed state since the call was admitted. When fallback
// is non-nil it replaces the error result: it gets ErrCircuitOpen or fn's error
// as cause.
func (r *Registry) Execute(ctx context.Context, name string, fn func(context.Context) error, fallback func(context.Context, error) error) error {
	e, err := r.get(name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	state := r.effectiveState(e)
	admitted := state != StateOpen
	if state == StateHalfOpen {
		if e.trials >= e.opts.SuccessThreshold {
			admitted = false
		} else {
			e.trials++
		}
	}
	gen := e.generation
	e.mu.Unlock()

	if !admitted {
		cause := fmt.Errorf("%w: %s", ErrCircuitOpen, name)
		if fallback != nil {
			return fallback(ctx, cause)
		}
		return cause
	}

	callErr := fn(ctx)

	e.mu.Lock()
	if gen == e.generation {
		if state == StateHalfOpen {
			e.trials--
		}
		if callErr != nil {
			r.recordFailure(e)
		} else {
			r.recordSuccess(e)
		}
	}
	e.mu.Unlock()

	if callErr != nil && fallback != nil {
		return fallback(ctx, callErr)
	}
	return callErr
}

// Do is Execute for calls that produce a value.
func Do[T any](ctx context.Context, r *Registry, name string, fn func(context.Context) (T, error), fallback func(context.Context, error) (T, error)) (T, error) {
	var out T
	var fb func(context.Context, error) error
	if fallback != nil {
		fb = func(ctx context.Context, cause error) error {
			v, err := fallback(ctx, cause)
			out = v
			return err
		}
	}
	err := r.Execute(ctx, name, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			out = v
		}
		return err
	}, fb)
	return out, err
}

// State returns the effective state, moving OPEN to HALF_OPEN once the open
// timeout has elapsed.
func (r *Registry) State(name string) (State, error) {
	e, err := r.get(name)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return r.effectiveState(e), nil
}

// Reset is the operator action forcing a circuit back to CLOSED.
func (r *Registry) Reset(name string) error {
	e, err := r.get(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutiveFailures = 0
	e.consecutiveSuccesses = 0
	e.totalFailures = 0
	e.totalSuccesses = 0
	r.transition(e, StateClosed)
	r.log.Info("circuit reset", zap.String("circuit", name))
	return nil
}

func (r *Registry) Snapshot(name string) (Snapshot, error) {
	e, err := r.get(name)
	if err != nil {
		return Snapshot{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	r.effectiveState(e)
	return e.snapshot(), nil
}

// Snapshots returns every circuit sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	list := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		list = append(list, e)
	}
	r.mu.RUnlock()
	out := make([]Snapshot, 0, len(list))
	for _, e := range list {
		e.mu.Lock()
		r.effectiveState(e)
		out = append(out, e.snapshot())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// effectiveState must be called with e.mu held.
func (r *Registry) effectiveState(e *entry) State {
	if e.state == StateOpen && r.now().Sub(e.stateChangedAt) >= e.opts.OpenTimeout {
		e.consecutiveSuccesses = 0
		r.transition(e, StateHalfOpen)
	}
	return e.state
}

func (r *Registry) recordSuccess(e *entry) {
	now := r.now()
	e.consecutiveSuccesses++
	e.consecutiveFailures = 0
	e.totalSuccesses++
	e.lastSuccessAt = now
	if e.state == StateHalfOpen && e.consecutiveSuccesses >= e.opts.SuccessThreshold {
		e.consecutiveSuccesses = 0
		e.consecutiveFailures = 0
		e.totalFailures = 0
		e.totalSuccesses = 0
		r.transition(e, StateClosed)
	}
}

func (r *Registry) recordFailure(e *entry) {
	now := r.now()
	if w := e.opts.MonitoringWindow; w > 0 && !e.lastFailureAt.IsZero() && now.Sub(e.lastFailureAt) > w {
		e.consecutiveFailures = 0
	}
	e.consecutiveFailures++
	e.consecutiveSuccesses = 0
	e.totalFailures++
	e.lastFailureAt = now
	switch e.state {
	case StateHalfOpen:
		r.transition(e, StateOpen)
	case StateClosed:
		if e.consecutiveFailures >= e.opts.FailureThreshold {
			r.transition(e, StateOpen)
		}
	}
}

func (r *Registry) transition(e *entry, to State) {
	from := e.state
	e.stateChangedAt = r.now()
	e.generation++
	e.trials = 0
	if from == to {
		return
	}
	e.state = to
	r.log.Info("circuit state changed", zap.String("circuit", e.name),
		zap.String("from", string(from)), zap.String("to", string(to)),
		zap.Int("consecutive_failures", e.consecutiveFailures))
	for _, h := range r.hooks {
		h(e.name, from, to)
	}
}

func (e *entry) snapshot() Snapshot {
	s := Snapshot{
		Name:                 e.name,
		State:                e.state,
		Options:              e.opts,
		ConsecutiveFailures:  e.consecutiveFailures,
		ConsecutiveSuccesses: e.consecutiveSuccesses,
		TotalFailures:        e.totalFailures,
		TotalSuccesses:       e.totalSuccesses,
		StateChangedAt:       e.stateChangedAt,
	}
	if !e.lastFailureAt.IsZero() {
		t := e.lastFailureAt
		s.LastFailureAt = &t
	}
	if !e.lastSuccessAt.IsZero() {
		t := e.lastSuccessAt
		s.LastSuccessAt = &t
	}
	return s
}
