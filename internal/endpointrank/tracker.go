// Package endpointrank maintains a recency-weighted reputation score for each
// upstream endpoint of a blockchain network and selects the endpoint that
// should receive the next connection attempt.
//
// Scores live in [0, 1] and are updated exclusively through an exponential
// moving average, so no observation history has to be stored. Endpoints that
// stop producing messages decay toward zero and are never selected while
// below the viability floor.
package endpointrank

import (
	"errors"
	"sync"
	"time"

	"github.com/gabapcia/mempoolwatch/internal/pkg/types"
)

// ErrNoViableEndpoint is returned by Best when every registered endpoint
// scores below the viability floor.
var ErrNoViableEndpoint = errors.New("no endpoint above the viability floor")

// Observation values fed into the moving average. They encode how much trust
// an event should restore or remove from an endpoint.
const (
	// ObservedHealthy is recorded when an endpoint delivered a message that
	// was processed successfully.
	ObservedHealthy = 1.0

	// ObservedStreamFailure is recorded when an established stream broke
	// mid-session. The endpoint worked before, so it keeps partial trust.
	ObservedStreamFailure = 0.5

	// ObservedConnectFailure is recorded when dialing or subscribing failed.
	ObservedConnectFailure = 0.0

	// ObservedStale is recorded by the periodic check for endpoints that have
	// not produced a message within the staleness window.
	ObservedStale = 0.1
)

// Default tuning values. All of them are overridable through options so
// deployments can adjust behavior without rebuilding.
const (
	defaultAlpha           = 0.1
	defaultViabilityFloor  = 0.5
	defaultStalenessWindow = 2 * time.Minute

	initialScore = 1.0
)

// endpointState holds the mutable health data for a single endpoint.
type endpointState struct {
	score    float64   // current EMA score in [0, 1]
	lastSeen time.Time // time of the last successfully processed message
}

// Tracker scores the endpoints of a single network. It is safe for concurrent
// use: the read loop and the health-check loop both update it, and every
// read-modify-write of a score happens under the tracker's mutex.
type Tracker struct {
	mu sync.Mutex

	alpha           float64
	viabilityFloor  float64
	stalenessWindow time.Duration

	order  []string // endpoints in configuration order, used to break ties
	states types.DefaultMap[string, *endpointState]
}

// Option customizes a Tracker created by New.
type Option func(*Tracker)

// WithAlpha sets the EMA smoothing factor. Values closer to 1 make the score
// react faster to recent observations. Default: 0.1.
func WithAlpha(alpha float64) Option {
	return func(t *Tracker) {
		t.alpha = alpha
	}
}

// WithViabilityFloor sets the minimum score an endpoint needs to be eligible
// for selection. Default: 0.5.
func WithViabilityFloor(floor float64) Option {
	return func(t *Tracker) {
		t.viabilityFloor = floor
	}
}

// WithStalenessWindow sets how long an endpoint may stay silent before the
// periodic check applies the staleness penalty. Default: 2 minutes.
func WithStalenessWindow(window time.Duration) Option {
	return func(t *Tracker) {
		t.stalenessWindow = window
	}
}

// New creates a Tracker for the given endpoints. Every endpoint starts with a
// score of 1.0 and a lastSeen of the registration time, so freshly configured
// endpoints get a full staleness window before they can be penalized.
//
// The order of the endpoints slice is preserved and used to break score ties
// deterministically.
func New(endpoints []string, opts ...Option) *Tracker {
	now := time.Now()

	t := &Tracker{
		alpha:           defaultAlpha,
		viabilityFloor:  defaultViabilityFloor,
		stalenessWindow: defaultStalenessWindow,
		order:           append([]string(nil), endpoints...),
		states: types.NewDefaultMap[string, *endpointState](func() *endpointState {
			return &endpointState{score: initialScore, lastSeen: now}
		}),
	}
	for _, opt := range opts {
		opt(t)
	}

	for _, endpoint := range t.order {
		t.states.Get(endpoint)
	}

	return t
}

// Observe folds a new observation into the endpoint's score using the EMA
// recurrence score' = alpha*observed + (1-alpha)*score. Observed values are
// clamped to [0, 1], which keeps the score within [0, 1] by construction.
func (t *Tracker) Observe(endpoint string, observed float64) {
	observed = min(max(observed, 0), 1)

	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.states.Get(endpoint)
	state.score = t.alpha*observed + (1-t.alpha)*state.score
}

// MarkHealthy records a successfully processed message: it folds a full-trust
// observation into the score and refreshes the endpoint's lastSeen time.
func (t *Tracker) MarkHealthy(endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.states.Get(endpoint)
	state.score = t.alpha*ObservedHealthy + (1-t.alpha)*state.score
	state.lastSeen = time.Now()
}

// Best returns the endpoint with the strictly highest score. Ties are broken
// by configuration order, so results are deterministic. It returns
// ErrNoViableEndpoint when the best score is below the viability floor,
// signaling that a backoff is preferable to a connection attempt that is
// known to be futile.
func (t *Tracker) Best() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var (
		best      string
		bestScore = -1.0
	)
	for _, endpoint := range t.order {
		if state := t.states.Get(endpoint); state.score > bestScore {
			best, bestScore = endpoint, state.score
		}
	}

	if bestScore < t.viabilityFloor {
		return "", ErrNoViableEndpoint
	}

	return best, nil
}

// DecayStale applies the staleness penalty to every endpoint that has not
// produced a message within the staleness window, measured against now. It
// returns the endpoints that were penalized, mainly for logging.
func (t *Tracker) DecayStale(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var stale []string
	for _, endpoint := range t.order {
		state := t.states.Get(endpoint)
		if now.Sub(state.lastSeen) <= t.stalenessWindow {
			continue
		}

		state.score = t.alpha*ObservedStale + (1-t.alpha)*state.score
		stale = append(stale, endpoint)
	}

	return stale
}

// Score returns the current score for the endpoint and whether the endpoint
// is registered.
func (t *Tracker) Score(endpoint string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states.ToMap()[endpoint]
	if !ok {
		return 0, false
	}
	return state.score, true
}

// Snapshot returns a copy of every endpoint's current score, keyed by
// endpoint, in no particular order. It is used to export health gauges.
func (t *Tracker) Snapshot() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := make(map[string]float64, len(t.order))
	for _, endpoint := range t.order {
		snapshot[endpoint] = t.states.Get(endpoint).score
	}
	return snapshot
}

// Endpoints returns the registered endpoints in configuration order.
func (t *Tracker) Endpoints() []string {
	return append([]string(nil), t.order...)
}
