package txingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gabapcia/mempoolwatch/internal/endpointrank"
	"github.com/gabapcia/mempoolwatch/internal/pkg/logger"
)

// ErrServiceAlreadyStarted is returned if Start is called more than once.
var ErrServiceAlreadyStarted = errors.New("service already started")

// Default tuning values, overridable through options.
const (
	defaultReconnectBackoff    = 5 * time.Second
	defaultHealthCheckInterval = 30 * time.Second
	defaultSinkTimeout         = 3 * time.Second
	defaultProbeTimeout        = 5 * time.Second
)

// Service supervises one chain monitor per configured network and owns the
// aggregate lifecycle, including the shared queue producer and cache client.
type Service interface {
	// Start launches a monitor for every configured chain whose name is
	// supported. Unknown chain names are skipped with a warning. Returns
	// ErrServiceAlreadyStarted if called more than once.
	Start(ctx context.Context) error

	// Close stops every monitor, waits for them to fully terminate, and only
	// then flushes and closes the queue producer and the cache client, so no
	// message can be lost during drain. Safe to call even if the service was
	// never started.
	Close()
}

// closeFunc defines a cleanup routine to stop background goroutines and dependencies.
type closeFunc func()

// service is the internal implementation of the Service interface.
type service struct {
	mu        sync.Mutex // protects lifecycle state
	isStarted bool       // ensures Start is called only once
	closeFunc closeFunc  // cancels monitors and closes shared sinks

	chains map[string][]string // configured chain name -> endpoint URLs

	feed      PendingTransactionFeed
	publisher TransactionPublisher
	cache     TransactionCache
	prober    EndpointProber
	metrics   Metrics

	reconnectBackoff    time.Duration
	healthCheckInterval time.Duration
	sinkTimeout         time.Duration
	probeTimeout        time.Duration
	emaAlpha            float64
	viabilityFloor      float64
	stalenessWindow     time.Duration

	monitors map[string]*chainMonitor
}

// Compile-time check to ensure *service implements the Service interface.
var _ Service = new(service)

// Start builds and launches every chain monitor. It holds the service lock
// for the duration, so concurrent Start calls are serialized.
func (s *service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isStarted {
		return ErrServiceAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)

	monitors := make(map[string]*chainMonitor, len(s.chains))
	for name, endpoints := range s.chains {
		id, ok := ChainID(name)
		if !ok {
			logger.Warn(ctx, "skipping unknown chain", "chain", name)
			continue
		}

		if len(endpoints) == 0 {
			logger.Warn(ctx, "skipping chain with no endpoints", "chain", name)
			continue
		}

		monitor := s.newChainMonitor(Chain{Name: name, ID: id}, endpoints)
		monitor.Start(ctx)
		monitors[name] = monitor

		logger.Info(ctx, "chain monitor started",
			"chain", name,
			"chain.id", id,
			"endpoints", len(endpoints),
		)
	}

	s.monitors = monitors
	s.closeFunc = func() {
		cancel()
		for _, monitor := range monitors {
			monitor.Stop()
		}

		// Monitors are fully stopped here; draining the producer cannot race
		// with in-flight publishes.
		if err := s.publisher.Close(); err != nil {
			logger.Error(ctx, "closing queue producer", "error", err)
		}
		if err := s.cache.Close(); err != nil {
			logger.Error(ctx, "closing cache client", "error", err)
		}
	}
	s.isStarted = true
	return nil
}

// Close shuts down all monitors and shared sinks in order.
func (s *service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closeFunc != nil {
		s.closeFunc()
	}

	s.closeFunc = nil
	s.isStarted = false
}

// newChainMonitor assembles a monitor for one network, including its private
// health tracker seeded from the configured endpoints.
func (s *service) newChainMonitor(chain Chain, endpoints []string) *chainMonitor {
	tracker := endpointrank.New(endpoints,
		endpointrank.WithAlpha(s.emaAlpha),
		endpointrank.WithViabilityFloor(s.viabilityFloor),
		endpointrank.WithStalenessWindow(s.stalenessWindow),
	)

	return &chainMonitor{
		chain:               chain,
		health:              tracker,
		feed:                s.feed,
		publisher:           s.publisher,
		cache:               s.cache,
		prober:              s.prober,
		metrics:             s.metrics,
		reconnectBackoff:    s.reconnectBackoff,
		healthCheckInterval: s.healthCheckInterval,
		sinkTimeout:         s.sinkTimeout,
		probeTimeout:        s.probeTimeout,
	}
}

// Option customizes a service created by New.
type Option func(*service)

// WithMetrics injects the metrics sink. Default: NopMetrics.
func WithMetrics(m Metrics) Option {
	return func(s *service) {
		s.metrics = m
	}
}

// WithProber enables out-of-band recovery probing of endpoints that decayed
// below the viability floor. Default: disabled.
func WithProber(p EndpointProber) Option {
	return func(s *service) {
		s.prober = p
	}
}

// WithReconnectBackoff sets the pause between failed connect cycles.
// Default: 5s.
func WithReconnectBackoff(d time.Duration) Option {
	return func(s *service) {
		s.reconnectBackoff = d
	}
}

// WithHealthCheckInterval sets how often each monitor re-evaluates endpoint
// liveness. Default: 30s.
func WithHealthCheckInterval(d time.Duration) Option {
	return func(s *service) {
		s.healthCheckInterval = d
	}
}

// WithSinkTimeout bounds each queue publish and cache write. Default: 3s.
func WithSinkTimeout(d time.Duration) Option {
	return func(s *service) {
		s.sinkTimeout = d
	}
}

// WithProbeTimeout bounds each recovery probe request. Default: 5s.
func WithProbeTimeout(d time.Duration) Option {
	return func(s *service) {
		s.probeTimeout = d
	}
}

// WithEMAAlpha sets the health score smoothing factor. Default: 0.1.
func WithEMAAlpha(alpha float64) Option {
	return func(s *service) {
		s.emaAlpha = alpha
	}
}

// WithViabilityFloor sets the minimum score required for endpoint selection.
// Default: 0.5.
func WithViabilityFloor(floor float64) Option {
	return func(s *service) {
		s.viabilityFloor = floor
	}
}

// WithStalenessWindow sets how long an endpoint may stay silent before the
// health check penalizes it. Default: 2m.
func WithStalenessWindow(d time.Duration) Option {
	return func(s *service) {
		s.stalenessWindow = d
	}
}

// New creates the ingestion service. chains maps configured network names to
// their endpoint URL lists; feed, publisher, and cache are the shared
// collaborators every monitor uses.
func New(chains map[string][]string, feed PendingTransactionFeed, publisher TransactionPublisher, cache TransactionCache, opts ...Option) *service {
	s := &service{
		chains:    chains,
		feed:      feed,
		publisher: publisher,
		cache:     cache,
		metrics:   NopMetrics{},

		reconnectBackoff:    defaultReconnectBackoff,
		healthCheckInterval: defaultHealthCheckInterval,
		sinkTimeout:         defaultSinkTimeout,
		probeTimeout:        defaultProbeTimeout,
		emaAlpha:            0.1,
		viabilityFloor:      0.5,
		stalenessWindow:     2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}
