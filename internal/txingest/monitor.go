package txingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gabapcia/mempoolwatch/internal/endpointrank"
	"github.com/gabapcia/mempoolwatch/internal/pkg/logger"
	"github.com/gabapcia/mempoolwatch/internal/pkg/x/chflow"
)

// chainMonitor owns the full ingestion lifecycle of a single network: it
// selects the best-scored endpoint, keeps at most one streaming connection
// alive, normalizes and publishes every inbound record, and runs the
// periodic health check that decays silent endpoints.
//
// Connection and stream errors are always recoverable: the monitor scores
// the endpoint, backs off, and reconnects. Only cancellation stops it.
type chainMonitor struct {
	chain  Chain
	health *endpointrank.Tracker

	feed      PendingTransactionFeed
	publisher TransactionPublisher
	cache     TransactionCache
	prober    EndpointProber // optional; nil disables recovery probing
	metrics   Metrics

	reconnectBackoff    time.Duration
	healthCheckInterval time.Duration
	sinkTimeout         time.Duration
	probeTimeout        time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Start launches the read loop and the health-check loop. It returns
// immediately; all failures from this point on are reported through logs and
// metrics, never as errors.
func (m *chainMonitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.runReadLoop(ctx)
	}()
	go func() {
		defer m.wg.Done()
		m.runHealthLoop(ctx)
	}()
}

// Stop cancels both loops, which closes any active connection, and waits for
// them to exit. Callers must call Stop at most once per monitor.
func (m *chainMonitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// runReadLoop drives the connect/subscribe/read cycle until ctx is canceled.
func (m *chainMonitor) runReadLoop(ctx context.Context) {
	for ctx.Err() == nil {
		endpoint, err := m.health.Best()
		if err != nil {
			logger.Warn(ctx, "no healthy endpoint available",
				"chain", m.chain.Name,
			)
			m.backoff(ctx)
			continue
		}

		m.connectAndListen(ctx, endpoint)
	}
}

// connectAndListen opens a subscription against endpoint and consumes it
// until the stream fails or ctx is canceled. Scoring happens here: connect
// failures observe 0.0, stream failures 0.5, and every processed record
// marks the endpoint healthy.
func (m *chainMonitor) connectAndListen(ctx context.Context, endpoint string) {
	start := time.Now()
	events, err := m.feed.Subscribe(ctx, endpoint)
	m.metrics.ConnectionLatency(m.chain.Name, endpoint, time.Since(start).Seconds())

	if err != nil {
		m.health.Observe(endpoint, endpointrank.ObservedConnectFailure)
		logger.Warn(ctx, "subscription failed",
			"chain", m.chain.Name,
			"endpoint", endpoint,
			"error", err,
		)
		m.backoff(ctx)
		return
	}

	logger.Info(ctx, "subscribed to pending transaction feed",
		"chain", m.chain.Name,
		"endpoint", endpoint,
	)

	for {
		event, ok := chflow.Receive(ctx, events)
		if !ok {
			if ctx.Err() != nil {
				return
			}

			// Stream ended without a terminal error event.
			m.health.Observe(endpoint, endpointrank.ObservedStreamFailure)
			logger.Warn(ctx, "feed stream closed",
				"chain", m.chain.Name,
				"endpoint", endpoint,
			)
			m.backoff(ctx)
			return
		}

		if event.Err != nil {
			if errors.Is(event.Err, ErrMalformedMessage) {
				logger.Warn(ctx, "skipping malformed feed message",
					"chain", m.chain.Name,
					"endpoint", endpoint,
					"error", event.Err,
				)
				continue
			}

			m.health.Observe(endpoint, endpointrank.ObservedStreamFailure)
			logger.Warn(ctx, "feed stream failed",
				"chain", m.chain.Name,
				"endpoint", endpoint,
				"error", event.Err,
			)
			m.backoff(ctx)
			return
		}

		m.ingest(ctx, endpoint, event.Payload)
	}
}

// ingest normalizes one feed record and forwards it to both sinks. Sink
// failures are logged and counted but never interrupt the read loop, and each
// sink call runs under its own bounded timeout so a slow sink cannot stall
// ingestion indefinitely.
func (m *chainMonitor) ingest(ctx context.Context, endpoint string, payload []byte) {
	tx, err := Normalize(m.chain, payload)
	if err != nil {
		logger.Warn(ctx, "dropping unusable transaction record",
			"chain", m.chain.Name,
			"endpoint", endpoint,
			"error", err,
		)
		m.metrics.TransactionIngested(m.chain.Name, OutcomeFailed)
		return
	}

	outcome := OutcomeSuccess
	if err := m.withSinkTimeout(ctx, func(ctx context.Context) error {
		return m.publisher.Publish(ctx, m.chain, tx)
	}); err != nil {
		outcome = OutcomeFailed
		logger.Error(ctx, "queue publish failed",
			"chain", m.chain.Name,
			"tx.hash", tx.Hash,
			"error", err,
		)
	}

	if err := m.withSinkTimeout(ctx, func(ctx context.Context) error {
		return m.cache.Save(ctx, m.chain, tx)
	}); err != nil {
		logger.Warn(ctx, "cache write failed",
			"chain", m.chain.Name,
			"tx.hash", tx.Hash,
			"error", err,
		)
	}

	m.health.MarkHealthy(endpoint)
	m.metrics.TransactionIngested(m.chain.Name, outcome)
}

// withSinkTimeout runs a sink operation under the configured bound.
func (m *chainMonitor) withSinkTimeout(ctx context.Context, op func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, m.sinkTimeout)
	defer cancel()

	return op(ctx)
}

// runHealthLoop periodically decays endpoints that have gone silent, exports
// health gauges, and, when every endpoint has fallen below the viability
// floor, probes them out of band so a recovered node can become selectable
// again.
func (m *chainMonitor) runHealthLoop(ctx context.Context) {
	ticker := time.NewTicker(m.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if stale := m.health.DecayStale(time.Now()); len(stale) > 0 {
			logger.Debug(ctx, "decayed stale endpoints",
				"chain", m.chain.Name,
				"endpoints", stale,
			)
		}

		for endpoint, score := range m.health.Snapshot() {
			m.metrics.EndpointHealth(m.chain.Name, endpoint, score)
		}

		m.probeForRecovery(ctx)
	}
}

// probeForRecovery runs only when selection is starved: if no endpoint is
// above the viability floor and a prober is configured, every endpoint gets a
// liveness probe whose outcome feeds the moving average. Responsive nodes
// climb back above the floor after a few cycles instead of staying
// unselectable forever.
func (m *chainMonitor) probeForRecovery(ctx context.Context) {
	if m.prober == nil {
		return
	}

	if _, err := m.health.Best(); !errors.Is(err, endpointrank.ErrNoViableEndpoint) {
		return
	}

	for _, endpoint := range m.health.Endpoints() {
		probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
		err := m.prober.Probe(probeCtx, endpoint)
		cancel()

		if err != nil {
			m.health.Observe(endpoint, endpointrank.ObservedConnectFailure)
			continue
		}

		m.health.Observe(endpoint, endpointrank.ObservedHealthy)
		logger.Info(ctx, "endpoint responded to recovery probe",
			"chain", m.chain.Name,
			"endpoint", endpoint,
		)
	}
}

// backoff sleeps for the reconnect backoff or until ctx is canceled.
func (m *chainMonitor) backoff(ctx context.Context) {
	timer := time.NewTimer(m.reconnectBackoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
