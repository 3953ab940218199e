package txingest

import (
	"context"
	"sync"

	"github.com/gabapcia/mempoolwatch/internal/pkg/logger"
)

func init() {
	_ = logger.Init(logger.WithLevel("error"))
}

// fakeFeed hands out caller-provided event channels and records which
// endpoints were subscribed, in order.
type fakeFeed struct {
	mu        sync.Mutex
	endpoints []string
	subscribe func(ctx context.Context, endpoint string) (<-chan FeedEvent, error)
}

func (f *fakeFeed) Subscribe(ctx context.Context, endpoint string) (<-chan FeedEvent, error) {
	f.mu.Lock()
	f.endpoints = append(f.endpoints, endpoint)
	f.mu.Unlock()

	return f.subscribe(ctx, endpoint)
}

func (f *fakeFeed) subscribeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.endpoints...)
}

// staticFeed returns a fakeFeed that always hands out the same channel.
func staticFeed(events <-chan FeedEvent) *fakeFeed {
	return &fakeFeed{
		subscribe: func(ctx context.Context, endpoint string) (<-chan FeedEvent, error) {
			return events, nil
		},
	}
}

// fakePublisher records every published transaction in call order.
type fakePublisher struct {
	mu        sync.Mutex
	published []Transaction
	err       error
	closed    bool
}

func (p *fakePublisher) Publish(ctx context.Context, chain Chain, tx Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, tx)
	return nil
}

func (p *fakePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePublisher) transactions() []Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Transaction(nil), p.published...)
}

func (p *fakePublisher) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// fakeCache records every cached transaction in call order.
type fakeCache struct {
	mu     sync.Mutex
	saved  []Transaction
	err    error
	closed bool
}

func (c *fakeCache) Save(ctx context.Context, chain Chain, tx Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return c.err
	}
	c.saved = append(c.saved, tx)
	return nil
}

func (c *fakeCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeCache) transactions() []Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Transaction(nil), c.saved...)
}

func (c *fakeCache) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeProber answers probes with the configured error and counts calls per
// endpoint.
type fakeProber struct {
	mu    sync.Mutex
	err   error
	calls map[string]int
}

func (p *fakeProber) Probe(ctx context.Context, endpoint string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.calls == nil {
		p.calls = make(map[string]int)
	}
	p.calls[endpoint]++
	return p.err
}

func (p *fakeProber) probeCount(endpoint string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[endpoint]
}

// recordingMetrics counts ingestion outcomes and remembers the last health
// score per endpoint.
type recordingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
	health   map[string]float64
	latency  int
}

func (m *recordingMetrics) TransactionIngested(chain, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.outcomes == nil {
		m.outcomes = make(map[string]int)
	}
	m.outcomes[outcome]++
}

func (m *recordingMetrics) EndpointHealth(chain, endpoint string, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.health == nil {
		m.health = make(map[string]float64)
	}
	m.health[endpoint] = score
}

func (m *recordingMetrics) ConnectionLatency(chain, endpoint string, seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency++
}

func (m *recordingMetrics) outcomeCount(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcomes[outcome]
}

func (m *recordingMetrics) healthScore(endpoint string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	score, ok := m.health[endpoint]
	return score, ok
}
