package txingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gabapcia/mempoolwatch/internal/endpointrank"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestMonitor builds a monitor with test-friendly intervals against the
// given collaborators.
func newTestMonitor(feed PendingTransactionFeed, publisher TransactionPublisher, cache TransactionCache, endpoints []string) *chainMonitor {
	return &chainMonitor{
		chain:               Chain{Name: "ethereum", ID: 1},
		health:              endpointrank.New(endpoints),
		feed:                feed,
		publisher:           publisher,
		cache:               cache,
		metrics:             NopMetrics{},
		reconnectBackoff:    5 * time.Millisecond,
		healthCheckInterval: time.Hour, // keep the health loop quiet unless a test wants it
		sinkTimeout:         time.Second,
		probeTimeout:        time.Second,
	}
}

func pendingTxPayload(hash string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"hash":%q,"from":"0xaaa","to":"0xbbb","value":"0xde0b6b3a7640000","gas":"0x5208","gasPrice":"0x3b9aca00","nonce":"0x1","input":"0x"}`,
		hash,
	))
}

func TestChainMonitor_ReadLoop(t *testing.T) {
	t.Run("publishes every valid message to both sinks in feed order", func(t *testing.T) {
		events := make(chan FeedEvent, 16)
		feed := staticFeed(events)
		publisher := &fakePublisher{}
		cache := &fakeCache{}

		monitor := newTestMonitor(feed, publisher, cache, []string{"ws://a"})
		monitor.Start(t.Context())
		defer monitor.Stop()

		const n = 10
		for i := range n {
			events <- FeedEvent{Payload: pendingTxPayload(fmt.Sprintf("0x%02x", i))}
		}

		require.Eventually(t, func() bool {
			return len(publisher.transactions()) == n && len(cache.transactions()) == n
		}, time.Second, time.Millisecond)

		for i, tx := range publisher.transactions() {
			assert.Equal(t, fmt.Sprintf("0x%02x", i), tx.Hash)
			assert.Equal(t, int64(1), tx.ChainID)
			assert.Equal(t, StatusPending, tx.Status)
		}
		for i, tx := range cache.transactions() {
			assert.Equal(t, fmt.Sprintf("0x%02x", i), tx.Hash)
		}
	})

	t.Run("marks the endpoint healthy after processing a message", func(t *testing.T) {
		events := make(chan FeedEvent, 1)
		feed := staticFeed(events)
		publisher := &fakePublisher{}
		cache := &fakeCache{}

		monitor := newTestMonitor(feed, publisher, cache, []string{"ws://a"})

		// Lower the score first so the healthy observation is measurable.
		monitor.health.Observe("ws://a", endpointrank.ObservedConnectFailure)
		before, _ := monitor.health.Score("ws://a")

		monitor.Start(t.Context())
		defer monitor.Stop()

		events <- FeedEvent{Payload: pendingTxPayload("0x01")}

		require.Eventually(t, func() bool {
			score, _ := monitor.health.Score("ws://a")
			return score > before
		}, time.Second, time.Millisecond)
	})

	t.Run("skips malformed messages without dropping the stream", func(t *testing.T) {
		events := make(chan FeedEvent, 4)
		feed := staticFeed(events)
		publisher := &fakePublisher{}
		cache := &fakeCache{}

		monitor := newTestMonitor(feed, publisher, cache, []string{"ws://a"})
		monitor.Start(t.Context())
		defer monitor.Stop()

		events <- FeedEvent{Err: ErrMalformedMessage}
		events <- FeedEvent{Payload: pendingTxPayload("0x01")}

		require.Eventually(t, func() bool {
			return len(publisher.transactions()) == 1
		}, time.Second, time.Millisecond)

		// A malformed frame must not force a reconnect.
		assert.Equal(t, []string{"ws://a"}, feed.subscribeCalls())
	})

	t.Run("drops records without a hash and keeps reading", func(t *testing.T) {
		events := make(chan FeedEvent, 4)
		feed := staticFeed(events)
		publisher := &fakePublisher{}
		cache := &fakeCache{}
		metrics := &recordingMetrics{}

		monitor := newTestMonitor(feed, publisher, cache, []string{"ws://a"})
		monitor.metrics = metrics
		monitor.Start(t.Context())
		defer monitor.Stop()

		events <- FeedEvent{Payload: json.RawMessage(`{"from":"0xaaa"}`)}
		events <- FeedEvent{Payload: pendingTxPayload("0x01")}

		require.Eventually(t, func() bool {
			return len(publisher.transactions()) == 1
		}, time.Second, time.Millisecond)

		assert.Equal(t, "0x01", publisher.transactions()[0].Hash)
		assert.Equal(t, 1, metrics.outcomeCount(OutcomeFailed))
		assert.Equal(t, 1, metrics.outcomeCount(OutcomeSuccess))
	})

	t.Run("normalizes contract creations with no recipient", func(t *testing.T) {
		events := make(chan FeedEvent, 1)
		feed := staticFeed(events)
		publisher := &fakePublisher{}
		cache := &fakeCache{}

		monitor := newTestMonitor(feed, publisher, cache, []string{"ws://a"})
		monitor.Start(t.Context())
		defer monitor.Stop()

		events <- FeedEvent{Payload: json.RawMessage(`{"hash":"0x01","from":"0xaaa","to":null,"value":"0x1"}`)}

		require.Eventually(t, func() bool {
			return len(publisher.transactions()) == 1
		}, time.Second, time.Millisecond)

		assert.Empty(t, publisher.transactions()[0].To)
	})

	t.Run("reconnects after a stream failure and penalizes the endpoint", func(t *testing.T) {
		feed := &fakeFeed{}
		feed.subscribe = func(ctx context.Context, endpoint string) (<-chan FeedEvent, error) {
			events := make(chan FeedEvent, 1)
			events <- FeedEvent{Err: errors.New("connection reset")}
			return events, nil
		}
		publisher := &fakePublisher{}
		cache := &fakeCache{}

		monitor := newTestMonitor(feed, publisher, cache, []string{"ws://a"})
		monitor.Start(t.Context())
		defer monitor.Stop()

		require.Eventually(t, func() bool {
			return len(feed.subscribeCalls()) >= 2
		}, time.Second, time.Millisecond)

		score, ok := monitor.health.Score("ws://a")
		require.True(t, ok)
		assert.Less(t, score, 1.0)
	})

	t.Run("penalizes connection failures harder than stream failures", func(t *testing.T) {
		feed := &fakeFeed{}
		feed.subscribe = func(ctx context.Context, endpoint string) (<-chan FeedEvent, error) {
			return nil, errors.New("dial tcp: connection refused")
		}
		publisher := &fakePublisher{}
		cache := &fakeCache{}

		monitor := newTestMonitor(feed, publisher, cache, []string{"ws://a"})
		monitor.Start(t.Context())
		defer monitor.Stop()

		require.Eventually(t, func() bool {
			score, _ := monitor.health.Score("ws://a")
			return score < 1.0
		}, time.Second, time.Millisecond)
	})

	t.Run("publish failure does not stop ingestion", func(t *testing.T) {
		events := make(chan FeedEvent, 4)
		feed := staticFeed(events)
		publisher := &fakePublisher{err: errors.New("broker unavailable")}
		cache := &fakeCache{}
		metrics := &recordingMetrics{}

		monitor := newTestMonitor(feed, publisher, cache, []string{"ws://a"})
		monitor.metrics = metrics
		monitor.Start(t.Context())
		defer monitor.Stop()

		events <- FeedEvent{Payload: pendingTxPayload("0x01")}
		events <- FeedEvent{Payload: pendingTxPayload("0x02")}

		// The cache still receives both; the queue failures are only counted.
		require.Eventually(t, func() bool {
			return len(cache.transactions()) == 2
		}, time.Second, time.Millisecond)

		assert.Equal(t, 2, metrics.outcomeCount(OutcomeFailed))
		assert.Equal(t, []string{"ws://a"}, feed.subscribeCalls())
	})

	t.Run("cache failure is non-fatal and does not flip the outcome", func(t *testing.T) {
		events := make(chan FeedEvent, 1)
		feed := staticFeed(events)
		publisher := &fakePublisher{}
		cache := &fakeCache{err: errors.New("cache down")}
		metrics := &recordingMetrics{}

		monitor := newTestMonitor(feed, publisher, cache, []string{"ws://a"})
		monitor.metrics = metrics
		monitor.Start(t.Context())
		defer monitor.Stop()

		events <- FeedEvent{Payload: pendingTxPayload("0x01")}

		require.Eventually(t, func() bool {
			return metrics.outcomeCount(OutcomeSuccess) == 1
		}, time.Second, time.Millisecond)
	})

	t.Run("backs off when no endpoint is viable", func(t *testing.T) {
		feed := &fakeFeed{
			subscribe: func(ctx context.Context, endpoint string) (<-chan FeedEvent, error) {
				return make(chan FeedEvent), nil
			},
		}
		publisher := &fakePublisher{}
		cache := &fakeCache{}

		monitor := newTestMonitor(feed, publisher, cache, []string{"ws://a"})
		for range 100 {
			monitor.health.Observe("ws://a", endpointrank.ObservedConnectFailure)
		}

		monitor.Start(t.Context())
		defer monitor.Stop()

		time.Sleep(50 * time.Millisecond)
		assert.Empty(t, feed.subscribeCalls())
	})

	t.Run("stop ends the read loop with no further sink calls", func(t *testing.T) {
		events := make(chan FeedEvent, 16)
		feed := staticFeed(events)
		publisher := &fakePublisher{}
		cache := &fakeCache{}

		monitor := newTestMonitor(feed, publisher, cache, []string{"ws://a"})
		monitor.Start(t.Context())

		events <- FeedEvent{Payload: pendingTxPayload("0x01")}
		require.Eventually(t, func() bool {
			return len(publisher.transactions()) == 1
		}, time.Second, time.Millisecond)

		monitor.Stop()

		events <- FeedEvent{Payload: pendingTxPayload("0x02")}
		time.Sleep(20 * time.Millisecond)

		assert.Len(t, publisher.transactions(), 1)
		assert.Len(t, cache.transactions(), 1)
	})
}

func TestChainMonitor_HealthLoop(t *testing.T) {
	t.Run("exports health gauges", func(t *testing.T) {
		feed := staticFeed(make(chan FeedEvent))
		publisher := &fakePublisher{}
		cache := &fakeCache{}
		metrics := &recordingMetrics{}

		monitor := newTestMonitor(feed, publisher, cache, []string{"ws://a", "ws://b"})
		monitor.metrics = metrics
		monitor.healthCheckInterval = 5 * time.Millisecond

		monitor.Start(t.Context())
		defer monitor.Stop()

		require.Eventually(t, func() bool {
			_, okA := metrics.healthScore("ws://a")
			_, okB := metrics.healthScore("ws://b")
			return okA && okB
		}, time.Second, time.Millisecond)
	})

	t.Run("recovery probing lifts a responsive endpoint back above the floor", func(t *testing.T) {
		feed := &fakeFeed{
			subscribe: func(ctx context.Context, endpoint string) (<-chan FeedEvent, error) {
				return make(chan FeedEvent), nil
			},
		}
		publisher := &fakePublisher{}
		cache := &fakeCache{}
		prober := &fakeProber{}

		monitor := newTestMonitor(feed, publisher, cache, []string{"ws://a"})
		monitor.prober = prober
		monitor.healthCheckInterval = 5 * time.Millisecond

		for range 100 {
			monitor.health.Observe("ws://a", endpointrank.ObservedConnectFailure)
		}
		_, err := monitor.health.Best()
		require.ErrorIs(t, err, endpointrank.ErrNoViableEndpoint)

		monitor.Start(t.Context())
		defer monitor.Stop()

		require.Eventually(t, func() bool {
			_, err := monitor.health.Best()
			return err == nil
		}, time.Second, time.Millisecond)

		assert.Greater(t, prober.probeCount("ws://a"), 0)
	})

	t.Run("does not probe while an endpoint is still viable", func(t *testing.T) {
		feed := staticFeed(make(chan FeedEvent))
		publisher := &fakePublisher{}
		cache := &fakeCache{}
		prober := &fakeProber{}

		monitor := newTestMonitor(feed, publisher, cache, []string{"ws://a"})
		monitor.prober = prober
		monitor.healthCheckInterval = 5 * time.Millisecond

		monitor.Start(t.Context())
		defer monitor.Stop()

		time.Sleep(50 * time.Millisecond)
		assert.Zero(t, prober.probeCount("ws://a"))
	})
}
