package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gabapcia/mempoolwatch/internal/pkg/logger"
	"github.com/gabapcia/mempoolwatch/internal/txingest"

	websocket "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = logger.Init(logger.WithLevel("error"))
}

// feedServer is a minimal in-process node: it accepts the websocket upgrade,
// answers the subscription request, and then pushes the configured frames.
type feedServer struct {
	*httptest.Server

	rejectSubscription bool
	frames             []string
	closeAfterFrames   bool
}

func newFeedServer(t *testing.T, configure func(*feedServer)) *feedServer {
	t.Helper()

	fs := &feedServer{}
	if configure != nil {
		configure(fs)
	}

	upgrader := websocket.Upgrader{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var req subscribeRequest
		require.NoError(t, conn.ReadJSON(&req))
		assert.Equal(t, "2.0", req.JsonRPC)
		assert.Equal(t, "eth_subscribe", req.Method)
		require.Len(t, req.Params, 2)
		assert.Equal(t, "newPendingTransactions", req.Params[0])
		assert.Equal(t, true, req.Params[1])

		if fs.rejectSubscription {
			_ = conn.WriteJSON(map[string]any{
				"jsonrpc": "2.0",
				"id":      1,
				"error":   map[string]any{"code": -32601, "message": "method not found"},
			})
			return
		}

		require.NoError(t, conn.WriteJSON(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  "0xsub1",
		}))

		for _, frame := range fs.frames {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
		}

		if fs.closeAfterFrames {
			return
		}

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(fs.Server.Close)

	return fs
}

func (fs *feedServer) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.URL, "http")
}

func notificationFrame(result string) string {
	return `{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"0xsub1","result":` + result + `}}`
}

func TestFeed_Subscribe(t *testing.T) {
	t.Run("delivers transaction records in arrival order", func(t *testing.T) {
		server := newFeedServer(t, func(fs *feedServer) {
			fs.frames = []string{
				notificationFrame(`{"hash":"0x01"}`),
				notificationFrame(`{"hash":"0x02"}`),
				notificationFrame(`{"hash":"0x03"}`),
			}
		})

		events, err := New().Subscribe(t.Context(), server.wsURL())
		require.NoError(t, err)

		for _, expected := range []string{"0x01", "0x02", "0x03"} {
			event := receiveEvent(t, events)
			require.NoError(t, event.Err)

			var record map[string]string
			require.NoError(t, json.Unmarshal(event.Payload, &record))
			assert.Equal(t, expected, record["hash"])
		}
	})

	t.Run("flags undecodable frames as malformed without ending the stream", func(t *testing.T) {
		server := newFeedServer(t, func(fs *feedServer) {
			fs.frames = []string{
				`this is not json`,
				`{"jsonrpc":"2.0","id":99,"result":"late-response"}`,
				notificationFrame(`{"hash":"0x01"}`),
			}
		})

		events, err := New().Subscribe(t.Context(), server.wsURL())
		require.NoError(t, err)

		for range 2 {
			event := receiveEvent(t, events)
			assert.ErrorIs(t, event.Err, txingest.ErrMalformedMessage)
		}

		event := receiveEvent(t, events)
		require.NoError(t, event.Err)
		assert.Contains(t, string(event.Payload), "0x01")
	})

	t.Run("reports a terminal error and closes the channel when the server drops", func(t *testing.T) {
		server := newFeedServer(t, func(fs *feedServer) {
			fs.frames = []string{notificationFrame(`{"hash":"0x01"}`)}
			fs.closeAfterFrames = true
		})

		events, err := New().Subscribe(t.Context(), server.wsURL())
		require.NoError(t, err)

		event := receiveEvent(t, events)
		require.NoError(t, event.Err)

		event = receiveEvent(t, events)
		require.Error(t, event.Err)
		assert.NotErrorIs(t, event.Err, txingest.ErrMalformedMessage)

		_, open := <-events
		assert.False(t, open)
	})

	t.Run("fails when the node rejects the subscription", func(t *testing.T) {
		server := newFeedServer(t, func(fs *feedServer) {
			fs.rejectSubscription = true
		})

		_, err := New().Subscribe(t.Context(), server.wsURL())
		assert.ErrorIs(t, err, ErrSubscriptionRejected)
	})

	t.Run("fails fast when the endpoint is unreachable", func(t *testing.T) {
		feed := New(WithDialTimeout(100 * time.Millisecond))

		_, err := feed.Subscribe(t.Context(), "ws://127.0.0.1:1")
		assert.Error(t, err)
	})

	t.Run("releases the connection and its watcher after a terminal error", func(t *testing.T) {
		server := newFeedServer(t, func(fs *feedServer) {
			fs.frames = []string{notificationFrame(`{"hash":"0x01"}`)}
			fs.closeAfterFrames = true
		})

		feed := New()
		ctx := t.Context()

		before := runtime.NumGoroutine()

		// Reconnect cycles reuse the same long-lived chain context; each dead
		// stream must clean up fully or goroutines pile up one per reconnect.
		const rounds = 25
		for range rounds {
			events, err := feed.Subscribe(ctx, server.wsURL())
			require.NoError(t, err)

			for range events {
			}
		}

		require.Eventually(t, func() bool {
			return runtime.NumGoroutine() <= before+2
		}, time.Second, 10*time.Millisecond,
			"goroutines grew from %d to %d across %d dead streams", before, runtime.NumGoroutine(), rounds)
	})

	t.Run("cancellation closes the stream", func(t *testing.T) {
		server := newFeedServer(t, nil)

		ctx, cancel := context.WithCancel(t.Context())
		events, err := New().Subscribe(ctx, server.wsURL())
		require.NoError(t, err)

		cancel()

		require.Eventually(t, func() bool {
			select {
			case _, open := <-events:
				return !open
			default:
				return false
			}
		}, time.Second, time.Millisecond)
	})
}

func receiveEvent(t *testing.T, events <-chan txingest.FeedEvent) txingest.FeedEvent {
	t.Helper()

	select {
	case event, ok := <-events:
		require.True(t, ok, "event channel closed unexpectedly")
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for feed event")
		return txingest.FeedEvent{Err: errors.New("unreachable")}
	}
}
