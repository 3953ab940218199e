// Package websocket implements the pending-transaction feed over a JSON-RPC
// websocket subscription, as exposed by Ethereum-compatible nodes via
// eth_subscribe.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gabapcia/mempoolwatch/internal/pkg/logger"
	"github.com/gabapcia/mempoolwatch/internal/pkg/x/chflow"
	"github.com/gabapcia/mempoolwatch/internal/txingest"

	websocket "github.com/gorilla/websocket"
)

// ErrSubscriptionRejected indicates the node answered the subscription
// request with a JSON-RPC error.
var ErrSubscriptionRejected = errors.New("subscription rejected by node")

// eventChannelBufferSize absorbs short bursts from the node without blocking
// the socket reader.
const eventChannelBufferSize = 64

// Default subscription parameters for Ethereum-compatible nodes. The second
// param asks for full transaction objects instead of bare hashes.
const (
	defaultSubscribeMethod = "eth_subscribe"
	defaultFeedName        = "newPendingTransactions"

	defaultDialTimeout = 10 * time.Second
)

type (
	// subscribeRequest is the JSON-RPC frame sent once per connection.
	subscribeRequest struct {
		JsonRPC string `json:"jsonrpc"`
		ID      int    `json:"id"`
		Method  string `json:"method"`
		Params  []any  `json:"params"`
	}

	// subscribeResponse is the node's answer to the subscription request.
	subscribeResponse struct {
		JsonRPC string `json:"jsonrpc"`
		Error   *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Result json.RawMessage `json:"result"`
	}

	// notification is the envelope of every subsequent push from the node.
	// The transaction record lives in params.result.
	notification struct {
		Method string `json:"method"`
		Params struct {
			Subscription string          `json:"subscription"`
			Result       json.RawMessage `json:"result"`
		} `json:"params"`
	}
)

// Feed subscribes to pending-transaction streams over websocket connections.
// A single Feed is shared by all chain monitors; every Subscribe call opens
// its own connection.
type Feed struct {
	subscribeMethod string
	feedName        string
	dialTimeout     time.Duration
}

// Compile-time assertion that Feed implements the feed port.
var _ txingest.PendingTransactionFeed = (*Feed)(nil)

// Option customizes a Feed created by New.
type Option func(*Feed)

// WithSubscribeMethod overrides the JSON-RPC subscription method.
// Default: "eth_subscribe".
func WithSubscribeMethod(method string) Option {
	return func(f *Feed) {
		f.subscribeMethod = method
	}
}

// WithFeedName overrides the subscribed feed.
// Default: "newPendingTransactions".
func WithFeedName(name string) Option {
	return func(f *Feed) {
		f.feedName = name
	}
}

// WithDialTimeout bounds the websocket handshake so connection attempts
// observe cancellation promptly. Default: 10s.
func WithDialTimeout(d time.Duration) Option {
	return func(f *Feed) {
		f.dialTimeout = d
	}
}

// New creates a websocket-backed pending-transaction feed.
func New(opts ...Option) *Feed {
	f := &Feed{
		subscribeMethod: defaultSubscribeMethod,
		feedName:        defaultFeedName,
		dialTimeout:     defaultDialTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Subscribe dials the endpoint, issues the subscription request, and starts a
// reader goroutine that forwards each notification's transaction record as a
// FeedEvent. The returned channel is closed when ctx is canceled or after a
// terminal read error has been delivered; the connection is closed with it.
func (f *Feed) Subscribe(ctx context.Context, endpoint string) (<-chan txingest.FeedEvent, error) {
	dialCtx, cancel := context.WithTimeout(ctx, f.dialTimeout)
	defer cancel()

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", endpoint, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	if err := f.subscribe(conn); err != nil {
		conn.Close()
		return nil, err
	}

	eventsCh := make(chan txingest.FeedEvent, eventChannelBufferSize)

	// connCtx ends when the caller cancels or when the read loop exits, so
	// the connection and its watcher never outlive the stream.
	connCtx, cancel := context.WithCancel(ctx)

	// Closing the socket unblocks the reader's ReadMessage.
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	go f.readLoop(connCtx, cancel, conn, eventsCh)

	return eventsCh, nil
}

// subscribe sends the subscription request and validates the node's answer,
// which must arrive before any notification.
func (f *Feed) subscribe(conn *websocket.Conn) error {
	req := subscribeRequest{
		JsonRPC: "2.0",
		ID:      1,
		Method:  f.subscribeMethod,
		Params:  []any{f.feedName, true},
	}
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("sending subscription request: %w", err)
	}

	var resp subscribeResponse
	if err := conn.ReadJSON(&resp); err != nil {
		return fmt.Errorf("reading subscription response: %w", err)
	}

	if resp.Error != nil {
		return fmt.Errorf("%w: [%d] %s", ErrSubscriptionRejected, resp.Error.Code, resp.Error.Message)
	}

	return nil
}

// readLoop forwards frames until the connection dies or ctx is canceled.
// Frames that do not decode as subscription notifications yield
// ErrMalformedMessage events so the consumer can skip them without touching
// the endpoint's score. Canceling on exit releases the connection watcher,
// which closes the socket.
func (f *Feed) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, eventsCh chan<- txingest.FeedEvent) {
	defer close(eventsCh)
	defer cancel()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			event := txingest.FeedEvent{Err: fmt.Errorf("reading feed frame: %w", err)}
			_ = chflow.Send(ctx, eventsCh, event)
			return
		}

		var note notification
		if err := json.Unmarshal(frame, &note); err != nil || len(note.Params.Result) == 0 {
			logger.Debug(ctx, "discarding non-notification frame", "frame.size", len(frame))

			event := txingest.FeedEvent{Err: txingest.ErrMalformedMessage}
			if ok := chflow.Send(ctx, eventsCh, event); !ok {
				return
			}
			continue
		}

		event := txingest.FeedEvent{Payload: note.Params.Result}
		if ok := chflow.Send(ctx, eventsCh, event); !ok {
			return
		}
	}
}
