package txingest

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrMalformedMessage is carried by a FeedEvent whose frame could not be
// decoded as a feed notification. Such events are logged and skipped by the
// monitor; they never tear down the stream or touch the endpoint's score.
var ErrMalformedMessage = errors.New("malformed feed message")

// FeedEvent is a single item delivered by a pending-transaction stream.
// Exactly one of Payload and Err is meaningful: Payload holds the raw
// transaction record on success, Err reports a malformed frame
// (ErrMalformedMessage) or a terminal stream failure.
type FeedEvent struct {
	Payload json.RawMessage // raw transaction record from the feed
	Err     error           // nil on success
}

// PendingTransactionFeed is a source of pending-transaction records for one
// endpoint at a time.
type PendingTransactionFeed interface {
	// Subscribe opens a streaming connection to the given endpoint and
	// issues the pending-transaction subscription request. Dialing is
	// bounded by the implementation's handshake timeout so cancellation is
	// observed promptly.
	//
	// On success it returns a channel of FeedEvent values in arrival order.
	// The channel is closed when ctx is canceled or after a terminal stream
	// error has been delivered; the connection is closed alongside it.
	Subscribe(ctx context.Context, endpoint string) (<-chan FeedEvent, error)
}
