package txingest

import "context"

// TransactionPublisher submits normalized transactions to the durable queue.
// Implementations must be safe for concurrent use by all chain monitors:
// the producer is opened once per process and closed by the service after
// every monitor has stopped.
//
// Delivery is at-least-once at best: a failed publish is logged and counted
// by the caller but not retried here, so redelivery is the transport's
// responsibility.
type TransactionPublisher interface {
	// Publish submits one transaction keyed by its hash, so records for the
	// same hash land on the same partition, with the chain identifier, chain
	// name, and ingestion timestamp attached as metadata.
	Publish(ctx context.Context, chain Chain, tx Transaction) error

	// Close flushes any buffered messages and releases the producer. It must
	// only be called after all publishers have stopped.
	Close() error
}

// TransactionCache stores recently ingested transactions for low-latency
// existence and lookup checks. The cache is an optimization, not a
// correctness dependency: write failures are logged and ingestion continues.
type TransactionCache interface {
	// Save writes the transaction under a chain-and-hash key with a short
	// expiry.
	Save(ctx context.Context, chain Chain, tx Transaction) error

	// Close releases the underlying client.
	Close() error
}
