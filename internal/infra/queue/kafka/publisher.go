// Package kafka implements the durable queue producer on top of a Kafka
// topic. Messages are keyed by transaction hash so records for the same hash
// land on the same partition, and carry the chain identity and ingestion
// time as headers.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gabapcia/mempoolwatch/internal/txingest"

	kafka "github.com/segmentio/kafka-go"
)

// Header keys attached to every queue message.
const (
	headerChainID   = "chain_id"
	headerChainName = "chain_name"
	headerTimestamp = "timestamp"
)

// Publisher writes normalized transactions to a single Kafka topic. It is
// safe for concurrent use by all chain monitors and must be closed exactly
// once, after every monitor has stopped.
type Publisher struct {
	writer *kafka.Writer
}

// Compile-time assertion that Publisher implements the queue port.
var _ txingest.TransactionPublisher = (*Publisher)(nil)

// NewPublisher creates a producer for the given brokers and topic. The hash
// balancer routes messages by key, which preserves per-hash partition
// affinity when the topic is partitioned.
func NewPublisher(brokers []string, topic string) *Publisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}

	return &Publisher{writer: writer}
}

// newMessage encodes one transaction as a queue message keyed by its hash.
func newMessage(chain txingest.Chain, tx txingest.Transaction) (kafka.Message, error) {
	value, err := json.Marshal(tx)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encoding transaction %s: %w", tx.Hash, err)
	}

	return kafka.Message{
		Key:   []byte(tx.Hash),
		Value: value,
		Headers: []kafka.Header{
			{Key: headerChainID, Value: []byte(strconv.FormatInt(chain.ID, 10))},
			{Key: headerChainName, Value: []byte(chain.Name)},
			{Key: headerTimestamp, Value: []byte(strconv.FormatInt(tx.Timestamp, 10))},
		},
	}, nil
}

// Publish submits one transaction. The caller bounds ctx; a failure is
// returned for logging and counting but the message is not retried here.
func (p *Publisher) Publish(ctx context.Context, chain txingest.Chain, tx txingest.Transaction) error {
	msg, err := newMessage(chain, tx)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing transaction %s: %w", tx.Hash, err)
	}

	return nil
}

// Close flushes buffered messages and releases the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
