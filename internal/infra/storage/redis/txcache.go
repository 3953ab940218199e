package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gabapcia/mempoolwatch/internal/txingest"

	"github.com/redis/go-redis/v9"
)

// ErrTransactionNotCached is returned by GetTransaction when no entry exists
// for the requested chain and hash, either because it was never cached or
// because the entry has expired.
var ErrTransactionNotCached = errors.New("transaction not cached")

// transactionKey constructs the Redis key for a cached transaction:
//
//	"tx:<chain_name>:<hash>"
func transactionKey(chainName, hash string) string {
	return fmt.Sprintf("tx:%s:%s", chainName, hash)
}

// TransactionCache adds the cache behavior on top of the shared client,
// carrying the configured entry TTL.
type TransactionCache struct {
	*client
	ttl time.Duration
}

// Compile-time assertion that TransactionCache implements the cache port.
var _ txingest.TransactionCache = (*TransactionCache)(nil)

// NewTransactionCache wraps a connected client into a transaction cache
// whose entries expire after ttl.
func NewTransactionCache(c *client, ttl time.Duration) *TransactionCache {
	return &TransactionCache{
		client: c,
		ttl:    ttl,
	}
}

// Save stores the JSON-encoded transaction under its chain-and-hash key with
// the configured expiry. A failure only costs a cache hit, never a message.
func (c *TransactionCache) Save(ctx context.Context, chain txingest.Chain, tx txingest.Transaction) error {
	value, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("encoding transaction %s: %w", tx.Hash, err)
	}

	key := transactionKey(chain.Name, tx.Hash)
	return c.conn.Set(ctx, key, value, c.ttl).Err()
}

// GetTransaction looks up a recently ingested transaction by chain name and
// hash. It returns ErrTransactionNotCached when the entry is absent.
func (c *TransactionCache) GetTransaction(ctx context.Context, chainName, hash string) (txingest.Transaction, error) {
	key := transactionKey(chainName, hash)

	value, err := c.conn.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			err = ErrTransactionNotCached
		}
		return txingest.Transaction{}, err
	}

	var tx txingest.Transaction
	if err := json.Unmarshal(value, &tx); err != nil {
		return txingest.Transaction{}, fmt.Errorf("decoding cached transaction: %w", err)
	}

	return tx, nil
}
