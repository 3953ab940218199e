package txingest

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/gabapcia/mempoolwatch/internal/pkg/types"
)

// ErrMissingHash marks an inbound record that carries no usable transaction
// hash. Such records cannot be identified downstream and are dropped.
var ErrMissingHash = errors.New("transaction record has no hash")

// Status is the lifecycle stage of a transaction as seen by the ingestor.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Transaction is the canonical record published downstream. It is immutable
// once normalized: a later confirmation for the same hash arrives as a new
// record, and consumers reconcile by hash.
//
// Hash plus ChainID uniquely identifies a transaction. Numeric quantities are
// decimal strings to avoid precision loss on values that exceed 64 bits.
type Transaction struct {
	Hash             string          `json:"hash"`
	ChainID          int64           `json:"chainId"`
	From             string          `json:"from,omitempty"`
	To               string          `json:"to,omitempty"` // empty for contract creation
	Value            string          `json:"value,omitempty"`
	Gas              string          `json:"gas,omitempty"`
	GasPrice         string          `json:"gasPrice,omitempty"`
	Nonce            string          `json:"nonce,omitempty"`
	Data             string          `json:"data,omitempty"`
	Timestamp        int64           `json:"timestamp"` // ingestion time, Unix seconds, never upstream time
	BlockNumber      *int64          `json:"blockNumber,omitempty"`
	TransactionIndex *int64          `json:"transactionIndex,omitempty"`
	Status           Status          `json:"status"`
	Raw              json.RawMessage `json:"raw,omitempty"` // original record, kept for forward compatibility
}

// Normalize converts a loosely typed upstream record into a canonical pending
// Transaction for the given chain, stamping it with the current time.
//
// Missing or unparseable optional fields become empty rather than failing the
// whole record; the only reason to reject a record is a missing hash, in
// which case ErrMissingHash is returned (possibly wrapped by a decoding
// error).
func Normalize(chain Chain, payload json.RawMessage) (Transaction, error) {
	var record map[string]json.RawMessage
	if err := json.Unmarshal(payload, &record); err != nil {
		return Transaction{}, errors.Join(ErrMissingHash, err)
	}

	hash := stringField(record, "hash")
	if hash == "" {
		return Transaction{}, ErrMissingHash
	}

	return Transaction{
		Hash:             hash,
		ChainID:          chain.ID,
		From:             stringField(record, "from"),
		To:               stringField(record, "to"),
		Value:            quantityField(record, "value"),
		Gas:              quantityField(record, "gas"),
		GasPrice:         quantityField(record, "gasPrice"),
		Nonce:            quantityField(record, "nonce"),
		Data:             stringField(record, "input"),
		Timestamp:        time.Now().Unix(),
		BlockNumber:      optionalIntField(record, "blockNumber"),
		TransactionIndex: optionalIntField(record, "transactionIndex"),
		Status:           StatusPending,
		Raw:              payload,
	}, nil
}

// stringField extracts a string value from the record, returning "" when the
// field is absent or not a string.
func stringField(record map[string]json.RawMessage, key string) string {
	raw, ok := record[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// quantityField extracts a numeric quantity and renders it as a decimal
// string. Upstream feeds encode quantities as 0x-prefixed hex strings; plain
// decimal strings and JSON numbers are accepted as well. Anything else
// becomes "".
func quantityField(record map[string]json.RawMessage, key string) string {
	raw, ok := record[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		// Some feeds emit bare JSON numbers.
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return ""
		}
		return n.String()
	}

	if hex, err := types.HexFromString(s); err == nil {
		return hex.Dec()
	}

	if _, err := strconv.ParseUint(s, 10, 64); err == nil {
		return s
	}

	return ""
}

// optionalIntField extracts an optional integer (hex string, decimal string,
// or JSON number). It returns nil when the field is absent or unparseable,
// which is the normal case for pending transactions.
func optionalIntField(record map[string]json.RawMessage, key string) *int64 {
	raw, ok := record[key]
	if !ok {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if hex, err := types.HexFromString(s); err == nil {
			v := hex.Int()
			return &v
		}
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return &v
		}
		return nil
	}

	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return &v
}
