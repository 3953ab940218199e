// Package txingest implements the pending-transaction ingestion pipeline: one
// monitor per blockchain network keeps a streaming connection alive against
// the healthiest configured endpoint, normalizes every inbound record into a
// canonical Transaction, and hands it to the durable queue and the lookup
// cache.
package txingest

import (
	"slices"
	"strings"
)

// Chain identifies a blockchain network by its configured name and its
// numeric chain identifier.
type Chain struct {
	Name string // configuration name (e.g., "ethereum", "polygon")
	ID   int64  // EIP-155 style numeric chain identifier
}

// chainIDs maps every supported network name to its numeric chain identifier.
// Networks are added here; configuration referencing any other name is
// skipped with a warning at startup.
var chainIDs = map[string]int64{
	"ethereum":  1,
	"optimism":  10,
	"bsc":       56,
	"polygon":   137,
	"base":      8453,
	"arbitrum":  42161,
	"avalanche": 43114,
}

// ChainID resolves a network name to its numeric chain identifier. The second
// return value reports whether the name is supported.
func ChainID(name string) (int64, bool) {
	id, ok := chainIDs[name]
	return id, ok
}

// SupportedChains returns every supported network sorted by name.
func SupportedChains() []Chain {
	chains := make([]Chain, 0, len(chainIDs))
	for name, id := range chainIDs {
		chains = append(chains, Chain{Name: name, ID: id})
	}

	slices.SortFunc(chains, func(a, b Chain) int {
		return strings.Compare(a.Name, b.Name)
	})
	return chains
}
