package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gabapcia/mempoolwatch/internal/txingest"

	"github.com/urfave/cli/v3"
)

// probeEndpointsCommand returns a CLI command that probes every configured
// endpoint of a single chain once and reports the result per endpoint. It is
// meant for verifying provider credentials and connectivity before starting
// the service.
//
// Usage example:
//
//	mempoolwatch probe --chain ethereum
func probeEndpointsCommand(prober txingest.EndpointProber, chains map[string][]string) *cli.Command {
	return &cli.Command{
		Name:        "probe",
		Description: "Probe the configured endpoints of a chain and report which ones respond.",
		Usage:       "Sends a one-off health probe to each configured endpoint of the given chain.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "chain",
				Usage:    "Chain name to probe (e.g., ethereum, polygon)",
				Required: true,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			chain := c.String("chain")

			endpoints, ok := chains[chain]
			if !ok {
				return fmt.Errorf("no endpoints configured for chain %q", chain)
			}

			var errs []error
			for _, endpoint := range endpoints {
				if err := prober.Probe(ctx, endpoint); err != nil {
					fmt.Fprintf(c.Root().Writer, "%s: FAIL (%v)\n", endpoint, err)
					errs = append(errs, fmt.Errorf("%s: %w", endpoint, err))
					continue
				}

				fmt.Fprintf(c.Root().Writer, "%s: OK\n", endpoint)
			}

			return errors.Join(errs...)
		},
	}
}

// TransactionStore reads recently ingested transactions from the cache.
type TransactionStore interface {
	// GetTransaction looks up a cached transaction by chain name and hash.
	GetTransaction(ctx context.Context, chainName, hash string) (txingest.Transaction, error)
}

// lookupTransactionCommand returns a CLI command that fetches one recently
// ingested transaction from the cache and prints it as JSON.
//
// Usage example:
//
//	mempoolwatch lookup --chain ethereum --hash 0xabc123...
func lookupTransactionCommand(store TransactionStore) *cli.Command {
	return &cli.Command{
		Name:        "lookup",
		Description: "Fetch a recently ingested transaction from the cache by chain and hash.",
		Usage:       "Prints the cached transaction as JSON. Entries expire after the cache TTL.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "chain",
				Usage:    "Chain name the transaction was ingested from (e.g., ethereum, polygon)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "hash",
				Usage:    "Transaction hash to look up",
				Required: true,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			var (
				chain = c.String("chain")
				hash  = c.String("hash")
			)

			tx, err := store.GetTransaction(ctx, chain, hash)
			if err != nil {
				return err
			}

			encoded, err := json.MarshalIndent(tx, "", "  ")
			if err != nil {
				return err
			}

			fmt.Fprintln(c.Root().Writer, string(encoded))
			return nil
		},
	}
}

// listChainsCommand returns a CLI command that prints every supported chain
// name alongside its numeric chain identifier.
//
// Usage example:
//
//	mempoolwatch chains
func listChainsCommand() *cli.Command {
	return &cli.Command{
		Name:        "chains",
		Description: "List every supported chain name and its numeric chain identifier.",
		Usage:       "Prints the supported chains, one per line.",
		Action: func(ctx context.Context, c *cli.Command) error {
			for _, chain := range txingest.SupportedChains() {
				fmt.Fprintf(c.Root().Writer, "%s\t%d\n", chain.Name, chain.ID)
			}

			return nil
		},
	}
}
