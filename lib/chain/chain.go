// Package chain defines the adapter interface required for all blockchain connections.
package chain

import (
	"log"

	"github.com/shopspring/decimal"

	"github.com/chainward/gateway/lib/chain/bitcoin"
	"github.com/chainward/gateway/lib/chain/ethereum"
	"github.com/chainward/gateway/lib/chain/types"
	"github.com/chainward/gateway/lib/config"
)

// Adapter is the chain-agnostic facade over one blockchain: a protocol client plus the
// transaction normalizer for that chain family. Configure is expected to be called once at
// construction time and never concurrently with the read methods; everything else is safe for
// one-instance-per-wallet use with no shared state across instances.
type Adapter interface {
	// configuration, no network calls
	Configure(settings map[string]interface{}) error
	Settings() types.Settings
	Features() map[string]interface{}

	// network reads
	LatestBlockNumber() (uint64, error)
	FetchBlock(height uint64) (*types.Block, error)
	FetchDeposits(opts types.FetchOptions) ([]types.RawDeposit, error)
	LoadBalance(address, currencyID string) (decimal.Decimal, error)

	// pure transform of a decoded raw transaction
	BuildTransaction(raw map[string]interface{}) ([]types.NormalizedTx, error)

	// money moving
	BuildRawTransaction(destination string, amount decimal.Decimal) (fee decimal.Decimal, err error)
	CreateWithdrawal(source, destination string, amount decimal.Decimal, opts map[string]interface{}) (txid string, err error)
	CreateAddress(opts map[string]interface{}) (address string, err error)

	MaxBlocks() int // number of recent block hashes kept for orphan detection
	AvgBlock() int  // average block mining rate in seconds
}

// Init loads one adapter per configured blockchain into a map keyed by blockchain key. Each
// adapter is configured with the node endpoint and the currencies mapped to its chain.
func Init(bc []config.ChainConfig, currencies []types.CurrencySettings) (map[string]Adapter, error) {
	m := make(map[string]Adapter)

	for _, cc := range bc {
		var a Adapter

		// the orphan-detection ring needs at least one slot
		if cc.MaxBlocks < 1 {
			cc.MaxBlocks = 1
		}

		switch cc.Family {
		case "ethereum":
			a = ethereum.New(cc.Node, cc.Secret, cc.MaxBlocks, cc.Features)
		case "bitcoin":
			a = bitcoin.New(cc.Node, cc.Secret, cc.MaxBlocks, cc.Features)
		default:
			log.Printf("Blockchain adapter not defined for family %q. Ignoring %s...\n", cc.Family, cc.Key)

			continue
		}

		own := make([]types.CurrencySettings, 0, len(currencies))

		for _, cur := range currencies {
			if cur.BlockchainKey == cc.Key {
				own = append(own, cur)
			}
		}

		if err := a.Configure(map[string]interface{}{
			"server":     cc.Node,
			"currencies": own,
		}); err != nil {
			return nil, err
		}

		m[cc.Key] = a
	}

	return m, nil
}
