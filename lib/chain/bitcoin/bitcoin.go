// Package bitcoin implements the adapter for UTXO-model JSON-RPC chains.
package bitcoin

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chainward/gateway/lib/chain/rpc"
	"github.com/chainward/gateway/lib/chain/types"
)

const avgBlockSecs = 600

// DefaultFeatures are the capability flags of the family.
var DefaultFeatures = map[string]interface{}{
	"supports_cash_addr_format": false,
	"case_sensitive":            true,
}

// assumed size of a sweep transaction in kvB, used to turn a fee rate into a fee
var sweepTxKSize = decimal.New(25, -2) // 250 vbytes

// fallback when the node has no fee estimate yet
var defaultFee = decimal.New(1, -4) // 0.0001

// Bitcoin is the adapter for one UTXO-model chain node.
type Bitcoin struct {
	conn     *rpc.Conn
	secret   string
	mb       int
	features map[string]interface{}
	settings types.Settings
}

// New returns an adapter talking to node. custom feature flags override DefaultFeatures.
func New(node, secret string, maxBlocks int, custom map[string]interface{}) *Bitcoin {
	return &Bitcoin{
		conn:     rpc.New(node, secret),
		secret:   secret,
		mb:       maxBlocks,
		features: types.MergeFeatures(DefaultFeatures, custom),
	}
}

// MaxBlocks returns how many recent block hashes are kept for orphan management.
func (b *Bitcoin) MaxBlocks() int {
	return b.mb
}

// AvgBlock returns the average time to mine a block in seconds.
func (b *Bitcoin) AvgBlock() int {
	return avgBlockSecs
}

// Features returns the resolved capability flags.
func (b *Bitcoin) Features() map[string]interface{} {
	return b.features
}

// Configure retains the supported subset of settings. No network call, idempotent.
func (b *Bitcoin) Configure(settings map[string]interface{}) error {
	s, err := types.ParseSettings(settings)
	if err != nil {
		return err
	}

	if s.Server != "" && s.Server != b.conn.Endpoint() {
		b.conn = rpc.New(s.Server, b.secret)
	}

	b.settings = s

	return nil
}

// Settings returns the retained configuration.
func (b *Bitcoin) Settings() types.Settings {
	return b.settings
}

// nativeCurrency returns the configured base currency of the chain, empty when none is set.
func (b *Bitcoin) nativeCurrency() string {
	for _, cur := range b.settings.Currencies {
		if cur.ContractAddress == "" {
			return cur.ID
		}
	}

	return ""
}

// LatestBlockNumber asks the node for the current block height.
func (b *Bitcoin) LatestBlockNumber() (uint64, error) {
	res, err := b.conn.Call("getblockcount")
	if err != nil {
		return 0, err
	}

	var height uint64
	if err := json.Unmarshal(res, &height); err != nil {
		return 0, fmt.Errorf("bitcoin: cannot decode block count: %w", err)
	}

	return height, nil
}

// FetchBlock resolves the block hash for the given height and retrieves the block with full
// transaction data. The underlying lookups are keyed by hash, never by height.
func (b *Bitcoin) FetchBlock(height uint64) (*types.Block, error) {
	res, err := b.conn.Call("getblockhash", height)
	if err != nil {
		return nil, err
	}

	var hash string
	if err := json.Unmarshal(res, &hash); err != nil {
		return nil, fmt.Errorf("bitcoin: cannot decode block hash: %w", err)
	}

	res, err = b.conn.Call("getblock", hash, 2) //nolint:gomnd // verbosity 2: full tx data
	if err != nil {
		return nil, err
	}

	var raw map[string]interface{}
	if err := unmarshalNumbers(res, &raw); err != nil {
		return nil, fmt.Errorf("bitcoin: block %s: %w", hash, types.ErrBlockDecode)
	}

	blk := &types.Block{Height: height}

	if blk.Hash, _ = raw["hash"].(string); blk.Hash == "" {
		return nil, fmt.Errorf("bitcoin: block %s has no hash: %w", hash, types.ErrBlockDecode)
	}

	blk.PHash, _ = raw["previousblockhash"].(string) // absent on the genesis block

	txList, ok := raw["tx"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("bitcoin: block %s has no transaction list: %w", hash, types.ErrBlockDecode)
	}

	for _, t := range txList {
		txObj, ok := t.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("bitcoin: block %s: %w", hash, types.ErrTxDecode)
		}

		norm, err := b.BuildTransaction(txObj)
		if err != nil {
			return nil, err
		}

		blk.Transactions = append(blk.Transactions, norm...)
	}

	return blk, nil
}

// BuildTransaction normalizes one decoded raw transaction: one record per (vout, configured
// currency) pair. With K outputs and C currencies of this chain the fan-out is deliberate,
// K*C records sharing hash, address, amount and output index but with distinct currency ids.
// Outputs below a currency's minimum deposit amount are dropped for that currency only.
func (b *Bitcoin) BuildTransaction(raw map[string]interface{}) ([]types.NormalizedTx, error) {
	hash, ok := raw["txid"].(string)
	if !ok {
		return nil, fmt.Errorf("bitcoin: tx has no txid: %w", types.ErrTxDecode)
	}

	vouts, ok := raw["vout"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("bitcoin: tx %s has no vout: %w", hash, types.ErrTxDecode)
	}

	txs := make([]types.NormalizedTx, 0, len(vouts)*len(b.settings.Currencies))

	for _, v := range vouts {
		out, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("bitcoin: tx %s: %w", hash, types.ErrTxDecode)
		}

		amount, err := decodeAmount(out["value"])
		if err != nil {
			return nil, fmt.Errorf("bitcoin: tx %s: %w", hash, err)
		}

		n, err := decodeIndex(out["n"])
		if err != nil {
			return nil, fmt.Errorf("bitcoin: tx %s: %w", hash, err)
		}

		address := outAddress(out)
		if address == "" {
			continue // not a payment output (op_return, bare multisig)
		}

		for _, cur := range b.settings.Currencies {
			if amount.LessThan(cur.MinDepositAmount) {
				continue
			}

			txs = append(txs, types.NormalizedTx{
				Hash:       hash,
				TxOut:      n,
				ToAddress:  address,
				Amount:     amount,
				CurrencyID: cur.ID,
			})
		}
	}

	return txs, nil
}

// FetchDeposits lists the node wallet's recent incoming transfers.
func (b *Bitcoin) FetchDeposits(opts types.FetchOptions) ([]types.RawDeposit, error) {
	limit := opts.TransactionsLimit
	if limit <= 0 {
		limit = 100
	}

	res, err := b.conn.Call("listtransactions", "*", limit)
	if err != nil {
		return nil, err
	}

	var entries []struct {
		Category      string      `json:"category"`
		Address       string      `json:"address"`
		Amount        json.Number `json:"amount"`
		TxID          string      `json:"txid"`
		Vout          int         `json:"vout"`
		Confirmations int64       `json:"confirmations"`
		Time          int64       `json:"time"`
	}

	if err := unmarshalNumbers(res, &entries); err != nil {
		return nil, fmt.Errorf("bitcoin: cannot decode transaction list: %w", err)
	}

	deposits := make([]types.RawDeposit, 0, len(entries))

	for _, e := range entries {
		if e.Category != "receive" {
			continue
		}

		amount, err := decimal.NewFromString(e.Amount.String())
		if err != nil {
			return nil, fmt.Errorf("bitcoin: bad amount in tx %s: %w", e.TxID, types.ErrTxDecode)
		}

		d := types.RawDeposit{
			CurrencyID:    b.nativeCurrency(),
			TxID:          e.TxID,
			TxOut:         e.Vout,
			Address:       e.Address,
			Amount:        amount,
			Confirmations: e.Confirmations,
		}

		if e.Time > 0 {
			ts := time.Unix(e.Time, 0).UTC()
			d.CreatedAt = &ts
		}

		deposits = append(deposits, d)
	}

	return deposits, nil
}

// LoadBalance sums the unspent outputs currently held by address.
func (b *Bitcoin) LoadBalance(address, currencyID string) (decimal.Decimal, error) {
	res, err := b.conn.Call("listunspent", 0, 9999999, []string{address}) //nolint:gomnd // any confirmation depth
	if err != nil {
		return decimal.Zero, err
	}

	var unspents []struct {
		Amount json.Number `json:"amount"`
	}

	if err := unmarshalNumbers(res, &unspents); err != nil {
		return decimal.Zero, fmt.Errorf("bitcoin: cannot decode unspents: %w", err)
	}

	balance := decimal.Zero

	for _, u := range unspents {
		amount, err := decimal.NewFromString(u.Amount.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("bitcoin: bad unspent amount: %w", types.ErrTxDecode)
		}

		balance = balance.Add(amount)
	}

	return balance, nil
}

// BuildRawTransaction estimates the network fee for a sweep to destination: the node's fee
// rate for 6-block confirmation applied to an assumed sweep transaction size.
func (b *Bitcoin) BuildRawTransaction(destination string, amount decimal.Decimal) (decimal.Decimal, error) {
	res, err := b.conn.Call("estimatesmartfee", 6) //nolint:gomnd // 6-block confirmation target
	if err != nil {
		return decimal.Zero, err
	}

	var estimate struct {
		FeeRate json.Number `json:"feerate"`
	}

	if err := unmarshalNumbers(res, &estimate); err != nil {
		return decimal.Zero, fmt.Errorf("bitcoin: cannot decode fee estimate: %w", err)
	}

	if estimate.FeeRate == "" {
		return defaultFee, nil
	}

	rate, err := decimal.NewFromString(estimate.FeeRate.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("bitcoin: bad fee rate: %w", types.ErrTxDecode)
	}

	return rate.Mul(sweepTxKSize), nil
}

// CreateWithdrawal broadcasts a transfer of exactly amount to destination and returns the
// transaction hash. The node wallet selects the inputs; source is accepted for interface
// symmetry but input selection is not constrained to it.
func (b *Bitcoin) CreateWithdrawal(source, destination string, amount decimal.Decimal, opts map[string]interface{}) (string, error) {
	res, err := b.conn.Call("sendtoaddress", destination, json.Number(amount.String()))
	if err != nil {
		return "", err
	}

	var txid string
	if err := json.Unmarshal(res, &txid); err != nil {
		return "", fmt.Errorf("bitcoin: cannot decode txid: %w", err)
	}

	return txid, nil
}

// CreateAddress asks the node wallet for a new receiving address. opts may carry "label".
func (b *Bitcoin) CreateAddress(opts map[string]interface{}) (string, error) {
	label, _ := opts["label"].(string)

	res, err := b.conn.Call("getnewaddress", label)
	if err != nil {
		return "", err
	}

	var address string
	if err := json.Unmarshal(res, &address); err != nil {
		return "", fmt.Errorf("bitcoin: cannot decode new address: %w", err)
	}

	return address, nil
}
