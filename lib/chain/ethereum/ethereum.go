// Package ethereum implements the adapter for account-model JSON-RPC chains.
package ethereum

import (
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chainward/gateway/lib/chain/rpc"
	"github.com/chainward/gateway/lib/chain/types"
)

// ERC20 token methodIDs (keccak-256 of the function name and arguments).
const (
	ERC20transfer  = "a9059cbb" // transfer(address,uint256)
	ERC20balanceOf = "70a08231" // balanceOf(address)
)

const (
	nativeGasLimit = 21000
	avgBlockSecs   = 15

	// how far back FetchDeposits walks regardless of the transfer bound
	depositBlocksWindow = 256
)

// DefaultFeatures are the capability flags of the family. Constructor overrides are merged on
// top, unknown keys pass through.
var DefaultFeatures = map[string]interface{}{
	"supports_cash_addr_format": false,
	"case_sensitive":            false,
}

// Ethereum is the adapter for one account-model chain node.
type Ethereum struct {
	conn     *rpc.Conn
	secret   string
	mb       int
	features map[string]interface{}
	settings types.Settings
}

// New returns an adapter talking to node. custom feature flags override DefaultFeatures.
// maxBlocks indicates how many recent block hashes are kept for orphan management.
func New(node, secret string, maxBlocks int, custom map[string]interface{}) *Ethereum {
	return &Ethereum{
		conn:     rpc.New(node, secret),
		secret:   secret,
		mb:       maxBlocks,
		features: types.MergeFeatures(DefaultFeatures, custom),
	}
}

// MaxBlocks returns how many recent block hashes are kept for orphan management.
func (e *Ethereum) MaxBlocks() int {
	return e.mb
}

// AvgBlock returns the average time to mine a block in seconds.
func (e *Ethereum) AvgBlock() int {
	return avgBlockSecs
}

// Features returns the resolved capability flags.
func (e *Ethereum) Features() map[string]interface{} {
	return e.features
}

// Configure retains the supported subset of settings. It issues no network call and is
// idempotent: the same input always yields the same retained settings.
func (e *Ethereum) Configure(settings map[string]interface{}) error {
	s, err := types.ParseSettings(settings)
	if err != nil {
		return err
	}

	if s.Server != "" && s.Server != e.conn.Endpoint() {
		e.conn = rpc.New(s.Server, e.secret)
	}

	e.settings = s

	return nil
}

// Settings returns the retained configuration.
func (e *Ethereum) Settings() types.Settings {
	return e.settings
}

// LatestBlockNumber asks the node for the current block height.
func (e *Ethereum) LatestBlockNumber() (uint64, error) {
	res, err := e.conn.Call("eth_blockNumber")
	if err != nil {
		return 0, err
	}

	return decodeQuantity(res)
}

// FetchBlock retrieves the block at the given height with full transaction data and returns
// it decoded, with one normalized transfer per (output, configured currency) pair.
func (e *Ethereum) FetchBlock(height uint64) (*types.Block, error) {
	res, err := e.conn.Call("eth_getBlockByNumber", toHex(height), true)
	if err != nil {
		return nil, err
	}

	if isNull(res) {
		return nil, types.ErrNoBlock
	}

	var raw map[string]interface{}
	if err := unmarshalNumbers(res, &raw); err != nil {
		return nil, fmt.Errorf("ethereum: block %d: %w", height, types.ErrBlockDecode)
	}

	blk := &types.Block{Height: height}

	if blk.Hash, _ = raw["hash"].(string); blk.Hash == "" {
		return nil, fmt.Errorf("ethereum: block %d has no hash: %w", height, types.ErrBlockDecode)
	}

	if blk.PHash, _ = raw["parentHash"].(string); blk.PHash == "" {
		return nil, fmt.Errorf("ethereum: block %d has no parent hash: %w", height, types.ErrBlockDecode)
	}

	txList, ok := raw["transactions"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("ethereum: block %d has no transaction list: %w", height, types.ErrBlockDecode)
	}

	for _, t := range txList {
		txObj, ok := t.(map[string]interface{})
		if !ok {
			continue // hash-only entry, nothing to normalize
		}

		norm, err := e.BuildTransaction(txObj)
		if err != nil {
			return nil, err
		}

		blk.Transactions = append(blk.Transactions, norm...)
	}

	return blk, nil
}

// BuildTransaction normalizes one decoded raw transaction. It is a pure transform, no network
// calls: for every configured currency of this chain that the transaction touches, one record
// is emitted with the amount converted to the currency unit. Transfers below a currency's
// minimum deposit amount are dropped for that currency only.
func (e *Ethereum) BuildTransaction(raw map[string]interface{}) ([]types.NormalizedTx, error) {
	hash, ok := raw["hash"].(string)
	if !ok {
		return nil, fmt.Errorf("ethereum: tx has no hash: %w", types.ErrTxDecode)
	}

	to, ok := raw["to"].(string)
	if !ok {
		return nil, nil // contract creation, nothing to normalize
	}

	input, _ := raw["input"].(string)

	txs := make([]types.NormalizedTx, 0, len(e.settings.Currencies))

	for _, cur := range e.settings.Currencies {
		var toAddress string

		var value *big.Int

		if cur.ContractAddress == "" {
			if isTokenInput(input) {
				continue
			}

			rawValue, ok := raw["value"].(string)
			if !ok {
				return nil, fmt.Errorf("ethereum: tx %s has no value: %w", hash, types.ErrTxDecode)
			}

			v, err := hexToBig(rawValue)
			if err != nil {
				return nil, fmt.Errorf("ethereum: tx %s: %w", hash, err)
			}

			toAddress, value = to, v
		} else {
			if !strings.EqualFold(to, cur.ContractAddress) || !isTokenInput(input) {
				continue
			}

			recipient, v, err := decodeTransferInput(input)
			if err != nil {
				return nil, fmt.Errorf("ethereum: tx %s: %w", hash, err)
			}

			toAddress, value = recipient, v
		}

		amount := decimal.NewFromBigInt(value, -cur.BaseFactor)
		if amount.LessThan(cur.MinDepositAmount) {
			continue
		}

		txs = append(txs, types.NormalizedTx{
			Hash:       hash,
			TxOut:      0,
			ToAddress:  toAddress,
			Amount:     amount,
			CurrencyID: cur.ID,
		})
	}

	return txs, nil
}

// FetchDeposits walks recent blocks looking for transfers into the node's own accounts. The
// walk inspects at most opts.TransactionsLimit transfers (default 100) so unbounded histories
// stay bounded.
func (e *Ethereum) FetchDeposits(opts types.FetchOptions) ([]types.RawDeposit, error) {
	limit := opts.TransactionsLimit
	if limit <= 0 {
		limit = 100
	}

	res, err := e.conn.Call("eth_accounts")
	if err != nil {
		return nil, err
	}

	var accounts []string
	if err := json.Unmarshal(res, &accounts); err != nil {
		return nil, fmt.Errorf("ethereum: cannot decode accounts: %w", err)
	}

	own := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		own[strings.ToLower(a)] = true
	}

	latest, err := e.LatestBlockNumber()
	if err != nil {
		return nil, err
	}

	var deposits []types.RawDeposit

	seen := 0

	floor := uint64(0)
	if latest > depositBlocksWindow {
		floor = latest - depositBlocksWindow
	}

	for height := latest; seen < limit && height >= floor; height-- {
		blk, ts, err := e.fetchBlockWithTime(height)
		if err != nil {
			return nil, err
		}

		for _, tx := range blk.Transactions {
			seen++

			if !own[strings.ToLower(tx.ToAddress)] {
				continue
			}

			d := types.RawDeposit{
				CurrencyID:    tx.CurrencyID,
				TxID:          tx.Hash,
				TxOut:         tx.TxOut,
				Address:       tx.ToAddress,
				Amount:        tx.Amount,
				Confirmations: int64(latest - height),
			}
			if ts != nil {
				d.CreatedAt = ts
			}

			deposits = append(deposits, d)
		}

		if height == 0 {
			break
		}
	}

	return deposits, nil
}

// FetchReceipts cross-references transaction receipts in one batched call, returning the
// status flag per transaction hash. Needed to tell failed transfers from mined ones.
func (e *Ethereum) FetchReceipts(hashes []string) (map[string]bool, error) {
	params := make([][]interface{}, len(hashes))
	for i, h := range hashes {
		params[i] = []interface{}{h}
	}

	results, err := e.conn.CallBatch("eth_getTransactionReceipt", params)
	if err != nil {
		return nil, err
	}

	status := make(map[string]bool, len(hashes))

	for i, res := range results {
		if isNull(res) {
			continue // not mined yet
		}

		var receipt struct {
			Status string `json:"status"`
		}

		if err := json.Unmarshal(res, &receipt); err != nil {
			return nil, fmt.Errorf("ethereum: cannot decode receipt %s: %w", hashes[i], err)
		}

		status[hashes[i]] = receipt.Status == "0x1"
	}

	return status, nil
}

// LoadBalance returns the current balance of address in the given currency's unit.
func (e *Ethereum) LoadBalance(address, currencyID string) (decimal.Decimal, error) {
	cur, err := e.currency(currencyID)
	if err != nil {
		return decimal.Zero, err
	}

	var res json.RawMessage

	if cur.ContractAddress == "" {
		res, err = e.conn.Call("eth_getBalance", address, "latest")
	} else {
		data := "0x" + ERC20balanceOf + pad32(strings.TrimPrefix(strings.ToLower(address), "0x"))
		res, err = e.conn.Call("eth_call", map[string]interface{}{
			"to":   cur.ContractAddress,
			"data": data,
		}, "latest")
	}

	if err != nil {
		return decimal.Zero, err
	}

	value, err := decodeQuantityBig(res)
	if err != nil {
		return decimal.Zero, err
	}

	return decimal.NewFromBigInt(value, -cur.BaseFactor), nil
}

// BuildRawTransaction estimates the network fee for sending amount to destination. The fee is
// returned in the chain's native unit: current gas price times the plain-transfer gas limit.
func (e *Ethereum) BuildRawTransaction(destination string, amount decimal.Decimal) (decimal.Decimal, error) {
	res, err := e.conn.Call("eth_gasPrice")
	if err != nil {
		return decimal.Zero, err
	}

	gasPrice, err := decodeQuantityBig(res)
	if err != nil {
		return decimal.Zero, err
	}

	fee := new(big.Int).Mul(gasPrice, big.NewInt(nativeGasLimit))

	return decimal.NewFromBigInt(fee, -18), nil //nolint:gomnd // wei per ether
}

// CreateWithdrawal broadcasts a transfer of amount from source to destination and returns the
// transaction hash. opts may carry "passphrase" to unlock source via the personal api.
func (e *Ethereum) CreateWithdrawal(source, destination string, amount decimal.Decimal, opts map[string]interface{}) (string, error) {
	value := amount.Shift(18).BigInt() //nolint:gomnd // wei per ether

	tx := map[string]interface{}{
		"from":  source,
		"to":    destination,
		"value": "0x" + value.Text(16),
		"gas":   toHex(nativeGasLimit),
	}

	var (
		res json.RawMessage
		err error
	)

	if passphrase, ok := opts["passphrase"].(string); ok {
		res, err = e.conn.Call("personal_sendTransaction", tx, passphrase)
	} else {
		res, err = e.conn.Call("eth_sendTransaction", tx)
	}

	if err != nil {
		return "", err
	}

	var txid string
	if err := json.Unmarshal(res, &txid); err != nil {
		return "", fmt.Errorf("ethereum: cannot decode txid: %w", err)
	}

	return txid, nil
}

// CreateAddress asks the node for a new receiving account. opts may carry "passphrase" to
// lock it with.
func (e *Ethereum) CreateAddress(opts map[string]interface{}) (string, error) {
	passphrase, _ := opts["passphrase"].(string)

	res, err := e.conn.Call("personal_newAccount", passphrase)
	if err != nil {
		return "", err
	}

	var address string
	if err := json.Unmarshal(res, &address); err != nil {
		return "", fmt.Errorf("ethereum: cannot decode new address: %w", err)
	}

	return address, nil
}

func (e *Ethereum) currency(id string) (types.CurrencySettings, error) {
	for _, cur := range e.settings.Currencies {
		if cur.ID == id {
			return cur, nil
		}
	}

	return types.CurrencySettings{}, fmt.Errorf("ethereum: currency %q: %w", id, types.ErrNoCurrency)
}

// fetchBlockWithTime is FetchBlock plus the block timestamp, used by the deposit walk.
func (e *Ethereum) fetchBlockWithTime(height uint64) (*types.Block, *time.Time, error) {
	blk, err := e.FetchBlock(height)
	if err != nil {
		return nil, nil, err
	}

	res, errTS := e.conn.Call("eth_getBlockByNumber", toHex(height), false)
	if errTS != nil {
		return blk, nil, nil //nolint:nilerr // timestamp is best effort
	}

	var hdr struct {
		Timestamp string `json:"timestamp"`
	}

	if err := json.Unmarshal(res, &hdr); err != nil || hdr.Timestamp == "" {
		return blk, nil, nil
	}

	secs, err := hexToUint64(hdr.Timestamp)
	if err != nil {
		log.Printf("ethereum: block %d has unreadable timestamp %q", height, hdr.Timestamp)

		return blk, nil, nil
	}

	ts := time.Unix(int64(secs), 0).UTC()

	return blk, &ts, nil
}
