// Package types common blockchain adapter types.
package types

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// CurrencySettings is the projection of a currency record that an adapter needs to map raw
// chain amounts into the currency's unit and to recognize deposits for it.
type CurrencySettings struct {
	ID               string          `json:"id"`
	BaseFactor       int32           `json:"base_factor"` // subunit exponent, ie. 18 for wei, 8 for satoshi
	MinDepositAmount decimal.Decimal `json:"min_deposit_amount"`
	BlockchainKey    string          `json:"blockchain_key"`
	ContractAddress  string          `json:"contract_address,omitempty"` // set for tokens, empty for the native asset
}

// Settings holds the retained adapter configuration. Only the keys "server" and "currencies"
// survive Configure, anything else is dropped.
type Settings struct {
	Server     string             `json:"server"`
	Currencies []CurrencySettings `json:"currencies"`
}

// NormalizedTx is one canonical transfer extracted from a raw chain transaction. A raw
// transaction with K outputs configured against C currencies of the same chain yields up to
// K*C of these, one per (output, currency) pair.
type NormalizedTx struct {
	Hash       string          `json:"hash"`
	TxOut      int             `json:"txout"`
	ToAddress  string          `json:"to_address"`
	Amount     decimal.Decimal `json:"amount"`
	CurrencyID string          `json:"currency_id"`
}

// Block is a decoded block: chain linkage fields plus the normalized transfers it contains.
type Block struct {
	Hash         string         `json:"hash"`
	PHash        string         `json:"parentHash"`
	Height       uint64         `json:"height"`
	Transactions []NormalizedTx `json:"transactions"`
}

// RawDeposit is a deposit descriptor as reported by a chain client, before it is keyed and
// persisted by the service layer.
type RawDeposit struct {
	CurrencyID    string          `json:"currency_id,omitempty"`
	TxID          string          `json:"txid"`
	TxOut         int             `json:"txout"`
	Address       string          `json:"address"`
	Amount        decimal.Decimal `json:"amount"`
	Confirmations int64           `json:"confirmations"`
	CreatedAt     *time.Time      `json:"created_at,omitempty"`
}

// FetchOptions bounds a FetchDeposits call. TransactionsLimit caps how many raw transfers are
// inspected on chains where history is otherwise unbounded; zero means no bound.
type FetchOptions struct {
	TransactionsLimit int `json:"transactions_limit"`
}

// Error codes.
var (
	ErrNoBlock       = errors.New("block not available yet")
	ErrBlockDecode   = errors.New("unable to decode block data")
	ErrTxDecode      = errors.New("unable to decode transaction data")
	ErrNotConfigured = errors.New("adapter has no server configured")
	ErrNoCurrency    = errors.New("no currency configured for chain")
	ErrBadSettings   = errors.New("malformed adapter settings")
)
