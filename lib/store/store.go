// Package store defines the interface for database implementations backing the scanner and
// wallet services.
package store

import (
	"errors"
)

// DB defines the persistence operations required by the services. Deposit upserts are keyed
// by the deposit natural key and must stay idempotent under concurrent writers: uniqueness is
// enforced by the database, the services never assume they are the only caller.
type DB interface {
	// methods for deposits
	UpsertDeposit(d Deposit) (created bool, err error)
	GetDeposit(currencyID, txID string, txOut int) (Deposit, error)
	GetDeposits(currencyID, state string) ([]Deposit, error)
	UpdateDepositState(currencyID, txID string, txOut int, state string) error

	// methods for wallets
	AddWallet(w Wallet) error
	GetWallets(currencyID, kind string, active bool) ([]Wallet, error)

	// methods for withdraws
	CreateWithdraw(w Withdraw) error
	UpdateWithdraw(tid, txid, state string) error

	// methods for the chain watcher
	LoadWatch(chainKey string) (WatchState, error)
	SaveWatch(chainKey string, ws WatchState) error
}

// Errors returned.
var (
	ErrNotFound     = errors.New("record was not found in store")
	ErrDataNotFound = errors.New("data was not found in store")
)
