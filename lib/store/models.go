package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Deposit states.
const (
	DepositSubmitted = "submitted"
	DepositAccepted  = "accepted"
	DepositCollected = "collected"
)

// DepositStateRank orders the deposit states along their lifecycle. Scans re-observe old
// transaction windows, so a stored state must never move backwards; collected is terminal.
func DepositStateRank(state string) int {
	switch state {
	case DepositSubmitted:
		return 1
	case DepositAccepted:
		return 2
	case DepositCollected:
		return 3
	}

	return 0
}

// DepositStatesBelow returns the states that precede state in the deposit lifecycle.
func DepositStatesBelow(state string) []string {
	var below []string

	for _, s := range []string{DepositSubmitted, DepositAccepted, DepositCollected} {
		if DepositStateRank(s) < DepositStateRank(state) {
			below = append(below, s)
		}
	}

	return below
}

// Wallet kinds.
const (
	WalletHot     = "hot"
	WalletCold    = "cold"
	WalletDeposit = "deposit"
)

// Withdraw states.
const (
	WithdrawPending   = "pending"
	WithdrawConfirmed = "confirmed"
	WithdrawFailed    = "failed"
)

// Deposit is one observed incoming transfer. Its natural key is (CurrencyID, TxID, TxOut);
// account-model chains always carry TxOut 0. Amount and Address never change after creation,
// State and Confirmations do.
type Deposit struct {
	CurrencyID    string          `json:"currency_id" bson:"currency_id"`
	TxID          string          `json:"txid" bson:"txid"`
	TxOut         int             `json:"txout" bson:"txout"`
	Address       string          `json:"address" bson:"address"`
	Amount        decimal.Decimal `json:"amount" bson:"amount"`
	State         string          `json:"state" bson:"state"`
	Confirmations int64           `json:"confirmations" bson:"confirmations"`
	ReceivedAt    *time.Time      `json:"received_at,omitempty" bson:"received_at,omitempty"`
}

// Wallet is a custodial wallet record for one currency.
type Wallet struct {
	CurrencyID string `json:"currency_id" bson:"currency_id"`
	Kind       string `json:"kind" bson:"kind"`
	Address    string `json:"address" bson:"address"`
	Active     bool   `json:"active" bson:"active"`
}

// Withdraw is a client-initiated withdrawal request. Amount is the gross on-chain amount, the
// client-facing fee is charged upstream against the ledger, never subtracted here.
type Withdraw struct {
	TID        string          `json:"tid" bson:"tid"`
	CurrencyID string          `json:"currency_id" bson:"currency_id"`
	RID        string          `json:"rid" bson:"rid"` // destination address
	Amount     decimal.Decimal `json:"amount" bson:"amount"`
	TxID       string          `json:"txid,omitempty" bson:"txid,omitempty"`
	State      string          `json:"state" bson:"state"`
	CreatedAt  time.Time       `json:"created_at" bson:"created_at"`
}

// WatchState is the persisted position of the block walker for one chain: last parsed height,
// a ring of recent block hashes for orphan detection and the monitored deposit addresses.
type WatchState struct {
	Block     uint64   `json:"block" bson:"block"`
	Bh        []string `json:"bh" bson:"bh"`
	Bhi       int      `json:"bhi" bson:"bhi"`
	Addresses []string `json:"addresses" bson:"addresses"`
}
