// Package msg defines the interface for different message brokers.
package msg

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chainward/gateway/lib/store"
)

// Topics published to the events exchange.
const (
	DepositTopic  = "deposit"
	WithdrawTopic = "withdraw"
	TradeTopic    = "trade"
)

// DepositEvent is the wire form of an accepted deposit. Amounts travel as fixed-point strings
// so consumers never handle floats.
type DepositEvent struct {
	CurrencyID    string `json:"currency_id"`
	TxID          string `json:"txid"`
	TxOut         int    `json:"txout"`
	Address       string `json:"address"`
	Amount        string `json:"amount"`
	State         string `json:"state"`
	Confirmations int64  `json:"confirmations"`
}

// NewDepositEvent builds the wire event for a deposit record.
func NewDepositEvent(d store.Deposit) DepositEvent {
	return DepositEvent{
		CurrencyID:    d.CurrencyID,
		TxID:          d.TxID,
		TxOut:         d.TxOut,
		Address:       d.Address,
		Amount:        d.Amount.String(),
		State:         d.State,
		Confirmations: d.Confirmations,
	}
}

// Deposit rebuilds the deposit record from the wire event.
func (e DepositEvent) Deposit() (store.Deposit, error) {
	amount, err := decimal.NewFromString(e.Amount)
	if err != nil {
		return store.Deposit{}, err
	}

	return store.Deposit{
		CurrencyID:    e.CurrencyID,
		TxID:          e.TxID,
		TxOut:         e.TxOut,
		Address:       e.Address,
		Amount:        amount,
		State:         e.State,
		Confirmations: e.Confirmations,
	}, nil
}

// WithdrawEvent is the wire form of a withdrawal state change.
type WithdrawEvent struct {
	TID        string `json:"tid"`
	CurrencyID string `json:"currency_id"`
	RID        string `json:"rid"`
	Amount     string `json:"amount"`
	TxID       string `json:"txid,omitempty"`
	State      string `json:"state"`
}

// NewWithdrawEvent builds the wire event for a withdrawal record.
func NewWithdrawEvent(w store.Withdraw) WithdrawEvent {
	return WithdrawEvent{
		TID:        w.TID,
		CurrencyID: w.CurrencyID,
		RID:        w.RID,
		Amount:     w.Amount.String(),
		TxID:       w.TxID,
		State:      w.State,
	}
}

// Trade is a matched trade as known by the service layer. Fee rates apply to the traded
// amount, maker rate to the maker side and taker rate to the taker side.
type Trade struct {
	ID           string
	MarketID     string
	MakerUID     string
	TakerUID     string
	Price        decimal.Decimal
	Amount       decimal.Decimal
	MakerFeeRate decimal.Decimal
	TakerFeeRate decimal.Decimal
	TakerType    string
	CreatedAt    time.Time
}

// TradeCompleted is the wire form of a completed trade. All monetary fields are fixed-point
// strings and the timestamp is RFC3339 in UTC.
type TradeCompleted struct {
	ID        string `json:"id"`
	MarketID  string `json:"market_id"`
	MakerUID  string `json:"maker_uid"`
	TakerUID  string `json:"taker_uid"`
	Price     string `json:"price"`
	Amount    string `json:"amount"`
	Total     string `json:"total"`
	MakerFee  string `json:"maker_fee"`
	TakerFee  string `json:"taker_fee"`
	TakerType string `json:"taker_type"`
	CreatedAt string `json:"created_at"`
}

// NewTradeCompleted serializes a trade for publication.
func NewTradeCompleted(t Trade) TradeCompleted {
	return TradeCompleted{
		ID:        t.ID,
		MarketID:  t.MarketID,
		MakerUID:  t.MakerUID,
		TakerUID:  t.TakerUID,
		Price:     t.Price.String(),
		Amount:    t.Amount.String(),
		Total:     t.Price.Mul(t.Amount).String(),
		MakerFee:  t.Amount.Mul(t.MakerFeeRate).String(),
		TakerFee:  t.Amount.Mul(t.TakerFeeRate).String(),
		TakerType: t.TakerType,
		CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// MsgBroker is the interface the services use to publish and consume gateway events.
type MsgBroker interface {
	Setup() error
	Close() error

	// methods for the scan service
	SendDeposit(chainKey string, d store.Deposit) error
	SendTrade(t Trade) error

	// methods for the wallet service
	SendWithdraw(chainKey string, w store.Withdraw) error
	GetDeposits(chainKey string, mut *sync.Mutex) (<-chan store.Deposit, <-chan error, error)
}
