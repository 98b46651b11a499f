package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chainward/gateway/lib/store"
)

// CollectDeposit sweeps an accepted deposit into the currency's hot wallet. The network fee
// is deducted from the deposit amount, so the swept value is amount minus fee. A fee greater
// than or equal to the amount aborts the sweep before anything is broadcast. Contract
// currencies are rejected: the broadcast path moves the chain's native asset.
func (s *Service) CollectDeposit(currencyID, txID string, txOut int, opts map[string]interface{}) (string, error) {
	cur, err := s.currency(currencyID)
	if err != nil {
		return "", err
	}

	if cur.ContractAddress != "" {
		return "", fmt.Errorf("%w: %s", ErrContractCurrency, currencyID)
	}

	d, err := s.db.GetDeposit(currencyID, txID, txOut)
	if err != nil {
		return "", err
	}

	if d.State != store.DepositAccepted {
		return "", fmt.Errorf("%w: %s:%d is %s", ErrNotCollectable, txID, txOut, d.State)
	}

	hot, err := s.hotWallet(currencyID)
	if err != nil {
		return "", err
	}

	a, chainKey, err := s.adapterFor(currencyID)
	if err != nil {
		return "", err
	}

	fee, err := a.BuildRawTransaction(hot.Address, d.Amount)
	if err != nil {
		return "", fmt.Errorf("[%s] cannot estimate sweep fee: %w", chainKey, err)
	}

	collectible := d.Amount.Sub(fee)
	if collectible.LessThanOrEqual(decimal.Zero) {
		return "", fmt.Errorf("%w: amount %s, fee %s", ErrFeeExceedsAmount, d.Amount, fee)
	}

	hash, err := a.CreateWithdrawal(d.Address, hot.Address, collectible, opts)
	if err != nil {
		return "", fmt.Errorf("[%s] sweep broadcast failed: %w", chainKey, err)
	}

	if err := s.db.UpdateDepositState(currencyID, txID, txOut, store.DepositCollected); err != nil {
		s.rep.Report(err, map[string]interface{}{"chain": chainKey, "txid": txID, "txout": txOut})
	}

	depositsCollected.WithLabelValues(chainKey, currencyID).Inc()

	return hash, nil
}

// CollectDeposits sweeps every accepted deposit of a currency, reporting per-deposit failures
// and carrying on. Returns the transaction hashes of the successful sweeps.
func (s *Service) CollectDeposits(currencyID string, opts map[string]interface{}) ([]string, error) {
	deposits, err := s.db.GetDeposits(currencyID, store.DepositAccepted)
	if err != nil {
		return nil, err
	}

	var hashes []string

	for _, d := range deposits {
		hash, err := s.CollectDeposit(currencyID, d.TxID, d.TxOut, opts)
		if err != nil {
			s.rep.Report(err, map[string]interface{}{
				"currency": currencyID,
				"txid":     d.TxID,
				"txout":    d.TxOut,
			})

			continue
		}

		hashes = append(hashes, hash)
	}

	return hashes, nil
}

// Withdraw broadcasts a client withdrawal of the requested gross amount from the currency's
// hot wallet to the recipient address. Unlike a sweep, the network fee is paid on top by the
// hot wallet, never subtracted from what the client receives. Contract currencies are
// rejected like sweeps reject them.
func (s *Service) Withdraw(currencyID, rid string, amount decimal.Decimal, opts map[string]interface{}) (store.Withdraw, error) {
	w := store.Withdraw{
		TID:        uuid.NewString(),
		CurrencyID: currencyID,
		RID:        rid,
		Amount:     amount,
		State:      store.WithdrawPending,
		CreatedAt:  time.Now().UTC(),
	}

	if amount.LessThanOrEqual(decimal.Zero) {
		return w, fmt.Errorf("%w: amount %s", ErrBadAmount, amount)
	}

	cur, err := s.currency(currencyID)
	if err != nil {
		return w, err
	}

	if cur.ContractAddress != "" {
		return w, fmt.Errorf("%w: %s", ErrContractCurrency, currencyID)
	}

	hot, err := s.hotWallet(currencyID)
	if err != nil {
		return w, err
	}

	a, chainKey, err := s.adapterFor(currencyID)
	if err != nil {
		return w, err
	}

	if err := s.db.CreateWithdraw(w); err != nil {
		return w, err
	}

	hash, err := a.CreateWithdrawal(hot.Address, rid, amount, opts)
	if err != nil {
		w.State = store.WithdrawFailed

		if errUpd := s.db.UpdateWithdraw(w.TID, "", store.WithdrawFailed); errUpd != nil {
			s.rep.Report(errUpd, map[string]interface{}{"tid": w.TID})
		}

		return w, fmt.Errorf("[%s] withdrawal broadcast failed: %w", chainKey, err)
	}

	w.TxID, w.State = hash, store.WithdrawConfirmed

	if err := s.db.UpdateWithdraw(w.TID, hash, store.WithdrawConfirmed); err != nil {
		s.rep.Report(err, map[string]interface{}{"tid": w.TID, "txid": hash})
	}

	withdrawals.WithLabelValues(chainKey, currencyID).Inc()

	if s.mb != nil {
		if err := s.mb.SendWithdraw(chainKey, w); err != nil {
			s.rep.Report(err, map[string]interface{}{"tid": w.TID})
		}
	}

	return w, nil
}

// DepositAddress asks the chain for a fresh deposit address of the currency and records it.
func (s *Service) DepositAddress(currencyID string, opts map[string]interface{}) (string, error) {
	a, chainKey, err := s.adapterFor(currencyID)
	if err != nil {
		return "", err
	}

	address, err := a.CreateAddress(opts)
	if err != nil {
		return "", fmt.Errorf("[%s] cannot create address: %w", chainKey, err)
	}

	err = s.db.AddWallet(store.Wallet{
		CurrencyID: currencyID,
		Kind:       store.WalletDeposit,
		Address:    address,
		Active:     true,
	})
	if err != nil {
		return "", err
	}

	return address, nil
}
