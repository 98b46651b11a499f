package service

import (
	"fmt"
	"log"
	"time"

	"go.uber.org/ratelimit"

	"github.com/chainward/gateway/lib/chain/types"
	"github.com/chainward/gateway/lib/store"
)

// transactionsLimit caps how many wallet transactions one scan pass inspects per chain.
const transactionsLimit = 100

// ProcessDeposits fetches the recent deposits of one blockchain and upserts them by natural
// key. A hard failure ends the pass early: deposits already upserted stay committed and the
// rest are picked up on the next cycle. Returns the number of deposits processed.
func (s *Service) ProcessDeposits(chainKey string) (int, error) {
	a, ok := s.bc[chainKey]
	if !ok {
		return 0, ErrNoChain
	}

	raws, err := a.FetchDeposits(types.FetchOptions{TransactionsLimit: transactionsLimit})
	if err != nil {
		return 0, fmt.Errorf("[%s] cannot fetch deposits: %w", chainKey, err)
	}

	confirmationsRequired := int64(a.MaxBlocks())
	processed := 0

	for _, raw := range raws {
		currencyID := raw.CurrencyID
		if currencyID == "" {
			cur, err := s.nativeCurrency(chainKey)
			if err != nil {
				return processed, fmt.Errorf("[%s] deposit %s: %w", chainKey, raw.TxID, err)
			}

			currencyID = cur.ID
		}

		d := store.Deposit{
			CurrencyID:    currencyID,
			TxID:          raw.TxID,
			TxOut:         raw.TxOut,
			Address:       raw.Address,
			Amount:        raw.Amount,
			State:         store.DepositSubmitted,
			Confirmations: raw.Confirmations,
			ReceivedAt:    raw.CreatedAt,
		}

		if raw.Confirmations >= confirmationsRequired {
			d.State = store.DepositAccepted
		}

		created, err := s.db.UpsertDeposit(d)
		if err != nil {
			return processed, fmt.Errorf("[%s] cannot upsert deposit %s/%d: %w", chainKey, raw.TxID, raw.TxOut, err)
		}

		processed++

		depositsSeen.WithLabelValues(chainKey, currencyID).Inc()

		if (created || d.State == store.DepositAccepted) && s.mb != nil {
			if err := s.mb.SendDeposit(chainKey, d); err != nil {
				s.rep.Report(err, map[string]interface{}{"chain": chainKey, "txid": raw.TxID})
			}
		}
	}

	return processed, nil
}

// ScanDeposits runs deposit scans for every blockchain until the returned stop function is
// called. Scans are spaced by interval and rate limited to one chain call per second.
func (s *Service) ScanDeposits(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	rl := ratelimit.New(1)

	for key := range s.bc {
		go func(chainKey string) {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				rl.Take()

				n, err := s.ProcessDeposits(chainKey)
				if err != nil {
					s.rep.Report(err, map[string]interface{}{"chain": chainKey})
				} else if n > 0 {
					log.Printf("[%s] Processed %d deposits", chainKey, n)
				}

				select {
				case <-done:
					return
				case <-ticker.C:
				}
			}
		}(key)
	}

	return func() { close(done) }
}
