package service

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"go.uber.org/ratelimit"

	"github.com/chainward/gateway/lib/chain/types"
	"github.com/chainward/gateway/lib/store"
)

// watcher states.
const (
	watchWork = iota
	watchStop
)

// watcher tracks the walk of one blockchain: the last block parsed, a ring of recent block
// hashes for orphan detection and the set of deposit addresses being watched.
type watcher struct {
	l             sync.Mutex
	status        int
	caseSensitive bool
	block         uint64
	bh            []string // last maxBlocks hashes, ring buffer
	bhi           int      // index of the last block's hash in bh
	addrs         map[string]struct{}
}

// newWatcher restores the walk state of a chain from the store, or starts from block zero
// when none was saved.
func newWatcher(chainKey string, maxBlocks int, caseSensitive bool, db store.DB) (*watcher, error) {
	if maxBlocks < 1 {
		maxBlocks = 1
	}

	w := &watcher{
		status:        watchWork,
		caseSensitive: caseSensitive,
		bh:            make([]string, maxBlocks),
		addrs:         make(map[string]struct{}),
	}

	ws, err := db.LoadWatch(chainKey)

	switch {
	case errors.Is(err, store.ErrDataNotFound):
		// never walked this chain, start fresh
	case err != nil:
		return nil, err
	default:
		w.block = ws.Block
		w.bhi = ws.Bhi

		copy(w.bh, ws.Bh)

		for _, a := range ws.Addresses {
			w.addrs[w.key(a)] = struct{}{}
		}
	}

	return w, nil
}

func (w *watcher) key(address string) string {
	if w.caseSensitive {
		return address
	}

	return strings.ToLower(address)
}

// add registers a deposit address to watch.
func (w *watcher) add(address string) {
	w.l.Lock()
	defer w.l.Unlock()

	w.addrs[w.key(address)] = struct{}{}
}

// empty reports whether there is anything to watch.
func (w *watcher) empty() bool {
	w.l.Lock()
	defer w.l.Unlock()

	return len(w.addrs) == 0
}

// scan returns the transfers paying a watched address.
func (w *watcher) scan(txs []types.NormalizedTx) []types.NormalizedTx {
	w.l.Lock()
	defer w.l.Unlock()

	var r []types.NormalizedTx

	for _, tx := range txs {
		if _, ok := w.addrs[w.key(tx.ToAddress)]; ok {
			r = append(r, tx)
		}
	}

	return r
}

// chained checks if the supplied parent hash is the last block's hash.
func (w *watcher) chained(phash string) bool {
	w.l.Lock()
	defer w.l.Unlock()

	return w.bh[w.bhi] == phash || w.bh[w.bhi] == ""
}

// updateChain records a parsed block's hash.
func (w *watcher) updateChain(hash string) {
	w.l.Lock()
	defer w.l.Unlock()

	w.block++
	w.bhi++
	w.bhi %= len(w.bh)
	w.bh[w.bhi] = hash
}

func (w *watcher) toStore() store.WatchState {
	w.l.Lock()
	defer w.l.Unlock()

	addrs := make([]string, 0, len(w.addrs))
	for a := range w.addrs {
		addrs = append(addrs, a)
	}

	return store.WatchState{Block: w.block, Bh: w.bh, Bhi: w.bhi, Addresses: addrs}
}

func (w *watcher) stop() {
	w.l.Lock()
	w.status = watchStop
	w.l.Unlock()
}

func (w *watcher) working() bool {
	w.l.Lock()
	defer w.l.Unlock()

	return w.status == watchWork
}

// Watch starts a block walker go routine for each blockchain. Each walker resumes from its
// saved state, detects unchained blocks and records the deposits paying watched addresses.
// The returned channel reports when all walkers have terminated.
func (s *Service) Watch() chan string {
	ret := make(chan string, 1)
	done := make(chan string, len(s.bc))

	started := 0

	for key := range s.bc {
		a := s.bc[key]

		caseSensitive, _ := a.Features()["case_sensitive"].(bool)

		w, err := newWatcher(key, a.MaxBlocks(), caseSensitive, s.db)
		if err != nil {
			log.Printf("[%s] Cannot restore watch state: %v", key, err)

			continue
		}

		// watch the recorded deposit addresses of every currency on this chain
		for _, cur := range s.chainCurrencies(key) {
			wallets, err := s.db.GetWallets(cur.ID, store.WalletDeposit, true)
			if err != nil {
				log.Printf("[%s] Cannot load deposit wallets: %v", key, err)

				continue
			}

			for _, dw := range wallets {
				w.add(dw.Address)
			}
		}

		s.watchers[key] = w
		started++

		s.watchChain(key, done)
	}

	go func() {
		for i := 1; i < started+1; i++ {
			log.Printf("Watch, channel %d/%d returned: %s", i, started, <-done)
		}

		ret <- "Done!"
	}()

	return ret
}

// watchChain walks the blocks of one blockchain. When the walker ends, its error status is
// written to the ret channel so the calling routine can control graceful termination. A chain
// with no watched addresses waits and does not fetch any blocks.
func (s *Service) watchChain(chainKey string, ret chan string) {
	w := s.watchers[chainKey]
	a := s.bc[chainKey]

	log.Printf("[%s] Watching at block %d...", chainKey, w.block)

	go func() {
		var err error

		rl := ratelimit.New(1) // at most one block fetched per second

		defer func() {
			errSave := s.db.SaveWatch(chainKey, w.toStore())
			ret <- fmt.Sprintf("[%s] Done! err:%v err2:%v", chainKey, err, errSave)
		}()

		for w.working() {
			if w.empty() {
				log.Printf("[%s] Waiting for deposit addresses to watch", chainKey)
				time.Sleep(time.Duration(a.AvgBlock()) * time.Second)

				continue
			}

			rl.Take()

			blk, errFetch := a.FetchBlock(w.block + 1)
			if errFetch != nil {
				if errors.Is(errFetch, types.ErrNoBlock) {
					// wait for a new block to be mined
					time.Sleep(time.Duration(a.AvgBlock()) * time.Second)

					continue
				}

				err = errFetch

				s.rep.Report(err, map[string]interface{}{"chain": chainKey, "block": w.block + 1})
				w.stop()

				return
			}

			log.Printf("[%s] Parsing block %d hash:%s pHash:%s", chainKey, w.block+1, blk.Hash, blk.PHash)

			if !w.chained(blk.PHash) {
				err = fmt.Errorf("[%s] block %d is not chained", chainKey, w.block+1)

				s.rep.Report(err, map[string]interface{}{"chain": chainKey, "hash": blk.Hash})
				w.stop()

				return
			}

			w.updateChain(blk.Hash)
			blocksWalked.WithLabelValues(chainKey).Inc()

			for _, tx := range w.scan(blk.Transactions) {
				d := store.Deposit{
					CurrencyID: tx.CurrencyID,
					TxID:       tx.Hash,
					TxOut:      tx.TxOut,
					Address:    tx.ToAddress,
					Amount:     tx.Amount,
					State:      store.DepositSubmitted,
				}

				created, errUp := s.db.UpsertDeposit(d)
				if errUp != nil {
					s.rep.Report(errUp, map[string]interface{}{"chain": chainKey, "txid": tx.Hash, "txout": tx.TxOut})

					continue
				}

				depositsSeen.WithLabelValues(chainKey, tx.CurrencyID).Inc()

				if created && s.mb != nil {
					if errPub := s.mb.SendDeposit(chainKey, d); errPub != nil {
						s.rep.Report(errPub, map[string]interface{}{"chain": chainKey, "txid": tx.Hash})
					}
				}
			}

			if errSave := s.db.SaveWatch(chainKey, w.toStore()); errSave != nil {
				s.rep.Report(errSave, map[string]interface{}{"chain": chainKey})

				break
			}
		}
	}()
}
