// Package service implements the exchange gateway services.
//
// The scan service walks the configured blockchains for incoming deposits and publishes
// accepted ones to the message broker. The wallet service exposes a RESTful API to derive
// deposit addresses, sweep collected deposits into the hot wallet and broadcast client
// withdrawals.
package service

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/tarancss/hd"

	"github.com/chainward/gateway/lib/chain"
	"github.com/chainward/gateway/lib/chain/types"
	"github.com/chainward/gateway/lib/msg"
	"github.com/chainward/gateway/lib/report"
	"github.com/chainward/gateway/lib/store"
	"github.com/chainward/gateway/lib/store/db"
)

// Business rule errors.
var (
	ErrNoChain          = errors.New("blockchain not available")
	ErrNoCurrency       = errors.New("currency not configured")
	ErrNoHotWallet      = errors.New("no active hot wallet for currency")
	ErrManyHotWallets   = errors.New("more than one active hot wallet for currency")
	ErrFeeExceedsAmount = errors.New("fee is greater than or equal to the deposit amount")
	ErrNotCollectable   = errors.New("deposit is not in an accepted state")
	ErrBadAmount        = errors.New("amount must be positive")
	ErrContractCurrency = errors.New("currency is a contract token, only native-asset transfers are broadcast")
)

// Service contains the data necessary to deliver the gateway services.
type Service struct {
	dbtype     string
	db         store.DB
	bc         map[string]chain.Adapter // blockchain adapters by chain key
	currencies []types.CurrencySettings
	hd         *hd.HdWallet
	mb         msg.MsgBroker
	rep        report.Reporter
	watchers   map[string]*watcher
	s          *http.Server  // http server
	ss         *http.Server  // https server
	sc         chan struct{} // http server channel used for graceful shutdowns
}

// New returns a pointer to a new gateway Service.
func New(dbtype string, dbConn store.DB, mb msg.MsgBroker, bc map[string]chain.Adapter,
	currencies []types.CurrencySettings, hdw *hd.HdWallet, rep report.Reporter) *Service {
	if rep == nil {
		rep = report.Log{Tag: "gateway"}
	}

	return &Service{
		dbtype:     dbtype,
		db:         dbConn,
		mb:         mb,
		bc:         bc,
		currencies: currencies,
		hd:         hdw,
		rep:        rep,
		watchers:   make(map[string]*watcher),
	}
}

// Stop shuts down the http servers and closes gracefully the connections to the message
// broker and database.
func (s *Service) Stop() {
	var err error

	for _, w := range s.watchers {
		w.stop()
	}

	if s.s != nil {
		if err = s.s.Shutdown(context.Background()); err != nil {
			log.Printf("Error in http server shutdown: %v", err)
		}
	}

	if s.ss != nil {
		if err = s.ss.Shutdown(context.Background()); err != nil {
			log.Printf("Error in https server shutdown: %v", err)
		}
	}

	if s.sc != nil {
		close(s.sc) // close server channel to indicate shutdowns have finished
	}

	if s.mb != nil {
		if err = s.mb.Close(); err != nil {
			log.Printf("Error closing message broker: %v", err)
		}
	}

	if s.db != nil {
		err = db.Close(s.dbtype, s.db)
		log.Printf("Disconnecting %v database, err:%v", s.dbtype, err)
	}
}

// currency returns the settings of a configured currency.
func (s *Service) currency(currencyID string) (types.CurrencySettings, error) {
	for _, cur := range s.currencies {
		if cur.ID == currencyID {
			return cur, nil
		}
	}

	return types.CurrencySettings{}, ErrNoCurrency
}

// adapterFor returns the chain adapter serving a currency.
func (s *Service) adapterFor(currencyID string) (chain.Adapter, string, error) {
	cur, err := s.currency(currencyID)
	if err != nil {
		return nil, "", err
	}

	a, ok := s.bc[cur.BlockchainKey]
	if !ok {
		return nil, "", ErrNoChain
	}

	return a, cur.BlockchainKey, nil
}

// chainCurrencies returns the currencies served by one blockchain.
func (s *Service) chainCurrencies(chainKey string) []types.CurrencySettings {
	var own []types.CurrencySettings

	for _, cur := range s.currencies {
		if cur.BlockchainKey == chainKey {
			own = append(own, cur)
		}
	}

	return own
}

// nativeCurrency returns the base currency of a blockchain, the one without a contract.
func (s *Service) nativeCurrency(chainKey string) (types.CurrencySettings, error) {
	for _, cur := range s.chainCurrencies(chainKey) {
		if cur.ContractAddress == "" {
			return cur, nil
		}
	}

	return types.CurrencySettings{}, ErrNoCurrency
}

// hotWallet returns the single active hot wallet of a currency. Zero wallets or more than one
// are both business rule violations: a sweep must have exactly one destination.
func (s *Service) hotWallet(currencyID string) (store.Wallet, error) {
	wallets, err := s.db.GetWallets(currencyID, store.WalletHot, true)
	if err != nil {
		return store.Wallet{}, err
	}

	switch len(wallets) {
	case 0:
		return store.Wallet{}, ErrNoHotWallet
	case 1:
		return wallets[0], nil
	}

	return store.Wallet{}, ErrManyHotWallets
}

// ManageEvents starts go routines to consume the deposit events published by the scan
// service. For each connected blockchain, two channels are opened, one for deposits and one
// for errors.
func (s *Service) ManageEvents() error {
	for key := range s.bc {
		mut := new(sync.Mutex)
		mut.Lock()

		depCh, errCh, err := s.mb.GetDeposits(key, mut)
		if err != nil {
			return err
		}

		go func(chainKey string) {
			log.Printf("[%s] Start listening to deposit event channel", chainKey)

			for d := range depCh {
				log.Printf("[%s] Received deposit %s:%d %s %s", chainKey, d.TxID, d.TxOut, d.CurrencyID, d.Amount)
				mut.Unlock()
			}

			log.Printf("[%s] Stop listening to deposit event channel", chainKey)
		}(key)

		go func(chainKey string) {
			for e := range errCh {
				log.Printf("[%s] Received error %+v", chainKey, e)
			}
		}(key)
	}

	return nil
}
