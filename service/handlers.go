package service

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/tarancss/hd"
)

// Errors returned to client requests.
var (
	ErrBadRequest      = errors.New("bad request")
	ErrChange          = errors.New("invalid change: has to be either 0 / 1 or external / change")
	ErrMissingCurrency = errors.New("undefined currency - missing query: ?currency=<id>")
	ErrNoAddr          = errors.New("undefined address - missing in uri")
)

// Response defines the data structure returned to the client making the http request.
type Response struct {
	Body  string `json:"body"`
	Error string `json:"error,omitempty"`
}

// reply writes the Response and logs the request. Business rule violations map to 422,
// unknown resources to 404 and anything else failing to 400.
func reply(rw http.ResponseWriter, r *http.Request, body interface{}, err error) {
	var res Response

	if err != nil {
		res.Error = fmt.Sprintf("%s", err)

		switch {
		case errors.Is(err, ErrFeeExceedsAmount) || errors.Is(err, ErrNotCollectable) ||
			errors.Is(err, ErrNoHotWallet) || errors.Is(err, ErrManyHotWallets) ||
			errors.Is(err, ErrBadAmount) || errors.Is(err, ErrContractCurrency):
			rw.WriteHeader(http.StatusUnprocessableEntity)
		case errors.Is(err, ErrNoChain) || errors.Is(err, ErrNoCurrency):
			rw.WriteHeader(http.StatusNotFound)
		default:
			rw.WriteHeader(http.StatusBadRequest)
		}
	} else {
		rw.WriteHeader(http.StatusOK)

		if s, ok := body.(string); ok {
			res.Body = s
		} else {
			tmp, _ := json.Marshal(body)
			res.Body = string(tmp)
		}
	}

	log.Printf("httpreq from %v %s err:%v", r.RemoteAddr, r.RequestURI, err)
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	_ = json.NewEncoder(rw).Encode(&res)
}

// homeHandler just replies a welcome message to the client.
func (s *Service) homeHandler(rw http.ResponseWriter, r *http.Request) {
	var res Response

	log.Printf("httpreq from %v %s", r.RemoteAddr, r.RequestURI)

	res.Body = "Hello, this is your exchange gateway!"

	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	_ = json.NewEncoder(rw).Encode(res)
}

// chainInfo describes one connected blockchain to API clients.
type chainInfo struct {
	Key        string                 `json:"key"`
	Currencies []string               `json:"currencies"`
	Features   map[string]interface{} `json:"features"`
}

// chainsHandler replies the blockchains available to the gateway.
func (s *Service) chainsHandler(rw http.ResponseWriter, r *http.Request) {
	pl := make([]chainInfo, 0, len(s.bc))

	for key, a := range s.bc {
		ci := chainInfo{Key: key, Features: a.Features()}
		for _, cur := range s.chainCurrencies(key) {
			ci.Currencies = append(ci.Currencies, cur.ID)
		}

		pl = append(pl, ci)
	}

	reply(rw, r, pl, nil)
}

// balanceHandler replies the balance of the requested address in the queried currency.
func (s *Service) balanceHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err error
		bal decimal.Decimal
	)

	defer func() {
		reply(rw, r, bal.String(), err)
	}()

	if err = r.ParseForm(); err != nil {
		return
	}

	address, ok := mux.Vars(r)["address"]
	if !ok {
		err = ErrNoAddr

		return
	}

	cur, okC := r.Form["currency"]
	if !okC || len(cur) != 1 {
		err = ErrMissingCurrency

		return
	}

	a, _, errA := s.adapterFor(cur[0])
	if errA != nil {
		err = errA

		return
	}

	bal, err = a.LoadBalance(address, cur[0])
}

// hdAddrHandler replies the HD wallet address requested to the client. The query must
// contain wallet, change and id.
func (s *Service) hdAddrHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err  error
		addr []byte
	)

	defer func() {
		reply(rw, r, "0x"+hex.EncodeToString(addr), err)
	}()

	if err = r.ParseForm(); err != nil {
		return
	}

	var wallet, id uint64

	var change uint8

	tmp, ok := r.Form["wallet"]
	if !ok {
		err = ErrBadRequest

		return
	}

	if wallet, err = strconv.ParseUint(tmp[0], 0, 32); err != nil {
		return
	}

	tmp, ok = r.Form["change"]
	if !ok {
		err = ErrBadRequest

		return
	}

	switch tmp[0] {
	case "0", "external":
		change = hd.External
	case "1", "change":
		change = hd.Change
	default:
		err = ErrChange

		return
	}

	tmp, ok = r.Form["id"]
	if !ok {
		err = ErrBadRequest

		return
	}

	if id, err = strconv.ParseUint(tmp[0], 0, 32); err != nil {
		return
	}

	addr, _, _, err = s.hd.Address(uint32(wallet), change, uint32(id))
}

// depositAddrHandler creates a fresh deposit address for the queried currency.
func (s *Service) depositAddrHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err     error
		address string
	)

	defer func() {
		reply(rw, r, address, err)
	}()

	if err = r.ParseForm(); err != nil {
		return
	}

	cur, ok := r.Form["currency"]
	if !ok || len(cur) != 1 {
		err = ErrMissingCurrency

		return
	}

	opts := map[string]interface{}{}
	if lbl, okL := r.Form["label"]; okL {
		opts["label"] = lbl[0]
	}

	address, err = s.DepositAddress(cur[0], opts)
	if err == nil {
		if w, okW := s.watchers[s.chainKeyOf(cur[0])]; okW {
			w.add(address)
		}
	}
}

// depositsHandler replies the deposits of a currency, optionally filtered by ?state=.
func (s *Service) depositsHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err      error
		deposits interface{}
	)

	defer func() {
		reply(rw, r, deposits, err)
	}()

	if err = r.ParseForm(); err != nil {
		return
	}

	state := ""
	if tmp, ok := r.Form["state"]; ok {
		state = tmp[0]
	}

	currency := mux.Vars(r)["currency"]
	if _, err = s.currency(currency); err != nil {
		return
	}

	deposits, err = s.db.GetDeposits(currency, state)
}

// collectOneHandler sweeps one accepted deposit into the hot wallet.
func (s *Service) collectOneHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err  error
		hash string
	)

	defer func() {
		reply(rw, r, hash, err)
	}()

	v := mux.Vars(r)

	txout, errConv := strconv.Atoi(v["txout"])
	if errConv != nil {
		err = ErrBadRequest

		return
	}

	hash, err = s.CollectDeposit(v["currency"], v["txid"], txout, nil)
}

// collectHandler sweeps every accepted deposit of a currency into the hot wallet.
func (s *Service) collectHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err    error
		hashes []string
	)

	defer func() {
		reply(rw, r, hashes, err)
	}()

	hashes, err = s.CollectDeposits(mux.Vars(r)["currency"], nil)
}

// withdrawReq is the request body of a client withdrawal.
type withdrawReq struct {
	Currency string `json:"currency"`
	RID      string `json:"rid"`    // recipient address
	Amount   string `json:"amount"` // gross amount, fixed-point string
}

// withdrawHandler broadcasts a client withdrawal of the requested gross amount.
func (s *Service) withdrawHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err error
		w   interface{}
	)

	defer func() {
		reply(rw, r, w, err)
	}()

	var req withdrawReq
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		return
	}

	amount, errAmt := decimal.NewFromString(req.Amount)
	if errAmt != nil {
		err = fmt.Errorf("%w: %s", ErrBadAmount, req.Amount)

		return
	}

	w, err = s.Withdraw(req.Currency, req.RID, amount, nil)
}

// chainKeyOf returns the blockchain key serving a currency, empty when unknown.
func (s *Service) chainKeyOf(currencyID string) string {
	cur, err := s.currency(currencyID)
	if err != nil {
		return ""
	}

	return cur.BlockchainKey
}
