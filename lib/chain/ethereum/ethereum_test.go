package ethereum

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/chainward/gateway/lib/chain/rpc"
	"github.com/chainward/gateway/lib/chain/types"
)

// mockNode dispatches canned JSON-RPC replies by method, echoing the request id.
func mockNode(t *testing.T, replies map[string]interface{}) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Version string           `json:"jsonrpc"`
			ID      *json.RawMessage `json:"id"`
			Method  string           `json:"method"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("mock node: cannot decode request: %v", err)
			return
		}

		if req.Version != "2.0" {
			t.Errorf("mock node: request version %q, want 2.0", req.Version)
		}

		reply, ok := replies[req.Method]
		if !ok {
			t.Errorf("mock node: unexpected method %q", req.Method)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  reply,
			"error":   nil,
		})
	}))
}

func TestFeaturesDefaults(t *testing.T) {
	e := New("http://127.0.0.1:8545", "", 8, nil)

	if !reflect.DeepEqual(e.Features(), DefaultFeatures) {
		t.Errorf("Features() = %v, want defaults %v", e.Features(), DefaultFeatures)
	}
}

func TestFeaturesOverride(t *testing.T) {
	e := New("http://127.0.0.1:8545", "", 8, map[string]interface{}{"supports_cash_addr_format": true})

	if v, _ := e.Features()["supports_cash_addr_format"].(bool); !v {
		t.Errorf("override not applied: %v", e.Features())
	}

	if v, _ := e.Features()["case_sensitive"].(bool); v {
		t.Errorf("default lost after override: %v", e.Features())
	}
}

func TestFeaturesCustomKeyPassthrough(t *testing.T) {
	e := New("http://127.0.0.1:8545", "", 8, map[string]interface{}{"custom_feature": "custom"})

	f := e.Features()
	if len(f) != len(DefaultFeatures)+1 {
		t.Errorf("Features() = %v, want defaults plus custom key", f)
	}

	if f["custom_feature"] != "custom" {
		t.Errorf("custom key not preserved: %v", f)
	}
}

func TestConfigure(t *testing.T) {
	e := New("http://127.0.0.1:8545", "", 8, nil)

	if !reflect.DeepEqual(e.Settings(), types.Settings{}) {
		t.Errorf("default settings not empty: %+v", e.Settings())
	}

	currencies := []types.CurrencySettings{
		{ID: "eth", BaseFactor: 18, BlockchainKey: "eth-rinkeby"},
	}

	in := map[string]interface{}{
		"server":     "http://127.0.0.1:18545",
		"currencies": currencies,
		"something":  "custom",
	}

	if err := e.Configure(in); err != nil {
		t.Fatalf("Configure err: %v", err)
	}

	want := types.Settings{Server: "http://127.0.0.1:18545", Currencies: currencies}
	if !reflect.DeepEqual(e.Settings(), want) {
		t.Errorf("Settings() = %+v, want only the supported subset %+v", e.Settings(), want)
	}

	// idempotent: same input, same result
	if err := e.Configure(in); err != nil {
		t.Fatalf("Configure (second call) err: %v", err)
	}

	if !reflect.DeepEqual(e.Settings(), want) {
		t.Errorf("Settings() after reconfigure = %+v, want %+v", e.Settings(), want)
	}
}

func TestLatestBlockNumber(t *testing.T) {
	node := mockNode(t, map[string]interface{}{"eth_blockNumber": 1489174})
	defer node.Close()

	e := New(node.URL, "", 8, nil)

	height, err := e.LatestBlockNumber()
	if err != nil || height != 1489174 {
		t.Errorf("LatestBlockNumber = %d err:%v, want 1489174", height, err)
	}
}

func TestLatestBlockNumberHexQuantity(t *testing.T) {
	node := mockNode(t, map[string]interface{}{"eth_blockNumber": "0x29bf9b"})
	defer node.Close()

	e := New(node.URL, "", 8, nil)

	height, err := e.LatestBlockNumber()
	if err != nil || height != 0x29bf9b {
		t.Errorf("LatestBlockNumber = %d err:%v, want %d", height, err, 0x29bf9b)
	}
}

func TestLatestBlockNumberResponseError(t *testing.T) {
	// error object present: must fail even though a result is present too
	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":1489174,` +
			`"error":{"code":-32601,"message":"Method not found"}}`))
	}))
	defer node.Close()

	e := New(node.URL, "", 8, nil)

	_, err := e.LatestBlockNumber()

	var respErr *rpc.ResponseError
	if !errors.As(err, &respErr) {
		t.Fatalf("err = %v, want *rpc.ResponseError", err)
	}

	if respErr.Code != -32601 || respErr.Message != "Method not found" {
		t.Errorf("ResponseError = %+v", respErr)
	}
}

func TestLatestBlockNumberTransportError(t *testing.T) {
	e := New("http://127.0.0.1:1", "", 8, nil) // nothing listens here

	_, err := e.LatestBlockNumber()
	if err == nil {
		t.Fatal("want transport error")
	}

	var respErr *rpc.ResponseError
	if errors.As(err, &respErr) {
		t.Errorf("transport failure decoded as ResponseError: %v", err)
	}
}

// rawTx is a decoded native transfer of 0.1 ether.
var rawTx = map[string]interface{}{
	"hash":  "0xdbd3184b2f947dab243071000df22cf5acc6efdce90a04aaf057521b1ee5bf60",
	"from":  "0x1cd434711fbae1f2d9c70001409fd82d71fdccaa",
	"to":    "0xa34de7bd2b4270c0b12d5fd7a0c219a4d68d732f",
	"input": "0x",
	"value": "0x16345785d8a0000",
}

func TestBuildTransaction(t *testing.T) {
	e := New("http://127.0.0.1:8545", "", 8, nil)
	_ = e.Configure(map[string]interface{}{
		"currencies": []types.CurrencySettings{{ID: "eth", BaseFactor: 18}},
	})

	txs, err := e.BuildTransaction(rawTx)
	if err != nil {
		t.Fatalf("BuildTransaction err: %v", err)
	}

	if len(txs) != 1 {
		t.Fatalf("got %d records, want 1: %+v", len(txs), txs)
	}

	want := types.NormalizedTx{
		Hash:       "0xdbd3184b2f947dab243071000df22cf5acc6efdce90a04aaf057521b1ee5bf60",
		TxOut:      0,
		ToAddress:  "0xa34de7bd2b4270c0b12d5fd7a0c219a4d68d732f",
		Amount:     decimal.RequireFromString("0.1"),
		CurrencyID: "eth",
	}

	if txs[0].Hash != want.Hash || txs[0].TxOut != want.TxOut || txs[0].ToAddress != want.ToAddress ||
		!txs[0].Amount.Equal(want.Amount) || txs[0].CurrencyID != want.CurrencyID {
		t.Errorf("got %+v, want %+v", txs[0], want)
	}
}

func TestBuildTransactionMultipleCurrencies(t *testing.T) {
	e := New("http://127.0.0.1:8545", "", 8, nil)
	_ = e.Configure(map[string]interface{}{
		"currencies": []types.CurrencySettings{
			{ID: "eth", BaseFactor: 18},
			{ID: "weth", BaseFactor: 18},
		},
	})

	txs, err := e.BuildTransaction(rawTx)
	if err != nil {
		t.Fatalf("BuildTransaction err: %v", err)
	}

	if len(txs) != 2 {
		t.Fatalf("got %d records, want one per currency: %+v", len(txs), txs)
	}

	if txs[0].CurrencyID != "eth" || txs[1].CurrencyID != "weth" {
		t.Errorf("currency ids %q %q", txs[0].CurrencyID, txs[1].CurrencyID)
	}

	if txs[0].Hash != txs[1].Hash || !txs[0].Amount.Equal(txs[1].Amount) || txs[0].TxOut != txs[1].TxOut {
		t.Errorf("fan-out records differ beyond currency id: %+v", txs)
	}
}

func TestBuildTransactionDustDropsPerCurrency(t *testing.T) {
	e := New("http://127.0.0.1:8545", "", 8, nil)
	_ = e.Configure(map[string]interface{}{
		"currencies": []types.CurrencySettings{
			{ID: "eth", BaseFactor: 18, MinDepositAmount: decimal.RequireFromString("0.2")},
			{ID: "weth", BaseFactor: 18, MinDepositAmount: decimal.RequireFromString("0.05")},
		},
	})

	txs, err := e.BuildTransaction(rawTx) // 0.1 ether
	if err != nil {
		t.Fatalf("BuildTransaction err: %v", err)
	}

	if len(txs) != 1 || txs[0].CurrencyID != "weth" {
		t.Errorf("dust threshold must drop the output per currency only, got %+v", txs)
	}
}

func TestBuildTransactionToken(t *testing.T) {
	e := New("http://127.0.0.1:8545", "", 8, nil)
	_ = e.Configure(map[string]interface{}{
		"currencies": []types.CurrencySettings{
			{ID: "eth", BaseFactor: 18},
			{ID: "tok", BaseFactor: 6, ContractAddress: "0x7762440182222620a7435195208038708d27ee41"},
		},
	})

	// transfer(0x357dd3856d856197c1a000bbab4abcb97dfc92c4, 20000000)
	tokenTx := map[string]interface{}{
		"hash": "0xc39f3c2c2b5c0a772e8605bbeef7d341937b85e739a3c55d1e7384ac88f31c65",
		"to":   "0x7762440182222620a7435195208038708d27ee41",
		"input": "0xa9059cbb" +
			"000000000000000000000000357dd3856d856197c1a000bbab4abcb97dfc92c4" +
			"0000000000000000000000000000000000000000000000000000000001312d00",
		"value": "0x0",
	}

	txs, err := e.BuildTransaction(tokenTx)
	if err != nil {
		t.Fatalf("BuildTransaction err: %v", err)
	}

	if len(txs) != 1 {
		t.Fatalf("got %d records, want the token currency only: %+v", len(txs), txs)
	}

	if txs[0].CurrencyID != "tok" ||
		txs[0].ToAddress != "0x357dd3856d856197c1a000bbab4abcb97dfc92c4" ||
		!txs[0].Amount.Equal(decimal.RequireFromString("20")) {
		t.Errorf("got %+v", txs[0])
	}
}

// fixtureBlock carries three transactions: two native transfers and one token call. With a
// native currency configured, only the two transfers normalize.
var fixtureBlock = map[string]interface{}{
	"hash":       "0xd44a255e40eee23bd90a54a792f7a35c175400958de22a9bbfe08a7b2c244ed6",
	"parentHash": "0x25e2e6cfc2f49ef320c652d91a7bea99a2d115d29ea832631e5f11911a463158",
	"number":     "0x29bf9b",
	"timestamp":  "0x5a952da9",
	"transactions": []interface{}{
		map[string]interface{}{
			"hash":  "0xdbd3184b2f947dab243071000df22cf5acc6efdce90a04aaf057521b1ee5bf60",
			"to":    "0xa34de7bd2b4270c0b12d5fd7a0c219a4d68d732f",
			"input": "0x",
			"value": "0x16345785d8a0000",
		},
		map[string]interface{}{
			"hash": "0xc39f3c2c2b5c0a772e8605bbeef7d341937b85e739a3c55d1e7384ac88f31c65",
			"to":   "0x7762440182222620a7435195208038708d27ee41",
			"input": "0xa9059cbb" +
				"000000000000000000000000357dd3856d856197c1a000bbab4abcb97dfc92c4" +
				"0000000000000000000000000000000000000000000000000000000001312d00",
			"value": "0x0",
		},
		map[string]interface{}{
			"hash":  "0x1b942b6b1d464a1b3b5b53f7a6d1a834b2f947dab243071000df22cf5acc6efd",
			"to":    "0x357dd3856d856197c1a000bbab4abcb97dfc92c4",
			"input": "0x",
			"value": "0x2386f26fc10000",
		},
	},
}

func TestFetchDepositsConfirmations(t *testing.T) {
	node := mockNode(t, map[string]interface{}{
		"eth_accounts":         []string{"0xA34DE7bd2b4270C0B12d5FD7a0C219a4d68D732F"},
		"eth_blockNumber":      "0x29bf9b",
		"eth_getBlockByNumber": fixtureBlock,
	})
	defer node.Close()

	e := New(node.URL, "", 8, nil)
	_ = e.Configure(map[string]interface{}{
		"currencies": []types.CurrencySettings{{ID: "eth", BaseFactor: 18}},
	})

	// the mock answers every height with the same block, so the walk visits the tip
	// and the block below it before the transaction limit is reached
	deposits, err := e.FetchDeposits(types.FetchOptions{TransactionsLimit: 4})
	if err != nil {
		t.Fatalf("FetchDeposits err: %v", err)
	}

	if len(deposits) != 2 {
		t.Fatalf("got %d deposits, want one per visited block: %+v", len(deposits), deposits)
	}

	if deposits[0].Confirmations != 0 || deposits[1].Confirmations != 1 {
		t.Errorf("confirmations must count blocks behind the tip, got %d and %d",
			deposits[0].Confirmations, deposits[1].Confirmations)
	}

	if deposits[0].CurrencyID != "eth" ||
		deposits[0].Address != "0xa34de7bd2b4270c0b12d5fd7a0c219a4d68d732f" {
		t.Errorf("deposit fields wrong: %+v", deposits[0])
	}
}

func TestFetchBlock(t *testing.T) {
	node := mockNode(t, map[string]interface{}{"eth_getBlockByNumber": fixtureBlock})
	defer node.Close()

	e := New(node.URL, "", 8, nil)
	_ = e.Configure(map[string]interface{}{
		"currencies": []types.CurrencySettings{{ID: "eth", BaseFactor: 18}},
	})

	blk, err := e.FetchBlock(0x29bf9b)
	if err != nil {
		t.Fatalf("FetchBlock err: %v", err)
	}

	if blk.Hash != "0xd44a255e40eee23bd90a54a792f7a35c175400958de22a9bbfe08a7b2c244ed6" ||
		blk.PHash != "0x25e2e6cfc2f49ef320c652d91a7bea99a2d115d29ea832631e5f11911a463158" {
		t.Errorf("block linkage fields wrong: %+v", blk)
	}

	if len(blk.Transactions) != 2 {
		t.Fatalf("got %d normalized txs, want the two native transfers: %+v", len(blk.Transactions), blk.Transactions)
	}

	if blk.Transactions[0].Hash != "0xdbd3184b2f947dab243071000df22cf5acc6efdce90a04aaf057521b1ee5bf60" ||
		blk.Transactions[1].Hash != "0x1b942b6b1d464a1b3b5b53f7a6d1a834b2f947dab243071000df22cf5acc6efd" {
		t.Errorf("transfer identifiers not preserved: %+v", blk.Transactions)
	}
}

func TestFetchBlockNotMined(t *testing.T) {
	node := mockNode(t, map[string]interface{}{"eth_getBlockByNumber": nil})
	defer node.Close()

	e := New(node.URL, "", 8, nil)

	_, err := e.FetchBlock(99999999)
	if !errors.Is(err, types.ErrNoBlock) {
		t.Errorf("err = %v, want ErrNoBlock", err)
	}
}
