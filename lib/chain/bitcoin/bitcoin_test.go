package bitcoin

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/chainward/gateway/lib/chain/rpc"
	"github.com/chainward/gateway/lib/chain/types"
)

// mockNode dispatches canned raw JSON results by method, echoing the request id.
func mockNode(t *testing.T, replies map[string]string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     *json.RawMessage `json:"id"`
			Method string           `json:"method"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("mock node: cannot decode request: %v", err)
			return
		}

		reply, ok := replies[req.Method]
		if !ok {
			t.Errorf("mock node: unexpected method %q", req.Method)

			reply = "null"
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(*req.ID) + `,"result":` + reply + `,"error":null}`))
	}))
}

// rawTx is a decoded transaction with two payment outputs.
const rawTxJSON = `{
  "txid": "1858591d8ce638c37d5fcd92b9b33ee96be1b950e593cf0cbf45e6bfb1ad8a22",
  "vout": [
    {"value": 0.325, "n": 0, "scriptPubKey": {"addresses": ["mg4KVGerD3rYricWC8CoBaayDp1YCKMfvL"]}},
    {"value": 19.64466932, "n": 1, "scriptPubKey": {"addresses": ["mqaBwWDjJCE2Egsf6pfysgD5ZBrfsP7NkA"]}}
  ]
}`

func decodeRawTx(t *testing.T) map[string]interface{} {
	t.Helper()

	var raw map[string]interface{}
	if err := unmarshalNumbers(json.RawMessage(rawTxJSON), &raw); err != nil {
		t.Fatalf("cannot decode fixture: %v", err)
	}

	return raw
}

func TestBuildTransaction(t *testing.T) {
	b := New("http://127.0.0.1:18332", "", 4, nil)
	_ = b.Configure(map[string]interface{}{
		"currencies": []types.CurrencySettings{{ID: "btc", BaseFactor: 8}},
	})

	txs, err := b.BuildTransaction(decodeRawTx(t))
	if err != nil {
		t.Fatalf("BuildTransaction err: %v", err)
	}

	want := []types.NormalizedTx{
		{
			Hash:       "1858591d8ce638c37d5fcd92b9b33ee96be1b950e593cf0cbf45e6bfb1ad8a22",
			TxOut:      0,
			ToAddress:  "mg4KVGerD3rYricWC8CoBaayDp1YCKMfvL",
			Amount:     decimal.RequireFromString("0.325"),
			CurrencyID: "btc",
		},
		{
			Hash:       "1858591d8ce638c37d5fcd92b9b33ee96be1b950e593cf0cbf45e6bfb1ad8a22",
			TxOut:      1,
			ToAddress:  "mqaBwWDjJCE2Egsf6pfysgD5ZBrfsP7NkA",
			Amount:     decimal.RequireFromString("19.64466932"),
			CurrencyID: "btc",
		},
	}

	if len(txs) != len(want) {
		t.Fatalf("got %d records, want %d: %+v", len(txs), len(want), txs)
	}

	for i := range want {
		if txs[i].Hash != want[i].Hash || txs[i].TxOut != want[i].TxOut ||
			txs[i].ToAddress != want[i].ToAddress || !txs[i].Amount.Equal(want[i].Amount) ||
			txs[i].CurrencyID != want[i].CurrencyID {
			t.Errorf("record %d: got %+v, want %+v", i, txs[i], want[i])
		}
	}
}

func TestBuildTransactionMultipleCurrencies(t *testing.T) {
	b := New("http://127.0.0.1:18332", "", 4, nil)
	_ = b.Configure(map[string]interface{}{
		"currencies": []types.CurrencySettings{
			{ID: "btc", BaseFactor: 8},
			{ID: "btc2", BaseFactor: 8},
		},
	})

	txs, err := b.BuildTransaction(decodeRawTx(t))
	if err != nil {
		t.Fatalf("BuildTransaction err: %v", err)
	}

	// 2 outputs x 2 currencies
	if len(txs) != 4 {
		t.Fatalf("got %d records, want the output x currency cross product: %+v", len(txs), txs)
	}

	byCurrency := map[string]int{}
	for _, tx := range txs {
		byCurrency[tx.CurrencyID]++

		if tx.Hash != "1858591d8ce638c37d5fcd92b9b33ee96be1b950e593cf0cbf45e6bfb1ad8a22" {
			t.Errorf("hash not retained: %+v", tx)
		}
	}

	if byCurrency["btc"] != 2 || byCurrency["btc2"] != 2 {
		t.Errorf("fan-out per currency wrong: %v", byCurrency)
	}
}

func TestBuildTransactionDust(t *testing.T) {
	b := New("http://127.0.0.1:18332", "", 4, nil)
	_ = b.Configure(map[string]interface{}{
		"currencies": []types.CurrencySettings{
			{ID: "btc", BaseFactor: 8, MinDepositAmount: decimal.RequireFromString("1")},
		},
	})

	txs, err := b.BuildTransaction(decodeRawTx(t))
	if err != nil {
		t.Fatalf("BuildTransaction err: %v", err)
	}

	// only the 19.64466932 output clears the 1 btc threshold
	if len(txs) != 1 || txs[0].TxOut != 1 {
		t.Errorf("got %+v, want only the second output", txs)
	}
}

func TestLatestBlockNumber(t *testing.T) {
	node := mockNode(t, map[string]string{"getblockcount": "2621843"})
	defer node.Close()

	b := New(node.URL, "", 4, nil)

	height, err := b.LatestBlockNumber()
	if err != nil || height != 2621843 {
		t.Errorf("LatestBlockNumber = %d err:%v, want 2621843", height, err)
	}
}

func TestFetchBlock(t *testing.T) {
	node := mockNode(t, map[string]string{
		"getblockhash": `"00000000000000a4d0a398a4b3c5a4e7b6c2c66e9a0efed5a1c8e1e7e0b2d9aa"`,
		"getblock": `{
		  "hash": "00000000000000a4d0a398a4b3c5a4e7b6c2c66e9a0efed5a1c8e1e7e0b2d9aa",
		  "previousblockhash": "00000000000000b1e2f5c7d9e0a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3",
		  "height": 2621843,
		  "tx": [` + rawTxJSON + `]
		}`,
	})
	defer node.Close()

	b := New(node.URL, "", 4, nil)
	_ = b.Configure(map[string]interface{}{
		"currencies": []types.CurrencySettings{{ID: "btc", BaseFactor: 8}},
	})

	blk, err := b.FetchBlock(2621843)
	if err != nil {
		t.Fatalf("FetchBlock err: %v", err)
	}

	if blk.Hash != "00000000000000a4d0a398a4b3c5a4e7b6c2c66e9a0efed5a1c8e1e7e0b2d9aa" ||
		blk.PHash != "00000000000000b1e2f5c7d9e0a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3" {
		t.Errorf("block linkage fields wrong: %+v", blk)
	}

	if len(blk.Transactions) != 2 {
		t.Errorf("got %d normalized txs, want 2: %+v", len(blk.Transactions), blk.Transactions)
	}
}

func TestFetchBlockUnknownHeight(t *testing.T) {
	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":null,` +
			`"error":{"code":-8,"message":"Block height out of range"}}`))
	}))
	defer node.Close()

	b := New(node.URL, "", 4, nil)

	_, err := b.FetchBlock(99999999)

	var respErr *rpc.ResponseError
	if !errors.As(err, &respErr) || respErr.Code != -8 {
		t.Errorf("err = %v, want node ResponseError -8", err)
	}
}

func TestFetchDeposits(t *testing.T) {
	node := mockNode(t, map[string]string{
		"listtransactions": `[
		  {"category": "send", "address": "mqaBwWDjJCE2Egsf6pfysgD5ZBrfsP7NkA",
		   "amount": -0.5, "txid": "aa11", "vout": 0, "confirmations": 3, "time": 1530000000},
		  {"category": "receive", "address": "mg4KVGerD3rYricWC8CoBaayDp1YCKMfvL",
		   "amount": 0.325, "txid": "1858591d8ce638c37d5fcd92b9b33ee96be1b950e593cf0cbf45e6bfb1ad8a22",
		   "vout": 0, "confirmations": 12, "time": 1530000600}
		]`,
	})
	defer node.Close()

	b := New(node.URL, "", 4, nil)

	deposits, err := b.FetchDeposits(types.FetchOptions{TransactionsLimit: 50})
	if err != nil {
		t.Fatalf("FetchDeposits err: %v", err)
	}

	if len(deposits) != 1 {
		t.Fatalf("got %d deposits, want the receive entry only: %+v", len(deposits), deposits)
	}

	d := deposits[0]
	if d.TxID != "1858591d8ce638c37d5fcd92b9b33ee96be1b950e593cf0cbf45e6bfb1ad8a22" ||
		d.TxOut != 0 || d.Address != "mg4KVGerD3rYricWC8CoBaayDp1YCKMfvL" ||
		!d.Amount.Equal(decimal.RequireFromString("0.325")) || d.Confirmations != 12 {
		t.Errorf("deposit fields wrong: %+v", d)
	}

	if d.CreatedAt == nil || d.CreatedAt.Unix() != 1530000600 {
		t.Errorf("created_at wrong: %+v", d.CreatedAt)
	}
}

func TestBuildRawTransaction(t *testing.T) {
	node := mockNode(t, map[string]string{"estimatesmartfee": `{"feerate": 0.0008, "blocks": 6}`})
	defer node.Close()

	b := New(node.URL, "", 4, nil)

	fee, err := b.BuildRawTransaction("mg4KVGerD3rYricWC8CoBaayDp1YCKMfvL", decimal.RequireFromString("1"))
	if err != nil {
		t.Fatalf("BuildRawTransaction err: %v", err)
	}

	// 0.0008 btc/kvB over 0.25 kvB
	if !fee.Equal(decimal.RequireFromString("0.0002")) {
		t.Errorf("fee = %s, want 0.0002", fee)
	}
}

func TestBuildRawTransactionNoEstimate(t *testing.T) {
	node := mockNode(t, map[string]string{"estimatesmartfee": `{"errors": ["Insufficient data"], "blocks": 6}`})
	defer node.Close()

	b := New(node.URL, "", 4, nil)

	fee, err := b.BuildRawTransaction("mg4KVGerD3rYricWC8CoBaayDp1YCKMfvL", decimal.RequireFromString("1"))
	if err != nil {
		t.Fatalf("BuildRawTransaction err: %v", err)
	}

	if !fee.Equal(defaultFee) {
		t.Errorf("fee = %s, want fallback %s", fee, defaultFee)
	}
}

func TestCreateWithdrawalBroadcastsGrossAmount(t *testing.T) {
	var sentParams []interface{}

	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     *json.RawMessage `json:"id"`
			Method string           `json:"method"`
			Params []interface{}    `json:"params"`
		}

		dec := json.NewDecoder(r.Body)
		dec.UseNumber()

		if err := dec.Decode(&req); err != nil {
			t.Errorf("mock node: %v", err)
			return
		}

		if req.Method != "sendtoaddress" {
			t.Errorf("method = %q, want sendtoaddress", req.Method)
		}

		sentParams = req.Params

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(*req.ID) + `,"result":"feedbead","error":null}`))
	}))
	defer node.Close()

	b := New(node.URL, "", 4, nil)

	txid, err := b.CreateWithdrawal("", "mqaBwWDjJCE2Egsf6pfysgD5ZBrfsP7NkA", decimal.RequireFromString("5.0"), nil)
	if err != nil || txid != "feedbead" {
		t.Fatalf("CreateWithdrawal txid:%q err:%v", txid, err)
	}

	if len(sentParams) != 2 {
		t.Fatalf("params: %+v", sentParams)
	}

	// the on-chain amount is the gross withdraw amount, the fee is never subtracted here
	if num, ok := sentParams[1].(json.Number); !ok || num.String() != "5" {
		t.Errorf("broadcast amount = %v, want exactly 5", sentParams[1])
	}
}
