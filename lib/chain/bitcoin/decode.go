package bitcoin

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/chainward/gateway/lib/chain/types"
)

// Monetary values are decoded via json.Number, never float64: a vout value must survive the
// round trip exactly.

func unmarshalNumbers(raw json.RawMessage, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	return dec.Decode(out)
}

func decodeAmount(v interface{}) (decimal.Decimal, error) {
	num, ok := v.(json.Number)
	if !ok {
		return decimal.Zero, fmt.Errorf("missing output value: %w", types.ErrTxDecode)
	}

	amount, err := decimal.NewFromString(num.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad output value %q: %w", num, types.ErrTxDecode)
	}

	return amount, nil
}

func decodeIndex(v interface{}) (int, error) {
	num, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("missing output index: %w", types.ErrTxDecode)
	}

	n, err := num.Int64()
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bad output index %q: %w", num, types.ErrTxDecode)
	}

	return int(n), nil
}

// outAddress extracts the payment address of a vout. Older nodes reply with an "addresses"
// array under scriptPubKey, newer ones with a single "address" field.
func outAddress(out map[string]interface{}) string {
	spk, ok := out["scriptPubKey"].(map[string]interface{})
	if !ok {
		return ""
	}

	if addr, ok := spk["address"].(string); ok {
		return addr
	}

	if addrs, ok := spk["addresses"].([]interface{}); ok && len(addrs) > 0 {
		if addr, ok := addrs[0].(string); ok {
			return addr
		}
	}

	return ""
}
