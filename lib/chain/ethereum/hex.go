package ethereum

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/chainward/gateway/lib/chain/types"
)

// Quantities come back from nodes as 0x-prefixed hex strings, but some backends reply with
// plain JSON numbers. Both forms are accepted.

func toHex(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}

func hexToBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimPrefix(s, "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("bad hex quantity %q: %w", s, types.ErrTxDecode)
	}

	return v, nil
}

func hexToUint64(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func decodeQuantity(raw json.RawMessage) (uint64, error) {
	q, err := decodeQuantityBig(raw)
	if err != nil {
		return 0, err
	}

	return q.Uint64(), nil
}

func decodeQuantityBig(raw json.RawMessage) (*big.Int, error) {
	var v interface{}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("bad quantity %s: %w", raw, types.ErrTxDecode)
	}

	switch q := v.(type) {
	case string:
		return hexToBig(q)
	case json.Number:
		b, ok := new(big.Int).SetString(q.String(), 10)
		if !ok {
			return nil, fmt.Errorf("bad quantity %q: %w", q, types.ErrTxDecode)
		}

		return b, nil
	default:
		return nil, fmt.Errorf("bad quantity %s: %w", raw, types.ErrTxDecode)
	}
}

func unmarshalNumbers(raw json.RawMessage, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	return dec.Decode(out)
}

// isTokenInput reports whether the tx input carries an ERC20 transfer call.
func isTokenInput(input string) bool {
	return len(input) > 10 && input[2:10] == ERC20transfer
}

// decodeTransferInput extracts recipient and value from an ERC20 transfer(address,uint256)
// input: 4 bytes of methodID, then the recipient address padded to 32 bytes, then the value
// as a 32-byte quantity.
func decodeTransferInput(input string) (string, *big.Int, error) {
	if len(input) < 138 { //nolint:gomnd // 2 + 8 + 64 + 64 hex digits
		return "", nil, fmt.Errorf("short ERC20 transfer input %q: %w", input, types.ErrTxDecode)
	}

	recipient := "0x" + input[10+24:74]

	value, err := hexToBig(input[74:138])
	if err != nil {
		return "", nil, err
	}

	return recipient, value, nil
}

func pad32(s string) string {
	const width = 64

	return strings.Repeat("0", width-len(s)) + s
}
