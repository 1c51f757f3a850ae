package storage

import (
	"encoding/json"

	"github.com/holiman/uint256"
)

// Records are JSON; uint256 values encode as decimal strings.

func encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	return b, Error.Wrap(err)
}

func decode(b []byte, v any) error {
	return Error.Wrap(json.Unmarshal(b, v))
}

func encodeAmount(x *uint256.Int) []byte {
	if x == nil {
		return []byte("0")
	}
	return []byte(x.Dec())
}

func decodeAmount(b []byte) (*uint256.Int, error) {
	x, err := uint256.FromDecimal(string(b))
	return x, Error.Wrap(err)
}
