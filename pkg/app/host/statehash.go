package host

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/tokenex/pkg/app/core"
	"github.com/uhyunpark/tokenex/pkg/app/exchange"
	"github.com/uhyunpark/tokenex/pkg/app/token"
	"github.com/uhyunpark/tokenex/pkg/storage"
)

// hashedState is the canonical form fed to the state hash. Slices come
// pre-sorted from their owners and encoding/json sorts map keys, so equal
// states always encode to equal bytes.
type hashedState struct {
	Height  uint64                          `json:"height"`
	Time    int64                           `json:"time"`
	State   exchange.State                  `json:"state"`
	Wallets map[core.AccountID]*uint256.Int `json:"wallets"`
	Held    *uint256.Int                    `json:"held"`
	Tokens  map[core.AssetID]token.State    `json:"tokens"`
	Nonces  map[core.AccountID]uint64       `json:"nonces"`
}

// stateHash is keccak256 over the canonical JSON of everything a block commits.
//
// Rehashing the whole state per block is linear in its size; a merkleized
// store would make it incremental and give inclusion proofs.
func stateHash(head storage.Head, st exchange.State, wallets map[core.AccountID]*uint256.Int, held *uint256.Int,
	tokens map[core.AssetID]token.State, nonces map[core.AccountID]uint64) (common.Hash, error) {
	nonZero := make(map[core.AccountID]*uint256.Int, len(wallets))
	for a, bal := range wallets {
		if bal != nil && !bal.IsZero() {
			nonZero[a] = bal
		}
	}
	b, err := json.Marshal(hashedState{
		Height:  head.Height,
		Time:    head.Time,
		State:   st,
		Wallets: nonZero,
		Held:    held,
		Tokens:  tokens,
		Nonces:  nonces,
	})
	if err != nil {
		return common.Hash{}, err
	}

	h := sha3.NewLegacyKeccak256()
	h.Write(b)
	return common.BytesToHash(h.Sum(nil)), nil
}
