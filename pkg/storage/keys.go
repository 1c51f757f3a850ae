package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tokenex/pkg/app/core"
)

// Pebble key schema
//
//	bal:{asset}:{account}   ledger entry
//	ord:{id, 8 bytes BE}    order
//	evt:{seq, 8 bytes BE}   event
//	nonce:{account}         last used nonce
//	wal:{account}           vault wallet balance
//	rcpt:{tx hash}          receipt
//	tok:{asset}             token balances and allowances
//	meta:*                  chain head
//
// Fixed-width big-endian numbers keep range scans in numeric order.
const (
	prefixBalance = "bal:"
	prefixOrder   = "ord:"
	prefixEvent   = "evt:"
	prefixNonce   = "nonce:"
	prefixWallet  = "wal:"
	prefixReceipt = "rcpt:"
	prefixToken   = "tok:"
)

var (
	keyHeight    = []byte("meta:height")
	keyStateHash = []byte("meta:statehash")
	keyBlockTime = []byte("meta:time")
	keyHeld      = []byte("meta:held")
	keyEvents    = []byte("meta:events")
)

// balanceKey: "bal:{asset}:{account}"
func balanceKey(asset core.AssetID, account core.AccountID) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, asset.Hex(), account.Hex()))
}

func orderKey(id uint64) []byte {
	return append([]byte(prefixOrder), u64(id)...)
}

func eventKey(seq uint64) []byte {
	return append([]byte(prefixEvent), u64(seq)...)
}

func nonceKey(account core.AccountID) []byte {
	return []byte(prefixNonce + account.Hex())
}

func walletKey(account core.AccountID) []byte {
	return []byte(prefixWallet + account.Hex())
}

func tokenKey(asset core.AssetID) []byte {
	return []byte(prefixToken + asset.Hex())
}

func receiptKey(h common.Hash) []byte {
	return []byte(prefixReceipt + h.Hex())
}

// accountFromKey extracts the trailing address of a "prefix{address}" key
func accountFromKey(prefix string, key []byte) (core.AccountID, error) {
	if len(key) != len(prefix)+42 { // "0x" + 40 hex chars
		return core.AccountID{}, fmt.Errorf("invalid %skey length: %d", prefix, len(key))
	}
	return core.ParseAccount(string(key[len(prefix):]))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
// Example: prefix "bal:" -> upper bound "bal;"
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

func u64(v uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], v)
	return k[:]
}

func parseU64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("expected 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
