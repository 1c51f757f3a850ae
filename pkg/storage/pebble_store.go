// Package storage persists exchange state in Pebble.
//
// The host commits one Block per applied batch of transactions. Every block is
// written in a single Pebble batch, so a crash leaves either the previous head
// or the new one on disk, never a mix.
package storage

import (
	"context"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"github.com/uhyunpark/tokenex/pkg/app/core"
	"github.com/uhyunpark/tokenex/pkg/app/core/event"
	"github.com/uhyunpark/tokenex/pkg/app/core/ledger"
	"github.com/uhyunpark/tokenex/pkg/app/core/orderbook"
	"github.com/uhyunpark/tokenex/pkg/app/core/transaction"
	"github.com/uhyunpark/tokenex/pkg/app/exchange"
	"github.com/uhyunpark/tokenex/pkg/app/token"
)

var (
	mon = monkit.Package()

	// Error is the error class for storage failures
	Error = errs.Class("storage")
)

// Head identifies the last committed block
type Head struct {
	Height    uint64      `json:"height"`
	Time      int64       `json:"time"`
	StateHash common.Hash `json:"stateHash"`
}

// Block is everything a single applied block changes
type Block struct {
	Head

	// State replaces the stored balances and orders
	State exchange.State
	// Events holds only the events appended by this block
	Events []event.Event
	// Nonces holds the accounts whose nonce advanced in this block
	Nonces   map[core.AccountID]uint64
	Receipts []transaction.Receipt

	Wallets map[core.AccountID]*uint256.Int
	Held    *uint256.Int
	Tokens  map[core.AssetID]token.State
}

// Snapshot is the full state needed to resume a node
type Snapshot struct {
	Head

	State   exchange.State
	Events  []event.Event
	Nonces  map[core.AccountID]uint64
	Wallets map[core.AccountID]*uint256.Int
	Held    *uint256.Int
	Tokens  map[core.AssetID]token.State
}

type PebbleStore struct {
	db *pebble.DB
}

// NewPebbleStore opens a Pebble database at the given path
func NewPebbleStore(path string) (*PebbleStore, error) {
	cache := pebble.NewCache(64 << 20) // 64MB cache
	defer cache.Unref()

	opts := &pebble.Options{
		Cache:                    cache,
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, Error.New("failed to open pebble db at %s: %v", path, err)
	}
	return &PebbleStore{db: db}, nil
}

// NewMemStore opens a Pebble database backed by an in-memory filesystem
func NewMemStore() (*PebbleStore, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return Error.Wrap(s.db.Close()) }

// Commit writes b atomically. Balances, orders and wallets are rewritten in
// full; events, nonces, receipts and token states are upserted.
func (s *PebbleStore) Commit(ctx context.Context, b *Block) (err error) {
	defer mon.Task()(&ctx)(&err)

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, prefix := range []string{prefixBalance, prefixOrder, prefixWallet} {
		p := []byte(prefix)
		if err := batch.DeleteRange(p, keyUpperBound(p), nil); err != nil {
			return Error.Wrap(err)
		}
	}

	for _, e := range b.State.Balances {
		if err := s.put(batch, balanceKey(e.Asset, e.Account), e); err != nil {
			return err
		}
	}
	for _, o := range b.State.Orders {
		if err := s.put(batch, orderKey(o.ID), o); err != nil {
			return err
		}
	}
	for _, e := range b.Events {
		if err := s.put(batch, eventKey(e.Seq), e); err != nil {
			return err
		}
	}
	for account, n := range b.Nonces {
		if err := batch.Set(nonceKey(account), u64(n), nil); err != nil {
			return Error.Wrap(err)
		}
	}
	for _, r := range b.Receipts {
		if err := s.put(batch, receiptKey(r.Hash), r); err != nil {
			return err
		}
	}
	for account, bal := range b.Wallets {
		if bal == nil || bal.IsZero() {
			continue
		}
		if err := batch.Set(walletKey(account), encodeAmount(bal), nil); err != nil {
			return Error.Wrap(err)
		}
	}

	for asset, st := range b.Tokens {
		if err := s.put(batch, tokenKey(asset), st); err != nil {
			return err
		}
	}

	meta := []struct {
		key []byte
		val []byte
	}{
		{keyHeight, u64(b.Height)},
		{keyBlockTime, u64(uint64(b.Time))},
		{keyStateHash, b.StateHash.Bytes()},
		{keyHeld, encodeAmount(b.Held)},
		{keyEvents, u64(b.State.Events)},
	}
	for _, m := range meta {
		if err := batch.Set(m.key, m.val, nil); err != nil {
			return Error.Wrap(err)
		}
	}

	return Error.Wrap(batch.Commit(pebble.Sync))
}

func (s *PebbleStore) put(batch *pebble.Batch, key []byte, v any) error {
	val, err := encode(v)
	if err != nil {
		return err
	}
	return Error.Wrap(batch.Set(key, val, nil))
}

// get returns a copy of the value at key, or nil if absent
func (s *PebbleStore) get(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

func (s *PebbleStore) getU64(key []byte) (uint64, bool, error) {
	val, err := s.get(key)
	if err != nil || val == nil {
		return 0, false, err
	}
	n, err := parseU64(val)
	if err != nil {
		return 0, false, Error.New("%s: %v", key, err)
	}
	return n, true, nil
}

// Head returns the last committed block head; ok is false on an empty store
func (s *PebbleStore) Head() (head Head, ok bool, err error) {
	height, ok, err := s.getU64(keyHeight)
	if err != nil || !ok {
		return Head{}, false, err
	}
	t, _, err := s.getU64(keyBlockTime)
	if err != nil {
		return Head{}, false, err
	}
	hash, err := s.get(keyStateHash)
	if err != nil {
		return Head{}, false, err
	}
	return Head{Height: height, Time: int64(t), StateHash: common.BytesToHash(hash)}, true, nil
}

// Load reads the full committed state.
// Returns nil if nothing has been committed yet.
func (s *PebbleStore) Load(ctx context.Context) (snap *Snapshot, err error) {
	defer mon.Task()(&ctx)(&err)

	head, ok, err := s.Head()
	if err != nil || !ok {
		return nil, err
	}
	snap = &Snapshot{
		Head:    head,
		Nonces:  make(map[core.AccountID]uint64),
		Wallets: make(map[core.AccountID]*uint256.Int),
		Tokens:  make(map[core.AssetID]token.State),
	}

	err = s.scan(prefixBalance, func(_, val []byte) error {
		var e ledger.Entry
		if err := decode(val, &e); err != nil {
			return err
		}
		snap.State.Balances = append(snap.State.Balances, e)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.scan(prefixOrder, func(_, val []byte) error {
		var o orderbook.Order
		if err := decode(val, &o); err != nil {
			return err
		}
		snap.State.Orders = append(snap.State.Orders, &o)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.scan(prefixEvent, func(_, val []byte) error {
		var e event.Event
		if err := decode(val, &e); err != nil {
			return err
		}
		snap.Events = append(snap.Events, e)
		return nil
	})
	if err != nil {
		return nil, err
	}

	count, _, err := s.getU64(keyEvents)
	if err != nil {
		return nil, err
	}
	if count != uint64(len(snap.Events)) {
		return nil, Error.New("event count mismatch: head says %d, found %d", count, len(snap.Events))
	}
	snap.State.Events = count

	err = s.scan(prefixNonce, func(key, val []byte) error {
		account, err := accountFromKey(prefixNonce, key)
		if err != nil {
			return Error.Wrap(err)
		}
		n, err := parseU64(val)
		if err != nil {
			return Error.Wrap(err)
		}
		snap.Nonces[account] = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.scan(prefixWallet, func(key, val []byte) error {
		account, err := accountFromKey(prefixWallet, key)
		if err != nil {
			return Error.Wrap(err)
		}
		bal, err := decodeAmount(val)
		if err != nil {
			return err
		}
		snap.Wallets[account] = bal
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.scan(prefixToken, func(key, val []byte) error {
		asset, err := core.ParseAsset(string(key[len(prefixToken):]))
		if err != nil {
			return Error.Wrap(err)
		}
		var st token.State
		if err := decode(val, &st); err != nil {
			return err
		}
		snap.Tokens[asset] = st
		return nil
	})
	if err != nil {
		return nil, err
	}

	held, err := s.get(keyHeld)
	if err != nil {
		return nil, err
	}
	if held == nil {
		snap.Held = new(uint256.Int)
	} else if snap.Held, err = decodeAmount(held); err != nil {
		return nil, err
	}

	return snap, nil
}

// Receipt loads the receipt of an applied transaction.
// Returns nil if the transaction has not been applied.
func (s *PebbleStore) Receipt(hash common.Hash) (*transaction.Receipt, error) {
	val, err := s.get(receiptKey(hash))
	if err != nil || val == nil {
		return nil, err
	}
	var r transaction.Receipt
	if err := decode(val, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Nonce returns the last used nonce of account, zero if it never transacted
func (s *PebbleStore) Nonce(account core.AccountID) (uint64, error) {
	n, _, err := s.getU64(nonceKey(account))
	return n, err
}

// scan calls fn for every key under prefix in key order
func (s *PebbleStore) scan(prefix string, fn func(key, val []byte) error) (err error) {
	p := []byte(prefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: p,
		UpperBound: keyUpperBound(p),
	})
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(iter.Close())) }()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return fmt.Errorf("%s%x: %w", prefix, iter.Key()[len(prefix):], err)
		}
	}
	return Error.Wrap(iter.Error())
}
