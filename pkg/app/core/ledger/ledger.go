package ledger

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/tokenex/pkg/app/core"
)

type key struct {
	asset   core.AssetID
	account core.AccountID
}

// Entry is one (asset, account) balance, used for snapshots and queries
type Entry struct {
	Asset   core.AssetID   `json:"asset"`
	Account core.AccountID `json:"account"`
	Balance *uint256.Int   `json:"balance"`
}

// Ledger maps (asset, account) to an unsigned 256-bit balance.
//
// Invariants:
//   - no balance is ever negative (Debit refuses to go below zero)
//   - Supply(asset) always equals the sum of every account's balance in that asset
//   - absent keys read as zero; zero balances are dropped from the map
//
// Ledger is not safe for concurrent use. The exchange facade serializes all access.
type Ledger struct {
	balances map[key]*uint256.Int
	supply   map[core.AssetID]*uint256.Int
}

// New creates an empty ledger
func New() *Ledger {
	return &Ledger{
		balances: make(map[key]*uint256.Int),
		supply:   make(map[core.AssetID]*uint256.Int),
	}
}

// Restore rebuilds a ledger from snapshot entries.
// Duplicate keys and supplies that overflow 256 bits are rejected.
func Restore(entries []Entry) (*Ledger, error) {
	l := New()
	for _, e := range entries {
		k := key{asset: e.Asset, account: e.Account}
		if _, dup := l.balances[k]; dup {
			return nil, fmt.Errorf("duplicate ledger entry %s/%s", e.Asset.Hex(), e.Account.Hex())
		}
		if _, err := l.credit(e.Asset, e.Account, e.Balance); err != nil {
			return nil, fmt.Errorf("restore %s/%s: %w", e.Asset.Hex(), e.Account.Hex(), err)
		}
	}
	return l, nil
}

// BalanceOf returns the balance of account in asset. Unknown keys are zero, never an error.
// The returned value is a copy.
func (l *Ledger) BalanceOf(asset core.AssetID, account core.AccountID) *uint256.Int {
	if bal, ok := l.balances[key{asset, account}]; ok {
		return bal.Clone()
	}
	return new(uint256.Int)
}

// Supply returns the total of all balances held in asset
func (l *Ledger) Supply(asset core.AssetID) *uint256.Int {
	if s, ok := l.supply[asset]; ok {
		return s.Clone()
	}
	return new(uint256.Int)
}

// Credit adds amount to balance(asset, account) and returns the new balance.
// Fails with core.ErrOverflow if the asset's total would exceed 256 bits, which
// also bounds every individual balance.
func (l *Ledger) Credit(asset core.AssetID, account core.AccountID, amount *uint256.Int) (*uint256.Int, error) {
	return l.credit(asset, account, amount)
}

// Debit subtracts amount from balance(asset, account) and returns the new balance.
// Fails with core.ErrInsufficientBalance, leaving the balance untouched, if the
// balance is smaller than amount.
func (l *Ledger) Debit(asset core.AssetID, account core.AccountID, amount *uint256.Int) (*uint256.Int, error) {
	return l.debit(asset, account, amount)
}

func (l *Ledger) credit(asset core.AssetID, account core.AccountID, amount *uint256.Int) (*uint256.Int, error) {
	amt := orZero(amount)
	k := key{asset, account}

	supply, overflow := new(uint256.Int).AddOverflow(l.Supply(asset), amt)
	if overflow {
		return nil, fmt.Errorf("credit %s to %s: %w", amt.Dec(), account.Hex(), core.ErrOverflow)
	}
	// balance <= supply, so this cannot overflow once the supply check passed
	bal := new(uint256.Int).Add(l.BalanceOf(asset, account), amt)

	l.set(k, bal)
	l.setSupply(asset, supply)
	return bal.Clone(), nil
}

func (l *Ledger) debit(asset core.AssetID, account core.AccountID, amount *uint256.Int) (*uint256.Int, error) {
	amt := orZero(amount)
	k := key{asset, account}

	bal := l.BalanceOf(asset, account)
	if bal.Lt(amt) {
		return nil, fmt.Errorf("debit %s from %s (have %s): %w",
			amt.Dec(), account.Hex(), bal.Dec(), core.ErrInsufficientBalance)
	}
	bal.Sub(bal, amt)
	supply := new(uint256.Int).Sub(l.Supply(asset), amt)

	l.set(k, bal)
	l.setSupply(asset, supply)
	return bal.Clone(), nil
}

func (l *Ledger) set(k key, bal *uint256.Int) {
	if bal.IsZero() {
		delete(l.balances, k)
		return
	}
	l.balances[k] = bal
}

func (l *Ledger) setSupply(asset core.AssetID, s *uint256.Int) {
	if s.IsZero() {
		delete(l.supply, asset)
		return
	}
	l.supply[asset] = s
}

// Entries returns every non-zero balance, ordered by asset then account
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, 0, len(l.balances))
	for k, bal := range l.balances {
		out = append(out, Entry{Asset: k.asset, Account: k.account, Balance: bal.Clone()})
	}
	sortEntries(out)
	return out
}

// AccountEntries returns the non-zero balances of one account, ordered by asset
func (l *Ledger) AccountEntries(account core.AccountID) []Entry {
	var out []Entry
	for k, bal := range l.balances {
		if k.account == account {
			out = append(out, Entry{Asset: k.asset, Account: k.account, Balance: bal.Clone()})
		}
	}
	sortEntries(out)
	return out
}

func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool {
		if c := bytes.Compare(es[i].Asset[:], es[j].Asset[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(es[i].Account[:], es[j].Account[:]) < 0
	})
}

func orZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x
}
