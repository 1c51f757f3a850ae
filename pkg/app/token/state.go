package token

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/tokenex/pkg/app/core"
)

// Holding is one non-zero token balance
type Holding struct {
	Account core.AccountID `json:"account"`
	Amount  *uint256.Int   `json:"amount"`
}

// Allowance is one non-zero approval
type Allowance struct {
	Owner   core.AccountID `json:"owner"`
	Spender core.AccountID `json:"spender"`
	Amount  *uint256.Int   `json:"amount"`
}

// State is the persistent part of a token; the event log is not included
type State struct {
	Balances   []Holding   `json:"balances"`
	Allowances []Allowance `json:"allowances,omitempty"`
}

// Snapshot returns balances and allowances sorted by address
func (t *Token) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	var st State
	for account, bal := range t.balances {
		if !bal.IsZero() {
			st.Balances = append(st.Balances, Holding{Account: account, Amount: bal.Clone()})
		}
	}
	for k, amt := range t.allowances {
		if !amt.IsZero() {
			st.Allowances = append(st.Allowances, Allowance{Owner: k.owner, Spender: k.spender, Amount: amt.Clone()})
		}
	}
	sort.Slice(st.Balances, func(i, j int) bool {
		return bytes.Compare(st.Balances[i].Account[:], st.Balances[j].Account[:]) < 0
	})
	sort.Slice(st.Allowances, func(i, j int) bool {
		a, b := st.Allowances[i], st.Allowances[j]
		if c := bytes.Compare(a.Owner[:], b.Owner[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(a.Spender[:], b.Spender[:]) < 0
	})
	return st
}

// Restore replaces balances and allowances. Balances must add up to the
// total supply.
func (t *Token) Restore(st State) error {
	sum := new(uint256.Int)
	balances := make(map[core.AccountID]*uint256.Int, len(st.Balances))
	for _, h := range st.Balances {
		if _, dup := balances[h.Account]; dup {
			return fmt.Errorf("restore %s: duplicate holder %s", t.symbol, h.Account.Hex())
		}
		amt := orZero(h.Amount).Clone()
		if _, overflow := sum.AddOverflow(sum, amt); overflow {
			return fmt.Errorf("restore %s: %w", t.symbol, core.ErrOverflow)
		}
		balances[h.Account] = amt
	}
	if !sum.Eq(t.supply) {
		return fmt.Errorf("restore %s: balances sum to %s, supply is %s", t.symbol, sum.Dec(), t.supply.Dec())
	}

	allowances := make(map[allowanceKey]*uint256.Int, len(st.Allowances))
	for _, a := range st.Allowances {
		allowances[allowanceKey{a.Owner, a.Spender}] = orZero(a.Amount).Clone()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances = balances
	t.allowances = allowances
	return nil
}
