package ledger

import (
	"github.com/holiman/uint256"

	"github.com/uhyunpark/tokenex/pkg/app/core"
)

type undo struct {
	asset   core.AssetID
	account core.AccountID
	amount  *uint256.Int
	credit  bool // true: entry was a credit, reverse with a debit
}

// Tx groups several balance movements so they apply all-or-nothing.
// Every successful Credit/Debit is journaled; Rollback replays the journal
// backwards. A Tx must end with exactly one Commit or Rollback.
type Tx struct {
	l       *Ledger
	journal []undo
	done    bool
}

// Begin opens a journaled transaction on the ledger
func (l *Ledger) Begin() *Tx {
	return &Tx{l: l}
}

func (tx *Tx) Credit(asset core.AssetID, account core.AccountID, amount *uint256.Int) (*uint256.Int, error) {
	bal, err := tx.l.credit(asset, account, amount)
	if err != nil {
		return nil, err
	}
	tx.journal = append(tx.journal, undo{asset, account, orZero(amount).Clone(), true})
	return bal, nil
}

func (tx *Tx) Debit(asset core.AssetID, account core.AccountID, amount *uint256.Int) (*uint256.Int, error) {
	bal, err := tx.l.debit(asset, account, amount)
	if err != nil {
		return nil, err
	}
	tx.journal = append(tx.journal, undo{asset, account, orZero(amount).Clone(), false})
	return bal, nil
}

// Commit keeps every movement made through tx
func (tx *Tx) Commit() {
	tx.journal = nil
	tx.done = true
}

// Rollback reverts every movement made through tx, newest first.
// Calling it after Commit is a no-op.
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	for i := len(tx.journal) - 1; i >= 0; i-- {
		u := tx.journal[i]
		// reversing a journaled movement cannot fail: a credit is undone while the
		// credited funds are still present, and a debit restores supply it removed
		if u.credit {
			_, _ = tx.l.debit(u.asset, u.account, u.amount)
		} else {
			_, _ = tx.l.credit(u.asset, u.account, u.amount)
		}
	}
	tx.journal = nil
	tx.done = true
}
