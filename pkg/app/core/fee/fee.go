// Package fee computes the taker fee charged on a fill.
package fee

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/tokenex/pkg/app/core"
)

// Schedule is the exchange fee configuration, fixed at construction
type Schedule struct {
	Account core.AccountID
	Percent uint64
}

// Compute returns floor(amountGet * Percent / 100).
// The product is checked, so a pathological amount/percent pair fails with
// core.ErrOverflow instead of silently wrapping.
func (s Schedule) Compute(amountGet *uint256.Int) (*uint256.Int, error) {
	amt := amountGet
	if amt == nil {
		amt = new(uint256.Int)
	}
	prod, overflow := new(uint256.Int).MulOverflow(amt, uint256.NewInt(s.Percent))
	if overflow {
		return nil, fmt.Errorf("fee on %s at %d%%: %w", amt.Dec(), s.Percent, core.ErrOverflow)
	}
	return prod.Div(prod, uint256.NewInt(100)), nil
}

// Total returns amountGet plus its fee, the amount the taker must hold
func (s Schedule) Total(amountGet *uint256.Int) (fee, total *uint256.Int, err error) {
	if amountGet == nil {
		amountGet = new(uint256.Int)
	}
	fee, err = s.Compute(amountGet)
	if err != nil {
		return nil, nil, err
	}
	total, overflow := new(uint256.Int).AddOverflow(amountGet, fee)
	if overflow {
		return nil, nil, fmt.Errorf("amount plus fee: %w", core.ErrOverflow)
	}
	return fee, total, nil
}
