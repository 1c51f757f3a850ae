package exchange

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/tokenex/pkg/app/core"
)

// Op names an externally invocable exchange operation
type Op string

const (
	OpDepositNative  Op = "deposit_native"
	OpWithdrawNative Op = "withdraw_native"
	OpDeposit        Op = "deposit"
	OpWithdraw       Op = "withdraw"
	OpMakeOrder      Op = "make_order"
	OpCancelOrder    Op = "cancel_order"
	OpFillOrder      Op = "fill_order"
)

// payable marks the operations that accept attached native value
var payable = map[Op]bool{
	OpDepositNative:  true,
	OpWithdrawNative: false,
	OpDeposit:        false,
	OpWithdraw:       false,
	OpMakeOrder:      false,
	OpCancelOrder:    false,
	OpFillOrder:      false,
}

// Known reports whether op is a dispatchable operation
func (op Op) Known() bool {
	_, ok := payable[op]
	return ok
}

// Call is one invocation arriving from the hosting boundary. Caller is already
// authenticated; Value is native value attached to the call.
type Call struct {
	Caller core.AccountID
	Value  *uint256.Int
	Op     Op

	Asset  core.AssetID
	Amount *uint256.Int

	AssetGet   core.AssetID
	AmountGet  *uint256.Int
	AssetGive  core.AssetID
	AmountGive *uint256.Int

	OrderID uint64
}

// Result carries what an operation produced
type Result struct {
	OrderID uint64
}

// Invoke dispatches call to the matching operation.
//
// A call without an operation (a bare value transfer) or with an unknown one
// fails with core.ErrNoSuchOperation; value attached to any operation other
// than deposit_native fails with core.ErrNotPayable. The hosting boundary is
// expected to return attached value whenever Invoke fails.
func (e *Exchange) Invoke(ctx context.Context, call Call) (Result, error) {
	if !call.Op.Known() {
		return Result{}, e.reject(call.Op, fmt.Errorf("operation %q: %w", call.Op, core.ErrNoSuchOperation))
	}
	hasValue := call.Value != nil && !call.Value.IsZero()
	if hasValue && !payable[call.Op] {
		return Result{}, e.reject(call.Op, fmt.Errorf("operation %q with value %s: %w", call.Op, call.Value.Dec(), core.ErrNotPayable))
	}

	switch call.Op {
	case OpDepositNative:
		return Result{}, e.DepositNative(ctx, call.Caller, call.Value)
	case OpWithdrawNative:
		return Result{}, e.WithdrawNative(ctx, call.Caller, call.Amount)
	case OpDeposit:
		return Result{}, e.DepositAsset(ctx, call.Asset, call.Caller, call.Amount)
	case OpWithdraw:
		return Result{}, e.WithdrawAsset(ctx, call.Asset, call.Caller, call.Amount)
	case OpMakeOrder:
		o, err := e.MakeOrder(ctx, call.Caller, call.AssetGet, call.AmountGet, call.AssetGive, call.AmountGive)
		if err != nil {
			return Result{}, err
		}
		return Result{OrderID: o.ID}, nil
	case OpCancelOrder:
		return Result{OrderID: call.OrderID}, e.CancelOrder(ctx, call.Caller, call.OrderID)
	case OpFillOrder:
		return Result{OrderID: call.OrderID}, e.FillOrder(ctx, call.Caller, call.OrderID)
	}
	// unreachable: every known op is handled above
	return Result{}, fmt.Errorf("operation %q: %w", call.Op, core.ErrNoSuchOperation)
}
