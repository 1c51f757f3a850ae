// Package gateway defines the custody ports the exchange calls across its
// boundary: a per-token Gateway for externally managed assets and a
// NativeVault for the chain-native asset.
package gateway

import (
	"context"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/tokenex/pkg/app/core"
)

// Gateway moves one externally managed asset in and out of exchange custody.
// Implementations return a non-nil error when the transfer did not happen;
// the exchange maps any such error to core.ErrTransferFailed.
type Gateway interface {
	// TransferFrom pulls amount from owner into custody, spending an allowance
	// owner granted to the exchange beforehand.
	TransferFrom(ctx context.Context, owner core.AccountID, amount *uint256.Int) error
	// Transfer pays amount out of custody to to.
	Transfer(ctx context.Context, to core.AccountID, amount *uint256.Int) error
	BalanceOf(ctx context.Context, account core.AccountID) (*uint256.Int, error)
}

// NativeVault releases native value held by the hosting boundary on behalf of the exchange
type NativeVault interface {
	Release(ctx context.Context, to core.AccountID, amount *uint256.Int) error
}

// NativeVaultFunc adapts a function to NativeVault
type NativeVaultFunc func(ctx context.Context, to core.AccountID, amount *uint256.Int) error

func (f NativeVaultFunc) Release(ctx context.Context, to core.AccountID, amount *uint256.Int) error {
	return f(ctx, to, amount)
}
