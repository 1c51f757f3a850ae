package vault

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/tokenex/pkg/app/core"
)

var user = core.MustAccount("0x1111111111111111111111111111111111111111")

func TestMemory_AttachReleaseRefund(t *testing.T) {
	v := NewMemory()
	require.NoError(t, v.Fund(user, uint256.NewInt(100)))

	require.NoError(t, v.Attach(user, uint256.NewInt(60)))
	require.Equal(t, uint64(40), v.Wallet(user).Uint64())
	require.Equal(t, uint64(60), v.Held().Uint64())

	require.ErrorIs(t, v.Attach(user, uint256.NewInt(41)), ErrInsufficientFunds)

	require.NoError(t, v.Release(context.Background(), user, uint256.NewInt(10)))
	require.Equal(t, uint64(50), v.Held().Uint64())

	require.NoError(t, v.Refund(user, uint256.NewInt(50)))
	require.NoError(t, v.Refund(user, nil))
	require.True(t, v.Held().IsZero())
	require.Equal(t, uint64(100), v.Wallet(user).Uint64())

	require.ErrorIs(t, v.Release(context.Background(), user, uint256.NewInt(1)), ErrInsufficientFunds)
}

func TestMemory_RefundBeyondHeld(t *testing.T) {
	v := NewMemory()
	require.NoError(t, v.Fund(user, uint256.NewInt(10)))
	require.NoError(t, v.Attach(user, uint256.NewInt(4)))

	err := v.Refund(user, uint256.NewInt(5))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.Equal(t, uint64(4), v.Held().Uint64())
	require.Equal(t, uint64(6), v.Wallet(user).Uint64())
}

func TestMemory_SnapshotRestore(t *testing.T) {
	v := NewMemory()
	require.NoError(t, v.Fund(user, uint256.NewInt(5)))
	require.NoError(t, v.Attach(user, uint256.NewInt(2)))

	wallets, held := v.Snapshot()
	r := NewMemory()
	r.Restore(wallets, held)
	require.Equal(t, uint64(3), r.Wallet(user).Uint64())
	require.Equal(t, uint64(2), r.Held().Uint64())
}
