package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/tokenex/pkg/app/core"
)

func TestInvoke_Dispatch(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	f.depositNative(t, alice, 10)
	f.depositToken(t, bob, 11)

	res, err := f.ex.Invoke(ctx, Call{
		Caller: alice, Op: OpMakeOrder,
		AssetGet: tn, AmountGet: u(10),
		AssetGive: core.Native, AmountGive: u(10),
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.OrderID)

	res, err = f.ex.Invoke(ctx, Call{Caller: bob, Op: OpFillOrder, OrderID: 1})
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.OrderID)
	require.True(t, f.ex.OrderFilled(1))

	_, err = f.ex.Invoke(ctx, Call{Caller: bob, Op: OpWithdrawNative, Amount: u(10)})
	require.NoError(t, err)
	require.Equal(t, uint64(10), f.vault.Wallet(bob).Uint64())

	_, err = f.ex.Invoke(ctx, Call{Caller: alice, Op: OpWithdraw, Asset: tn, Amount: u(10)})
	require.NoError(t, err)

	require.NoError(t, f.tok.Approve(alice, custody, u(3)))
	_, err = f.ex.Invoke(ctx, Call{Caller: alice, Op: OpDeposit, Asset: tn, Amount: u(3)})
	require.NoError(t, err)
	require.Equal(t, uint64(3), f.ex.BalanceOf(tn, alice).Uint64())

	_, err = f.ex.Invoke(ctx, Call{Caller: alice, Op: OpMakeOrder, AssetGet: tn, AmountGet: u(1), AssetGive: tn, AmountGive: u(1)})
	require.NoError(t, err)
	_, err = f.ex.Invoke(ctx, Call{Caller: bob, Op: OpCancelOrder, OrderID: 2})
	require.ErrorIs(t, err, core.ErrUnauthorized)
	_, err = f.ex.Invoke(ctx, Call{Caller: alice, Op: OpCancelOrder, OrderID: 2})
	require.NoError(t, err)
}

func TestInvoke_Rejections(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	tests := []struct {
		name string
		call Call
		want error
	}{
		{"bare value transfer", Call{Caller: alice, Value: u(1)}, core.ErrNoSuchOperation},
		{"empty call", Call{Caller: alice}, core.ErrNoSuchOperation},
		{"unknown op", Call{Caller: alice, Op: "selfdestruct"}, core.ErrNoSuchOperation},
		{"value on make_order", Call{Caller: alice, Op: OpMakeOrder, Value: u(1)}, core.ErrNotPayable},
		{"value on withdraw_native", Call{Caller: alice, Op: OpWithdrawNative, Value: u(1), Amount: u(1)}, core.ErrNotPayable},
		{"value on token deposit", Call{Caller: alice, Op: OpDeposit, Asset: tn, Value: u(5), Amount: u(5)}, core.ErrNotPayable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ex.Invoke(ctx, tt.call)
			require.ErrorIs(t, err, tt.want)
			require.True(t, IsRejection(err))
		})
	}
	require.Zero(t, f.ex.Events().Len())
	require.Empty(t, f.ex.Snapshot().Orders)
}
