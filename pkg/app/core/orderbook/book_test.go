package orderbook

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/tokenex/pkg/app/core"
)

var (
	maker = core.MustAccount("0x1111111111111111111111111111111111111111")
	taker = core.MustAccount("0x2222222222222222222222222222222222222222")
	tn    = core.MustAsset("0x00000000000000000000000000000000000000aa")
)

func makeOne(b *Book) *Order {
	return b.Make(maker, tn, uint256.NewInt(1000), core.Native, uint256.NewInt(1), 1700000000)
}

func TestBook_IDsStartAtOneAndIncrease(t *testing.T) {
	b := New()
	for want := uint64(1); want <= 5; want++ {
		o := makeOne(b)
		require.Equal(t, want, o.ID)
		require.True(t, o.IsOpen())
	}
	require.Equal(t, uint64(6), b.NextID())
}

func TestBook_Cancel(t *testing.T) {
	tests := []struct {
		name    string
		caller  core.AccountID
		id      uint64
		wantErr error
	}{
		{"unknown id", maker, 99, core.ErrOrderNotFound},
		{"not the creator", taker, 1, core.ErrUnauthorized},
		{"creator", maker, 1, nil},
	}
	b := New()
	makeOne(b)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Cancel(tt.caller, tt.id)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}

	require.True(t, b.Cancelled(1))
	_, err := b.Cancel(maker, 1)
	require.ErrorIs(t, err, core.ErrOrderAlreadyClosed)
}

func TestBook_CheckFill(t *testing.T) {
	b := New()
	makeOne(b)

	_, err := b.CheckFill(maker, 1)
	require.ErrorIs(t, err, core.ErrSelfTrade)

	_, err = b.CheckFill(taker, 2)
	require.ErrorIs(t, err, core.ErrOrderNotFound)

	o, err := b.CheckFill(taker, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), o.AmountGet.Uint64())

	require.NoError(t, b.MarkFilled(1))
	require.True(t, b.Filled(1))
	require.False(t, b.Cancelled(1))

	_, err = b.CheckFill(taker, 1)
	require.ErrorIs(t, err, core.ErrOrderAlreadyClosed)
	_, err = b.Cancel(maker, 1)
	require.ErrorIs(t, err, core.ErrOrderAlreadyClosed)
}

func TestBook_GetReturnsCopy(t *testing.T) {
	b := New()
	makeOne(b)

	o, err := b.Get(1)
	require.NoError(t, err)
	o.AmountGet.SetUint64(1)
	o.Status = StatusFilled

	again, _ := b.Get(1)
	require.Equal(t, uint64(1000), again.AmountGet.Uint64())
	require.True(t, again.IsOpen())
}

func TestBook_OrdersFilterAndRestore(t *testing.T) {
	b := New()
	makeOne(b)
	b.Make(taker, core.Native, uint256.NewInt(5), tn, uint256.NewInt(6), 1700000001)
	makeOne(b)
	_, err := b.Cancel(maker, 3)
	require.NoError(t, err)

	open := StatusOpen
	require.Len(t, b.Orders(Filter{Status: &open}), 2)
	require.Len(t, b.Orders(Filter{Creator: &maker}), 2)
	require.Len(t, b.Orders(Filter{Limit: 1}), 1)

	all := b.Orders(Filter{})
	require.Equal(t, []uint64{1, 2, 3}, []uint64{all[0].ID, all[1].ID, all[2].ID})

	r, err := Restore(all)
	require.NoError(t, err)
	require.Equal(t, uint64(4), r.NextID())
	require.True(t, r.Cancelled(3))

	_, err = Restore([]*Order{all[0], all[0]})
	require.Error(t, err)
}

func TestStatusText(t *testing.T) {
	for _, s := range []Status{StatusOpen, StatusCancelled, StatusFilled} {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var back Status
		require.NoError(t, back.UnmarshalText(text))
		require.Equal(t, s, back)
	}
	var s Status
	require.Error(t, s.UnmarshalText([]byte("partial")))
}
