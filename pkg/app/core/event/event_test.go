package event

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/tokenex/pkg/app/core"
)

var (
	alice = core.MustAccount("0x1111111111111111111111111111111111111111")
	bob   = core.MustAccount("0x2222222222222222222222222222222222222222")
)

func TestLog_AppendAssignsSeq(t *testing.T) {
	l := NewLog()
	var seen []uint64
	l.Subscribe(func(e Event) { seen = append(seen, e.Seq) })

	for i := 0; i < 3; i++ {
		l.Append(Event{Kind: KindDeposit, Account: alice, Amount: uint256.NewInt(uint64(i))})
	}

	require.Equal(t, uint64(3), l.Len())
	require.Equal(t, []uint64{1, 2, 3}, seen)

	got := l.Since(1, 1)
	require.Len(t, got, 1)
	require.Equal(t, uint64(2), got[0].Seq)

	require.Nil(t, l.Since(3, 0))
	require.Len(t, l.All(), 3)
}

func TestLoad(t *testing.T) {
	l := NewLog()
	l.Append(Event{Kind: KindOrder, OrderID: 1, Creator: alice})
	l.Append(Event{Kind: KindCancel, OrderID: 1, Creator: alice})

	r := NewLog()
	notified := 0
	r.Subscribe(func(Event) { notified++ })
	require.NoError(t, r.Load(l.All()))
	require.Zero(t, notified)

	next := r.Append(Event{Kind: KindOrder, OrderID: 2, Creator: bob})
	require.Equal(t, uint64(3), next.Seq)
	require.Equal(t, 1, notified)

	require.Error(t, r.Load([]Event{{Seq: 2}}))
	require.Equal(t, uint64(3), r.Len())
}

func TestInvolves(t *testing.T) {
	trade := Event{Kind: KindTrade, Creator: alice, Taker: bob}
	require.True(t, trade.Involves(alice))
	require.True(t, trade.Involves(bob))

	dep := Event{Kind: KindDeposit, Account: alice}
	require.False(t, dep.Involves(bob))
}
