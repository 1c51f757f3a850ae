package token

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/tokenex/pkg/app/core"
)

var (
	addr     = core.MustAsset("0x00000000000000000000000000000000000000aa")
	deployer = core.MustAccount("0x1111111111111111111111111111111111111111")
	receiver = core.MustAccount("0x2222222222222222222222222222222222222222")
	exchange = core.MustAccount("0x3333333333333333333333333333333333333333")
)

func tokens(n uint64) *uint256.Int { return WholeTokens(n, DefaultDecimals) }

func newToken(t *testing.T) *Token {
	t.Helper()
	tk, err := New(Config{
		Address:  addr,
		Name:     DefaultName,
		Symbol:   DefaultSymbol,
		Decimals: DefaultDecimals,
		Deployer: deployer,
	})
	require.NoError(t, err)
	return tk
}

func TestDeployment(t *testing.T) {
	tk := newToken(t)
	require.Equal(t, "TokenName0", tk.Name())
	require.Equal(t, "TN", tk.Symbol())
	require.Equal(t, uint8(18), tk.Decimals())
	require.Equal(t, "1000000000000000000000000", tk.TotalSupply().Dec())
	require.Equal(t, tk.TotalSupply(), tk.BalanceOf(deployer))
}

func TestTransfer(t *testing.T) {
	tk := newToken(t)

	require.NoError(t, tk.Transfer(deployer, receiver, tokens(100)))
	require.Equal(t, tokens(1_000_000-100), tk.BalanceOf(deployer))
	require.Equal(t, tokens(100), tk.BalanceOf(receiver))

	events := tk.Events()
	last := events[len(events)-1]
	require.Equal(t, EventTransfer, last.Kind)
	require.Equal(t, deployer, last.From)
	require.Equal(t, receiver, last.To)
	require.Equal(t, tokens(100), last.Amount)

	err := tk.Transfer(deployer, receiver, tokens(1_000_000+1))
	require.ErrorIs(t, err, ErrInsufficientBalance)

	err = tk.Transfer(deployer, core.AccountID{}, tokens(10))
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestApprove(t *testing.T) {
	tk := newToken(t)

	require.NoError(t, tk.Approve(deployer, exchange, tokens(10)))
	require.Equal(t, tokens(10), tk.Allowance(deployer, exchange))

	events := tk.Events()
	last := events[len(events)-1]
	require.Equal(t, EventApproval, last.Kind)
	require.Equal(t, deployer, last.From)
	require.Equal(t, exchange, last.To)

	require.ErrorIs(t, tk.Approve(deployer, core.AccountID{}, tokens(10)), ErrInvalidAddress)
}

func TestTransferFrom(t *testing.T) {
	tk := newToken(t)

	err := tk.TransferFrom(exchange, deployer, receiver, tokens(100))
	require.ErrorIs(t, err, ErrInsufficientAllowance)

	require.NoError(t, tk.Approve(deployer, exchange, tokens(100)))
	require.NoError(t, tk.TransferFrom(exchange, deployer, receiver, tokens(100)))

	require.Equal(t, tokens(1_000_000-100), tk.BalanceOf(deployer))
	require.Equal(t, tokens(100), tk.BalanceOf(receiver))
	require.True(t, tk.Allowance(deployer, exchange).IsZero())
}

func TestTransferFrom_AllowanceKeptOnShortBalance(t *testing.T) {
	tk := newToken(t)
	require.NoError(t, tk.Approve(receiver, exchange, tokens(5)))

	err := tk.TransferFrom(exchange, receiver, exchange, tokens(5))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Equal(t, tokens(5), tk.Allowance(receiver, exchange))
}

func TestCustody(t *testing.T) {
	tk := newToken(t)
	c := NewCustody(tk, exchange)
	ctx := context.Background()

	require.NoError(t, tk.Approve(deployer, exchange, tokens(10)))
	require.NoError(t, c.TransferFrom(ctx, deployer, tokens(10)))

	held, err := c.BalanceOf(ctx, exchange)
	require.NoError(t, err)
	require.Equal(t, tokens(10), held)

	require.NoError(t, c.Transfer(ctx, receiver, tokens(4)))
	require.Equal(t, tokens(4), tk.BalanceOf(receiver))

	require.Error(t, c.Transfer(ctx, receiver, tokens(7)))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.ErrorIs(t, c.Transfer(cancelled, receiver, tokens(1)), context.Canceled)
}
