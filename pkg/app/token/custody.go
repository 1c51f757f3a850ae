package token

import (
	"context"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/tokenex/pkg/app/core"
	"github.com/uhyunpark/tokenex/pkg/app/core/gateway"
)

// Custody is the exchange's view of a token: transfers are executed with the
// exchange's custody account as spender (deposits) or sender (withdrawals).
type Custody struct {
	token   *Token
	account core.AccountID
}

var _ gateway.Gateway = (*Custody)(nil)

// NewCustody binds token to the exchange custody account
func NewCustody(t *Token, custodyAccount core.AccountID) *Custody {
	return &Custody{token: t, account: custodyAccount}
}

// Account is the custody account holding deposited tokens
func (c *Custody) Account() core.AccountID { return c.account }

func (c *Custody) TransferFrom(ctx context.Context, owner core.AccountID, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.token.TransferFrom(c.account, owner, c.account, amount)
}

func (c *Custody) Transfer(ctx context.Context, to core.AccountID, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.token.Transfer(c.account, to, amount)
}

func (c *Custody) BalanceOf(ctx context.Context, account core.AccountID) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.token.BalanceOf(account), nil
}
