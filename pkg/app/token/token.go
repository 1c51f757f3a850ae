// Package token is an in-process ERC20-style token ledger. It plays the
// external token contract that the exchange deposits into and withdraws from.
package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/tokenex/pkg/app/core"
)

var (
	ErrInvalidAddress        = errors.New("token: invalid address")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
)

// Defaults mirror the reference deployment: 1,000,000 whole tokens with 18 decimals
const (
	DefaultName     = "TokenName0"
	DefaultSymbol   = "TN"
	DefaultDecimals = 18
)

// DefaultSupply returns 10^6 * 10^18 base units
func DefaultSupply() *uint256.Int {
	return WholeTokens(1_000_000, DefaultDecimals)
}

// WholeTokens converts n whole tokens to base units
func WholeTokens(n uint64, decimals uint8) *uint256.Int {
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
	return new(uint256.Int).Mul(uint256.NewInt(n), scale)
}

// EventKind is Transfer or Approval
type EventKind string

const (
	EventTransfer EventKind = "Transfer"
	EventApproval EventKind = "Approval"
)

// Event is a token log entry. For approvals From is the owner and To the spender.
type Event struct {
	Kind   EventKind      `json:"event"`
	From   core.AccountID `json:"from"`
	To     core.AccountID `json:"to"`
	Amount *uint256.Int   `json:"tokens"`
}

type allowanceKey struct {
	owner, spender core.AccountID
}

// Token is a fixed-supply fungible token
type Token struct {
	mu sync.Mutex

	address  core.AssetID
	name     string
	symbol   string
	decimals uint8
	supply   *uint256.Int

	balances   map[core.AccountID]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
	events     []Event
}

// Config describes a token deployment
type Config struct {
	Address  core.AssetID
	Name     string
	Symbol   string
	Decimals uint8
	Supply   *uint256.Int
	Deployer core.AccountID
}

// New deploys a token, assigning the whole supply to the deployer
func New(cfg Config) (*Token, error) {
	if cfg.Address.IsNative() {
		return nil, fmt.Errorf("token address must not be the native asset id: %w", ErrInvalidAddress)
	}
	if cfg.Deployer.IsZero() {
		return nil, fmt.Errorf("deployer: %w", ErrInvalidAddress)
	}
	supply := cfg.Supply
	if supply == nil {
		supply = DefaultSupply()
	}
	t := &Token{
		address:    cfg.Address,
		name:       cfg.Name,
		symbol:     cfg.Symbol,
		decimals:   cfg.Decimals,
		supply:     supply.Clone(),
		balances:   map[core.AccountID]*uint256.Int{},
		allowances: map[allowanceKey]*uint256.Int{},
	}
	if !supply.IsZero() {
		t.balances[cfg.Deployer] = supply.Clone()
	}
	t.events = append(t.events, Event{Kind: EventTransfer, To: cfg.Deployer, Amount: supply.Clone()})
	return t, nil
}

func (t *Token) Address() core.AssetID     { return t.address }
func (t *Token) Name() string              { return t.name }
func (t *Token) Symbol() string            { return t.symbol }
func (t *Token) Decimals() uint8           { return t.decimals }
func (t *Token) TotalSupply() *uint256.Int { return t.supply.Clone() }

func (t *Token) BalanceOf(owner core.AccountID) *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balanceOf(owner).Clone()
}

func (t *Token) Allowance(owner, spender core.AccountID) *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.allowances[allowanceKey{owner, spender}]; ok {
		return a.Clone()
	}
	return new(uint256.Int)
}

// Transfer moves amount from sender to to
func (t *Token) Transfer(sender, to core.AccountID, amount *uint256.Int) error {
	if to.IsZero() {
		return fmt.Errorf("transfer to zero address: %w", ErrInvalidAddress)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(sender, to, amount)
}

// Approve sets spender's allowance over owner's balance, replacing any previous value
func (t *Token) Approve(owner, spender core.AccountID, amount *uint256.Int) error {
	if spender.IsZero() {
		return fmt.Errorf("approve zero address: %w", ErrInvalidAddress)
	}
	amt := orZero(amount).Clone()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.allowances[allowanceKey{owner, spender}] = amt
	t.events = append(t.events, Event{Kind: EventApproval, From: owner, To: spender, Amount: amt.Clone()})
	return nil
}

// TransferFrom lets spender move amount from owner to to, consuming allowance
func (t *Token) TransferFrom(spender, owner, to core.AccountID, amount *uint256.Int) error {
	if to.IsZero() {
		return fmt.Errorf("transfer to zero address: %w", ErrInvalidAddress)
	}
	amt := orZero(amount)

	t.mu.Lock()
	defer t.mu.Unlock()

	k := allowanceKey{owner, spender}
	allowed := t.allowances[k]
	if allowed == nil || allowed.Lt(amt) {
		have := orZero(allowed)
		return fmt.Errorf("spend %s of %s by %s (allowed %s): %w",
			amt.Dec(), owner.Hex(), spender.Hex(), have.Dec(), ErrInsufficientAllowance)
	}
	if err := t.move(owner, to, amt); err != nil {
		return err
	}
	t.allowances[k] = new(uint256.Int).Sub(allowed, amt)
	return nil
}

// Events returns every log entry emitted so far
func (t *Token) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Event(nil), t.events...)
}

func (t *Token) move(from, to core.AccountID, amount *uint256.Int) error {
	amt := orZero(amount)
	fromBal := t.balanceOf(from)
	if fromBal.Lt(amt) {
		return fmt.Errorf("move %s from %s (have %s): %w", amt.Dec(), from.Hex(), fromBal.Dec(), ErrInsufficientBalance)
	}
	// total supply is fixed, so no recipient balance can overflow
	t.balances[from] = new(uint256.Int).Sub(fromBal, amt)
	t.balances[to] = new(uint256.Int).Add(t.balanceOf(to), amt)
	t.events = append(t.events, Event{Kind: EventTransfer, From: from, To: to, Amount: amt.Clone()})
	return nil
}

func (t *Token) balanceOf(owner core.AccountID) *uint256.Int {
	if b, ok := t.balances[owner]; ok {
		return b
	}
	return new(uint256.Int)
}

func orZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x
}
