package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"github.com/uhyunpark/tokenex/pkg/app/core"
	"github.com/uhyunpark/tokenex/pkg/app/core/asset"
	"github.com/uhyunpark/tokenex/pkg/app/core/event"
	"github.com/uhyunpark/tokenex/pkg/app/core/fee"
	"github.com/uhyunpark/tokenex/pkg/app/core/gateway"
	"github.com/uhyunpark/tokenex/pkg/app/core/ledger"
	"github.com/uhyunpark/tokenex/pkg/app/core/orderbook"
	"github.com/uhyunpark/tokenex/pkg/util"
)

var mon = monkit.Package()

// Config is fixed for the lifetime of an exchange
type Config struct {
	FeeAccount core.AccountID
	FeePercent uint64
}

// Exchange is the custodial exchange: ledger, order book and fee schedule
// behind a single lock.
//
// Every mutating operation holds the write lock for its whole duration,
// including any gateway call, so no caller ever observes a half-applied
// operation. On error nothing has changed and no event was appended.
type Exchange struct {
	mu sync.RWMutex

	cfg    Config
	fees   fee.Schedule
	assets *asset.Registry
	vault  gateway.NativeVault

	ledger *ledger.Ledger
	book   *orderbook.Book
	events *event.Log

	clock util.Clock
	log   *zap.SugaredLogger
}

type Option func(*Exchange)

func WithClock(c util.Clock) Option {
	return func(e *Exchange) { e.clock = c }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Exchange) { e.log = l }
}

// WithEventLog shares an existing log (for subscribers registered before construction)
func WithEventLog(l *event.Log) Option {
	return func(e *Exchange) { e.events = l }
}

// New creates an empty exchange. vault releases native value on withdrawal;
// token gateways come from the registry.
func New(cfg Config, assets *asset.Registry, vault gateway.NativeVault, opts ...Option) *Exchange {
	e := &Exchange{
		cfg:    cfg,
		fees:   fee.Schedule{Account: cfg.FeeAccount, Percent: cfg.FeePercent},
		assets: assets,
		vault:  vault,
		ledger: ledger.New(),
		book:   orderbook.New(),
		events: event.NewLog(),
		clock:  util.RealClock{},
		log:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Exchange) FeeAccount() core.AccountID { return e.cfg.FeeAccount }
func (e *Exchange) FeePercent() uint64         { return e.cfg.FeePercent }
func (e *Exchange) Assets() *asset.Registry    { return e.assets }
func (e *Exchange) Events() *event.Log         { return e.events }

func (e *Exchange) now() int64 { return e.clock.Now().Unix() }

func (e *Exchange) reject(op Op, err error, kv ...interface{}) error {
	e.log.Debugw("operation_rejected", append([]interface{}{"op", op, "error", err}, kv...)...)
	return err
}

// ============================================================================
// Deposits and withdrawals
// ============================================================================

// DepositNative credits native value the hosting boundary already took into custody
func (e *Exchange) DepositNative(ctx context.Context, account core.AccountID, amount *uint256.Int) (err error) {
	defer mon.Task()(&ctx)(&err)
	amount = orZero(amount)

	e.mu.Lock()
	defer e.mu.Unlock()

	bal, err := e.ledger.Credit(core.Native, account, amount)
	if err != nil {
		return e.reject(OpDepositNative, err, "account", account)
	}
	e.emitDeposit(core.Native, account, amount, bal)
	return nil
}

// WithdrawNative debits native balance and asks the vault to pay it out.
// A failed release rolls the debit back.
func (e *Exchange) WithdrawNative(ctx context.Context, account core.AccountID, amount *uint256.Int) (err error) {
	defer mon.Task()(&ctx)(&err)
	amount = orZero(amount)

	e.mu.Lock()
	defer e.mu.Unlock()

	tx := e.ledger.Begin()
	defer tx.Rollback()

	bal, err := tx.Debit(core.Native, account, amount)
	if err != nil {
		return e.reject(OpWithdrawNative, err, "account", account)
	}
	if err := e.vault.Release(ctx, account, amount); err != nil {
		e.log.Warnw("native_release_failed", "account", account, "amount", amount.Dec(), "error", err)
		return fmt.Errorf("release %s native to %s: %v: %w", amount.Dec(), account.Hex(), err, core.ErrTransferFailed)
	}
	tx.Commit()

	e.emitWithdraw(core.Native, account, amount, bal)
	return nil
}

// DepositAsset pulls amount of a registered token from account into custody
// (spending the allowance account granted the exchange) and credits it.
func (e *Exchange) DepositAsset(ctx context.Context, id core.AssetID, account core.AccountID, amount *uint256.Int) (err error) {
	defer mon.Task()(&ctx)(&err)
	amount = orZero(amount)

	a, err := e.assets.Token(id)
	if err != nil {
		return e.reject(OpDeposit, err, "asset", id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// credit first so an overflowing deposit never reaches the gateway
	tx := e.ledger.Begin()
	defer tx.Rollback()

	bal, err := tx.Credit(id, account, amount)
	if err != nil {
		return e.reject(OpDeposit, err, "asset", id, "account", account)
	}
	if err := a.Gateway.TransferFrom(ctx, account, amount); err != nil {
		e.log.Warnw("token_transfer_from_failed", "asset", id, "account", account, "amount", amount.Dec(), "error", err)
		return fmt.Errorf("pull %s %s from %s: %v: %w", amount.Dec(), a.Symbol, account.Hex(), err, core.ErrTransferFailed)
	}
	tx.Commit()

	e.emitDeposit(id, account, amount, bal)
	return nil
}

// WithdrawAsset debits a registered token and pays it out through its gateway.
// A failed transfer rolls the debit back.
func (e *Exchange) WithdrawAsset(ctx context.Context, id core.AssetID, account core.AccountID, amount *uint256.Int) (err error) {
	defer mon.Task()(&ctx)(&err)
	amount = orZero(amount)

	a, err := e.assets.Token(id)
	if err != nil {
		return e.reject(OpWithdraw, err, "asset", id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tx := e.ledger.Begin()
	defer tx.Rollback()

	bal, err := tx.Debit(id, account, amount)
	if err != nil {
		return e.reject(OpWithdraw, err, "asset", id, "account", account)
	}
	if err := a.Gateway.Transfer(ctx, account, amount); err != nil {
		e.log.Warnw("token_transfer_failed", "asset", id, "account", account, "amount", amount.Dec(), "error", err)
		return fmt.Errorf("pay %s %s to %s: %v: %w", amount.Dec(), a.Symbol, account.Hex(), err, core.ErrTransferFailed)
	}
	tx.Commit()

	e.emitWithdraw(id, account, amount, bal)
	return nil
}

// BalanceOf returns account's balance in asset; unknown pairs are zero
func (e *Exchange) BalanceOf(id core.AssetID, account core.AccountID) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.BalanceOf(id, account)
}

// Balances returns every non-zero balance of account
func (e *Exchange) Balances(account core.AccountID) []ledger.Entry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.AccountEntries(account)
}

// Supply returns the sum of every account's balance in asset
func (e *Exchange) Supply(id core.AssetID) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Supply(id)
}

func (e *Exchange) emitDeposit(id core.AssetID, account core.AccountID, amount, bal *uint256.Int) {
	e.events.Append(event.Event{
		Kind:      event.KindDeposit,
		Timestamp: e.now(),
		Asset:     id,
		Account:   account,
		Amount:    amount.Clone(),
		Balance:   bal,
	})
	e.log.Infow("deposit", "asset", id, "account", account, "amount", amount.Dec(), "balance", bal.Dec())
}

func (e *Exchange) emitWithdraw(id core.AssetID, account core.AccountID, amount, bal *uint256.Int) {
	e.events.Append(event.Event{
		Kind:      event.KindWithdraw,
		Timestamp: e.now(),
		Asset:     id,
		Account:   account,
		Amount:    amount.Clone(),
		Balance:   bal,
	})
	e.log.Infow("withdraw", "asset", id, "account", account, "amount", amount.Dec(), "balance", bal.Dec())
}

// ============================================================================
// Orders
// ============================================================================

// MakeOrder posts an order offering amountGive of assetGive for amountGet of
// assetGet. Nothing is reserved; the maker's balance is checked at fill time.
func (e *Exchange) MakeOrder(ctx context.Context, creator core.AccountID,
	assetGet core.AssetID, amountGet *uint256.Int,
	assetGive core.AssetID, amountGive *uint256.Int) (_ *orderbook.Order, err error) {
	defer mon.Task()(&ctx)(&err)

	e.mu.Lock()
	defer e.mu.Unlock()

	o := e.book.Make(creator, assetGet, orZero(amountGet), assetGive, orZero(amountGive), e.now())
	e.events.Append(event.Event{
		Kind:       event.KindOrder,
		Timestamp:  o.Timestamp,
		OrderID:    o.ID,
		Creator:    o.Creator,
		AssetGet:   o.AssetGet,
		AmountGet:  o.AmountGet.Clone(),
		AssetGive:  o.AssetGive,
		AmountGive: o.AmountGive.Clone(),
	})
	e.log.Infow("order_made", "id", o.ID, "creator", creator,
		"asset_get", assetGet, "amount_get", o.AmountGet.Dec(),
		"asset_give", assetGive, "amount_give", o.AmountGive.Dec())
	return o, nil
}

// CancelOrder closes an open order; only its creator may do so
func (e *Exchange) CancelOrder(ctx context.Context, caller core.AccountID, id uint64) (err error) {
	defer mon.Task()(&ctx)(&err)

	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.book.Cancel(caller, id)
	if err != nil {
		return e.reject(OpCancelOrder, err, "id", id, "caller", caller)
	}
	e.events.Append(event.Event{
		Kind:       event.KindCancel,
		Timestamp:  e.now(),
		OrderID:    o.ID,
		Creator:    o.Creator,
		AssetGet:   o.AssetGet,
		AmountGet:  o.AmountGet,
		AssetGive:  o.AssetGive,
		AmountGive: o.AmountGive,
	})
	e.log.Infow("order_cancelled", "id", id, "creator", caller)
	return nil
}

// FillOrder settles an open order in full against taker.
//
// The taker pays amountGet plus the fee in assetGet and receives amountGive
// in assetGive; the maker receives amountGet; the fee account receives the
// fee. Either all five movements happen or none do.
func (e *Exchange) FillOrder(ctx context.Context, taker core.AccountID, id uint64) (err error) {
	defer mon.Task()(&ctx)(&err)

	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.book.CheckFill(taker, id)
	if err != nil {
		return e.reject(OpFillOrder, err, "id", id, "taker", taker)
	}
	feeAmt, total, err := e.fees.Total(o.AmountGet)
	if err != nil {
		return e.reject(OpFillOrder, err, "id", id, "taker", taker)
	}

	tx := e.ledger.Begin()
	defer tx.Rollback()

	if err := settle(tx, o, taker, e.fees.Account, feeAmt, total); err != nil {
		return e.reject(OpFillOrder, fmt.Errorf("fill order %d: %w", id, err), "taker", taker)
	}
	if err := e.book.MarkFilled(id); err != nil {
		return err
	}
	tx.Commit()

	e.events.Append(event.Event{
		Kind:       event.KindTrade,
		Timestamp:  e.now(),
		OrderID:    o.ID,
		Creator:    o.Creator,
		AssetGet:   o.AssetGet,
		AmountGet:  o.AmountGet,
		AssetGive:  o.AssetGive,
		AmountGive: o.AmountGive,
		Taker:      taker,
		Amount:     feeAmt,
	})
	e.log.Infow("order_filled", "id", id, "maker", o.Creator, "taker", taker, "fee", feeAmt.Dec())
	return nil
}

func settle(tx *ledger.Tx, o *orderbook.Order, taker, feeAccount core.AccountID, feeAmt, total *uint256.Int) error {
	if _, err := tx.Debit(o.AssetGet, taker, total); err != nil {
		return err
	}
	if _, err := tx.Debit(o.AssetGive, o.Creator, o.AmountGive); err != nil {
		return err
	}
	if _, err := tx.Credit(o.AssetGet, o.Creator, o.AmountGet); err != nil {
		return err
	}
	if _, err := tx.Credit(o.AssetGive, taker, o.AmountGive); err != nil {
		return err
	}
	_, err := tx.Credit(o.AssetGet, feeAccount, feeAmt)
	return err
}

// Order returns a copy of order id
func (e *Exchange) Order(id uint64) (*orderbook.Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.Get(id)
}

// OrderCancelled reports whether order id was cancelled
func (e *Exchange) OrderCancelled(id uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.Cancelled(id)
}

// OrderFilled reports whether order id was filled
func (e *Exchange) OrderFilled(id uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.Filled(id)
}

func (e *Exchange) Orders(f orderbook.Filter) []*orderbook.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.Orders(f)
}

// ============================================================================
// Snapshots
// ============================================================================

// State is the full persistent state of an exchange apart from its event log
type State struct {
	Balances []ledger.Entry     `json:"balances"`
	Orders   []*orderbook.Order `json:"orders"`
	Events   uint64             `json:"events"`
}

// Snapshot captures balances and orders consistently
func (e *Exchange) Snapshot() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return State{
		Balances: e.ledger.Entries(),
		Orders:   e.book.Orders(orderbook.Filter{}),
		Events:   e.events.Len(),
	}
}

// Restore replaces the exchange state with st and its event log with events
func (e *Exchange) Restore(st State, events []event.Event) error {
	l, err := ledger.Restore(st.Balances)
	if err != nil {
		return err
	}
	b, err := orderbook.Restore(st.Orders)
	if err != nil {
		return err
	}
	if uint64(len(events)) != st.Events {
		return fmt.Errorf("restore: snapshot expects %d events, got %d", st.Events, len(events))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.events.Load(events); err != nil {
		return err
	}
	e.ledger = l
	e.book = b
	e.log.Infow("exchange_restored", "balances", len(st.Balances), "orders", len(st.Orders), "events", len(events))
	return nil
}

// IsRejection reports whether err is one of the exchange's own rejections, as
// opposed to an unexpected failure
func IsRejection(err error) bool {
	for _, target := range []error{
		core.ErrInsufficientBalance, core.ErrOverflow, core.ErrInvalidAsset, core.ErrTransferFailed,
		core.ErrOrderNotFound, core.ErrOrderAlreadyClosed, core.ErrUnauthorized, core.ErrSelfTrade,
		core.ErrNoSuchOperation, core.ErrNotPayable,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func orZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x.Clone()
}
